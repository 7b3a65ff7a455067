// Package codec encodes and decodes IMC messages against a schema.Registry.
//
// # Frame Format
//
// Every message travels as a self-delimiting frame:
//
//	[Sync(2)][MgID(2)][Size(2)][Timestamp(8)][Src(2)][SrcEnt(1)][Dst(2)][DstEnt(1)][Payload(Size)][CRC16(2)]
//
// Fields:
//   - Sync: the registry's synchronization number, 0xFE54 by default. A frame whose
//     sync reads byte-swapped was written big-endian and is decoded as such.
//   - MgID: message type id, resolved through the registry
//   - Size: payload length in bytes
//   - Timestamp: seconds since the Unix epoch as a float64
//   - Src/SrcEnt, Dst/DstEnt: system and entity addresses
//   - CRC16: CRC-16/ARC over header and payload, in the frame's byte order
//
// Encoding always produces little-endian frames.
//
// # Payload
//
// Fields are laid out in schema order with no padding. Fixed-width numbers use
// their natural width. plaintext and rawdata carry a u16 length prefix. An
// inline message is its u16 type id followed by its payload, with 0xFFFF
// meaning null. A message-list is a u16 count of inline messages.
//
// # Usage
//
//	c := codec.NewCodec(reg)
//	def, _ := reg.Lookup("Temperature")
//	msg := codec.MustNewMessage(def, codec.Fields{"value": codec.Float(21.5)})
//
//	frame, err := c.Encode(msg)
//	if err != nil {
//	    return err
//	}
//	back, err := c.Decode(frame)
//
// # Error Handling
//
// Decode checks, in order: that a header is present (ErrTruncated), the sync
// number (ErrBadSync), that the whole frame is present (ErrTruncated), the
// checksum (ErrBadChecksum), the type id (ErrUnknownType), and finally the
// payload against the layout (ErrFieldMismatch). All failures are *CodecError
// values wrapping one of these sentinels, so errors.Is works on them.
//
// Payload bytes beyond the fields the schema knows about are ignored, which
// lets an older schema read frames produced by a newer one.
package codec
