package codec

import (
	"encoding/binary"
	"math"
	"math/bits"

	"github.com/LSTS/neptus-sub053/pkg/schema"
)

const (
	HeaderSize     = 20
	FooterSize     = 2
	MaxPayloadSize = math.MaxUint16

	// MaxFrameSize is the largest frame the 16-bit size field can describe.
	MaxFrameSize = HeaderSize + MaxPayloadSize + FooterSize

	nullInlineID   = 0xFFFF
	maxInlineDepth = 32
)

// Codec encodes and decodes messages against one Registry. It holds no
// mutable state and is safe for concurrent use.
type Codec struct {
	registry *schema.Registry
}

// NewCodec creates a codec bound to a registry.
func NewCodec(registry *schema.Registry) *Codec {
	return &Codec{registry: registry}
}

// Registry returns the registry the codec resolves types with.
func (c *Codec) Registry() *schema.Registry {
	return c.registry
}

// Encode serializes a message into a complete frame.
func (c *Codec) Encode(m *Message) ([]byte, error) {
	return Encode(m, c.registry)
}

// Decode parses the frame at the start of data.
func (c *Codec) Decode(data []byte) (*Message, error) {
	return Decode(data, c.registry)
}

// PeekHeader reads the header at the start of data without touching the
// payload. It returns the byte order the frame was written in and the total
// frame length implied by the size field.
func PeekHeader(data []byte, sync uint16) (Header, binary.ByteOrder, int, error) {
	if len(data) < HeaderSize {
		return Header{}, nil, 0, newError(ErrTruncated, 0, "", "%d bytes, header needs %d", len(data), HeaderSize)
	}

	var order binary.ByteOrder
	switch binary.LittleEndian.Uint16(data) {
	case sync:
		order = binary.LittleEndian
	case bits.ReverseBytes16(sync):
		order = binary.BigEndian
	default:
		return Header{}, nil, 0, newError(ErrBadSync, 0, "", "got 0x%04X", binary.LittleEndian.Uint16(data))
	}

	h := Header{
		MgID:      order.Uint16(data[2:]),
		Size:      order.Uint16(data[4:]),
		Timestamp: math.Float64frombits(order.Uint64(data[6:])),
		Src:       order.Uint16(data[14:]),
		SrcEnt:    data[16],
		Dst:       order.Uint16(data[17:]),
		DstEnt:    data[19],
	}
	return h, order, HeaderSize + int(h.Size) + FooterSize, nil
}

// Decode parses the frame at the start of data. The checksum is verified
// before any field is read; bytes after the frame are ignored, as are payload
// bytes beyond the fields the registry knows about.
func Decode(data []byte, reg *schema.Registry) (*Message, error) {
	h, order, total, err := PeekHeader(data, reg.SyncNumber())
	if err != nil {
		return nil, err
	}
	if len(data) < total {
		return nil, newError(ErrTruncated, h.MgID, "", "frame declares %d bytes, have %d", total, len(data))
	}

	end := HeaderSize + int(h.Size)
	want := order.Uint16(data[end:])
	if got := CRC16(data[:end]); got != want {
		return nil, newError(ErrBadChecksum, h.MgID, "", "computed 0x%04X, footer 0x%04X", got, want)
	}

	def, ok := reg.TypeDefFor(h.MgID)
	if !ok {
		return nil, newError(ErrUnknownType, h.MgID, "", "not in schema %s", reg.Version())
	}

	r := &reader{data: data[HeaderSize:end], order: order, reg: reg}
	fields, err := r.fields(def, 0)
	if err != nil {
		return nil, err
	}
	return &Message{header: h, def: def, fields: fields}, nil
}

// Encode serializes a message into a little-endian frame with its checksum.
// The registry must know the message type, and the message layout must match
// the registry's definition for it.
func Encode(m *Message, reg *schema.Registry) ([]byte, error) {
	if err := checkLayout(m, reg); err != nil {
		return nil, err
	}

	size, err := payloadSize(m, reg, 0)
	if err != nil {
		return nil, err
	}
	if size > MaxPayloadSize {
		return nil, newError(ErrTooLarge, m.ID(), "", "%d bytes", size)
	}

	buf := make([]byte, HeaderSize+size+FooterSize)
	w := &writer{buf: buf}
	h := m.header
	w.u16(reg.SyncNumber())
	w.u16(m.ID())
	w.u16(uint16(size))
	w.u64(math.Float64bits(h.Timestamp))
	w.u16(h.Src)
	w.u8(h.SrcEnt)
	w.u16(h.Dst)
	w.u8(h.DstEnt)
	w.fields(m)

	end := HeaderSize + size
	binary.LittleEndian.PutUint16(buf[end:], CRC16(buf[:end]))
	return buf, nil
}

// checkLayout verifies that reg resolves m's type to a compatible layout.
func checkLayout(m *Message, reg *schema.Registry) error {
	def, ok := reg.TypeDefFor(m.ID())
	if !ok {
		return newError(ErrUnknownType, m.ID(), "", "not in schema %s", reg.Version())
	}
	if def == m.def {
		return nil
	}
	if len(def.Fields) != len(m.def.Fields) {
		return newError(ErrFieldMismatch, m.ID(), "", "layout has %d fields, message has %d", len(def.Fields), len(m.def.Fields))
	}
	for i := range def.Fields {
		if def.Fields[i].Kind != m.def.Fields[i].Kind {
			return newError(ErrFieldMismatch, m.ID(), def.Fields[i].Abbrev, "kind %s, message has %s", def.Fields[i].Kind, m.def.Fields[i].Kind)
		}
	}
	return nil
}

func payloadSize(m *Message, reg *schema.Registry, depth int) (int, error) {
	if depth > maxInlineDepth {
		return 0, newError(ErrFieldMismatch, m.ID(), "", "inline messages nested deeper than %d", maxInlineDepth)
	}
	n := 0
	for i := range m.def.Fields {
		f := &m.def.Fields[i]
		v := m.fields[i]
		if size := f.Kind.Size(); size > 0 {
			n += size
			continue
		}
		switch f.Kind {
		case schema.KindPlainText:
			if len(v.text) > math.MaxUint16 {
				return 0, newError(ErrTooLarge, m.ID(), f.Abbrev, "%d bytes of text", len(v.text))
			}
			n += 2 + len(v.text)
		case schema.KindRawData:
			if len(v.raw) > math.MaxUint16 {
				return 0, newError(ErrTooLarge, m.ID(), f.Abbrev, "%d bytes of data", len(v.raw))
			}
			n += 2 + len(v.raw)
		case schema.KindMessage:
			n += 2
			if v.msg != nil {
				if err := checkLayout(v.msg, reg); err != nil {
					return 0, err
				}
				sub, err := payloadSize(v.msg, reg, depth+1)
				if err != nil {
					return 0, err
				}
				n += sub
			}
		case schema.KindMessageList:
			if len(v.list) > math.MaxUint16 {
				return 0, newError(ErrTooLarge, m.ID(), f.Abbrev, "%d list entries", len(v.list))
			}
			n += 2
			for _, item := range v.list {
				if err := checkLayout(item, reg); err != nil {
					return 0, err
				}
				sub, err := payloadSize(item, reg, depth+1)
				if err != nil {
					return 0, err
				}
				n += 2 + sub
			}
		}
	}
	return n, nil
}

type writer struct {
	buf []byte
	pos int
}

func (w *writer) u8(v uint8) {
	w.buf[w.pos] = v
	w.pos++
}

func (w *writer) u16(v uint16) {
	binary.LittleEndian.PutUint16(w.buf[w.pos:], v)
	w.pos += 2
}

func (w *writer) u32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[w.pos:], v)
	w.pos += 4
}

func (w *writer) u64(v uint64) {
	binary.LittleEndian.PutUint64(w.buf[w.pos:], v)
	w.pos += 8
}

func (w *writer) bytes(b []byte) {
	w.u16(uint16(len(b)))
	w.pos += copy(w.buf[w.pos:], b)
}

func (w *writer) inline(m *Message) {
	if m == nil {
		w.u16(nullInlineID)
		return
	}
	w.u16(m.ID())
	w.fields(m)
}

// fields writes a message payload. Sizes were validated by payloadSize.
func (w *writer) fields(m *Message) {
	for i := range m.def.Fields {
		v := m.fields[i]
		switch m.def.Fields[i].Kind {
		case schema.KindInt8, schema.KindUInt8:
			w.u8(uint8(v.bits))
		case schema.KindInt16, schema.KindUInt16:
			w.u16(uint16(v.bits))
		case schema.KindInt32, schema.KindUInt32:
			w.u32(uint32(v.bits))
		case schema.KindInt64:
			w.u64(v.bits)
		case schema.KindFp32:
			w.u32(math.Float32bits(float32(v.Float())))
		case schema.KindFp64:
			w.u64(math.Float64bits(v.Float()))
		case schema.KindPlainText:
			w.u16(uint16(len(v.text)))
			w.pos += copy(w.buf[w.pos:], v.text)
		case schema.KindRawData:
			w.bytes(v.raw)
		case schema.KindMessage:
			w.inline(v.msg)
		case schema.KindMessageList:
			w.u16(uint16(len(v.list)))
			for _, item := range v.list {
				w.inline(item)
			}
		}
	}
}

// reader walks a payload. Every read is bounds-checked against the payload
// before anything is allocated.
type reader struct {
	data  []byte
	pos   int
	order binary.ByteOrder
	reg   *schema.Registry
}

func (r *reader) remaining() int {
	return len(r.data) - r.pos
}

func (r *reader) take(n int) ([]byte, bool) {
	if n < 0 || n > r.remaining() {
		return nil, false
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, true
}

func (r *reader) fields(def *schema.MessageDef, depth int) ([]Value, error) {
	if depth > maxInlineDepth {
		return nil, newError(ErrFieldMismatch, def.ID, "", "inline messages nested deeper than %d", maxInlineDepth)
	}
	out := make([]Value, len(def.Fields))
	for i := range def.Fields {
		f := &def.Fields[i]
		v, err := r.value(def, f, depth)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (r *reader) short(def *schema.MessageDef, f *schema.FieldDef, need int) error {
	return newError(ErrFieldMismatch, def.ID, f.Abbrev, "needs %d bytes, %d left in payload", need, r.remaining())
}

func (r *reader) value(def *schema.MessageDef, f *schema.FieldDef, depth int) (Value, error) {
	if size := f.Kind.Size(); size > 0 {
		b, ok := r.take(size)
		if !ok {
			return Value{}, r.short(def, f, size)
		}
		switch f.Kind {
		case schema.KindInt8:
			return Int(int64(int8(b[0]))), nil
		case schema.KindUInt8:
			return Uint(uint64(b[0])), nil
		case schema.KindInt16:
			return Int(int64(int16(r.order.Uint16(b)))), nil
		case schema.KindUInt16:
			return Uint(uint64(r.order.Uint16(b))), nil
		case schema.KindInt32:
			return Int(int64(int32(r.order.Uint32(b)))), nil
		case schema.KindUInt32:
			return Uint(uint64(r.order.Uint32(b))), nil
		case schema.KindInt64:
			return Int(int64(r.order.Uint64(b))), nil
		case schema.KindFp32:
			return Float(float64(math.Float32frombits(r.order.Uint32(b)))), nil
		case schema.KindFp64:
			return Float(math.Float64frombits(r.order.Uint64(b))), nil
		}
	}

	lb, ok := r.take(2)
	if !ok {
		return Value{}, r.short(def, f, 2)
	}
	n := int(r.order.Uint16(lb))

	switch f.Kind {
	case schema.KindPlainText:
		b, ok := r.take(n)
		if !ok {
			return Value{}, r.short(def, f, n)
		}
		return Text(string(b)), nil

	case schema.KindRawData:
		b, ok := r.take(n)
		if !ok {
			return Value{}, r.short(def, f, n)
		}
		raw := make([]byte, n)
		copy(raw, b)
		return Raw(raw), nil

	case schema.KindMessage:
		if n == nullInlineID {
			return Inline(nil), nil
		}
		m, err := r.inline(uint16(n), f, depth)
		if err != nil {
			return Value{}, err
		}
		return Inline(m), nil

	case schema.KindMessageList:
		// Each entry is at least its two-byte type id.
		if n*2 > r.remaining() {
			return Value{}, r.short(def, f, n*2)
		}
		if n == 0 {
			return List(), nil
		}
		list := make([]*Message, 0, n)
		for j := 0; j < n; j++ {
			ib, ok := r.take(2)
			if !ok {
				return Value{}, r.short(def, f, 2)
			}
			id := r.order.Uint16(ib)
			if id == nullInlineID {
				return Value{}, newError(ErrFieldMismatch, def.ID, f.Abbrev, "null entry in message list")
			}
			m, err := r.inline(id, f, depth)
			if err != nil {
				return Value{}, err
			}
			list = append(list, m)
		}
		return List(list...), nil
	}
	return Value{}, newError(ErrFieldMismatch, def.ID, f.Abbrev, "unsupported kind %s", f.Kind)
}

func (r *reader) inline(id uint16, f *schema.FieldDef, depth int) (*Message, error) {
	def, ok := r.reg.TypeDefFor(id)
	if !ok {
		return nil, newError(ErrUnknownType, id, f.Abbrev, "inline message not in schema %s", r.reg.Version())
	}
	fields, err := r.fields(def, depth+1)
	if err != nil {
		return nil, err
	}
	return &Message{header: Header{MgID: id}, def: def, fields: fields}, nil
}

// FindSync returns the offset of the first sync number in data, written in
// either byte order, or -1.
func FindSync(data []byte, sync uint16) int {
	lo, hi := byte(sync), byte(sync>>8)
	for i := 0; i+1 < len(data); i++ {
		if (data[i] == lo && data[i+1] == hi) || (data[i] == hi && data[i+1] == lo) {
			return i
		}
	}
	return -1
}
