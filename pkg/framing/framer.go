// Package framing extracts IMC frames from an unstructured byte stream such
// as a TCP connection or a serial line, or from individual datagrams.
package framing

import (
	"encoding/binary"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/LSTS/neptus-sub053/pkg/codec"
	"github.com/LSTS/neptus-sub053/pkg/metrics"
	"github.com/LSTS/neptus-sub053/pkg/schema"
)

type state uint8

const (
	stateSeekSync state = iota
	stateReadHeader
	stateReadPayload
	stateVerifyCRC
	stateEmit
)

func (s state) String() string {
	switch s {
	case stateSeekSync:
		return "SeekSync"
	case stateReadHeader:
		return "ReadHeader"
	case stateReadPayload:
		return "ReadPayload"
	case stateVerifyCRC:
		return "VerifyCrc"
	case stateEmit:
		return "Emit"
	}
	return "unknown"
}

// Config holds framer settings.
type Config struct {
	Registry *schema.Registry
	// MaxPayload bounds the declared payload size. Headers announcing more are
	// treated as corruption. Defaults to codec.MaxPayloadSize.
	MaxPayload int
	// Source labels this framer's metrics, for example "udp" or "pcap".
	Source string
	Logger *slog.Logger
}

// Stats counts what a framer has seen since it was created.
type Stats struct {
	Frames         uint64 `json:"frames"`
	Resyncs        uint64 `json:"resyncs"`
	BytesDiscarded uint64 `json:"bytes_discarded"`
	CRCFailures    uint64 `json:"crc_failures"`
	UnknownTypes   uint64 `json:"unknown_types"`
	DecodeErrors   uint64 `json:"decode_errors"`
}

// Framer is a resynchronising state machine over a byte stream. It is not
// safe for concurrent Feed calls; use one framer per connection or peer.
// Stats may be read from any goroutine.
type Framer struct {
	reg        *schema.Registry
	sync       uint16
	maxPayload int
	source     string
	logger     *slog.Logger

	buf   []byte
	pos   int
	state state
	order binary.ByteOrder
	total int

	frames       atomic.Uint64
	resyncs      atomic.Uint64
	discarded    atomic.Uint64
	crcFailures  atomic.Uint64
	unknownTypes atomic.Uint64
	decodeErrors atomic.Uint64
}

// NewFramer creates a framer in the SeekSync state.
func NewFramer(config Config) *Framer {
	if config.MaxPayload <= 0 || config.MaxPayload > codec.MaxPayloadSize {
		config.MaxPayload = codec.MaxPayloadSize
	}
	if config.Source == "" {
		config.Source = "stream"
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Framer{
		reg:        config.Registry,
		sync:       config.Registry.SyncNumber(),
		maxPayload: config.MaxPayload,
		source:     config.Source,
		logger:     config.Logger.With("component", "framer", "source", config.Source),
	}
}

// Feed appends b to the stream and returns every message that could be
// decoded from the frames completed by it. Frames with a valid checksum but
// an unknown type or a malformed payload are counted and skipped.
func (f *Framer) Feed(b []byte) []*codec.Message {
	raw := f.FeedRaw(b)
	if len(raw) == 0 {
		return nil
	}
	msgs := make([]*codec.Message, 0, len(raw))
	for _, frame := range raw {
		if m, err := f.Decode(frame); err == nil {
			msgs = append(msgs, m)
		}
	}
	return msgs
}

// Decode decodes a frame returned by FeedRaw, counting failures in this
// framer's stats.
func (f *Framer) Decode(frame []byte) (*codec.Message, error) {
	m, err := codec.Decode(frame, f.reg)
	if err != nil {
		f.countDecodeError(err)
		return nil, err
	}
	return m, nil
}

// FeedRaw appends b to the stream and returns the checksum-verified frames it
// completed, including frames of types the registry does not know. Returned
// slices are owned by the caller.
func (f *Framer) FeedRaw(b []byte) [][]byte {
	if f.pos > 0 {
		n := copy(f.buf, f.buf[f.pos:])
		f.buf = f.buf[:n]
		f.pos = 0
	}
	f.buf = append(f.buf, b...)

	var out [][]byte
	for {
		frame, ok := f.step()
		if !ok {
			break
		}
		out = append(out, frame)
	}
	return out
}

// Reset drops buffered bytes and returns to SeekSync. Counters are kept.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
	f.pos = 0
	f.state = stateSeekSync
	f.total = 0
	f.order = nil
}

// DropPartial discards whatever is buffered, counting it as discarded, and
// returns to SeekSync. Packet transports call it after each datagram: a
// datagram carries whole frames, so leftover bytes can never be completed
// by the next one.
func (f *Framer) DropPartial() int {
	n := f.Buffered()
	if n > 0 {
		f.discard(n)
	}
	f.buf = f.buf[:0]
	f.pos = 0
	f.state = stateSeekSync
	f.total = 0
	f.order = nil
	return n
}

// Buffered returns the number of bytes held waiting for a complete frame.
func (f *Framer) Buffered() int {
	return len(f.buf) - f.pos
}

// Stats returns a snapshot of the counters.
func (f *Framer) Stats() Stats {
	return Stats{
		Frames:         f.frames.Load(),
		Resyncs:        f.resyncs.Load(),
		BytesDiscarded: f.discarded.Load(),
		CRCFailures:    f.crcFailures.Load(),
		UnknownTypes:   f.unknownTypes.Load(),
		DecodeErrors:   f.decodeErrors.Load(),
	}
}

// step advances the state machine until a frame is emitted or more input
// is needed.
func (f *Framer) step() ([]byte, bool) {
	for {
		data := f.buf[f.pos:]

		switch f.state {
		case stateSeekSync:
			i := codec.FindSync(data, f.sync)
			if i < 0 {
				// Keep a possible first sync byte at the very end.
				if n := len(data) - 1; n > 0 {
					f.discard(n)
				}
				return nil, false
			}
			if i > 0 {
				f.discard(i)
			}
			f.state = stateReadHeader

		case stateReadHeader:
			if len(data) < codec.HeaderSize {
				return nil, false
			}
			h, order, total, err := codec.PeekHeader(data, f.sync)
			if err != nil || int(h.Size) > f.maxPayload {
				f.resync()
				continue
			}
			f.order = order
			f.total = total
			f.state = stateReadPayload

		case stateReadPayload:
			if len(data) < f.total {
				return nil, false
			}
			f.state = stateVerifyCRC

		case stateVerifyCRC:
			end := f.total - codec.FooterSize
			if codec.CRC16(data[:end]) != f.order.Uint16(data[end:]) {
				f.crcFailures.Add(1)
				f.logger.Debug("frame checksum mismatch", "length", f.total)
				f.resync()
				continue
			}
			f.state = stateEmit

		case stateEmit:
			frame := make([]byte, f.total)
			copy(frame, data[:f.total])
			f.pos += f.total
			f.state = stateSeekSync
			f.frames.Add(1)
			metrics.FramesDecoded.WithLabelValues(f.source).Inc()
			return frame, true
		}
	}
}

func (f *Framer) discard(n int) {
	f.pos += n
	f.discarded.Add(uint64(n))
	metrics.BytesDiscarded.WithLabelValues(f.source).Add(float64(n))
}

// resync drops the first byte of a rejected candidate frame.
func (f *Framer) resync() {
	f.discard(1)
	f.resyncs.Add(1)
	metrics.FrameResyncs.WithLabelValues(f.source).Inc()
	f.state = stateSeekSync
}

func (f *Framer) countDecodeError(err error) {
	kind := "field_mismatch"
	if errors.Is(err, codec.ErrUnknownType) {
		f.unknownTypes.Add(1)
		kind = "unknown_type"
	} else {
		f.decodeErrors.Add(1)
	}
	metrics.DecodeErrors.WithLabelValues(f.source, kind).Inc()
	f.logger.Debug("skipping undecodable frame", "error", err)
}
