package codec

import (
	"fmt"
	"strings"

	"github.com/LSTS/neptus-sub053/pkg/schema"
)

// Header is the fixed part of every IMC frame.
type Header struct {
	MgID      uint16
	Size      uint16 // payload length as read from or written to the wire
	Timestamp float64
	Src       uint16
	SrcEnt    uint8
	Dst       uint16
	DstEnt    uint8
}

// Fields maps field abbreviations to values when constructing a Message.
type Fields map[string]Value

// Message is one decoded or application-built IMC message. It is immutable:
// With and WithHeader return modified copies.
type Message struct {
	header Header
	def    *schema.MessageDef
	fields []Value
}

// NewMessage builds a message of the given type. Fields that are not named
// take their zero value; unknown names and kind mismatches fail with
// ErrFieldMismatch.
func NewMessage(def *schema.MessageDef, fields Fields) (*Message, error) {
	m := &Message{
		header: Header{MgID: def.ID},
		def:    def,
		fields: make([]Value, len(def.Fields)),
	}
	for i := range def.Fields {
		m.fields[i] = zeroValue(def.Fields[i].Kind)
	}
	for name, v := range fields {
		i, ok := def.FieldIndex(name)
		if !ok {
			return nil, newError(ErrFieldMismatch, def.ID, name, "no such field in %s", def.Abbrev)
		}
		cv, err := coerce(&def.Fields[i], v)
		if err != nil {
			return nil, newError(ErrFieldMismatch, def.ID, name, "%v", err)
		}
		m.fields[i] = cv
	}
	return m, nil
}

// MustNewMessage is like NewMessage but panics on error.
func MustNewMessage(def *schema.MessageDef, fields Fields) *Message {
	m, err := NewMessage(def, fields)
	if err != nil {
		panic(err)
	}
	return m
}

// Def returns the layout this message was built or decoded with.
func (m *Message) Def() *schema.MessageDef { return m.def }

// ID returns the message type id.
func (m *Message) ID() uint16 { return m.def.ID }

// Abbrev returns the message type name.
func (m *Message) Abbrev() string { return m.def.Abbrev }

// Header returns a copy of the header.
func (m *Message) Header() Header { return m.header }

// Timestamp returns the header time in seconds since the epoch.
func (m *Message) Timestamp() float64 { return m.header.Timestamp }

// NumFields returns the number of fields in the layout.
func (m *Message) NumFields() int { return len(m.fields) }

// Field returns the value at position i in declaration order.
func (m *Message) Field(i int) Value { return m.fields[i] }

// Get returns the value of the named field.
func (m *Message) Get(name string) (Value, bool) {
	i, ok := m.def.FieldIndex(name)
	if !ok {
		return Value{}, false
	}
	return m.fields[i], true
}

// Float returns a numeric field as float64, or 0 if it does not exist.
func (m *Message) Float(name string) float64 {
	v, _ := m.Get(name)
	return v.Float()
}

// Int returns a numeric field as int64, or 0 if it does not exist.
func (m *Message) Int(name string) int64 {
	v, _ := m.Get(name)
	return v.Int()
}

// Uint returns a numeric field as uint64, or 0 if it does not exist.
func (m *Message) Uint(name string) uint64 {
	v, _ := m.Get(name)
	return v.Uint()
}

// Text returns a plaintext field.
func (m *Message) Text(name string) string {
	v, _ := m.Get(name)
	return v.Text()
}

// Raw returns a rawdata field.
func (m *Message) Raw(name string) []byte {
	v, _ := m.Get(name)
	return v.Raw()
}

// Inline returns an inline message field, nil when null or absent.
func (m *Message) Inline(name string) *Message {
	v, _ := m.Get(name)
	return v.Message()
}

// List returns a message-list field.
func (m *Message) List(name string) []*Message {
	v, _ := m.Get(name)
	return v.List()
}

// EnumName returns the abbreviation of an enumerated field's current value.
func (m *Message) EnumName(name string) (string, bool) {
	f, ok := m.def.Field(name)
	if !ok || f.Enum == nil {
		return "", false
	}
	return f.Enum.NameOf(m.Int(name))
}

// Flags returns the abbreviations of the bits set in a bitfield field.
func (m *Message) Flags(name string) []string {
	f, ok := m.def.Field(name)
	if !ok || f.Bitfield == nil {
		return nil
	}
	return f.Bitfield.Flags(m.Uint(name))
}

// Clone returns a shallow copy; values are shared, which is safe because
// nothing mutates them in place.
func (m *Message) Clone() *Message {
	c := &Message{header: m.header, def: m.def, fields: make([]Value, len(m.fields))}
	copy(c.fields, m.fields)
	return c
}

// With returns a copy with one field replaced.
func (m *Message) With(name string, v Value) (*Message, error) {
	i, ok := m.def.FieldIndex(name)
	if !ok {
		return nil, newError(ErrFieldMismatch, m.def.ID, name, "no such field in %s", m.def.Abbrev)
	}
	cv, err := coerce(&m.def.Fields[i], v)
	if err != nil {
		return nil, newError(ErrFieldMismatch, m.def.ID, name, "%v", err)
	}
	c := m.Clone()
	c.fields[i] = cv
	return c, nil
}

// WithHeader returns a copy carrying h. The type id always follows the layout.
func (m *Message) WithHeader(h Header) *Message {
	c := m.Clone()
	h.MgID = m.def.ID
	c.header = h
	return c
}

// Equal reports whether two messages have the same type, addressing,
// timestamp and field values. The wire size is not compared.
func (m *Message) Equal(o *Message) bool {
	if m == nil || o == nil {
		return m == o
	}
	a, b := m.header, o.header
	if a.Timestamp != b.Timestamp || a.Src != b.Src || a.SrcEnt != b.SrcEnt ||
		a.Dst != b.Dst || a.DstEnt != b.DstEnt {
		return false
	}
	return m.payloadEqual(o)
}

// payloadEqual compares type and fields only; inline messages carry no header.
func (m *Message) payloadEqual(o *Message) bool {
	if m == nil || o == nil {
		return m == o
	}
	if m.def.ID != o.def.ID || len(m.fields) != len(o.fields) {
		return false
	}
	for i := range m.fields {
		if !m.fields[i].Equal(o.fields[i]) {
			return false
		}
	}
	return true
}

func (m *Message) String() string {
	var sb strings.Builder
	sb.WriteString(m.def.Abbrev)
	sb.WriteByte('{')
	for i := range m.fields {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s=%s", m.def.Fields[i].Abbrev, m.fields[i])
	}
	sb.WriteByte('}')
	return sb.String()
}
