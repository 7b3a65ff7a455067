package codec

import (
	"bytes"
	"fmt"
	"math"

	"github.com/LSTS/neptus-sub053/pkg/schema"
)

// ValueKind is the variant held by a Value.
type ValueKind uint8

const (
	ValueNone ValueKind = iota
	ValueInt
	ValueUint
	ValueFloat
	ValueText
	ValueRaw
	ValueMessage
	ValueList
)

func (k ValueKind) String() string {
	switch k {
	case ValueInt:
		return "int"
	case ValueUint:
		return "uint"
	case ValueFloat:
		return "float"
	case ValueText:
		return "text"
	case ValueRaw:
		return "raw"
	case ValueMessage:
		return "message"
	case ValueList:
		return "list"
	default:
		return "none"
	}
}

// Value is a field value: a tagged union over the IMC field kinds.
// Numeric kinds share one 64-bit slot; the schema decides the wire width.
type Value struct {
	kind ValueKind
	bits uint64
	text string
	raw  []byte
	msg  *Message
	list []*Message
}

func Int(v int64) Value       { return Value{kind: ValueInt, bits: uint64(v)} }
func Uint(v uint64) Value     { return Value{kind: ValueUint, bits: v} }
func Float(v float64) Value   { return Value{kind: ValueFloat, bits: math.Float64bits(v)} }
func Text(s string) Value     { return Value{kind: ValueText, text: s} }
func Raw(b []byte) Value      { return Value{kind: ValueRaw, raw: b} }
func Inline(m *Message) Value { return Value{kind: ValueMessage, msg: m} }

func List(ms ...*Message) Value {
	return Value{kind: ValueList, list: ms}
}

// Kind returns the variant tag.
func (v Value) Kind() ValueKind { return v.kind }

// Int returns the value as a signed integer, converting other numeric kinds.
func (v Value) Int() int64 {
	switch v.kind {
	case ValueInt, ValueUint:
		return int64(v.bits)
	case ValueFloat:
		return int64(math.Float64frombits(v.bits))
	}
	return 0
}

// Uint returns the value as an unsigned integer, converting other numeric kinds.
func (v Value) Uint() uint64 {
	switch v.kind {
	case ValueInt, ValueUint:
		return v.bits
	case ValueFloat:
		return uint64(math.Float64frombits(v.bits))
	}
	return 0
}

// Float returns the value as a float, converting other numeric kinds.
func (v Value) Float() float64 {
	switch v.kind {
	case ValueInt:
		return float64(int64(v.bits))
	case ValueUint:
		return float64(v.bits)
	case ValueFloat:
		return math.Float64frombits(v.bits)
	}
	return 0
}

func (v Value) Text() string      { return v.text }
func (v Value) Raw() []byte       { return v.raw }
func (v Value) Message() *Message { return v.msg }
func (v Value) List() []*Message  { return v.list }
func (v Value) IsNumeric() bool {
	return v.kind == ValueInt || v.kind == ValueUint || v.kind == ValueFloat
}
func (v Value) IsNullMessage() bool { return v.kind == ValueMessage && v.msg == nil }

// Equal compares two values. Floats compare by bit pattern so NaN equals NaN.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case ValueInt, ValueUint, ValueFloat:
		return v.bits == o.bits
	case ValueText:
		return v.text == o.text
	case ValueRaw:
		return bytes.Equal(v.raw, o.raw)
	case ValueMessage:
		return v.msg.payloadEqual(o.msg)
	case ValueList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].payloadEqual(o.list[i]) {
				return false
			}
		}
		return true
	}
	return true
}

func (v Value) String() string {
	switch v.kind {
	case ValueInt:
		return fmt.Sprintf("%d", int64(v.bits))
	case ValueUint:
		return fmt.Sprintf("%d", v.bits)
	case ValueFloat:
		return fmt.Sprintf("%g", math.Float64frombits(v.bits))
	case ValueText:
		return fmt.Sprintf("%q", v.text)
	case ValueRaw:
		return fmt.Sprintf("%x", v.raw)
	case ValueMessage:
		if v.msg == nil {
			return "null"
		}
		return v.msg.String()
	case ValueList:
		s := "["
		for i, m := range v.list {
			if i > 0 {
				s += ", "
			}
			s += m.String()
		}
		return s + "]"
	}
	return "<none>"
}

// zeroValue is the value a field holds when it was not set.
func zeroValue(k schema.Kind) Value {
	switch {
	case k.IsSigned():
		return Int(0)
	case k.IsUnsigned():
		return Uint(0)
	case k.IsFloat():
		return Float(0)
	}
	switch k {
	case schema.KindPlainText:
		return Text("")
	case schema.KindRawData:
		return Raw(nil)
	case schema.KindMessage:
		return Inline(nil)
	case schema.KindMessageList:
		return List()
	}
	return Value{}
}

var signedRange = map[schema.Kind][2]int64{
	schema.KindInt8:  {math.MinInt8, math.MaxInt8},
	schema.KindInt16: {math.MinInt16, math.MaxInt16},
	schema.KindInt32: {math.MinInt32, math.MaxInt32},
	schema.KindInt64: {math.MinInt64, math.MaxInt64},
}

var unsignedMax = map[schema.Kind]uint64{
	schema.KindUInt8:  math.MaxUint8,
	schema.KindUInt16: math.MaxUint16,
	schema.KindUInt32: math.MaxUint32,
}

// coerce converts v to the canonical variant of field f, checking ranges.
// fp32 values are rounded to single precision so that a decoded message
// compares equal to the one that was encoded.
func coerce(f *schema.FieldDef, v Value) (Value, error) {
	k := f.Kind
	switch {
	case k.IsSigned():
		var n int64
		switch v.kind {
		case ValueInt:
			n = int64(v.bits)
		case ValueUint:
			if v.bits > math.MaxInt64 {
				return Value{}, fmt.Errorf("%d overflows %s", v.bits, k)
			}
			n = int64(v.bits)
		default:
			return Value{}, fmt.Errorf("cannot use %s value as %s", v.kind, k)
		}
		r := signedRange[k]
		if n < r[0] || n > r[1] {
			return Value{}, fmt.Errorf("%d out of range for %s", n, k)
		}
		return Int(n), nil

	case k.IsUnsigned():
		var n uint64
		switch v.kind {
		case ValueUint:
			n = v.bits
		case ValueInt:
			if int64(v.bits) < 0 {
				return Value{}, fmt.Errorf("%d out of range for %s", int64(v.bits), k)
			}
			n = v.bits
		default:
			return Value{}, fmt.Errorf("cannot use %s value as %s", v.kind, k)
		}
		if n > unsignedMax[k] {
			return Value{}, fmt.Errorf("%d out of range for %s", n, k)
		}
		return Uint(n), nil

	case k.IsFloat():
		if !v.IsNumeric() {
			return Value{}, fmt.Errorf("cannot use %s value as %s", v.kind, k)
		}
		f := v.Float()
		if k == schema.KindFp32 {
			f = float64(float32(f))
		}
		return Float(f), nil
	}

	switch k {
	case schema.KindPlainText:
		if v.kind != ValueText {
			return Value{}, fmt.Errorf("cannot use %s value as %s", v.kind, k)
		}
	case schema.KindRawData:
		if v.kind != ValueRaw {
			return Value{}, fmt.Errorf("cannot use %s value as %s", v.kind, k)
		}
		return Raw(append([]byte(nil), v.raw...)), nil
	case schema.KindMessage:
		if v.kind == ValueNone {
			return Inline(nil), nil
		}
		if v.kind != ValueMessage {
			return Value{}, fmt.Errorf("cannot use %s value as %s", v.kind, k)
		}
		if v.msg != nil && !f.Accepts(v.msg.Abbrev()) {
			return Value{}, fmt.Errorf("%s does not accept %s messages", f.MessageType, v.msg.Abbrev())
		}
	case schema.KindMessageList:
		if v.kind == ValueNone {
			return List(), nil
		}
		if v.kind != ValueList {
			return Value{}, fmt.Errorf("cannot use %s value as %s", v.kind, k)
		}
		for _, m := range v.list {
			if m == nil {
				return Value{}, fmt.Errorf("message list cannot hold null messages")
			}
			if !f.Accepts(m.Abbrev()) {
				return Value{}, fmt.Errorf("%s list does not accept %s messages", f.MessageType, m.Abbrev())
			}
		}
		return List(append([]*Message(nil), v.list...)...), nil
	default:
		return Value{}, fmt.Errorf("unsupported field kind %s", k)
	}
	return v, nil
}
