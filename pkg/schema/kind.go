package schema

import "fmt"

// Kind is the primitive wire type of a field.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt8
	KindUInt8
	KindInt16
	KindUInt16
	KindInt32
	KindUInt32
	KindInt64
	KindFp32
	KindFp64
	KindRawData
	KindPlainText
	KindMessage
	KindMessageList
)

var kindNames = map[Kind]string{
	KindInt8:        "int8_t",
	KindUInt8:       "uint8_t",
	KindInt16:       "int16_t",
	KindUInt16:      "uint16_t",
	KindInt32:       "int32_t",
	KindUInt32:      "uint32_t",
	KindInt64:       "int64_t",
	KindFp32:        "fp32_t",
	KindFp64:        "fp64_t",
	KindRawData:     "rawdata",
	KindPlainText:   "plaintext",
	KindMessage:     "message",
	KindMessageList: "message-list",
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, name := range kindNames {
		m[name] = k
	}
	return m
}()

// ParseKind maps an IMC type name such as "uint16_t" to a Kind.
func ParseKind(name string) (Kind, error) {
	k, ok := kindsByName[name]
	if !ok {
		return KindInvalid, fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
	return k, nil
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Size returns the fixed encoded width in bytes, or 0 for variable-length kinds.
func (k Kind) Size() int {
	switch k {
	case KindInt8, KindUInt8:
		return 1
	case KindInt16, KindUInt16:
		return 2
	case KindInt32, KindUInt32, KindFp32:
		return 4
	case KindInt64, KindFp64:
		return 8
	default:
		return 0
	}
}

func (k Kind) IsSigned() bool {
	return k == KindInt8 || k == KindInt16 || k == KindInt32 || k == KindInt64
}

func (k Kind) IsUnsigned() bool {
	return k == KindUInt8 || k == KindUInt16 || k == KindUInt32
}

func (k Kind) IsFloat() bool {
	return k == KindFp32 || k == KindFp64
}

func (k Kind) IsNumeric() bool {
	return k.IsSigned() || k.IsUnsigned() || k.IsFloat()
}

// IsArray reports whether values of this kind carry a length or count prefix.
func (k Kind) IsArray() bool {
	return k == KindRawData || k == KindPlainText || k == KindMessageList
}
