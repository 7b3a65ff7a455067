package codec

import (
	"encoding/base64"
	"encoding/json"
	"math"
)

// MarshalJSON renders a message the way the dump tools print it: header
// fields first, then every field by abbreviation.
func (m *Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.jsonObject(true))
}

func (m *Message) jsonObject(withHeader bool) map[string]any {
	obj := make(map[string]any, len(m.fields)+8)
	obj["abbrev"] = m.def.Abbrev
	obj["mgid"] = m.def.ID
	if withHeader {
		obj["timestamp"] = jsonFloat(m.header.Timestamp)
		obj["src"] = m.header.Src
		obj["src_ent"] = m.header.SrcEnt
		obj["dst"] = m.header.Dst
		obj["dst_ent"] = m.header.DstEnt
	}
	for i := range m.def.Fields {
		obj[m.def.Fields[i].Abbrev] = m.fields[i].jsonValue()
	}
	return obj
}

func (v Value) jsonValue() any {
	switch v.kind {
	case ValueInt:
		return int64(v.bits)
	case ValueUint:
		return v.bits
	case ValueFloat:
		return jsonFloat(math.Float64frombits(v.bits))
	case ValueText:
		return v.text
	case ValueRaw:
		return base64.StdEncoding.EncodeToString(v.raw)
	case ValueMessage:
		if v.msg == nil {
			return nil
		}
		return v.msg.jsonObject(false)
	case ValueList:
		out := make([]any, len(v.list))
		for i, m := range v.list {
			out[i] = m.jsonObject(false)
		}
		return out
	}
	return nil
}

// jsonFloat maps values JSON cannot carry to strings.
func jsonFloat(f float64) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "+Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	}
	return f
}
