package schema

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/gzip"
)

type xmlMessages struct {
	XMLName      xml.Name     `xml:"messages"`
	Name         string       `xml:"name,attr"`
	Version      string       `xml:"version,attr"`
	Hash         string       `xml:"hash,attr"`
	Enumerations []xmlDef     `xml:"enumerations>def"`
	Bitfields    []xmlDef     `xml:"bitfields>def"`
	Header       []xmlField   `xml:"header>field"`
	Messages     []xmlMessage `xml:"message"`
	Groups       []xmlGroup   `xml:"message-groups>message-group"`
}

type xmlGroup struct {
	Name   string `xml:"name,attr"`
	Abbrev string `xml:"abbrev,attr"`
	Types  []struct {
		Abbrev string `xml:"abbrev,attr"`
	} `xml:"message-type"`
}

type xmlDef struct {
	Name   string     `xml:"name,attr"`
	Abbrev string     `xml:"abbrev,attr"`
	Prefix string     `xml:"prefix,attr"`
	Values []xmlValue `xml:"value"`
}

type xmlValue struct {
	ID     string `xml:"id,attr"`
	Name   string `xml:"name,attr"`
	Abbrev string `xml:"abbrev,attr"`
}

type xmlMessage struct {
	ID       string     `xml:"id,attr"`
	Name     string     `xml:"name,attr"`
	Abbrev   string     `xml:"abbrev,attr"`
	Source   string     `xml:"source,attr"`
	Category string     `xml:"category,attr"`
	Fields   []xmlField `xml:"field"`
}

type xmlField struct {
	Name        string     `xml:"name,attr"`
	Abbrev      string     `xml:"abbrev,attr"`
	Type        string     `xml:"type,attr"`
	Unit        string     `xml:"unit,attr"`
	Prefix      string     `xml:"prefix,attr"`
	Value       string     `xml:"value,attr"`
	EnumDef     string     `xml:"enum-def,attr"`
	BitfieldDef string     `xml:"bitfield-def,attr"`
	MessageType string     `xml:"message-type,attr"`
	Values      []xmlValue `xml:"value"`
}

// LoadFile loads a Registry from an IMC.xml file. Files ending in .gz are
// decompressed on the fly.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open schema: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, &SchemaError{Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
		}
		defer gz.Close()
		r = gz
	}
	return Load(r)
}

// Load parses an IMC message definition document.
func Load(r io.Reader) (*Registry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}

	var doc xmlMessages
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, &SchemaError{Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}

	info := Info{
		Name:       doc.Name,
		Version:    doc.Version,
		Hash:       doc.Hash,
		SyncNumber: DefaultSyncNumber,
	}
	if info.Hash == "" {
		info.Hash = fmt.Sprintf("%016x", xxhash.Sum64(data))
	}
	for _, f := range doc.Header {
		if f.Abbrev == "sync" && f.Value != "" {
			v, err := strconv.ParseUint(f.Value, 0, 16)
			if err != nil {
				return nil, &SchemaError{Field: "sync", Err: fmt.Errorf("%w: sync value %q", ErrMalformed, f.Value)}
			}
			info.SyncNumber = uint16(v)
		}
	}

	enums, err := buildEnumDefs(doc.Enumerations)
	if err != nil {
		return nil, err
	}
	bitfields, err := buildEnumDefs(doc.Bitfields)
	if err != nil {
		return nil, err
	}

	defs := make([]*MessageDef, 0, len(doc.Messages))
	for _, xm := range doc.Messages {
		d, err := buildMessageDef(xm, enums, bitfields)
		if err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	resolveMessageTypes(defs, doc.Groups)

	return newRegistry(info, defs, enums, bitfields)
}

// resolveMessageTypes turns each message-type constraint into the list of
// accepted abbreviations. "Message" accepts anything; a group accepts its
// members; a message name accepts only itself. Names that are neither are
// left unconstrained.
func resolveMessageTypes(defs []*MessageDef, xgroups []xmlGroup) {
	groups := make(map[string][]string, len(xgroups))
	for _, g := range xgroups {
		for _, t := range g.Types {
			groups[g.Abbrev] = append(groups[g.Abbrev], t.Abbrev)
		}
	}
	known := make(map[string]bool, len(defs))
	for _, d := range defs {
		known[d.Abbrev] = true
	}

	for _, d := range defs {
		for i := range d.Fields {
			f := &d.Fields[i]
			if f.Kind != KindMessage && f.Kind != KindMessageList {
				continue
			}
			switch {
			case f.MessageType == "" || f.MessageType == "Message":
			case groups[f.MessageType] != nil:
				f.Allowed = groups[f.MessageType]
			case known[f.MessageType]:
				f.Allowed = []string{f.MessageType}
			}
		}
	}
}

func buildEnumDefs(xdefs []xmlDef) (map[string]*EnumDef, error) {
	out := make(map[string]*EnumDef, len(xdefs))
	for _, xd := range xdefs {
		values, err := buildEnumValues(xd.Values)
		if err != nil {
			return nil, &SchemaError{Err: fmt.Errorf("definition %s: %w", xd.Abbrev, err)}
		}
		if _, dup := out[xd.Abbrev]; dup {
			return nil, &SchemaError{Err: fmt.Errorf("%w: enumeration %s", ErrDuplicateName, xd.Abbrev)}
		}
		out[xd.Abbrev] = NewEnumDef(xd.Name, xd.Abbrev, xd.Prefix, values...)
	}
	return out, nil
}

func buildEnumValues(xvalues []xmlValue) ([]EnumValue, error) {
	values := make([]EnumValue, 0, len(xvalues))
	for _, xv := range xvalues {
		id, err := strconv.ParseInt(xv.ID, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: value id %q", ErrMalformed, xv.ID)
		}
		values = append(values, EnumValue{ID: id, Name: xv.Name, Abbrev: xv.Abbrev})
	}
	return values, nil
}

func buildMessageDef(xm xmlMessage, enums, bitfields map[string]*EnumDef) (*MessageDef, error) {
	id, err := strconv.ParseUint(xm.ID, 0, 16)
	if err != nil {
		return nil, &SchemaError{Message: xm.Abbrev, Err: fmt.Errorf("%w: id %q", ErrMalformed, xm.ID)}
	}

	fields := make([]FieldDef, 0, len(xm.Fields))
	for _, xf := range xm.Fields {
		kind, err := ParseKind(xf.Type)
		if err != nil {
			return nil, &SchemaError{Message: xm.Abbrev, Field: xf.Abbrev, Err: err}
		}
		f := FieldDef{
			Name:        xf.Name,
			Abbrev:      xf.Abbrev,
			Kind:        kind,
			Unit:        xf.Unit,
			MessageType: xf.MessageType,
		}

		switch xf.Unit {
		case "Enumerated":
			f.Enum, err = fieldEnum(xf, xf.EnumDef, enums)
		case "Bitfield":
			f.Bitfield, err = fieldEnum(xf, xf.BitfieldDef, bitfields)
		}
		if err != nil {
			return nil, &SchemaError{Message: xm.Abbrev, Field: xf.Abbrev, Err: err}
		}
		fields = append(fields, f)
	}

	d := NewMessageDef(uint16(id), xm.Abbrev, fields...)
	if xm.Name != "" {
		d.Name = xm.Name
	}
	d.Source = xm.Source
	d.Category = xm.Category
	return d, nil
}

// fieldEnum resolves either a reference to a global definition or the
// field's own inline value list.
func fieldEnum(xf xmlField, ref string, globals map[string]*EnumDef) (*EnumDef, error) {
	if ref != "" {
		e, ok := globals[ref]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownEnum, ref)
		}
		return e, nil
	}
	values, err := buildEnumValues(xf.Values)
	if err != nil {
		return nil, err
	}
	return NewEnumDef(xf.Name, xf.Abbrev, xf.Prefix, values...), nil
}
