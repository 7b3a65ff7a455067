package schema

// EnumValue is one named constant of an enumeration or bitfield.
type EnumValue struct {
	ID     int64
	Name   string
	Abbrev string
}

// EnumDef is an enumeration or bitfield definition, either global or local to a field.
type EnumDef struct {
	Name     string
	Abbrev   string
	Prefix   string
	Values   []EnumValue
	byID     map[int64]int
	byAbbrev map[string]int
}

// NewEnumDef creates an enumeration definition.
func NewEnumDef(name, abbrev, prefix string, values ...EnumValue) *EnumDef {
	e := &EnumDef{
		Name:     name,
		Abbrev:   abbrev,
		Prefix:   prefix,
		Values:   values,
		byID:     make(map[int64]int, len(values)),
		byAbbrev: make(map[string]int, len(values)),
	}
	for i, v := range values {
		e.byID[v.ID] = i
		e.byAbbrev[v.Abbrev] = i
	}
	return e
}

// NameOf returns the abbreviation of the constant with the given value.
func (e *EnumDef) NameOf(id int64) (string, bool) {
	i, ok := e.byID[id]
	if !ok {
		return "", false
	}
	return e.Values[i].Abbrev, true
}

// ValueOf returns the value of the constant with the given abbreviation.
func (e *EnumDef) ValueOf(abbrev string) (int64, bool) {
	i, ok := e.byAbbrev[abbrev]
	if !ok {
		return 0, false
	}
	return e.Values[i].ID, true
}

// Flags decomposes a bitfield value into the abbreviations of the bits set.
func (e *EnumDef) Flags(v uint64) []string {
	var out []string
	for _, ev := range e.Values {
		if ev.ID != 0 && v&uint64(ev.ID) == uint64(ev.ID) {
			out = append(out, ev.Abbrev)
		}
	}
	return out
}

// FieldDef describes one field of a message.
type FieldDef struct {
	Name        string
	Abbrev      string
	Kind        Kind
	Unit        string
	Enum        *EnumDef // set when Unit is "Enumerated"
	Bitfield    *EnumDef // set when Unit is "Bitfield"
	MessageType string   // constraint hint for message and message-list fields
	// Allowed lists the message abbreviations a message or message-list
	// field accepts. Empty accepts any message.
	Allowed []string
}

// Accepts reports whether a message of the given type may be stored in
// this field.
func (f *FieldDef) Accepts(abbrev string) bool {
	if len(f.Allowed) == 0 {
		return true
	}
	for _, a := range f.Allowed {
		if a == abbrev {
			return true
		}
	}
	return false
}

// IsArray reports whether the field is length-prefixed on the wire.
func (f *FieldDef) IsArray() bool {
	return f.Kind.IsArray()
}

// MessageDef is the immutable layout of one message type.
type MessageDef struct {
	ID       uint16
	Name     string
	Abbrev   string
	Source   string
	Category string
	Fields   []FieldDef
	index    map[string]int
}

// NewMessageDef creates a message definition and its field lookup table.
func NewMessageDef(id uint16, abbrev string, fields ...FieldDef) *MessageDef {
	d := &MessageDef{
		ID:     id,
		Name:   abbrev,
		Abbrev: abbrev,
		Fields: fields,
	}
	d.buildIndex()
	return d
}

func (d *MessageDef) buildIndex() {
	d.index = make(map[string]int, len(d.Fields))
	for i := range d.Fields {
		if _, dup := d.index[d.Fields[i].Abbrev]; !dup {
			d.index[d.Fields[i].Abbrev] = i
		}
	}
}

// FieldIndex returns the position of a field in declaration order.
func (d *MessageDef) FieldIndex(abbrev string) (int, bool) {
	i, ok := d.index[abbrev]
	return i, ok
}

// Field returns the definition of the named field.
func (d *MessageDef) Field(abbrev string) (*FieldDef, bool) {
	i, ok := d.index[abbrev]
	if !ok {
		return nil, false
	}
	return &d.Fields[i], true
}

// MinPayloadSize is the smallest payload this layout can encode to:
// fixed-width fields plus the two-byte prefix of every variable one.
func (d *MessageDef) MinPayloadSize() int {
	n := 0
	for i := range d.Fields {
		if size := d.Fields[i].Kind.Size(); size > 0 {
			n += size
		} else {
			n += 2
		}
	}
	return n
}
