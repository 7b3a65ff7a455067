package schema

import (
	"fmt"
	"sort"
)

// DefaultSyncNumber is the IMC synchronisation marker written by little-endian producers.
const DefaultSyncNumber uint16 = 0xFE54

// Info identifies the schema a Registry was loaded from.
type Info struct {
	Name       string
	Version    string
	Hash       string
	SyncNumber uint16
}

// Registry maps message type ids and names to their layouts.
// It is immutable after construction and safe for concurrent use.
type Registry struct {
	info      Info
	ordered   []*MessageDef
	byID      map[uint16]*MessageDef
	byAbbrev  map[string]*MessageDef
	enums     map[string]*EnumDef
	bitfields map[string]*EnumDef
}

// New builds a Registry from message definitions, rejecting duplicate ids,
// duplicate names and fields without a known kind.
func New(info Info, defs ...*MessageDef) (*Registry, error) {
	return newRegistry(info, defs, nil, nil)
}

func newRegistry(info Info, defs []*MessageDef, enums, bitfields map[string]*EnumDef) (*Registry, error) {
	if info.SyncNumber == 0 {
		info.SyncNumber = DefaultSyncNumber
	}
	if enums == nil {
		enums = map[string]*EnumDef{}
	}
	if bitfields == nil {
		bitfields = map[string]*EnumDef{}
	}

	r := &Registry{
		info:      info,
		ordered:   make([]*MessageDef, 0, len(defs)),
		byID:      make(map[uint16]*MessageDef, len(defs)),
		byAbbrev:  make(map[string]*MessageDef, len(defs)),
		enums:     enums,
		bitfields: bitfields,
	}

	for _, d := range defs {
		if d == nil {
			continue
		}
		if d.Abbrev == "" {
			return nil, &SchemaError{Err: fmt.Errorf("%w: message %d has no abbreviation", ErrMalformed, d.ID)}
		}
		if prev, dup := r.byID[d.ID]; dup {
			return nil, &SchemaError{Message: d.Abbrev, Err: fmt.Errorf("%w: %d already used by %s", ErrDuplicateID, d.ID, prev.Abbrev)}
		}
		if _, dup := r.byAbbrev[d.Abbrev]; dup {
			return nil, &SchemaError{Message: d.Abbrev, Err: ErrDuplicateName}
		}
		if d.index == nil {
			d.buildIndex()
		}
		if len(d.index) != len(d.Fields) {
			return nil, &SchemaError{Message: d.Abbrev, Err: fmt.Errorf("%w: repeated field abbreviation", ErrDuplicateName)}
		}
		for i := range d.Fields {
			f := &d.Fields[i]
			if _, ok := kindNames[f.Kind]; !ok {
				return nil, &SchemaError{Message: d.Abbrev, Field: f.Abbrev, Err: fmt.Errorf("%w: %s", ErrUnknownKind, f.Kind)}
			}
		}
		r.byID[d.ID] = d
		r.byAbbrev[d.Abbrev] = d
		r.ordered = append(r.ordered, d)
	}

	sort.Slice(r.ordered, func(i, j int) bool { return r.ordered[i].ID < r.ordered[j].ID })
	return r, nil
}

// Info returns the schema identification.
func (r *Registry) Info() Info {
	return r.info
}

// Version returns the schema version string.
func (r *Registry) Version() string {
	return r.info.Version
}

// Hash returns the schema hash.
func (r *Registry) Hash() string {
	return r.info.Hash
}

// SyncNumber returns the synchronisation marker frames must start with.
func (r *Registry) SyncNumber() uint16 {
	return r.info.SyncNumber
}

// TypeDefFor resolves a type id to its layout.
func (r *Registry) TypeDefFor(id uint16) (*MessageDef, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// TypeIDFor resolves a message abbreviation to its type id.
func (r *Registry) TypeIDFor(abbrev string) (uint16, bool) {
	d, ok := r.byAbbrev[abbrev]
	if !ok {
		return 0, false
	}
	return d.ID, true
}

// Lookup resolves a message abbreviation to its layout.
func (r *Registry) Lookup(abbrev string) (*MessageDef, bool) {
	d, ok := r.byAbbrev[abbrev]
	return d, ok
}

// Messages returns all definitions ordered by type id.
func (r *Registry) Messages() []*MessageDef {
	out := make([]*MessageDef, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Len returns the number of message types.
func (r *Registry) Len() int {
	return len(r.ordered)
}

// Enum returns a global enumeration by abbreviation.
func (r *Registry) Enum(abbrev string) (*EnumDef, bool) {
	e, ok := r.enums[abbrev]
	return e, ok
}

// Bitfield returns a global bitfield by abbreviation.
func (r *Registry) Bitfield(abbrev string) (*EnumDef, bool) {
	e, ok := r.bitfields[abbrev]
	return e, ok
}
