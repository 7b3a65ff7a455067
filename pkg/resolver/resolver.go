// Package resolver maps IMC system and entity ids to human readable names.
//
// Names are best-effort metadata learned from Announce, EntityInfo and
// EntityList messages or seeded from configuration. When two ids claim the
// same name the latest claim wins and a Collision is reported; nothing here
// ever fails a decode.
package resolver

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/LSTS/neptus-sub053/pkg/codec"
	"github.com/LSTS/neptus-sub053/pkg/metrics"
)

// Collision describes a name rebound from one id to another.
type Collision struct {
	Name       string
	PreviousID uint16
	ID         uint16
	// Entity collisions are scoped to a system; System is zero otherwise.
	Entity bool
	System uint16
}

func (c Collision) String() string {
	if c.Entity {
		return fmt.Sprintf("entity %q of system 0x%04X moved from %d to %d", c.Name, c.System, c.PreviousID, c.ID)
	}
	return fmt.Sprintf("system %q moved from 0x%04X to 0x%04X", c.Name, c.PreviousID, c.ID)
}

// Config holds resolver settings.
type Config struct {
	Logger *slog.Logger
	// OnCollision, if set, is called for every collision after it is applied.
	// It runs with no lock held.
	OnCollision func(Collision)
}

// System is one resolved system id.
type System struct {
	ID   uint16 `json:"id"`
	Name string `json:"name"`
}

// Resolver is a bidirectional id/name table. It is safe for concurrent use.
type Resolver struct {
	mu       sync.RWMutex
	names    map[uint16]string
	ids      map[string]uint16
	entities map[uint16]map[uint8]string
	labels   map[uint16]map[string]uint8

	logger      *slog.Logger
	onCollision func(Collision)
}

// New creates an empty resolver.
func New(config Config) *Resolver {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	r := &Resolver{
		logger:      config.Logger.With("component", "resolver"),
		onCollision: config.OnCollision,
	}
	r.reset()
	return r
}

func (r *Resolver) reset() {
	r.names = make(map[uint16]string)
	r.ids = make(map[string]uint16)
	r.entities = make(map[uint16]map[uint8]string)
	r.labels = make(map[uint16]map[string]uint8)
}

// NameFor returns the name bound to a system id.
func (r *Resolver) NameFor(id uint16) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.names[id]
	return name, ok
}

// IDFor returns the system id bound to a name.
func (r *Resolver) IDFor(name string) (uint16, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.ids[name]
	return id, ok
}

// Format renders an id as its name when known, hex otherwise.
func (r *Resolver) Format(id uint16) string {
	if name, ok := r.NameFor(id); ok {
		return name
	}
	return fmt.Sprintf("0x%04X", id)
}

// Set binds id and name in both directions.
func (r *Resolver) Set(id uint16, name string) {
	if name == "" {
		return
	}
	r.mu.Lock()
	c, collided := r.set(id, name)
	r.mu.Unlock()

	if collided {
		r.report(c)
	}
}

func (r *Resolver) set(id uint16, name string) (Collision, bool) {
	if cur, ok := r.names[id]; ok && cur == name {
		return Collision{}, false
	}

	var c Collision
	collided := false
	if prev, ok := r.ids[name]; ok && prev != id {
		delete(r.names, prev)
		c = Collision{Name: name, PreviousID: prev, ID: id}
		collided = true
	}
	if old, ok := r.names[id]; ok {
		delete(r.ids, old)
		r.logger.Debug("system renamed", "id", id, "from", old, "to", name)
	}
	r.names[id] = name
	r.ids[name] = id
	return c, collided
}

// Seed loads a static table, as from configuration.
func (r *Resolver) Seed(table map[uint16]string) {
	ids := make([]int, 0, len(table))
	for id := range table {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	for _, id := range ids {
		r.Set(uint16(id), table[uint16(id)])
	}
}

// Reset forgets every binding.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset()
}

// Len returns the number of named systems.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}

// Systems returns every named system ordered by id.
func (r *Resolver) Systems() []System {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]System, 0, len(r.names))
	for id, name := range r.names {
		out = append(out, System{ID: id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetEntity binds an entity label within a system.
func (r *Resolver) SetEntity(src uint16, ent uint8, label string) {
	if label == "" {
		return
	}
	r.mu.Lock()
	byID, ok := r.entities[src]
	if !ok {
		byID = make(map[uint8]string)
		r.entities[src] = byID
		r.labels[src] = make(map[string]uint8)
	}
	byLabel := r.labels[src]

	var c Collision
	collided := false
	if cur, had := byID[ent]; !had || cur != label {
		if prev, ok := byLabel[label]; ok && prev != ent {
			delete(byID, prev)
			c = Collision{Name: label, PreviousID: uint16(prev), ID: uint16(ent), Entity: true, System: src}
			collided = true
		}
		if had {
			delete(byLabel, cur)
		}
		byID[ent] = label
		byLabel[label] = ent
	}
	r.mu.Unlock()

	if collided {
		r.report(c)
	}
}

// EntityName returns the label of an entity within a system.
func (r *Resolver) EntityName(src uint16, ent uint8) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	label, ok := r.entities[src][ent]
	return label, ok
}

// EntityID returns the entity id bound to a label within a system.
func (r *Resolver) EntityID(src uint16, label string) (uint8, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ent, ok := r.labels[src][label]
	return ent, ok
}

// Observe learns names from announcement messages. It reports whether m was
// one of the message types the resolver understands.
func (r *Resolver) Observe(m *codec.Message) bool {
	src := m.Header().Src
	switch m.Abbrev() {
	case "Announce":
		r.Set(src, m.Text("sys_name"))
	case "EntityInfo":
		r.SetEntity(src, uint8(m.Uint("id")), m.Text("label"))
	case "EntityList":
		// Only reports carry the list; queries are empty.
		if m.Uint("op") != 0 {
			return true
		}
		for _, t := range parseTupleList(m.Text("list")) {
			if id, err := strconv.ParseUint(t.value, 10, 8); err == nil {
				r.SetEntity(src, uint8(id), t.key)
			}
		}
	default:
		return false
	}
	return true
}

type tuple struct {
	key, value string
}

// parseTupleList splits "key=value;key=value" text, keeping the order of
// the pairs so later ones win when applied in sequence.
func parseTupleList(s string) []tuple {
	var out []tuple
	for _, pair := range strings.Split(s, ";") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		out = append(out, tuple{key: strings.TrimSpace(k), value: strings.TrimSpace(v)})
	}
	return out
}

func (r *Resolver) report(c Collision) {
	metrics.NameCollisions.Inc()
	r.logger.Warn("name collision", "name", c.Name, "previous", c.PreviousID, "id", c.ID, "entity", c.Entity)
	if r.onCollision != nil {
		r.onCollision(c)
	}
}
