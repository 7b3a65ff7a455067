package index

import (
	"sort"
)

// Filter selects entries for Select and Scan. Empty slices match everything.
type Filter struct {
	Types    []uint16
	Sources  []uint16
	Entities []uint8 // source entities
	Since    float64 // inclusive
	Until    float64 // exclusive; zero means no upper bound
	Limit    int     // zero means no limit
}

func (f *Filter) match(c *columns, i int) bool {
	if len(f.Types) > 0 && !contains(f.Types, c.types[i]) {
		return false
	}
	if len(f.Sources) > 0 && !contains(f.Sources, c.srcs[i]) {
		return false
	}
	if len(f.Entities) > 0 && !contains(f.Entities, c.srcEnts[i]) {
		return false
	}
	return true
}

func contains[T comparable](set []T, v T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Len returns the number of indexed messages.
func (ix *LogIndex) Len() int {
	c := ix.view()
	return c.len()
}

// Entry returns the entry at position i.
func (ix *LogIndex) Entry(i int) (Entry, error) {
	c := ix.view()
	if i < 0 || i >= c.len() {
		return Entry{}, ErrOutOfRange
	}
	return c.entry(i), nil
}

// TimeOf returns the timestamp of entry i, which must be in range.
func (ix *LogIndex) TimeOf(i int) float64 {
	c := ix.view()
	return c.times[i]
}

// TypeOf returns the message type of entry i, which must be in range.
func (ix *LogIndex) TypeOf(i int) uint16 {
	c := ix.view()
	return c.types[i]
}

// SourceOf returns the source system of entry i, which must be in range.
func (ix *LogIndex) SourceOf(i int) uint16 {
	c := ix.view()
	return c.srcs[i]
}

// EntityOf returns the source entity of entry i, which must be in range.
func (ix *LogIndex) EntityOf(i int) uint8 {
	c := ix.view()
	return c.srcEnts[i]
}

// StartTime returns the earliest timestamp, or 0 for an empty log.
func (ix *LogIndex) StartTime() float64 {
	c := ix.view()
	if c.len() == 0 {
		return 0
	}
	return c.times[0]
}

// EndTime returns the latest timestamp, or 0 for an empty log.
func (ix *LogIndex) EndTime() float64 {
	c := ix.view()
	if c.len() == 0 {
		return 0
	}
	return c.times[c.len()-1]
}

// FirstOf returns the earliest entry of a type. Results are cached per type.
func (ix *LogIndex) FirstOf(typ uint16) (Entry, bool) {
	c := ix.view()
	i := ix.cached(c.gen, cacheKey{typ: typ}, func() int {
		for i := 0; i < c.len(); i++ {
			if c.types[i] == typ {
				return i
			}
		}
		return -1
	})
	if i < 0 {
		return Entry{}, false
	}
	return c.entry(i), true
}

// LastOf returns the latest entry of a type. Results are cached per type.
func (ix *LogIndex) LastOf(typ uint16) (Entry, bool) {
	c := ix.view()
	i := ix.cached(c.gen, cacheKey{typ: typ, last: true}, func() int {
		for i := c.len() - 1; i >= 0; i-- {
			if c.types[i] == typ {
				return i
			}
		}
		return -1
	})
	if i < 0 {
		return Entry{}, false
	}
	return c.entry(i), true
}

type cacheKey struct {
	typ  uint16
	last bool
}

// cached returns the cached position for key, computing and storing it on a
// miss. Results computed against an outdated generation are not stored.
func (ix *LogIndex) cached(gen uint64, key cacheKey, compute func() int) int {
	ix.cacheMu.Lock()
	if ix.cacheGen == gen {
		if i, ok := ix.ends[key]; ok {
			ix.cacheMu.Unlock()
			return i
		}
	}
	ix.cacheMu.Unlock()

	i := compute()

	ix.cacheMu.Lock()
	if ix.cacheGen == gen {
		ix.ends[key] = i
	}
	ix.cacheMu.Unlock()
	return i
}

// AdvanceToTime returns the first position at or after start whose timestamp
// is at least t, or Len() if there is none. It never returns less than start.
// The search gallops forward from start, so a cursor that feeds each result
// back in as the next start pays amortised O(1) per step.
func (ix *LogIndex) AdvanceToTime(start int, t float64) int {
	c := ix.view()
	return c.advance(start, t)
}

func (c *columns) advance(start int, t float64) int {
	n := c.len()
	if start < 0 {
		start = 0
	}
	if start >= n || c.times[start] >= t {
		return start
	}

	// times[lo] < t holds throughout.
	lo, step := start, 1
	hi := start + step
	for hi < n && c.times[hi] < t {
		lo = hi
		step *= 2
		hi = start + step
	}
	if hi > n {
		hi = n
	}
	// First position in (lo, hi] with times >= t; hi itself if none before it.
	return lo + 1 + sort.Search(hi-lo-1, func(k int) bool { return c.times[lo+1+k] >= t })
}

func (c *columns) matchEntity(i int, entity int) bool {
	return entity == AnyEntity || int(c.srcEnts[i]) == entity
}

// MessageAtOrAfter returns the first entry at or after position start with
// timestamp at least t, of type typ and source entity entity (or AnyEntity).
// The search runs to the end of the index and never wraps.
func (ix *LogIndex) MessageAtOrAfter(typ uint16, entity int, start int, t float64) (int, bool) {
	c := ix.view()
	for i := c.advance(start, t); i < c.len(); i++ {
		if c.types[i] == typ && c.matchEntity(i, entity) {
			return i, true
		}
	}
	return -1, false
}

// MessageBeforeOrAt returns the last entry with timestamp at most t of type
// typ and source entity entity (or AnyEntity).
func (ix *LogIndex) MessageBeforeOrAt(typ uint16, entity int, t float64) (int, bool) {
	c := ix.view()
	after := sort.Search(c.len(), func(i int) bool { return c.times[i] > t })
	for i := after - 1; i >= 0; i-- {
		if c.types[i] == typ && c.matchEntity(i, entity) {
			return i, true
		}
	}
	return -1, false
}

// NextOfType returns the first entry of type typ after position i.
func (ix *LogIndex) NextOfType(typ uint16, i int) (int, bool) {
	c := ix.view()
	if i < -1 {
		i = -1
	}
	for j := i + 1; j < c.len(); j++ {
		if c.types[j] == typ {
			return j, true
		}
	}
	return -1, false
}

// PreviousOfType returns the last entry of type typ before position i.
func (ix *LogIndex) PreviousOfType(typ uint16, i int) (int, bool) {
	c := ix.view()
	if i > c.len() {
		i = c.len()
	}
	for j := i - 1; j >= 0; j-- {
		if c.types[j] == typ {
			return j, true
		}
	}
	return -1, false
}

// Scan calls fn for each entry matching f in time order until fn returns
// false. fn runs without any index lock held.
func (ix *LogIndex) Scan(f Filter, fn func(Entry) bool) {
	c := ix.view()
	n := 0
	for i := c.advance(0, f.Since); i < c.len(); i++ {
		if f.Until != 0 && c.times[i] >= f.Until {
			return
		}
		if !f.match(&c, i) {
			continue
		}
		if !fn(c.entry(i)) {
			return
		}
		n++
		if f.Limit > 0 && n >= f.Limit {
			return
		}
	}
}

// Select returns the positions of the entries matching f.
func (ix *LogIndex) Select(f Filter) []int {
	var out []int
	ix.Scan(f, func(e Entry) bool {
		out = append(out, e.Index)
		return true
	})
	return out
}

// Count returns the number of entries of a type.
func (ix *LogIndex) Count(typ uint16) int {
	c := ix.view()
	n := 0
	for _, t := range c.types {
		if t == typ {
			n++
		}
	}
	return n
}

// Types returns the distinct message types in the log, ascending.
func (ix *LogIndex) Types() []uint16 {
	c := ix.view()
	return distinct(c.types)
}

// Sources returns the distinct source systems in the log, ascending.
func (ix *LogIndex) Sources() []uint16 {
	c := ix.view()
	return distinct(c.srcs)
}

func distinct(col []uint16) []uint16 {
	seen := make(map[uint16]struct{})
	for _, v := range col {
		seen[v] = struct{}{}
	}
	out := make([]uint16, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
