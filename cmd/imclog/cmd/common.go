package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/LSTS/neptus-sub053/pkg/index"
	"github.com/LSTS/neptus-sub053/pkg/resolver"
	"github.com/LSTS/neptus-sub053/pkg/schema"
)

// openIndex builds the index of a log with the configured schema, names
// and snapshot store.
func openIndex(path string) (*index.LogIndex, error) {
	ic, err := container.IndexConfig()
	if err != nil {
		return nil, err
	}
	return index.Build(path, ic)
}

// parseType accepts a message abbreviation or a numeric id.
func parseType(reg *schema.Registry, v string) (uint16, error) {
	if id, ok := reg.TypeIDFor(v); ok {
		return id, nil
	}
	id, err := strconv.ParseUint(v, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("unknown message type %q", v)
	}
	return uint16(id), nil
}

// parseSystem accepts a system name known to names or a numeric id.
func parseSystem(names *resolver.Resolver, v string) (uint16, error) {
	if id, ok := names.IDFor(v); ok {
		return id, nil
	}
	id, err := strconv.ParseUint(v, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("unknown system %q", v)
	}
	return uint16(id), nil
}

func parseSeconds(v string) (float64, error) {
	t, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: expected seconds since the epoch", v)
	}
	return t, nil
}

func typeName(reg *schema.Registry, id uint16) string {
	if def, ok := reg.TypeDefFor(id); ok {
		return def.Abbrev
	}
	return strconv.Itoa(int(id))
}

func formatTime(ts float64) string {
	if ts == 0 {
		return "-"
	}
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...)
}
