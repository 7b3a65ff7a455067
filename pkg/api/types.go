package api

import (
	"log/slog"
	"time"

	"github.com/LSTS/neptus-sub053/pkg/lsf"
	"github.com/LSTS/neptus-sub053/pkg/schema"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// OpenLogRequest asks the server to index a log by path.
type OpenLogRequest struct {
	Path string `json:"path"`
}

// ServerConfig holds configuration for the API server
type ServerConfig struct {
	Port int
	Bind string
	// APIKey protects /api/v1 when non-empty.
	APIKey string
	Logger *slog.Logger
}

// LogInfo describes an opened log.
type LogInfo struct {
	ID        string        `json:"id"`
	Path      string        `json:"path"`
	Opened    time.Time     `json:"opened"`
	Messages  int           `json:"messages"`
	StartTime float64       `json:"start_time"`
	EndTime   float64       `json:"end_time"`
	Schema    string        `json:"schema_version"`
	Scan      lsf.ScanStats `json:"scan"`
}

// EntryResponse is one index entry with its resolved names.
type EntryResponse struct {
	Index     int     `json:"index"`
	Timestamp float64 `json:"timestamp"`
	Type      string  `json:"type"`
	MgID      uint16  `json:"mgid"`
	Src       uint16  `json:"src"`
	SrcName   string  `json:"src_name"`
	SrcEnt    uint8   `json:"src_ent"`
	Dst       uint16  `json:"dst"`
	DstEnt    uint8   `json:"dst_ent"`
	Size      int     `json:"size"`
}

// MessageResponse is a decoded message with its position in the log.
type MessageResponse struct {
	Index   int         `json:"index"`
	Message interface{} `json:"message"`
}

// FieldResponse describes one field of a message definition.
type FieldResponse struct {
	Name    string   `json:"name"`
	Abbrev  string   `json:"abbrev"`
	Type    string   `json:"type"`
	Unit    string   `json:"unit,omitempty"`
	Values  []string `json:"values,omitempty"`
	Message string   `json:"message_type,omitempty"`
}

// SchemaResponse describes a message definition.
type SchemaResponse struct {
	ID       uint16          `json:"id"`
	Name     string          `json:"name"`
	Abbrev   string          `json:"abbrev"`
	Category string          `json:"category,omitempty"`
	Version  string          `json:"version"`
	Fields   []FieldResponse `json:"fields"`
}

func schemaResponse(reg *schema.Registry, def *schema.MessageDef) SchemaResponse {
	out := SchemaResponse{
		ID:       def.ID,
		Name:     def.Name,
		Abbrev:   def.Abbrev,
		Category: def.Category,
		Version:  reg.Version(),
		Fields:   make([]FieldResponse, 0, len(def.Fields)),
	}
	for _, f := range def.Fields {
		fr := FieldResponse{Name: f.Name, Abbrev: f.Abbrev, Type: f.Kind.String(), Unit: f.Unit, Message: f.MessageType}
		enum := f.Enum
		if enum == nil {
			enum = f.Bitfield
		}
		if enum != nil {
			for _, v := range enum.Values {
				fr.Values = append(fr.Values, v.Abbrev)
			}
		}
		out.Fields = append(out.Fields, fr)
	}
	return out
}
