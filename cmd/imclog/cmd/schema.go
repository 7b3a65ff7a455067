package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/LSTS/neptus-sub053/pkg/lsf"
	"github.com/LSTS/neptus-sub053/pkg/schema"
)

var schemaCmd = &cobra.Command{
	Use:   "schema [type]...",
	Short: "Describe the message types of a schema",
	Long: `Without arguments, list every message type of the schema. With type names
or ids, print their fields.

The schema is the one given by --schema, or the IMC.xml of the log named by
--log.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logPath, _ := cmd.Flags().GetString("log")
		reg, err := loadSchema(logPath)
		if err != nil {
			return err
		}
		return runSchema(cmd.OutOrStdout(), reg, args)
	},
}

func init() {
	schemaCmd.Flags().String("log", "", "use the IMC.xml of this log")
}

func loadSchema(logPath string) (*schema.Registry, error) {
	if logPath != "" {
		files, err := lsf.FindLog(logPath)
		if err != nil {
			return nil, err
		}
		if files.Schema == "" {
			return nil, fmt.Errorf("%w: %s", lsf.ErrNoSchema, files.Dir)
		}
		return schema.LoadFile(files.Schema)
	}
	reg, err := container.Registry()
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, errors.New("no schema: pass --schema or --log")
	}
	return reg, nil
}

func runSchema(w io.Writer, reg *schema.Registry, types []string) error {
	info := reg.Info()
	if len(types) == 0 {
		fmt.Fprintf(w, "%s %s (%d messages, sync 0x%04X)\n", info.Name, info.Version, reg.Len(), info.SyncNumber)
		t := newTable("ID", "ABBREV", "NAME", "CATEGORY", "FIELDS")
		for _, def := range reg.Messages() {
			t.Row(fmt.Sprint(def.ID), def.Abbrev, def.Name, def.Category, fmt.Sprint(len(def.Fields)))
		}
		fmt.Fprintln(w, t.Render())
		return nil
	}

	for _, v := range types {
		typ, err := parseType(reg, v)
		if err != nil {
			return err
		}
		def, ok := reg.TypeDefFor(typ)
		if !ok {
			return fmt.Errorf("unknown message type %q", v)
		}
		fmt.Fprintf(w, "%s (%d) %s\n", def.Abbrev, def.ID, def.Name)
		t := newTable("FIELD", "TYPE", "UNIT", "VALUES")
		for _, f := range def.Fields {
			t.Row(f.Abbrev, f.Kind.String(), f.Unit, fieldValues(f))
		}
		fmt.Fprintln(w, t.Render())
	}
	return nil
}

func fieldValues(f schema.FieldDef) string {
	enum := f.Enum
	if enum == nil {
		enum = f.Bitfield
	}
	if enum == nil {
		return f.MessageType
	}
	vals := make([]string, len(enum.Values))
	for i, v := range enum.Values {
		vals[i] = fmt.Sprintf("%s=%d", v.Abbrev, v.ID)
	}
	return strings.Join(vals, " ")
}
