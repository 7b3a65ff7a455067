package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/LSTS/neptus-sub053/pkg/index"
)

var indexCmd = &cobra.Command{
	Use:   "index <log>",
	Short: "Index a log and summarise its contents",
	Long: `Index a log and print its time span, scan statistics and the number of
messages of each type.

<log> is a log directory holding Data.lsf (or Data.lsf.gz) and IMC.xml, or
the data file itself.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		ix, err := openIndex(args[0])
		if err != nil {
			return err
		}
		defer ix.Close()
		return runIndex(cmd.OutOrStdout(), ix, asJSON)
	},
}

func init() {
	indexCmd.Flags().Bool("json", false, "print the summary as JSON")
}

type typeSummary struct {
	Type  string  `json:"type"`
	MgID  uint16  `json:"mgid"`
	Count int     `json:"count"`
	First float64 `json:"first"`
	Last  float64 `json:"last"`
}

type logSummary struct {
	Data      string        `json:"data"`
	Schema    string        `json:"schema_version"`
	Messages  int           `json:"messages"`
	StartTime float64       `json:"start_time"`
	EndTime   float64       `json:"end_time"`
	Resyncs   int           `json:"resyncs"`
	Skipped   int64         `json:"bytes_skipped"`
	Trailing  int64         `json:"trailing_bytes"`
	Types     []typeSummary `json:"types"`
}

func summarise(ix *index.LogIndex) logSummary {
	stats := ix.Stats()
	s := logSummary{
		Data:      ix.Files().Data,
		Schema:    ix.Registry().Version(),
		Messages:  ix.Len(),
		StartTime: ix.StartTime(),
		EndTime:   ix.EndTime(),
		Resyncs:   stats.Resyncs,
		Skipped:   stats.BytesSkipped,
		Trailing:  stats.TrailingBytes,
		Types:     []typeSummary{},
	}
	for _, typ := range ix.Types() {
		first, _ := ix.FirstOf(typ)
		last, _ := ix.LastOf(typ)
		s.Types = append(s.Types, typeSummary{
			Type:  typeName(ix.Registry(), typ),
			MgID:  typ,
			Count: ix.Count(typ),
			First: first.Timestamp,
			Last:  last.Timestamp,
		})
	}
	return s
}

func runIndex(w io.Writer, ix *index.LogIndex, asJSON bool) error {
	s := summarise(ix)
	if asJSON {
		return printJSON(w, s)
	}

	fmt.Fprintf(w, "Log:       %s\n", s.Data)
	fmt.Fprintf(w, "Schema:    IMC %s\n", s.Schema)
	fmt.Fprintf(w, "Messages:  %d\n", s.Messages)
	fmt.Fprintf(w, "Start:     %s\n", formatTime(s.StartTime))
	fmt.Fprintf(w, "End:       %s\n", formatTime(s.EndTime))
	fmt.Fprintf(w, "Duration:  %.3fs\n", s.EndTime-s.StartTime)
	if s.Resyncs > 0 || s.Trailing > 0 {
		fmt.Fprintf(w, "Corruption: %d resyncs, %d bytes skipped, %d trailing bytes\n", s.Resyncs, s.Skipped, s.Trailing)
	}

	t := newTable("TYPE", "ID", "COUNT", "FIRST", "LAST")
	for _, ts := range s.Types {
		t.Row(ts.Type, fmt.Sprint(ts.MgID), fmt.Sprint(ts.Count), formatTime(ts.First), formatTime(ts.Last))
	}
	fmt.Fprintln(w, t.Render())
	return nil
}
