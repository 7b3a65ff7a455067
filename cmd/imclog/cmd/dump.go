package cmd

import (
	"context"
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/LSTS/neptus-sub053/pkg/index"
)

// dumpBatch is how many messages are decoded per FetchMessages call.
const dumpBatch = 1024

var dumpCmd = &cobra.Command{
	Use:   "dump <log>",
	Short: "Print messages as JSON lines",
	Long: `Print the messages of a log in time order, one JSON object per line.

Examples:
  imclog dump ./lauv-xplore-1/20240611/ --type EstimatedState --since 1718100000
  imclog dump Data.lsf.gz --src lauv-xplore-1 --limit 100`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ix, err := openIndex(args[0])
		if err != nil {
			return err
		}
		defer ix.Close()

		f, err := filterFromFlags(cmd, ix)
		if err != nil {
			return err
		}
		workers, _ := cmd.Flags().GetInt("workers")
		if workers <= 0 {
			workers = container.Config().Index.Workers
		}
		return runDump(cmd.Context(), cmd.OutOrStdout(), ix, f, workers)
	},
}

func init() {
	fs := dumpCmd.Flags()
	fs.StringSlice("type", nil, "only messages of these types (abbreviation or id)")
	fs.StringSlice("src", nil, "only messages from these systems (name or id)")
	fs.IntSlice("entity", nil, "only messages from these source entities")
	fs.Float64("since", 0, "only messages at or after this time (seconds since the epoch)")
	fs.Float64("until", 0, "only messages before this time (seconds since the epoch)")
	fs.Int("limit", 0, "stop after this many messages")
	fs.Int("workers", 0, "parallel decoders (default from config)")
}

func filterFromFlags(cmd *cobra.Command, ix *index.LogIndex) (index.Filter, error) {
	var f index.Filter
	types, _ := cmd.Flags().GetStringSlice("type")
	for _, v := range types {
		typ, err := parseType(ix.Registry(), v)
		if err != nil {
			return f, err
		}
		f.Types = append(f.Types, typ)
	}
	srcs, _ := cmd.Flags().GetStringSlice("src")
	for _, v := range srcs {
		src, err := parseSystem(container.Resolver(), v)
		if err != nil {
			return f, err
		}
		f.Sources = append(f.Sources, src)
	}
	ents, _ := cmd.Flags().GetIntSlice("entity")
	for _, e := range ents {
		f.Entities = append(f.Entities, uint8(e))
	}
	f.Since, _ = cmd.Flags().GetFloat64("since")
	f.Until, _ = cmd.Flags().GetFloat64("until")
	f.Limit, _ = cmd.Flags().GetInt("limit")
	return f, nil
}

func runDump(ctx context.Context, w io.Writer, ix *index.LogIndex, f index.Filter, workers int) error {
	idxs := ix.Select(f)
	enc := json.NewEncoder(w)
	for len(idxs) > 0 {
		batch := idxs[:min(len(idxs), dumpBatch)]
		idxs = idxs[len(batch):]

		msgs, err := ix.FetchMessages(ctx, batch, workers)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			if err := enc.Encode(m); err != nil {
				return err
			}
		}
	}
	return nil
}
