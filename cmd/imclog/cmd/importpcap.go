package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/LSTS/neptus-sub053/pkg/lsf"
	"github.com/LSTS/neptus-sub053/pkg/pcapimport"
	"github.com/LSTS/neptus-sub053/pkg/schema"
)

var importPcapCmd = &cobra.Command{
	Use:   "import-pcap <capture> <out-dir>",
	Short: "Extract IMC frames from a pcap or pcapng capture into a log",
	Long: `Read a packet capture, reassemble the IMC frames carried by each UDP flow
and append them to <out-dir>/Data.lsf in capture order. The schema given by
--schema is copied next to it.

Examples:
  imclog import-pcap trial.pcapng ./trial --schema IMC.xml
  imclog import-pcap trial.pcap ./trial --schema IMC.xml --port 6002`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := container.Registry()
		if err != nil {
			return err
		}
		if reg == nil {
			return errors.New("import-pcap needs --schema: the IMC.xml to decode with and store next to the log")
		}
		port, _ := cmd.Flags().GetUint16("port")

		stats, err := runImportPcap(importOptions{
			Capture:    args[0],
			Out:        args[1],
			SchemaPath: container.Config().Schema,
			Registry:   reg,
			Port:       port,
			MaxPayload: container.Config().Listen.MaxPayload,
		})
		if err != nil {
			return err
		}
		printImportStats(cmd.OutOrStdout(), args[1], stats)
		return nil
	},
}

func init() {
	importPcapCmd.Flags().Uint16("port", 0, "only UDP datagrams from or to this port")
}

type importOptions struct {
	Capture    string
	Out        string
	SchemaPath string
	Registry   *schema.Registry
	Port       uint16
	MaxPayload int
}

func runImportPcap(opts importOptions) (pcapimport.Stats, error) {
	if err := os.MkdirAll(opts.Out, 0750); err != nil {
		return pcapimport.Stats{}, fmt.Errorf("failed to create output directory: %w", err)
	}
	if opts.SchemaPath != "" {
		if err := lsf.CopySchema(opts.SchemaPath, opts.Out); err != nil {
			return pcapimport.Stats{}, fmt.Errorf("failed to copy schema: %w", err)
		}
	}
	writer, err := lsf.NewLogWriter(lsf.WriterConfig{
		FilePath: filepath.Join(opts.Out, lsf.DataFile),
		Registry: opts.Registry,
	})
	if err != nil {
		return pcapimport.Stats{}, err
	}
	defer writer.Close()

	stats, err := pcapimport.Import(opts.Capture, pcapimport.Config{
		Registry:   opts.Registry,
		Port:       opts.Port,
		MaxPayload: opts.MaxPayload,
	}, func(p pcapimport.Packet) error {
		_, err := writer.WriteFrame(p.Raw)
		return err
	})
	if err != nil {
		return stats, err
	}
	return stats, writer.Close()
}

func printImportStats(w io.Writer, out string, stats pcapimport.Stats) {
	fmt.Fprintf(w, "Imported %d frames from %d UDP packets (%d packets total) into %s\n",
		stats.Frames, stats.UDPPackets, stats.Packets, filepath.Join(out, lsf.DataFile))
	if stats.Partial > 0 {
		fmt.Fprintf(w, "%d datagrams ended with a partial frame, which was dropped\n", stats.Partial)
	}
	if len(stats.Flows) == 0 {
		return
	}
	t := newTable("FLOW", "FRAMES", "RESYNCS", "DISCARDED", "CRC", "UNKNOWN")
	for _, flow := range stats.FlowNames() {
		s := stats.Flows[flow]
		t.Row(flow, fmt.Sprint(s.Frames), fmt.Sprint(s.Resyncs), fmt.Sprint(s.BytesDiscarded),
			fmt.Sprint(s.CRCFailures), fmt.Sprint(s.UnknownTypes))
	}
	fmt.Fprintln(w, t.Render())
}
