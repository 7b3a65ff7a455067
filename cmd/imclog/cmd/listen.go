package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/LSTS/neptus-sub053/pkg/config"
	"github.com/LSTS/neptus-sub053/pkg/framing"
	"github.com/LSTS/neptus-sub053/pkg/lsf"
	"github.com/LSTS/neptus-sub053/pkg/schema"
	"github.com/LSTS/neptus-sub053/pkg/transport"
)

var listenCmd = &cobra.Command{
	Use:   "listen <out-dir>",
	Short: "Record live IMC traffic to a new log",
	Long: `Receive IMC frames over UDP (or from a TCP endpoint with --tcp) and append
every valid frame to <out-dir>/Data.lsf. The schema given by --schema is
copied next to it so the result is a complete log directory.

Recording stops on interrupt or after --duration.

Examples:
  imclog listen ./capture --schema IMC.xml --addr :6002
  imclog listen ./capture --schema IMC.xml --tcp 10.0.10.60:6002 --duration 10m`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := container.Registry()
		if err != nil {
			return err
		}
		if reg == nil {
			return errors.New("listen needs --schema: the IMC.xml to decode with and store next to the log")
		}

		cfg := container.Config()
		opts := recordOptions{
			Out:        args[0],
			SchemaPath: cfg.Schema,
			Registry:   reg,
			Listen:     cfg.Listen,
			Logger:     container.Logger(),
		}
		opts.TCP, _ = cmd.Flags().GetString("tcp")
		opts.Duration, _ = cmd.Flags().GetDuration("duration")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		stats, err := runRecord(ctx, opts)
		if err != nil {
			return err
		}
		printRecordStats(cmd.OutOrStdout(), opts.Out, stats)
		return nil
	},
}

func init() {
	listenCmd.Flags().String("addr", "", "UDP address to listen on (default from config, 0.0.0.0:6002)")
	listenCmd.Flags().String("tcp", "", "read a TCP stream from this address instead of listening on UDP")
	listenCmd.Flags().Duration("duration", 0, "stop recording after this long")
	mustBindPFlag("listen.addr", listenCmd.Flags().Lookup("addr"))
}

type recordOptions struct {
	Out        string
	SchemaPath string
	Registry   *schema.Registry
	Listen     config.Listen
	// TCP, when set, reads a stream from this address instead of UDP.
	TCP      string
	Duration time.Duration
	// Ready is called with the bound UDP address once listening.
	Ready  func(net.Addr)
	Logger *slog.Logger
}

type recordStats struct {
	Frames    int
	Undecoded int
	Bytes     int64
	Peers     []transport.PeerStats
}

// runRecord captures frames into opts.Out until ctx is done, the duration
// elapses or a TCP stream ends.
func runRecord(ctx context.Context, opts recordOptions) (recordStats, error) {
	var stats recordStats
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	if err := os.MkdirAll(opts.Out, 0750); err != nil {
		return stats, fmt.Errorf("failed to create output directory: %w", err)
	}
	if opts.SchemaPath != "" {
		if err := lsf.CopySchema(opts.SchemaPath, opts.Out); err != nil {
			return stats, fmt.Errorf("failed to copy schema: %w", err)
		}
	}
	writer, err := lsf.NewLogWriter(lsf.WriterConfig{
		FilePath: filepath.Join(opts.Out, lsf.DataFile),
		Registry: opts.Registry,
	})
	if err != nil {
		return stats, err
	}
	defer writer.Close()
	startSize := writer.Size()

	g, gctx := errgroup.WithContext(ctx)
	capCtx, stopCapture := context.WithCancel(gctx)
	defer stopCapture()

	var writeErr error
	record := func(p transport.Packet) error {
		if _, err := writer.WriteFrame(p.Raw); err != nil {
			return fmt.Errorf("failed to record frame: %w", err)
		}
		stats.Frames++
		if p.Message == nil {
			stats.Undecoded++
		}
		return nil
	}

	if opts.TCP != "" {
		g.Go(func() error {
			defer stopCapture()
			return transport.DialStream(capCtx, opts.TCP, framing.Config{
				Registry:   opts.Registry,
				MaxPayload: opts.Listen.MaxPayload,
				Logger:     opts.Logger,
			}, record)
		})
	} else {
		l, err := transport.ListenUDP(transport.UDPConfig{
			Addr:        opts.Listen.Addr,
			Registry:    opts.Registry,
			MaxPayload:  opts.Listen.MaxPayload,
			PeerTimeout: opts.Listen.PeerTimeout,
			Logger:      opts.Logger,
		})
		if err != nil {
			return stats, err
		}
		defer l.Close()
		opts.Logger.Info("recording", "addr", l.Addr(), "out", opts.Out)
		if opts.Ready != nil {
			opts.Ready(l.Addr())
		}

		g.Go(func() error {
			defer stopCapture()
			defer func() { stats.Peers = l.Peers() }()
			return l.Serve(capCtx, func(p transport.Packet) {
				if writeErr != nil {
					return
				}
				if writeErr = record(p); writeErr != nil {
					stopCapture()
				}
			})
		})
	}

	// Flush periodically so a concurrent reader sees frames as they arrive.
	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-capCtx.Done():
				return nil
			case <-ticker.C:
				if err := writer.Sync(); err != nil {
					return err
				}
			}
		}
	})

	err = g.Wait()
	if err == nil {
		err = writeErr
	}
	if cerr := writer.Close(); err == nil {
		err = cerr
	}
	stats.Bytes = writer.Size() - startSize
	return stats, err
}

func printRecordStats(w io.Writer, out string, stats recordStats) {
	fmt.Fprintf(w, "Recorded %d frames (%d bytes) to %s\n", stats.Frames, stats.Bytes, filepath.Join(out, lsf.DataFile))
	if stats.Undecoded > 0 {
		fmt.Fprintf(w, "%d frames could not be decoded with the schema and were kept raw\n", stats.Undecoded)
	}
	if len(stats.Peers) == 0 {
		return
	}
	t := newTable("PEER", "FRAMES", "RESYNCS", "DISCARDED", "CRC", "UNKNOWN")
	for _, p := range stats.Peers {
		t.Row(p.Addr, fmt.Sprint(p.Stats.Frames), fmt.Sprint(p.Stats.Resyncs),
			fmt.Sprint(p.Stats.BytesDiscarded), fmt.Sprint(p.Stats.CRCFailures), fmt.Sprint(p.Stats.UnknownTypes))
	}
	fmt.Fprintln(w, t.Render())
}
