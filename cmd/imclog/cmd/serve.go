/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/LSTS/neptus-sub053/pkg/api"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve [log]...",
	Short: "Serve logs over HTTP",
	Long: `Start the HTTP API. Logs opened in earlier runs are reopened, and any logs
given as arguments are opened before the server starts.

Open logs are re-checked every --refresh for appended frames, so a log being
recorded by "imclog listen" can be queried while it grows.

Examples:
  imclog serve --port 8080
  imclog serve ./capture --refresh 2s`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logs, err := container.LogService()
		if err != nil {
			return err
		}
		logger := container.Logger()

		restored, err := logs.Restore()
		if err != nil {
			return err
		}
		if restored > 0 {
			logger.Info("reopened logs", "count", restored)
		}
		for _, path := range args {
			if _, err := logs.Open(path); err != nil {
				return err
			}
		}

		cfg := container.Config()
		refresh, _ := cmd.Flags().GetDuration("refresh")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return api.StartServer(gctx, logs, api.ServerConfig{
				Port:   cfg.Port,
				Bind:   cfg.Bind,
				APIKey: cfg.Security.APIKey,
				Logger: logger,
			})
		})
		if refresh > 0 {
			g.Go(func() error {
				refreshLogs(gctx, logs, refresh)
				return nil
			})
		}
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 0, "port to listen on (default from config, 8080)")
	serveCmd.Flags().String("bind", "", "address to bind (default from config, 127.0.0.1)")
	serveCmd.Flags().Duration("refresh", 5*time.Second, "how often to index frames appended to open logs, 0 to disable")
	mustBindPFlag("port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("bind", serveCmd.Flags().Lookup("bind"))
}

func refreshLogs(ctx context.Context, logs *api.LogService, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := logs.Refresh()
			if err != nil {
				container.Logger().Warn("refreshing logs", "error", err)
			}
			if n > 0 {
				container.Logger().Debug("indexed appended frames", "messages", n)
			}
		}
	}
}
