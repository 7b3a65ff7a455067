/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/LSTS/neptus-sub053/pkg/config"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration with a generated API key",
	Long: `Write a configuration file with default settings and a freshly generated
API key for the HTTP server.

This command will:
- Create the config directory
- Generate a 256-bit API key
- Write the config file with 0600 permissions

Examples:
  imclog init
  imclog init --config ./imclog.yaml --data-dir /var/lib/imclog --force`,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		return runInit(cmd.OutOrStdout(), configPath(), container.Config().DataDir, force)
	},
}

func init() {
	initCmd.Flags().Bool("force", false, "overwrite an existing config file")
}

func runInit(w io.Writer, path, dataDir string, force bool) error {
	if config.ConfigExists(path) && !force {
		fmt.Fprintf(w, "Config already exists at %s. Use --force to overwrite it.\n", path)
		return nil
	}

	cfg, err := config.BootstrapConfig(path, dataDir)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Wrote %s\n", path)
	fmt.Fprintf(w, "Data directory: %s\n", cfg.DataDir)
	fmt.Fprintf(w, "API key: %s\n", cfg.Security.APIKey)
	fmt.Fprintln(w, "Send it as the X-API-Key header to reach /api/v1.")
	return nil
}
