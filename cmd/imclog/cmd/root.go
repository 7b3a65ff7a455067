/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/LSTS/neptus-sub053/pkg/config"
	"github.com/LSTS/neptus-sub053/pkg/di"
)

var (
	cfgFile   string
	container *di.Container
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "imclog",
	Short: "Index, query and capture IMC message logs",
	Long: `imclog works with logs of IMC (Inter-Module Communication) messages as
recorded by underwater and aerial vehicles: Data.lsf files with their IMC.xml
schema, plain or gzip-compressed.

It indexes logs for time-ordered random access, dumps and queries messages,
records live UDP or TCP traffic to new logs, extracts frames from packet
captures and serves opened logs over HTTP.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := cfg.Logging.NewLogger(os.Stderr)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		container = di.NewContainer(cfg, logger)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if container == nil {
			return nil
		}
		return container.Close()
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ~/.config/imclog/config.yaml)")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("log-format", "", "log format: text, json")
	pf.StringP("data-dir", "d", "", "directory for log handles and index snapshots")
	pf.String("schema", "", "IMC.xml to decode every log with, instead of each log's own")
	pf.Bool("no-snapshots", false, "always rescan logs instead of reusing stored indexes")

	mustBindPFlag("logging.level", pf.Lookup("log-level"))
	mustBindPFlag("logging.format", pf.Lookup("log-format"))
	mustBindPFlag("data_dir", pf.Lookup("data-dir"))
	mustBindPFlag("schema", pf.Lookup("schema"))
	mustBindPFlag("no_snapshots", pf.Lookup("no-snapshots"))

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(namesCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(importPcapCmd)
	rootCmd.AddCommand(serveCmd)
}

func initConfig() {
	viper.SetEnvPrefix("IMCLOG")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.GetDefaultConfigPath()
}

// loadConfig reads the config file when there is one and applies flag and
// IMCLOG_* environment overrides on top.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	path := configPath()
	switch {
	case config.ConfigExists(path):
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	case cfgFile != "":
		return nil, fmt.Errorf("config file does not exist: %s", cfgFile)
	}

	overrideString("logging.level", &cfg.Logging.Level)
	overrideString("logging.format", &cfg.Logging.Format)
	overrideString("data_dir", &cfg.DataDir)
	overrideString("schema", &cfg.Schema)
	overrideString("bind", &cfg.Bind)
	overrideString("security.api_key", &cfg.Security.APIKey)
	overrideString("listen.addr", &cfg.Listen.Addr)
	if viper.IsSet("port") {
		cfg.Port = viper.GetInt("port")
	}
	if viper.GetBool("no_snapshots") {
		cfg.Index.Snapshots = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func overrideString(key string, dst *string) {
	if viper.IsSet(key) {
		if v := viper.GetString(key); v != "" {
			*dst = v
		}
	}
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("viper.BindPFlag(%q): %v", key, err))
	}
}
