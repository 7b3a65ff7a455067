package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the imclog configuration
type Config struct {
	// DataDir holds the pebble store for log handles and index snapshots.
	DataDir string `yaml:"data_dir"`
	Port    int    `yaml:"port"`
	Bind    string `yaml:"bind"`
	// Schema is an IMC.xml used for every log. When empty each log's own
	// IMC.xml is loaded.
	Schema   string            `yaml:"schema,omitempty"`
	Security Security          `yaml:"security"`
	Logging  Logging           `yaml:"logging"`
	Index    Index             `yaml:"index"`
	Listen   Listen            `yaml:"listen"`
	Systems  map[uint16]string `yaml:"systems,omitempty"`
}

// Security contains security-related configuration
type Security struct {
	// APIKey protects the HTTP API; empty leaves it open.
	APIKey string `yaml:"api_key"`
}

// Logging contains logging configuration
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Index contains log indexing configuration
type Index struct {
	// Snapshots keeps built indexes in DataDir and reuses them when the log
	// file is unchanged.
	Snapshots bool `yaml:"snapshots"`
	// Workers bounds parallel decoding in bulk fetches.
	Workers int `yaml:"workers"`
}

// Listen contains live capture configuration
type Listen struct {
	Addr        string        `yaml:"addr"`
	PeerTimeout time.Duration `yaml:"peer_timeout"`
	MaxPayload  int           `yaml:"max_payload"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",
		Port:    8080,
		Bind:    "127.0.0.1",
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
		Index: Index{
			Snapshots: true,
			Workers:   4,
		},
		Listen: Listen{
			Addr:        "0.0.0.0:6002",
			PeerTimeout: time.Minute,
			MaxPayload:  65535,
		},
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format: %q (expected text, json)", c.Logging.Format))
	}
	if c.Index.Workers < 0 {
		errs = append(errs, fmt.Errorf("index.workers must not be negative, got %d", c.Index.Workers))
	}
	if c.Listen.PeerTimeout < 0 {
		errs = append(errs, fmt.Errorf("listen.peer_timeout must not be negative, got %s", c.Listen.PeerTimeout))
	}
	if c.Listen.MaxPayload < 0 || c.Listen.MaxPayload > 65535 {
		errs = append(errs, fmt.Errorf("listen.max_payload %d out of range", c.Listen.MaxPayload))
	}
	return errors.Join(errs...)
}

// LoadConfig loads configuration from the specified path. Settings missing
// from the file keep their defaults.
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configPath)
	}

	if !filepath.IsAbs(configPath) {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}
		configPath = absPath
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveConfig saves the configuration to the specified path with secure permissions
func SaveConfig(config *Config, configPath string) error {
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the file carries the API key.
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GenerateSecureKey generates a cryptographically secure random key
func GenerateSecureKey(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate secure key: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// BootstrapConfig writes a default configuration with a generated API key.
func BootstrapConfig(configPath string, dataDir string) (*Config, error) {
	config := DefaultConfig()
	if dataDir != "" {
		config.DataDir = dataDir
	}

	apiKey, err := GenerateSecureKey(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate API key: %w", err)
	}
	config.Security.APIKey = apiKey

	if err := SaveConfig(config, configPath); err != nil {
		return nil, fmt.Errorf("failed to save bootstrap config: %w", err)
	}

	return config, nil
}

// GetDefaultConfigPath returns the default configuration path for the current platform
func GetDefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./imclog.yaml"
	}
	return filepath.Join(homeDir, ".config", "imclog", "config.yaml")
}

// ConfigExists checks if a configuration file exists
func ConfigExists(configPath string) bool {
	_, err := os.Stat(configPath)
	return !os.IsNotExist(err)
}
