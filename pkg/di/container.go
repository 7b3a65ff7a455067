// Package di builds the long-lived components shared by the imclog
// commands from one configuration.
package di

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/LSTS/neptus-sub053/pkg/api"
	"github.com/LSTS/neptus-sub053/pkg/config"
	"github.com/LSTS/neptus-sub053/pkg/index"
	"github.com/LSTS/neptus-sub053/pkg/resolver"
	"github.com/LSTS/neptus-sub053/pkg/schema"
	"github.com/LSTS/neptus-sub053/pkg/storage"
)

// Container holds all the dependencies for the application. Components are
// created on first use and released by Close.
type Container struct {
	config *config.Config
	logger *slog.Logger

	mu       sync.Mutex
	registry *schema.Registry
	resolver *resolver.Resolver
	storage  *storage.DefaultStorage
	logs     *api.LogService
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *config.Config, logger *slog.Logger) *Container {
	if logger == nil {
		logger = slog.Default()
	}
	return &Container{config: cfg, logger: logger}
}

func (c *Container) Config() *config.Config {
	return c.config
}

func (c *Container) Logger() *slog.Logger {
	return c.logger
}

// Registry loads the configured schema. It returns nil without error when
// no schema is configured, leaving each log to supply its own.
func (c *Container) Registry() (*schema.Registry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registryLocked()
}

func (c *Container) registryLocked() (*schema.Registry, error) {
	if c.registry != nil || c.config.Schema == "" {
		return c.registry, nil
	}
	reg, err := schema.LoadFile(c.config.Schema)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("schema loaded", "path", c.config.Schema, "version", reg.Version(), "messages", reg.Len())
	c.registry = reg
	return reg, nil
}

// Resolver returns the shared name table, seeded from the configured
// systems.
func (c *Container) Resolver() *resolver.Resolver {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolverLocked()
}

func (c *Container) resolverLocked() *resolver.Resolver {
	if c.resolver == nil {
		c.resolver = resolver.New(resolver.Config{Logger: c.logger})
		c.resolver.Seed(c.config.Systems)
	}
	return c.resolver
}

// Storage opens the pebble store under the data directory.
func (c *Container) Storage() (*storage.DefaultStorage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.storageLocked()
}

func (c *Container) storageLocked() (*storage.DefaultStorage, error) {
	if c.storage != nil {
		return c.storage, nil
	}
	if err := os.MkdirAll(c.config.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	st, err := storage.NewDefaultStorage(filepath.Join(c.config.DataDir, "store"))
	if err != nil {
		return nil, err
	}
	c.storage = st
	return st, nil
}

// IndexConfig returns the settings Build should use for one-off indexing.
func (c *Container) IndexConfig() (index.Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reg, err := c.registryLocked()
	if err != nil {
		return index.Config{}, err
	}
	ic := index.Config{Registry: reg, Resolver: c.resolverLocked(), Logger: c.logger}
	if c.config.Index.Snapshots {
		if ic.Cache, err = c.storageLocked(); err != nil {
			return index.Config{}, err
		}
	}
	return ic, nil
}

// LogService returns the service behind the HTTP API.
func (c *Container) LogService() (*api.LogService, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.logs != nil {
		return c.logs, nil
	}

	reg, err := c.registryLocked()
	if err != nil {
		return nil, err
	}
	st, err := c.storageLocked()
	if err != nil {
		return nil, err
	}
	c.logs = api.NewLogService(api.LogServiceConfig{
		Storage:   st,
		Snapshots: c.config.Index.Snapshots,
		Registry:  reg,
		Resolver:  c.resolverLocked(),
		Logger:    c.logger,
	})
	return c.logs, nil
}

// Close releases the log service and the store.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if c.logs != nil {
		errs = append(errs, c.logs.Shutdown())
		c.logs = nil
	}
	if c.storage != nil {
		errs = append(errs, c.storage.Close())
		c.storage = nil
	}
	return errors.Join(errs...)
}
