// Package entity4go maps relational rows to entities with a shared identity
// map, relationship inference from foreign key metadata and eager traversal.
package entity4go

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ammar0144/entity4go/pkg/config"
	"github.com/ammar0144/entity4go/pkg/db"
	"github.com/ammar0144/entity4go/pkg/entity"
	"github.com/ammar0144/entity4go/pkg/identity"
	"github.com/ammar0144/entity4go/pkg/mapping"
	"github.com/ammar0144/entity4go/pkg/metrics"
	"github.com/ammar0144/entity4go/pkg/redis"
	"github.com/ammar0144/entity4go/pkg/repository"
	"github.com/ammar0144/entity4go/pkg/schema"
)

// Config represents the complete configuration
type Config = config.Config

// Entity is implemented by domain structs embedding Base
type Entity = entity.Entity

// Base carries the state of an entity
type Base = entity.Base

// Type describes an entity type
type Type = entity.Type

// Registry holds the entity types of a data source
type Registry = entity.Registry

// DependentConfig declares a dependent relationship
type DependentConfig = entity.DependentConfig

// Repository is the entity access interface
type Repository = repository.Repository

// LoadConfig reads configuration from path, the environment and defaults
func LoadConfig(path string) (*Config, error) {
	return config.Load(path, nil)
}

// NewRegistry creates an empty type registry
func NewRegistry() *Registry {
	return entity.NewRegistry()
}

// NewType starts the descriptor of an entity type
func NewType(name string, factory func() Entity) *Type {
	return entity.NewType(name, factory)
}

// Client is a data source bound to its own connection and cache tiers
type Client struct {
	*repository.DataSource

	config    *Config
	manager   *db.Manager
	closers   []func() error
	logger    *zap.Logger
	idStats   *metrics.Metrics
	metaStats *metrics.Metrics
}

// Open connects to the configured database and builds a data source for the
// types in registry. A nil registry opens a client usable for metadata only.
func Open(cfg *Config, registry *Registry) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config cannot be nil", entity.ErrConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrConfiguration, err)
	}
	if registry == nil {
		registry = entity.NewRegistry()
	}

	logger, err := cfg.Log.NewLogger()
	if err != nil {
		return nil, err
	}

	manager, err := db.NewManager(&cfg.Database)
	if err != nil {
		return nil, err
	}
	c := &Client{
		config:    cfg,
		manager:   manager,
		logger:    logger,
		idStats:   metrics.New(),
		metaStats: metrics.New(),
	}
	c.closers = append(c.closers, manager.Close)

	store, err := c.openStore()
	if err != nil {
		c.Close()
		return nil, err
	}

	executor := db.NewExecutor(manager)
	cacheOpts := []schema.Option{schema.WithLogger(logger), schema.WithMetrics(c.metaStats)}
	if store != nil {
		cacheOpts = append(cacheOpts, schema.WithStore(store))
	}
	cache := schema.NewCache(executor, schema.FingerprintOf(&cfg.Database), cacheOpts...)

	idmap := identity.New(identity.WithLogger(logger), identity.WithMetrics(c.idStats))
	if !cfg.Cache.IdentityMap {
		idmap.Disable()
	}

	c.DataSource, err = repository.New(registry, executor,
		repository.WithLogger(logger),
		repository.WithIdentityMap(idmap),
		repository.WithSchemaCache(cache),
		repository.WithMapper(mapping.New(cfg.Cache.MappingPrefix)),
	)
	if err != nil {
		c.Close()
		return nil, err
	}

	logger.Info("entity4go client opened",
		zap.String("driver", cfg.Database.DriverName()),
		zap.String("metadata", cfg.Cache.Metadata),
		zap.String("fingerprint", cache.Fingerprint()))
	return c, nil
}

// openStore opens the persistent metadata tier
func (c *Client) openStore() (schema.PersistentStore, error) {
	switch c.config.Cache.Metadata {
	case config.MetadataMemory:
		return schema.NewMemoryStore(), nil
	case config.MetadataRedis:
		m, err := redis.NewManager(&c.config.Redis)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, m.Close)
		timeout := c.config.Redis.DialTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := m.Ping(ctx); err != nil {
			if redis.IsConnectionFailed(err) {
				c.logger.Error("metadata redis unreachable", zap.String("addr", c.config.Redis.GetAddr()), zap.Error(err))
			}
			return nil, err
		}
		return m, nil
	case config.MetadataBolt:
		s, err := schema.NewBoltStore(&c.config.Cache.Bolt)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, s.Close)
		return s, nil
	default:
		return nil, nil
	}
}

// Manager returns the database manager
func (c *Client) Manager() *db.Manager { return c.manager }

// Logger returns the client logger
func (c *Client) Logger() *zap.Logger { return c.logger }

// Stats returns the identity map and metadata cache counters
func (c *Client) Stats() (identityStats, metadataStats metrics.Snapshot) {
	return c.idStats.Snapshot(), c.metaStats.Snapshot()
}

// FlushMetadata drops the cached metadata of the connected database and
// restarts the metadata counters
func (c *Client) FlushMetadata(ctx context.Context) error {
	if c.DataSource == nil {
		return nil
	}
	if err := c.Schema().Flush(ctx); err != nil {
		return err
	}
	c.metaStats.Reset()
	return nil
}

// Close releases the cache tiers and the connection, last opened first
func (c *Client) Close() error {
	var first error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	c.closers = nil
	_ = c.logger.Sync()
	return first
}
