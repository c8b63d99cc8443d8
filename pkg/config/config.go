// Package config loads the settings of an entity4go data source from YAML,
// environment variables and command line flags.
package config

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ammar0144/entity4go/pkg/db"
	"github.com/ammar0144/entity4go/pkg/redis"
	"github.com/ammar0144/entity4go/pkg/schema"
)

// Metadata backends of the persistent schema tier
const (
	MetadataNone   = "none"
	MetadataMemory = "memory"
	MetadataRedis  = "redis"
	MetadataBolt   = "bolt"
)

// Config is the complete configuration of a data source
type Config struct {
	Database db.Config    `json:"database" yaml:"database"`
	Redis    redis.Config `json:"redis" yaml:"redis"`
	Cache    CacheConfig  `json:"cache" yaml:"cache"`
	Log      LogConfig    `json:"log" yaml:"log"`
}

// CacheConfig selects the caching tiers
type CacheConfig struct {
	// Metadata is the persistent schema tier: none, memory, redis or bolt.
	// With none, metadata is introspected on every use.
	Metadata string `json:"metadata" yaml:"metadata"`

	Bolt schema.BoltStoreOptions `json:"bolt" yaml:"bolt"`

	// IdentityMap turns the process-local entity cache on
	IdentityMap bool `json:"identity_map" yaml:"identity_map"`

	// MappingPrefix is the namespace prefix tried by the property mapper
	MappingPrefix string `json:"mapping_prefix" yaml:"mapping_prefix"`
}

// LogConfig configures the zap logger handed to every component
type LogConfig struct {
	// Level is a zap level name; "none" disables logging
	Level       string `json:"level" yaml:"level"`
	Development bool   `json:"development" yaml:"development"`
}

// Validate checks the configuration of every enabled tier
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	switch c.Cache.Metadata {
	case MetadataNone, MetadataMemory:
	case MetadataRedis:
		if !c.Redis.Enabled {
			return fmt.Errorf("cache: redis metadata backend requires redis.enabled")
		}
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	case MetadataBolt:
		if c.Cache.Bolt.Path == "" {
			return fmt.Errorf("cache: bolt metadata backend requires cache.bolt.path")
		}
	default:
		return fmt.Errorf("cache: unknown metadata backend %q", c.Cache.Metadata)
	}
	return nil
}

// NewLogger builds the logger described by c
func (c LogConfig) NewLogger() (*zap.Logger, error) {
	if c.Level == "" || c.Level == "none" {
		return zap.NewNop(), nil
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return nil, fmt.Errorf("log: %w", err)
	}

	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
