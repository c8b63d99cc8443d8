package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes environment overrides. A double underscore separates
// nesting levels: ENTITY4GO_DATABASE__MAX_OPEN_CONNS sets database.max_open_conns.
const EnvPrefix = "ENTITY4GO_"

// FileName is the config file looked up in the working directory
const FileName = "entity4go.yaml"

// flagKeys maps command line flags to config keys
var flagKeys = map[string]string{
	"driver":   "database.driver",
	"host":     "database.host",
	"port":     "database.port",
	"database": "database.database",
	"user":     "database.username",
	"password": "database.password",
	"schema":   "database.schema",
	"metadata": "cache.metadata",
	"log":      "log.level",
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"database.driver":             "mysql",
		"database.host":               "localhost",
		"database.port":               3306,
		"database.charset":            "utf8mb4",
		"database.collation":          "utf8mb4_unicode_ci",
		"database.timezone":           "UTC",
		"database.max_open_conns":     25,
		"database.max_idle_conns":     5,
		"database.conn_max_lifetime":  "5m",
		"database.conn_max_idle_time": "5m",
		"database.logging.level":      "error",

		"redis.enabled":               false,
		"redis.key_prefix":            "entity4go:meta",
		"redis.default_ttl":           "24h",
		"redis.host":                  "localhost",
		"redis.port":                  6379,
		"redis.pool_size":             10,
		"redis.min_idle_conns":        3,
		"redis.max_conn_age":          "1h",
		"redis.pool_timeout":          "4s",
		"redis.idle_timeout":          "5m",
		"redis.read_timeout":          "3s",
		"redis.write_timeout":         "3s",
		"redis.dial_timeout":          "5s",
		"redis.compression.enabled":   true,
		"redis.compression.threshold": 16 * 1024,

		"cache.metadata":     MetadataMemory,
		"cache.identity_map": true,
		"cache.bolt.bucket":  "metadata",
		"cache.bolt.timeout": time.Second.String(),

		"log.level": "none",
	}
}

// Load reads the configuration. Precedence, highest first: flags that were
// set, environment variables, the config file, defaults. An empty path falls
// back to entity4go.yaml when it exists.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		if _, err := os.Stat(FileName); err == nil {
			path = FileName
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey turns ENTITY4GO_REDIS__KEY_PREFIX into redis.key_prefix
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// RegisterFlags adds the flags Load understands to fs
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("driver", "", "database driver (mysql or sqlite)")
	fs.String("host", "", "database host")
	fs.Int("port", 0, "database port")
	fs.String("database", "", "database name, or file path for sqlite")
	fs.String("user", "", "database user")
	fs.String("password", "", "database password")
	fs.String("schema", "", "schema used for catalog queries")
	fs.String("metadata", "", "metadata backend: none, memory, redis or bolt")
	fs.String("log", "", "log level")
}
