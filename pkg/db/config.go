package db

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Validate checks if the database configuration is valid
func (c *Config) Validate() error {
	switch c.DriverName() {
	case DriverMySQL:
	case DriverSQLite:
		if c.Database == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
		return nil
	default:
		return fmt.Errorf("unsupported database driver %q", c.Driver)
	}

	if c.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("database port must be between 1 and 65535, got %d", c.Port)
	}
	if c.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Username == "" {
		return fmt.Errorf("database username is required")
	}
	if c.MaxOpenConns < 1 {
		return fmt.Errorf("max_open_conns must be at least 1")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("max_idle_conns cannot be greater than max_open_conns")
	}

	// Validate TLS configuration if SSL is enabled
	if c.SSL.Enabled && !c.SSL.SkipVerify {
		if err := c.validateTLSFiles(); err != nil {
			return fmt.Errorf("TLS configuration error: %w", err)
		}
	}

	return nil
}

// validateTLSFiles validates that TLS certificate files exist and are readable
func (c *Config) validateTLSFiles() error {
	// Validate CA file if provided
	if c.SSL.CAFile != "" {
		if _, err := os.Stat(c.SSL.CAFile); err != nil {
			return fmt.Errorf("CA file not accessible: %w", err)
		}
	}

	// Validate client certificate files if provided
	if c.SSL.CertFile != "" || c.SSL.KeyFile != "" {
		// Both cert and key must be provided together
		if c.SSL.CertFile == "" || c.SSL.KeyFile == "" {
			return fmt.Errorf("both CertFile and KeyFile must be provided together")
		}

		if _, err := os.Stat(c.SSL.CertFile); err != nil {
			return fmt.Errorf("client certificate file not accessible: %w", err)
		}

		if _, err := os.Stat(c.SSL.KeyFile); err != nil {
			return fmt.Errorf("client key file not accessible: %w", err)
		}
	}

	return nil
}

// DriverName returns the configured driver, mysql when unset
func (c *Config) DriverName() string {
	if c.Driver == "" {
		return DriverMySQL
	}
	return strings.ToLower(c.Driver)
}

// SchemaName returns the schema catalog queries are scoped to
func (c *Config) SchemaName() string {
	if c.Schema != "" {
		return c.Schema
	}
	return c.Database
}

// GetDSN returns the Data Source Name for the configured driver
func (c *Config) GetDSN() string {
	if c.DriverName() == DriverSQLite {
		return c.sqliteDSN()
	}
	return c.mysqlDSN()
}

func (c *Config) sqliteDSN() string {
	if c.Database == ":memory:" {
		return "file::memory:?cache=shared&_foreign_keys=1"
	}
	if strings.Contains(c.Database, "?") {
		return c.Database
	}
	return c.Database + "?_foreign_keys=1"
}

// mysqlDSN uses the official MySQL driver config builder
func (c *Config) mysqlDSN() string {
	// Use the official MySQL driver config builder for safe DSN construction
	cfg := mysql.Config{
		User:                 c.Username,
		Passwd:               c.Password,
		Net:                  "tcp",
		Addr:                 fmt.Sprintf("%s:%d", c.Host, c.Port),
		DBName:               c.Database,
		Collation:            c.Collation,
		Loc:                  parseLocation(c.TimeZone),
		ParseTime:            true,
		AllowNativePasswords: true,
	}
	if c.Charset != "" {
		cfg.Params = map[string]string{"charset": c.Charset}
	}

	// Handle TLS configuration properly
	if c.SSL.Enabled {
		if c.SSL.SkipVerify {
			// Use skip-verify mode (not recommended for production)
			cfg.TLSConfig = "skip-verify"
		} else {
			// Build a TLS config and register it with the MySQL driver under a custom name
			tlsConfig := &tls.Config{
				InsecureSkipVerify: false,
				MinVersion:         tlsVersion(c.SSL.MinVersion),
			}

			// If a CA file is provided, load and validate it
			if c.SSL.CAFile != "" {
				caCert, err := os.ReadFile(c.SSL.CAFile)
				if err != nil {
					return fmt.Sprintf("mysql://%s@tcp(%s:%d)/%s?error=failed_to_read_ca_file",
						c.Username, c.Host, c.Port, c.Database)
				}
				pool := x509.NewCertPool()
				if !pool.AppendCertsFromPEM(caCert) {
					return fmt.Sprintf("mysql://%s@tcp(%s:%d)/%s?error=invalid_ca_certificate",
						c.Username, c.Host, c.Port, c.Database)
				}
				tlsConfig.RootCAs = pool
			}

			// If client cert/key provided, load them
			if c.SSL.CertFile != "" && c.SSL.KeyFile != "" {
				cert, err := tls.LoadX509KeyPair(c.SSL.CertFile, c.SSL.KeyFile)
				if err != nil {
					return fmt.Sprintf("mysql://%s@tcp(%s:%d)/%s?error=failed_to_load_client_cert",
						c.Username, c.Host, c.Port, c.Database)
				}
				tlsConfig.Certificates = []tls.Certificate{cert}
			}

			if c.SSL.ServerName != "" {
				tlsConfig.ServerName = c.SSL.ServerName
			}

			// Generate unique TLS config name based on config hash to prevent collisions
			// when multiple Config instances are used
			tlsName := c.generateTLSConfigName()
			// a failed registration leaves the previously registered config in place
			_ = mysql.RegisterTLSConfig(tlsName, tlsConfig)
			cfg.TLSConfig = tlsName
		}
	}

	return cfg.FormatDSN()
}

// generateTLSConfigName creates a unique name for TLS config registration
// based on the SSL configuration to prevent collisions between multiple Config instances
func (c *Config) generateTLSConfigName() string {
	// Create a hash of the SSL configuration to ensure uniqueness
	h := sha256.New()
	h.Write([]byte(c.SSL.CAFile))
	h.Write([]byte(c.SSL.CertFile))
	h.Write([]byte(c.SSL.KeyFile))
	h.Write([]byte(c.SSL.ServerName))
	hash := hex.EncodeToString(h.Sum(nil))[:16] // Use first 16 chars of hash
	return fmt.Sprintf("entity4go_tls_%s", hash)
}

func tlsVersion(v string) uint16 {
	switch strings.ToUpper(strings.ReplaceAll(v, "v", "")) {
	case "TLS1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}

// parseLocation parses timezone string to *time.Location
func parseLocation(tz string) *time.Location {
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		// Fallback to UTC if timezone parsing fails
		loc, _ = time.LoadLocation("UTC")
	}
	return loc
}
