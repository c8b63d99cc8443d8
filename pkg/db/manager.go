package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewManager creates a new database manager instance with full configuration
func NewManager(config *Config) (*Manager, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var dialector gorm.Dialector
	switch config.DriverName() {
	case DriverSQLite:
		dialector = sqlite.Open(config.GetDSN())
	default:
		dialector = mysql.Open(config.GetDSN())
	}

	db, err := gorm.Open(dialector, gormConfig(config))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	maxOpen, maxIdle := config.MaxOpenConns, config.MaxIdleConns
	if config.DriverName() == DriverSQLite && maxOpen == 0 {
		// a shared in-memory database lives as long as one connection does
		maxOpen, maxIdle = 1, 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	return &Manager{
		config: config,
		db:     db,
	}, nil
}

// NewManagerWithDialector opens a manager over an existing dialector, such as
// one wrapping an already open *sql.DB. Pool settings are left to the caller.
func NewManagerWithDialector(config *Config, dialector gorm.Dialector) (*Manager, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	db, err := gorm.Open(dialector, gormConfig(config))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Manager{
		config: config,
		db:     db,
	}, nil
}

func gormConfig(config *Config) *gorm.Config {
	slow := config.Logging.SlowQueryThreshold
	if slow == 0 {
		slow = 200 * time.Millisecond
	}
	return &gorm.Config{
		SkipDefaultTransaction:                   config.SkipDefaultTransaction,
		DisableForeignKeyConstraintWhenMigrating: config.DisableForeignKeyConstraintWhenMigrating,
		PrepareStmt:                              config.PrepareStmt,
		Logger: logger.New(log.New(os.Stdout, "\r\n", log.LstdFlags), logger.Config{
			SlowThreshold:             slow,
			LogLevel:                  getLogLevel(config.Logging.Level),
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      !config.Logging.LogQueryParameters,
		}),
	}
}

// DB returns the GORM database instance
func (m *Manager) DB() *gorm.DB {
	return m.db
}

// SqlDB returns the underlying sql.DB instance
func (m *Manager) SqlDB() (*sql.DB, error) {
	return m.db.DB()
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		sqlDB, err := m.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// Config returns the manager's configuration
func (m *Manager) Config() *Config {
	return m.config
}

// Ping tests the database connection
func (m *Manager) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Stats returns database connection statistics
func (m *Manager) Stats() (sql.DBStats, error) {
	sqlDB, err := m.db.DB()
	if err != nil {
		return sql.DBStats{}, err
	}
	return sqlDB.Stats(), nil
}

func getLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "info":
		return logger.Info
	case "warn":
		return logger.Warn
	case "error":
		return logger.Error
	case "silent":
		return logger.Silent
	default:
		return logger.Error // Default to error
	}
}
