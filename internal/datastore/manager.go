// Package datastore opens the relational store and owns schema migration.
package datastore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/originsmart/facility-monitor/internal/conf"
	"github.com/originsmart/facility-monitor/internal/datastore/entities"
	"github.com/originsmart/facility-monitor/internal/errors"
)

// Manager holds the database handle for the configured dialect.
type Manager struct {
	db      *gorm.DB
	isMySQL bool
}

// Config selects and tunes the database connection.
type Config struct {
	// Path is the SQLite file. Ignored for MySQL.
	Path string
	// DSN is the MySQL data source name. Ignored for SQLite.
	DSN          string
	MaxOpenConns int
	Debug        bool
}

// ConfigFromSettings maps database settings into a Config.
func ConfigFromSettings(s conf.DatabaseSettings) Config {
	return Config{Path: s.Path, DSN: s.DSN, MaxOpenConns: s.MaxOpenConns, Debug: s.Debug}
}

// Open creates a manager for the dialect named in settings.
func Open(s conf.DatabaseSettings) (*Manager, error) {
	cfg := ConfigFromSettings(s)
	switch s.Type {
	case "mysql":
		return NewMySQLManager(cfg)
	case "sqlite", "":
		return NewSQLiteManager(cfg)
	default:
		return nil, errors.Newf("unsupported database type %q", s.Type).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// NewSQLiteManager opens (creating if needed) a SQLite database. SQLite allows
// a single writer, so the pool is limited to one connection.
func NewSQLiteManager(cfg Config) (*Manager, error) {
	if cfg.Path == "" {
		cfg.Path = "monitor.db"
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=ON&_busy_timeout=5000&_journal_mode=WAL", cfg.Path)
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(cfg))
	if err != nil {
		return nil, wrapOpenError(err, "sqlite")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, wrapOpenError(err, "sqlite")
	}
	sqlDB.SetMaxOpenConns(1)
	return &Manager{db: db}, nil
}

// NewMySQLManager connects to MySQL using cfg.DSN.
func NewMySQLManager(cfg Config) (*Manager, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN), gormConfig(cfg))
	if err != nil {
		return nil, wrapOpenError(err, "mysql")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, wrapOpenError(err, "mysql")
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(max(cfg.MaxOpenConns/2, 1))
	}
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	return &Manager{db: db, isMySQL: true}, nil
}

// NewManagerFromDB wraps an already opened handle, used by tests.
func NewManagerFromDB(db *gorm.DB, isMySQL bool) *Manager {
	return &Manager{db: db, isMySQL: isMySQL}
}

// Initialize migrates every table the service owns.
func (m *Manager) Initialize() error {
	if err := m.db.AutoMigrate(Models()...); err != nil {
		return errors.New(fmt.Errorf("failed to migrate schema: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return nil
}

// Models lists the migrated entities in dependency order.
func Models() []any {
	return []any{
		&entities.Device{},
		&entities.Alert{},
		&entities.AlertLog{},
		&entities.TelemetryEvent{},
	}
}

// DB returns the gorm handle.
func (m *Manager) DB() *gorm.DB {
	return m.db
}

// IsMySQL reports the dialect.
func (m *Manager) IsMySQL() bool {
	return m.isMySQL
}

// Close releases the connection pool.
func (m *Manager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func gormConfig(cfg Config) *gorm.Config {
	level := gorm_logger.Silent
	if cfg.Debug {
		level = gorm_logger.Info
	}
	return &gorm.Config{
		Logger:  gorm_logger.Default.LogMode(level),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
}

func wrapOpenError(err error, dialect string) error {
	return errors.New(fmt.Errorf("failed to open %s database: %w", dialect, err)).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("dialect", dialect).
		Build()
}
