package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/asaidimu/go-jsondb/core/jsondb"
	"github.com/asaidimu/go-jsondb/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidDrivers lists the database/sql driver names the store is tested with.
var ValidDrivers = []string{"sqlite3", "sqlite"}

// Config holds the jsondb tool configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Indexes   []jsondb.Index  `yaml:"indexes"`
	Migration MigrationConfig `yaml:"migration"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DatabaseConfig configures the backing SQLite database.
type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // sqlite3 (cgo) or sqlite (pure Go)
	DSN          string `yaml:"dsn"`
	TablePrefix  string `yaml:"table_prefix"`
	DropIfExists bool   `yaml:"drop_if_exists"`
}

// MigrationConfig configures the migration runner.
type MigrationConfig struct {
	// TargetVersion stops migrations at this version. Zero means latest.
	TargetVersion int `yaml:"target_version"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: "sqlite3",
			DSN:    "jsondb.db",
		},
		Indexes: []jsondb.Index{
			{Path: "/environments", Field: "name"},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML configuration at path over the defaults. A missing
// file yields the defaults. JSONDB_DRIVER and JSONDB_DSN override the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("JSONDB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("JSONDB_DSN"); v != "" {
		c.Database.DSN = v
	}
}

// Save writes the configuration as YAML, creating the parent directory.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks the configuration for values the store cannot work with.
func (c *Config) Validate() error {
	validDriver := false
	for _, d := range ValidDrivers {
		if c.Database.Driver == d {
			validDriver = true
			break
		}
	}
	if !validDriver {
		return fmt.Errorf("%w: unknown database driver %q (valid: %v)", ErrInvalidConfig, c.Database.Driver, ValidDrivers)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("%w: database dsn is empty", ErrInvalidConfig)
	}
	for _, idx := range c.Indexes {
		if idx.Path == "" || idx.Field == "" {
			return fmt.Errorf("%w: index needs both path and field", ErrInvalidConfig)
		}
		if _, err := jsondb.ToDBPath(idx.Path); err != nil {
			return fmt.Errorf("%w: index path %q: %v", ErrInvalidConfig, idx.Path, err)
		}
		if _, err := jsondb.ValidateKey(idx.Field); err != nil {
			return fmt.Errorf("%w: index field %q: %v", ErrInvalidConfig, idx.Field, err)
		}
	}
	if c.Migration.TargetVersion < 0 {
		return fmt.Errorf("%w: negative migration target version", ErrInvalidConfig)
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: logging level: %v", ErrInvalidConfig, err)
	}
	return nil
}

// StoreOptions returns the store options described by the configuration.
func (c *Config) StoreOptions() *sqlite.StoreOptions {
	options := sqlite.DefaultStoreOptions()
	options.TablePrefix = c.Database.TablePrefix
	options.DropIfExists = c.Database.DropIfExists
	options.Indexes = append([]jsondb.Index(nil), c.Indexes...)
	return options
}

// NewLogger builds the zap logger described by the configuration.
func (c *Config) NewLogger() (*zap.Logger, error) {
	var zc zap.Config
	if c.Logging.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	level, err := zapcore.ParseLevel(strings.ToLower(c.Logging.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid logging level: %w", err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
