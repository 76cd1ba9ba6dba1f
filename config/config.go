// Package config loads the node configuration from TOML.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap/zapcore"

	"github.com/asaidimu/go-muninn/core/blob"
	"github.com/asaidimu/go-muninn/sqlite"
	"github.com/asaidimu/go-muninn/store"
)

// Config is the node configuration.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Blobs    BlobConfig     `toml:"blobs"`
	Log      LogConfig      `toml:"log"`
}

// DatabaseConfig locates and bounds the backing database.
type DatabaseConfig struct {
	URL            string `toml:"url"`
	MaxConnections int    `toml:"max_connections"`
}

// BlobConfig bounds blob assembly and publishing.
type BlobConfig struct {
	MaxPieces   int `toml:"max_pieces"`
	PieceLength int `toml:"piece_length"`
}

// LogConfig selects the log level.
type LogConfig struct {
	Level string `toml:"level"`
}

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			URL:            "sqlite:data/muninn.db",
			MaxConnections: sqlite.DefaultMaxConnections,
		},
		Blobs: BlobConfig{
			MaxPieces:   blob.MaxPieces,
			PieceLength: blob.DefaultPieceLength,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a TOML configuration file over the defaults. An empty path or a
// missing file yields the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks bounds and the log level name.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url must not be empty")
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database.max_connections must be positive")
	}
	if c.Blobs.MaxPieces <= 0 {
		return fmt.Errorf("blobs.max_pieces must be positive")
	}
	if c.Blobs.PieceLength <= 0 {
		return fmt.Errorf("blobs.piece_length must be positive")
	}
	if _, err := c.ZapLevel(); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// ZapLevel parses the configured log level.
func (c *Config) ZapLevel() (zapcore.Level, error) {
	return zapcore.ParseLevel(c.Log.Level)
}

// PoolConfig bridges the database section into the pool's configuration.
func (c *Config) PoolConfig() sqlite.Config {
	return sqlite.Config{
		URL:            c.Database.URL,
		MaxConnections: c.Database.MaxConnections,
	}
}

// StoreOptions bridges the blob section into the store's options.
func (c *Config) StoreOptions() *store.Options {
	return &store.Options{BlobMaxPieces: c.Blobs.MaxPieces}
}
