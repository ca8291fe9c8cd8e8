// Package config loads and validates the service configuration from a
// YAML file plus environment overrides.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stylora/retrieval/api"
	"github.com/stylora/retrieval/cache"
	"github.com/stylora/retrieval/core"
	"github.com/stylora/retrieval/encoder"
	"github.com/stylora/retrieval/engine"
	"github.com/stylora/retrieval/index"
	"github.com/stylora/retrieval/persistence"
)

// Config is the complete service configuration.
type Config struct {
	Server api.ServerConfig `yaml:"server" json:"server"`

	Index IndexConfig `yaml:"index" json:"index"`

	Persistence persistence.Config `yaml:"persistence" json:"persistence"`

	Store StoreConfig `yaml:"store" json:"store"`

	Cache CacheConfig `yaml:"cache" json:"cache"`

	Encoder encoder.Config `yaml:"encoder" json:"encoder"`

	Engine engine.Config `yaml:"engine" json:"engine"`

	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// IndexConfig drives the index manager lifecycle.
type IndexConfig struct {
	Dimension       int           `yaml:"dimension" json:"dimension"`
	Kind            string        `yaml:"kind" json:"kind"`
	RebuildInterval time.Duration `yaml:"rebuild_interval" json:"rebuild_interval"`
	SourceVersion   string        `yaml:"source_version" json:"source_version"`
}

// ToManagerConfig converts to the index manager's configuration.
func (c IndexConfig) ToManagerConfig() index.ManagerConfig {
	return index.ManagerConfig{
		Dimension:       c.Dimension,
		EmbeddingKind:   core.EmbeddingKind(c.Kind),
		RebuildInterval: c.RebuildInterval,
		SourceVersion:   c.SourceVersion,
	}
}

// StoreConfig locates the catalog and interaction database.
type StoreConfig struct {
	Path string `yaml:"path" json:"path"`
}

// CacheConfig selects and locates the embedding cache backend.
type CacheConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Backend: "redis" or "memory".
	Backend  string `yaml:"backend" json:"backend"`
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`

	TTL cache.TTLConfig `yaml:"ttl" json:"ttl"`
}

// LoggingConfig controls the zerolog output.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // "json" or "console"
}

// LoadConfig loads configuration with the following precedence:
// environment variables, then the configuration file, then defaults.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath == "" {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			configPath = filepath.Join(homeDir, ".retrieval.yml")
		}
	}

	if configPath != "" {
		if err := loadConfigFromFile(configPath, config); err != nil {
			// A missing default file is fine; an unreadable one is not.
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
			}
		}
	}

	loadConfigFromEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func loadConfigFromFile(path string, config *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, config)
}

func loadConfigFromEnv(config *Config) {
	if host := os.Getenv("RETRIEVAL_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("RETRIEVAL_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if endpoint := os.Getenv("RETRIEVAL_ENCODER_ENDPOINT"); endpoint != "" {
		config.Encoder.Endpoint = endpoint
	}
	if model := os.Getenv("RETRIEVAL_ENCODER_MODEL"); model != "" {
		config.Encoder.Model = model
	}

	if backend := os.Getenv("RETRIEVAL_SNAPSHOT_BACKEND"); backend != "" {
		config.Persistence.Type = persistence.StoreType(backend)
	}
	if path := os.Getenv("RETRIEVAL_SNAPSHOT_PATH"); path != "" {
		config.Persistence.Path = path
	}
	if path := os.Getenv("RETRIEVAL_STORE_PATH"); path != "" {
		config.Store.Path = path
	}

	if addr := os.Getenv("RETRIEVAL_REDIS_ADDR"); addr != "" {
		config.Cache.Enabled = true
		config.Cache.Backend = "redis"
		config.Cache.Addr = addr
	}
	if password := os.Getenv("RETRIEVAL_REDIS_PASSWORD"); password != "" {
		config.Cache.Password = password
	}

	if level := os.Getenv("RETRIEVAL_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: api.DefaultServerConfig(),
		Index: IndexConfig{
			Dimension:       512,
			Kind:            string(core.EmbeddingText),
			RebuildInterval: 6 * time.Hour,
		},
		Persistence: persistence.DefaultConfig(),
		Store: StoreConfig{
			Path: "data/retrieval.db",
		},
		Cache: CacheConfig{
			Enabled: true,
			Backend: "memory",
			Addr:    "localhost:6379",
			TTL:     cache.DefaultTTLConfig(),
		},
		Encoder: encoder.DefaultConfig(),
		Engine:  engine.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", c.Server.Port)
	}

	if c.Index.Dimension <= 0 {
		return fmt.Errorf("index dimension must be positive, got %d", c.Index.Dimension)
	}
	switch core.EmbeddingKind(c.Index.Kind) {
	case core.EmbeddingText, core.EmbeddingImage, core.EmbeddingFused:
	default:
		return fmt.Errorf("unknown embedding kind: %s", c.Index.Kind)
	}

	if c.Encoder.Dimension != c.Index.Dimension {
		return fmt.Errorf("encoder dimension %d does not match index dimension %d",
			c.Encoder.Dimension, c.Index.Dimension)
	}

	if err := c.Persistence.Validate(); err != nil {
		return fmt.Errorf("persistence config validation failed: %w", err)
	}

	if c.Store.Path == "" {
		return fmt.Errorf("store path is required")
	}

	if c.Cache.Enabled {
		switch c.Cache.Backend {
		case "memory":
		case "redis":
			if c.Cache.Addr == "" {
				return fmt.Errorf("redis address is required when using the redis cache backend")
			}
		default:
			return fmt.Errorf("unknown cache backend: %s", c.Cache.Backend)
		}
	}

	if err := c.Engine.Ranking.Validate(); err != nil {
		return fmt.Errorf("ranking config validation failed: %w", err)
	}

	return nil
}
