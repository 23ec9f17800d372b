// Package config loads the service configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the top-level configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Indexer  IndexerConfig  `yaml:"indexer"`
	ML       MLConfig       `yaml:"ml"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig configures the HTTP listener. BaseURL prefixes the links
// written into rendered feeds.
type ServerConfig struct {
	Address string `yaml:"address"`
	BaseURL string `yaml:"base_url"`
}

// DatabaseConfig selects the store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// CacheConfig configures the rendered-feed cache.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// FetchConfig configures upstream requests.
type FetchConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
	HostDelay time.Duration `yaml:"host_delay"`
}

// IndexerConfig configures background digest indexing. Zero Workers lets
// the store backend pick the pool size.
type IndexerConfig struct {
	Workers   int           `yaml:"workers"`
	QueueSize int           `yaml:"queue_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

// MLConfig points at the scoring service. An empty endpoint disables scoring.
type MLConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LogConfig configures logging. File enables rotated file output.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

// Default returns a configuration with every default filled in.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

// Load reads the YAML file at path, applies environment overrides and
// defaults, and validates the result. An empty path skips the file.
// ${VAR} references in the file are expanded from the environment.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		expanded := os.Expand(string(data), os.Getenv)
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	setDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DB_LOC"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
		cfg.Database.Driver = DriverPostgres
	}
	if v := os.Getenv("RSS2_BASE_URL"); v != "" {
		cfg.Server.BaseURL = v
	}
	if v := os.Getenv("RSS2_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("RSS2_ML_ENDPOINT"); v != "" {
		cfg.ML.Endpoint = v
	}
	if v := os.Getenv("RSS2_ML_API_KEY"); v != "" {
		cfg.ML.APIKey = v
	}
	if v := os.Getenv("RSS2_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = "http://localhost:8080"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverSQLite
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "rss2.db"
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 15 * time.Minute
	}
	if cfg.Fetch.Timeout == 0 {
		cfg.Fetch.Timeout = 20 * time.Second
	}
	if cfg.Indexer.QueueSize == 0 {
		cfg.Indexer.QueueSize = 64
	}
	if cfg.Indexer.Timeout == 0 {
		cfg.Indexer.Timeout = 2 * time.Minute
	}
	if cfg.ML.Timeout == 0 {
		cfg.ML.Timeout = 10 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	// Keys pasted into env vars often carry a trailing newline.
	cfg.ML.APIKey = strings.TrimSpace(cfg.ML.APIKey)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database.path is required for sqlite")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Cache.TTL <= 0 {
		return errors.New("cache.ttl must be positive")
	}
	if c.Fetch.Timeout <= 0 {
		return errors.New("fetch.timeout must be positive")
	}
	if c.Fetch.HostDelay < 0 {
		return errors.New("fetch.host_delay must not be negative")
	}
	if c.Indexer.Workers < 0 {
		return errors.New("indexer.workers must not be negative")
	}
	if c.Indexer.QueueSize <= 0 {
		return errors.New("indexer.queue_size must be positive")
	}
	if c.Indexer.Timeout <= 0 {
		return errors.New("indexer.timeout must be positive")
	}
	if c.ML.Timeout <= 0 {
		return errors.New("ml.timeout must be positive")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}
