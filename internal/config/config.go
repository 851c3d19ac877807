// Package config loads runner, database, cache and logging settings from an
// optional config file and COHORTWEAVER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// COHORTWEAVER_CACHE_DRIVER=file sets cache.driver.
const EnvPrefix = "COHORTWEAVER"

// Cache drivers.
const (
	CacheNone     = "none"
	CacheMemory   = "memory"
	CacheFile     = "file"
	CacheSQLite   = "sqlite"
	CachePostgres = "postgres"
)

// Database drivers.
const (
	DatabaseSQLite   = "sqlite"
	DatabasePostgres = "postgres"
)

type Config struct {
	MaxConcurrency int            `mapstructure:"max_concurrency"`
	TimeoutSeconds int            `mapstructure:"timeout_seconds"`
	PollInterval   time.Duration  `mapstructure:"poll_interval"`
	StateDir       string         `mapstructure:"state_dir"`
	Database       DatabaseConfig `mapstructure:"database"`
	Cache          CacheConfig    `mapstructure:"cache"`
	Log            LogConfig      `mapstructure:"log"`
}

// DatabaseConfig selects the database cohort queries run against.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// CacheConfig selects the cache medium. The none driver disables caching and
// runs trees in direct mode.
type CacheConfig struct {
	Driver string `mapstructure:"driver"`
	Size   int    `mapstructure:"size"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
	Table  string `mapstructure:"table"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Timeout is the per-task timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CachingEnabled reports whether a cache medium is configured.
func (c *Config) CachingEnabled() bool {
	return c.Cache.Driver != CacheNone
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("max_concurrency", 4)
	v.SetDefault("timeout_seconds", 3000)
	v.SetDefault("poll_interval", "100ms")
	v.SetDefault("state_dir", ".")
	v.SetDefault("database.driver", DatabaseSQLite)
	v.SetDefault("database.dsn", "")
	v.SetDefault("cache.driver", CacheMemory)
	v.SetDefault("cache.size", 1024)
	v.SetDefault("cache.path", ".cohortweaver/cache")
	v.SetDefault("cache.dsn", "")
	v.SetDefault("cache.table", "cohort_cache")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	cfg, err := load(viper.New(), "")
	if err != nil {
		// Defaults are constants; failing to decode them is a programming error.
		panic(err)
	}
	return cfg
}

// Load reads path (yaml, json or toml, by extension) when non-empty, then
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg, err := load(v, path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate rejects values the runner cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("max_concurrency must be positive, got %d", c.MaxConcurrency))
	}
	if c.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("timeout_seconds must be positive, got %d", c.TimeoutSeconds))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval))
	}
	if strings.TrimSpace(c.StateDir) == "" {
		errs = append(errs, errors.New("state_dir is required"))
	}
	switch c.Database.Driver {
	case DatabaseSQLite, DatabasePostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}
	switch c.Cache.Driver {
	case CacheNone:
	case CacheMemory:
		if c.Cache.Size <= 0 {
			errs = append(errs, fmt.Errorf("cache.size must be positive, got %d", c.Cache.Size))
		}
	case CacheFile:
		if strings.TrimSpace(c.Cache.Path) == "" {
			errs = append(errs, errors.New("cache.path is required for the file cache"))
		}
	case CacheSQLite, CachePostgres:
		if strings.TrimSpace(c.Cache.DSN) == "" {
			errs = append(errs, fmt.Errorf("cache.dsn is required for the %s cache", c.Cache.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache driver %q", c.Cache.Driver))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
