// Package config loads and validates storefront configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Cache    CacheConfig    `mapstructure:"cache"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// AuthConfig holds the shared admin secret.
type AuthConfig struct {
	AdminToken   string `mapstructure:"admin_token"`
	CookieSecure bool   `mapstructure:"cookie_secure"`
	// RateLimitRPS caps admin requests per client IP; 0 disables the limit.
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// DatabaseConfig controls access to the relational database. An empty DSN
// selects the in-memory table store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	CarsTable       string        `mapstructure:"cars_table"`
	ImagesTable     string        `mapstructure:"images_table"`
	TasksTable      string        `mapstructure:"tasks_table"`
}

// StorageConfig selects where uploaded images are written.
type StorageConfig struct {
	Backend       string             `mapstructure:"backend"`
	Bucket        string             `mapstructure:"bucket"`
	Prefix        string             `mapstructure:"prefix"`
	PublicBaseURL string             `mapstructure:"public_base_url"`
	Local         LocalStorageConfig `mapstructure:"local"`
}

// LocalStorageConfig configures the filesystem backend.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// IngestConfig bounds ingest requests.
type IngestConfig struct {
	MaxUploadMB int64 `mapstructure:"max_upload_mb"`
}

// LedgerConfig drives the abandoned-task janitor.
type LedgerConfig struct {
	SweepSpec  string        `mapstructure:"sweep_spec"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// CacheConfig points at Redis. An empty URL disables caching and keeps
// favorites in memory.
type CacheConfig struct {
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// PubSubConfig holds metadata for change notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// CatalogConfig tunes the public listing.
type CatalogConfig struct {
	SeedFallback bool   `mapstructure:"seed_fallback"`
	Location     string `mapstructure:"location"`
	Limit        int    `mapstructure:"limit"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STOREFRONT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("auth.admin_token", "")
	v.SetDefault("auth.cookie_secure", false)
	v.SetDefault("auth.rate_limit_rps", 5)
	v.SetDefault("auth.rate_limit_burst", 20)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("database.cars_table", "cars")
	v.SetDefault("database.images_table", "car_images")
	v.SetDefault("database.tasks_table", "ingest_tasks")
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "car")
	v.SetDefault("storage.public_base_url", "")
	v.SetDefault("storage.local.base_dir", "./data/uploads")
	v.SetDefault("ingest.max_upload_mb", 64)
	v.SetDefault("ledger.sweep_spec", "@every 10m")
	v.SetDefault("ledger.stale_after", "30m")
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.ttl", "60s")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("catalog.seed_fallback", true)
	v.SetDefault("catalog.location", "China")
	v.SetDefault("catalog.limit", 100)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Database.CarsTable == "" || c.Database.ImagesTable == "" || c.Database.TasksTable == "" {
		return fmt.Errorf("database.cars_table, database.images_table and database.tasks_table must be set")
	}
	if c.Database.DSN != "" && c.Database.MaxConns <= 0 {
		return fmt.Errorf("database.max_conns must be > 0")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLocal:
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set when storage.backend is local")
		}
	case BackendGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, local, gcs (got %q)", c.Storage.Backend)
	}
	if c.Auth.RateLimitRPS < 0 {
		return fmt.Errorf("auth.rate_limit_rps must be >= 0")
	}
	if c.Ingest.MaxUploadMB <= 0 {
		return fmt.Errorf("ingest.max_upload_mb must be > 0")
	}
	if c.Ledger.StaleAfter <= 0 {
		return fmt.Errorf("ledger.stale_after must be > 0")
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must be >= 0")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Catalog.Limit <= 0 {
		return fmt.Errorf("catalog.limit must be > 0")
	}
	return nil
}

// MaxUploadBytes converts the ingest upload limit to bytes.
func (c Config) MaxUploadBytes() int64 {
	return c.Ingest.MaxUploadMB << 20
}
