// Package config loads service configuration from YAML, .env files and
// environment variables, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"poetry-feed/pkg/logger"
)

// Defaults. The source and feed values are tuned against the public API.
const (
	defaultServiceName = "poetry-feed"
	defaultServicePort = 8095
	defaultConfigPath  = "config.yml"

	defaultEndpointFA     = "https://api.ganjoor.net/api/ganjoor/poem/random"
	defaultClientID       = "Persian Poetry App"
	defaultRequestTimeout = 5 * time.Second

	defaultBreakerCooldown = 30 * time.Second

	defaultInitialBatch    = 5
	defaultInitialTimeout  = 5 * time.Second
	defaultInitialMin      = 2
	defaultBackfillBatch   = 3
	defaultBackfillTimeout = 3 * time.Second
	defaultBackfillMin     = 1
	defaultProximity       = 3
	defaultLanguage        = "fa"
	defaultSessionTTL      = 30 * time.Minute

	defaultRedisTTL        = 24 * time.Hour
	defaultMongoDatabase   = "poetry"
	defaultMongoCollection = "poems"
	defaultArchiveWorkers  = 2
	defaultArchiveQueue    = 256

	defaultRateLimitRPS   = 5
	defaultRateLimitBurst = 10

	defaultLoggingLevel  = "info"
	defaultLoggingFormat = "json"
)

var (
	// ErrInvalidPort is returned when the service port is out of range.
	ErrInvalidPort = errors.New("service port must be between 1 and 65535")
	// ErrInvalidFeed is returned when feed batch/threshold values are not positive.
	ErrInvalidFeed = errors.New("feed batch sizes, minimums and proximity must be positive")
	// ErrMissingSupabaseKey is returned when a Supabase URL is set without a key.
	ErrMissingSupabaseKey = errors.New("supabase key is required when supabase url is set")
)

// Config is the full service configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Source    SourceConfig    `yaml:"source"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Feed      FeedConfig      `yaml:"feed"`
	Fallback  FallbackConfig  `yaml:"fallback"`
	Redis     RedisConfig     `yaml:"redis"`
	Mongo     MongoConfig     `yaml:"mongo"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Supabase  SupabaseConfig  `yaml:"supabase"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   logger.Config   `yaml:"logging"`
}

// ServiceConfig holds HTTP service settings.
type ServiceConfig struct {
	Name  string `yaml:"name"`
	Port  int    `env:"POETRY_PORT"  yaml:"port"`
	Debug bool   `env:"APP_DEBUG"    yaml:"debug"`
}

// SourceConfig describes the remote random-poem endpoints, keyed by
// language code. A language without an endpoint is served from bundled
// content only.
type SourceConfig struct {
	Endpoints      map[string]string `yaml:"endpoints"`
	EndpointFA     string            `env:"POETRY_ENDPOINT_FA" yaml:"-"`
	ClientID       string            `yaml:"client_id"`
	RequestTimeout time.Duration     `yaml:"request_timeout"`
}

// Endpoint returns the endpoint for lang, or "" when the language has no remote source.
func (s SourceConfig) Endpoint(lang string) string {
	return s.Endpoints[lang]
}

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	Cooldown time.Duration `env:"POETRY_BREAKER_COOLDOWN" yaml:"cooldown"`
}

// FeedConfig configures the feed assembler.
type FeedConfig struct {
	InitialBatch    int           `yaml:"initial_batch"`
	InitialTimeout  time.Duration `yaml:"initial_timeout"`
	InitialMin      int           `yaml:"initial_min"`
	BackfillBatch   int           `yaml:"backfill_batch"`
	BackfillTimeout time.Duration `yaml:"backfill_timeout"`
	BackfillMin     int           `yaml:"backfill_min"`
	Proximity       int           `yaml:"proximity"`
	MaxLength       int           `yaml:"max_length"`
	DefaultLanguage string        `env:"POETRY_DEFAULT_LANGUAGE" yaml:"default_language"`
	SessionTTL      time.Duration `yaml:"session_ttl"`
}

// FallbackConfig lists optional RSS/Atom feeds that extend the bundled pool.
type FallbackConfig struct {
	FeedURLs map[string]string `yaml:"feed_urls"`
}

// RedisConfig enables the shared seen-id store.
type RedisConfig struct {
	Address  string        `env:"REDIS_ADDRESS"  yaml:"address"`
	Password string        `env:"REDIS_PASSWORD" yaml:"password"`
	DB       int           `env:"REDIS_DB"       yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool { return r.Address != "" }

// MongoConfig enables the poem archive.
type MongoConfig struct {
	URI        string `env:"MONGO_URI" yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
	Workers    int    `yaml:"workers"`
	QueueSize  int    `yaml:"queue_size"`
}

// Enabled reports whether a Mongo URI is configured.
func (m MongoConfig) Enabled() bool { return m.URI != "" }

// PostgresConfig holds the direct Postgres DSN.
type PostgresConfig struct {
	DSN string `env:"POSTGRES_DSN" yaml:"dsn"`
}

// SupabaseConfig configures the hosted platform.
type SupabaseConfig struct {
	URL              string `env:"SUPABASE_URL"               yaml:"url"`
	Key              string `env:"SUPABASE_KEY"               yaml:"key"`
	Password         string `env:"SUPABASE_DB_PASSWORD"       yaml:"password"`
	ConnectionString string `env:"SUPABASE_CONNECTION_STRING" yaml:"connection_string"`
}

// Enabled reports whether the platform client should be built.
func (s SupabaseConfig) Enabled() bool { return s.URL != "" }

// RateLimitConfig limits session creation on the HTTP API.
type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// Path resolves the config file path from CONFIG_PATH or the default.
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return defaultConfigPath
}

// Load reads path (missing file allowed), applies env overrides, fills defaults
// and re-applies env so the environment always wins.
func Load(path string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, fmt.Errorf("load environment files: %w", err)
	}

	var cfg Config
	if err := readYAML(path, &cfg); err != nil {
		return nil, err
	}
	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if cfg.Source.EndpointFA != "" {
		cfg.Source.Endpoints[defaultLanguage] = cfg.Source.EndpointFA
	}
	return &cfg, nil
}

// Default returns a configuration built from defaults alone.
func Default() *Config {
	var cfg Config
	setDefaults(&cfg)
	return &cfg
}

// Validate rejects impossible values.
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return ErrInvalidPort
	}
	f := c.Feed
	if f.InitialBatch <= 0 || f.BackfillBatch <= 0 || f.InitialMin <= 0 || f.BackfillMin <= 0 || f.Proximity <= 0 {
		return ErrInvalidFeed
	}
	if c.Supabase.URL != "" && c.Supabase.Key == "" {
		return ErrMissingSupabaseKey
	}
	return nil
}

func setDefaults(cfg *Config) {
	setServiceDefaults(&cfg.Service)
	setSourceDefaults(&cfg.Source)
	if cfg.Breaker.Cooldown == 0 {
		cfg.Breaker.Cooldown = defaultBreakerCooldown
	}
	setFeedDefaults(&cfg.Feed)
	setStorageDefaults(cfg)
	if cfg.RateLimit.RPS == 0 {
		cfg.RateLimit.RPS = defaultRateLimitRPS
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = defaultRateLimitBurst
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaultLoggingLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaultLoggingFormat
	}
}

func setServiceDefaults(svc *ServiceConfig) {
	if svc.Name == "" {
		svc.Name = defaultServiceName
	}
	if svc.Port == 0 {
		svc.Port = defaultServicePort
	}
}

func setSourceDefaults(src *SourceConfig) {
	if src.Endpoints == nil {
		src.Endpoints = map[string]string{defaultLanguage: defaultEndpointFA}
	}
	if src.ClientID == "" {
		src.ClientID = defaultClientID
	}
	if src.RequestTimeout == 0 {
		src.RequestTimeout = defaultRequestTimeout
	}
}

func setFeedDefaults(f *FeedConfig) {
	if f.InitialBatch == 0 {
		f.InitialBatch = defaultInitialBatch
	}
	if f.InitialTimeout == 0 {
		f.InitialTimeout = defaultInitialTimeout
	}
	if f.InitialMin == 0 {
		f.InitialMin = defaultInitialMin
	}
	if f.BackfillBatch == 0 {
		f.BackfillBatch = defaultBackfillBatch
	}
	if f.BackfillTimeout == 0 {
		f.BackfillTimeout = defaultBackfillTimeout
	}
	if f.BackfillMin == 0 {
		f.BackfillMin = defaultBackfillMin
	}
	if f.Proximity == 0 {
		f.Proximity = defaultProximity
	}
	if f.DefaultLanguage == "" {
		f.DefaultLanguage = defaultLanguage
	}
	if f.SessionTTL == 0 {
		f.SessionTTL = defaultSessionTTL
	}
}

func setStorageDefaults(cfg *Config) {
	if cfg.Redis.TTL == 0 {
		cfg.Redis.TTL = defaultRedisTTL
	}
	if cfg.Mongo.Database == "" {
		cfg.Mongo.Database = defaultMongoDatabase
	}
	if cfg.Mongo.Collection == "" {
		cfg.Mongo.Collection = defaultMongoCollection
	}
	if cfg.Mongo.Workers == 0 {
		cfg.Mongo.Workers = defaultArchiveWorkers
	}
	if cfg.Mongo.QueueSize == 0 {
		cfg.Mongo.QueueSize = defaultArchiveQueue
	}
}
