// Package config loads service configuration: built-in defaults, then an
// optional YAML file named by PRICEPULSE_CONFIG, then a .env file, then
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const configPathEnv = "PRICEPULSE_CONFIG"

// Cache backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

var knownSources = map[string]bool{"amazon": true, "ebay": true, "walmart": true}

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Sources    []SourceConfig   `yaml:"sources"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Cache      CacheConfig      `yaml:"cache"`
	Search     SearchConfig     `yaml:"search"`
	NATS       NATSConfig       `yaml:"nats"`
}

type ServerConfig struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | text
}

// SourceConfig describes one upstream marketplace.
type SourceConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
	// Static serves the built-in demo catalog instead of calling URL.
	Static          bool    `yaml:"static"`
	PriceMultiplier float64 `yaml:"price_multiplier"`
	Weight          int     `yaml:"weight"`
	RatePerSecond   float64 `yaml:"rate_per_second"`
	Burst           int     `yaml:"burst"`
}

type ResilienceConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	BreakerTimeout   time.Duration `yaml:"breaker_timeout"`
	HalfOpenMax      int           `yaml:"half_open_max"`
	RateLimit        int           `yaml:"rate_limit"`
	RateInterval     time.Duration `yaml:"rate_interval"`
	RetryAttempts    int           `yaml:"retry_attempts"`
	RetryInitialWait time.Duration `yaml:"retry_initial_wait"`
	RetryMaxWait     time.Duration `yaml:"retry_max_wait"`
	SourceTimeout    time.Duration `yaml:"source_timeout"`
	Concurrency      int           `yaml:"concurrency"`
}

type CacheConfig struct {
	Backend       string        `yaml:"backend"`
	Path          string        `yaml:"path"`
	TTL           time.Duration `yaml:"ttl"`
	MaxEntries    int           `yaml:"max_entries"`
	PurgeInterval time.Duration `yaml:"purge_interval"`
}

type SearchConfig struct {
	MaxQueryLength      int      `yaml:"max_query_length"`
	MaxPriceLimit       float64  `yaml:"max_price_limit"`
	KeepProductsOnError bool     `yaml:"keep_products_on_error"`
	WarmQueries         []string `yaml:"warm_queries"`
	WarmConcurrency     int      `yaml:"warm_concurrency"`
}

// NATSConfig enables event publishing and remote cache invalidation when URL
// is set.
type NATSConfig struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

// Default returns the built-in configuration.
func Default() Config {
	const upstream = "https://dummyjson.com/products/search"
	return Config{
		Server: ServerConfig{Port: "8080", CORSOrigin: "*"},
		Log:    LogConfig{Level: "info", Format: "json"},
		Sources: []SourceConfig{
			{Name: "amazon", URL: upstream, PriceMultiplier: 1.0, Weight: 30, RatePerSecond: 5, Burst: 5},
			{Name: "ebay", URL: upstream, PriceMultiplier: 0.9, Weight: 15, RatePerSecond: 5, Burst: 5},
			{Name: "walmart", URL: upstream, PriceMultiplier: 1.05, Weight: 20, RatePerSecond: 5, Burst: 5},
		},
		Resilience: ResilienceConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			BreakerTimeout:   10 * time.Second,
			HalfOpenMax:      1,
			RateLimit:        5,
			RateInterval:     time.Second,
			RetryAttempts:    3,
			RetryInitialWait: 100 * time.Millisecond,
			RetryMaxWait:     5 * time.Second,
			SourceTimeout:    5 * time.Second,
			Concurrency:      3,
		},
		Cache: CacheConfig{
			Backend:       BackendMemory,
			Path:          "data/cache.db",
			TTL:           time.Hour,
			MaxEntries:    500,
			PurgeInterval: 10 * time.Minute,
		},
		Search: SearchConfig{
			MaxQueryLength:  100,
			MaxPriceLimit:   10000,
			WarmConcurrency: 2,
		},
		NATS: NATSConfig{Name: "pricepulse"},
	}
}

// Load reads .env, the YAML file named by PRICEPULSE_CONFIG (if set) and the
// environment, then validates the result.
func Load() (Config, error) {
	_ = godotenv.Load()
	return LoadFile(os.Getenv(configPathEnv))
}

// LoadFile layers the YAML file at path (skipped when empty) and environment
// overrides over the defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (c *Config) applyEnvOverrides() error {
	c.Server.Port = envOr("PORT", c.Server.Port)
	c.Server.CORSOrigin = envOr("CORS_ORIGIN", c.Server.CORSOrigin)
	c.Log.Level = envOr("LOG_LEVEL", c.Log.Level)
	c.Log.Format = envOr("LOG_FORMAT", c.Log.Format)
	c.Cache.Backend = envOr("CACHE_BACKEND", c.Cache.Backend)
	c.Cache.Path = envOr("CACHE_PATH", c.Cache.Path)
	c.NATS.URL = envOr("NATS_URL", c.NATS.URL)

	if v := os.Getenv("UPSTREAM_URL"); v != "" {
		for i := range c.Sources {
			c.Sources[i].URL = v
		}
	}
	if v := os.Getenv("STATIC_SOURCES"); v != "" {
		static, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: STATIC_SOURCES: %w", err)
		}
		for i := range c.Sources {
			c.Sources[i].Static = static
		}
	}
	if v := os.Getenv("CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: CACHE_TTL: %w", err)
		}
		c.Cache.TTL = d
	}
	if v := os.Getenv("MAX_QUERY_LENGTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: MAX_QUERY_LENGTH: %w", err)
		}
		c.Search.MaxQueryLength = n
	}
	return nil
}

// Validate reports every nonsensical setting at once.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) { errs = append(errs, fmt.Errorf("config: "+format, args...)) }

	if len(c.Sources) == 0 {
		bad("at least one source is required")
	}
	seen := make(map[string]bool)
	for _, s := range c.Sources {
		switch {
		case !knownSources[s.Name]:
			bad("unknown source %q", s.Name)
		case seen[s.Name]:
			bad("duplicate source %q", s.Name)
		case !s.Static && s.URL == "":
			bad("source %q needs a url or static: true", s.Name)
		case s.PriceMultiplier < 0 || s.Weight < 0 || s.RatePerSecond < 0:
			bad("source %q has a negative setting", s.Name)
		}
		seen[s.Name] = true
	}

	r := c.Resilience
	if r.FailureThreshold <= 0 || r.SuccessThreshold <= 0 || r.HalfOpenMax <= 0 {
		bad("breaker thresholds must be positive")
	}
	if r.BreakerTimeout <= 0 || r.RateInterval <= 0 || r.SourceTimeout <= 0 {
		bad("resilience durations must be positive")
	}
	if r.RateLimit <= 0 || r.RetryAttempts <= 0 || r.Concurrency <= 0 {
		bad("rate limit, retry attempts and concurrency must be positive")
	}

	switch c.Cache.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Cache.Path == "" {
			bad("sqlite cache needs a path")
		}
	default:
		bad("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.TTL <= 0 || c.Cache.MaxEntries <= 0 {
		bad("cache ttl and maxEntries must be positive")
	}

	if c.Search.MaxQueryLength <= 0 || c.Search.MaxPriceLimit <= 0 {
		bad("search limits must be positive")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		bad("unknown log format %q", c.Log.Format)
	}
	return errors.Join(errs...)
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("config: log level %q: %w", s, err)
	}
	return l, nil
}

// NewLogger builds the process logger described by c.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
