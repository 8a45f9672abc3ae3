package config

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jonwraymond/inferops/secret"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "INFEROPS"

// Config is the full inferops configuration.
type Config struct {
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Breaker  BreakerConfig  `mapstructure:"breaker"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Lock     LockConfig     `mapstructure:"lock"`
	Usage    UsageConfig    `mapstructure:"usage"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Valkey   ValkeyConfig   `mapstructure:"valkey"`
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Observe  ObserveConfig  `mapstructure:"observe"`
}

// UpstreamConfig configures the inference provider.
type UpstreamConfig struct {
	// APIKey may be a literal, ${VAR} or a secretref.
	// Default: secretref:env:OPENAI_API_KEY
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Model        string        `mapstructure:"model"`
	SystemPrompt string        `mapstructure:"system_prompt"`
	CallTimeout  time.Duration `mapstructure:"call_timeout"`
}

// BreakerConfig configures the upstream circuit breaker.
type BreakerConfig struct {
	WindowSize               int           `mapstructure:"window_size"`
	MinimumRequests          int           `mapstructure:"minimum_requests"`
	ErrorThresholdPercentage float64       `mapstructure:"error_threshold_percentage"`
	ResetTimeout             time.Duration `mapstructure:"reset_timeout"`
}

// CacheConfig selects and tunes the cache store.
type CacheConfig struct {
	Backend    string        `mapstructure:"backend"` // memory|redis|sql
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	MaxTTL     time.Duration `mapstructure:"max_ttl"`
	Prefix     string        `mapstructure:"prefix"`

	// ContextTTL maps an analysis context to its own entry TTL.
	ContextTTL map[string]time.Duration `mapstructure:"context_ttl"`
}

// LockConfig selects and tunes the stampede lock.
type LockConfig struct {
	Backend   string        `mapstructure:"backend"` // none|memory|redis|valkey|sql
	TTL       time.Duration `mapstructure:"ttl"`
	Namespace string        `mapstructure:"namespace"`
	Prefix    string        `mapstructure:"prefix"`
}

// UsageConfig selects and tunes the usage sink.
type UsageConfig struct {
	Sink      string `mapstructure:"sink"` // none|log|sql|redis
	QueueSize int    `mapstructure:"queue_size"`
	Stream    string `mapstructure:"stream"`
	StreamMax int64  `mapstructure:"stream_max_len"`
}

// EngineConfig tunes the analyze operations.
type EngineConfig struct {
	MaxTextLength  int           `mapstructure:"max_text_length"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
}

// RedisConfig configures the shared go-redis client.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ValkeyConfig configures the valkey client.
type ValkeyConfig struct {
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig configures the gorm connection.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite|postgres
	DSN    string `mapstructure:"dsn"`
}

// ServerConfig configures the health endpoint of the serve command.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// ObserveConfig configures logging and telemetry.
type ObserveConfig struct {
	ServiceName     string  `mapstructure:"service_name"`
	LogLevel        string  `mapstructure:"log_level"`
	TracingExporter string  `mapstructure:"tracing_exporter"`
	SamplePct       float64 `mapstructure:"sample_pct"`
	MetricsExporter string  `mapstructure:"metrics_exporter"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Upstream: UpstreamConfig{
			APIKey:      "secretref:env:OPENAI_API_KEY",
			Model:       "gpt-4o-mini",
			CallTimeout: 30 * time.Second,
		},
		Breaker: BreakerConfig{
			WindowSize:               10,
			MinimumRequests:          10,
			ErrorThresholdPercentage: 50,
			ResetTimeout:             30 * time.Second,
		},
		Cache: CacheConfig{
			Backend:    "memory",
			DefaultTTL: 24 * time.Hour,
			MaxTTL:     90 * 24 * time.Hour,
		},
		Lock: LockConfig{
			Backend:   "memory",
			TTL:       60 * time.Second,
			Namespace: "analyze",
		},
		Usage: UsageConfig{
			Sink:      "log",
			QueueSize: 1024,
			Stream:    "inferops:usage",
			StreamMax: 100000,
		},
		Engine: EngineConfig{
			MaxTextLength:  10000,
			MaxConcurrency: 5,
			SweepInterval:  10 * time.Minute,
		},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		Valkey:   ValkeyConfig{Addr: "localhost:6379"},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "inferops.db"},
		Server:   ServerConfig{Addr: ":8080"},
		Observe: ObserveConfig{
			ServiceName:     "inferops",
			LogLevel:        "info",
			TracingExporter: "none",
			SamplePct:       1,
			MetricsExporter: "none",
		},
	}
}

// Load reads configuration from path (or ./inferops.* when path is empty)
// and the environment, resolves the upstream API key and validates the
// result.
func Load(ctx context.Context, path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("inferops")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.ResolveCredentials(ctx, secret.NewDefaultResolver()); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolveCredentials replaces Upstream.APIKey with its resolved value.
func (c *Config) ResolveCredentials(ctx context.Context, r *secret.Resolver) error {
	if strings.TrimSpace(c.Upstream.APIKey) == "" {
		return ErrMissingCredentials
	}
	key, err := r.ResolveValue(ctx, c.Upstream.APIKey)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMissingCredentials, err)
	}
	if strings.TrimSpace(key) == "" {
		return ErrMissingCredentials
	}
	c.Upstream.APIKey = key
	return nil
}

// Validate checks enumerations and ranges.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
		}
	}

	check(slices.Contains([]string{"memory", "redis", "sql"}, c.Cache.Backend), "cache.backend %q", c.Cache.Backend)
	check(slices.Contains([]string{"none", "memory", "redis", "valkey", "sql"}, c.Lock.Backend), "lock.backend %q", c.Lock.Backend)
	check(slices.Contains([]string{"none", "log", "sql", "redis"}, c.Usage.Sink), "usage.sink %q", c.Usage.Sink)
	check(slices.Contains([]string{"sqlite", "postgres"}, c.Database.Driver), "database.driver %q", c.Database.Driver)
	check(c.Upstream.CallTimeout > 0, "upstream.call_timeout must be positive")
	check(c.Breaker.WindowSize > 0, "breaker.window_size must be positive")
	check(c.Breaker.ErrorThresholdPercentage > 0 && c.Breaker.ErrorThresholdPercentage <= 100,
		"breaker.error_threshold_percentage %v out of (0, 100]", c.Breaker.ErrorThresholdPercentage)
	check(c.Breaker.ResetTimeout > 0, "breaker.reset_timeout must be positive")
	check(c.Cache.DefaultTTL > 0 && c.Cache.DefaultTTL <= c.Cache.MaxTTL, "cache.default_ttl must be in (0, max_ttl]")
	for name, ttl := range c.Cache.ContextTTL {
		check(ttl > 0, "cache.context_ttl.%s must be positive", name)
	}
	check(c.Engine.MaxTextLength > 0, "engine.max_text_length must be positive")
	check(c.Engine.MaxConcurrency > 0, "engine.max_concurrency must be positive")

	return errors.Join(errs...)
}

// bindEnvs registers every key of cfg so environment variables are seen by
// Unmarshal even when no config file sets them.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(slices.Clone(parts), tag)
		switch f.Type.Kind() {
		case reflect.Struct:
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		case reflect.Map:
			// Maps are read from the config file only.
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
