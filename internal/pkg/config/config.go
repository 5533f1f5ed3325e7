// Package config loads service configuration from defaults, an optional YAML
// file and INVOICER_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// INVOICER_SQUARE_ACCESS_TOKEN for square.access_token.
const EnvPrefix = "INVOICER"

type Config struct {
	HTTP     HTTP     `mapstructure:"http"`
	Database Database `mapstructure:"database"`
	Square   Square   `mapstructure:"square"`
	Identity Identity `mapstructure:"identity"`
	Limits   Limits   `mapstructure:"limits"`
	Redis    Redis    `mapstructure:"redis"`
	Kafka    Kafka    `mapstructure:"kafka"`
	Tracing  Tracing  `mapstructure:"tracing"`
	Log      Log      `mapstructure:"log"`
}

type HTTP struct {
	Addr            string        `mapstructure:"addr"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TrustProxy      bool          `mapstructure:"trust_proxy"`
}

type Database struct {
	Driver   string        `mapstructure:"driver"` // sqlite or postgres
	Path     string        `mapstructure:"path"`
	DSN      string        `mapstructure:"dsn"`
	MaxConns int32         `mapstructure:"max_conns"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type Square struct {
	BaseURL     string        `mapstructure:"base_url"`
	AccessToken string        `mapstructure:"access_token"`
	LocationID  string        `mapstructure:"location_id"`
	APIVersion  string        `mapstructure:"api_version"`
	Currency    string        `mapstructure:"currency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type Identity struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type Limits struct {
	MaxAmountCents int64         `mapstructure:"max_amount_cents"`
	UserPerHour    int           `mapstructure:"user_per_hour"`
	GlobalPerHour  int           `mapstructure:"global_per_hour"`
	ReplayMaxAge   time.Duration `mapstructure:"replay_max_age"`
	ReplayMaxSkew  time.Duration `mapstructure:"replay_max_skew"`
	RoleCacheTTL   time.Duration `mapstructure:"role_cache_ttl"`
	// StaleAfter is how long a processing record may go untouched before a
	// new request may take it over.
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"` // empty disables the role cache
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Kafka struct {
	Brokers []string `mapstructure:"brokers"` // empty disables audit streaming
	Topic   string   `mapstructure:"topic"`
}

type Tracing struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	Environment string  `mapstructure:"environment"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.allowed_origins", []string{"*"})
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 60*time.Second)
	v.SetDefault("http.shutdown_timeout", 15*time.Second)
	v.SetDefault("http.trust_proxy", false)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/invoices.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.timeout", 5*time.Second)

	v.SetDefault("square.base_url", "https://connect.squareupsandbox.com")
	v.SetDefault("square.access_token", "")
	v.SetDefault("square.location_id", "")
	v.SetDefault("square.api_version", "2024-10-17")
	v.SetDefault("square.currency", "USD")
	v.SetDefault("square.timeout", 10*time.Second)

	v.SetDefault("identity.base_url", "")
	v.SetDefault("identity.api_key", "")
	v.SetDefault("identity.timeout", 5*time.Second)

	v.SetDefault("limits.max_amount_cents", 1_000_000)
	v.SetDefault("limits.user_per_hour", 10)
	v.SetDefault("limits.global_per_hour", 50)
	v.SetDefault("limits.replay_max_age", 120*time.Second)
	v.SetDefault("limits.replay_max_skew", 30*time.Second)
	v.SetDefault("limits.role_cache_ttl", 30*time.Second)
	v.SetDefault("limits.stale_after", 10*time.Minute)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "invoice-audit")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.service_name", "invoice-gateway")
	v.SetDefault("tracing.environment", "local")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("log.level", "info")
}

// Load reads configuration. path may be empty, in which case only defaults
// and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings the HTTP server cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.Square.AccessToken == "" {
		errs = append(errs, errors.New("square.access_token is required"))
	}
	if c.Square.LocationID == "" {
		errs = append(errs, errors.New("square.location_id is required"))
	}
	if c.Identity.BaseURL == "" {
		errs = append(errs, errors.New("identity.base_url is required"))
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required for the postgres driver"))
	}
	if c.Limits.MaxAmountCents <= 0 {
		errs = append(errs, errors.New("limits.max_amount_cents must be positive"))
	}
	if c.Limits.UserPerHour <= 0 || c.Limits.GlobalPerHour <= 0 {
		errs = append(errs, errors.New("limits.user_per_hour and limits.global_per_hour must be positive"))
	}
	return errors.Join(errs...)
}
