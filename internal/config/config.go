// Package config loads service configuration from config.yaml and
// INCENTIVES_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSupabase = "supabase"
)

type Configuration struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Store    StoreConfig    `mapstructure:"store" validate:"required"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Supabase SupabaseConfig `mapstructure:"supabase"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Logging  LoggingConfig  `mapstructure:"logging" validate:"required"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Payout   PayoutConfig   `mapstructure:"payout" validate:"required"`
}

type ServerConfig struct {
	Address        string        `mapstructure:"address" validate:"required"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout" validate:"gte=0"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gte=0"`
}

type StoreConfig struct {
	Backend string `mapstructure:"backend" validate:"required,oneof=memory postgres supabase"`
}

type PostgresConfig struct {
	URL           string `mapstructure:"url"`
	NotifyChannel string `mapstructure:"notify_channel"`
	MaxOpenConns  int    `mapstructure:"max_open_conns" validate:"gte=0"`
}

type SupabaseConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
	Key string `mapstructure:"key"`
}

type CacheConfig struct {
	// TTL of the active rule set cache; 0 keeps entries until invalidated.
	TTL time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

type LoggingConfig struct {
	Level           string `mapstructure:"level" validate:"required,oneof=trace debug info warn warning error TRACE DEBUG INFO WARN WARNING ERROR"`
	ErrorSampleRate int    `mapstructure:"error_sample_rate" validate:"gte=1"`
	OTELEnabled     bool   `mapstructure:"otel_enabled"`
	ServiceName     string `mapstructure:"service_name"`
}

type RealtimeConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Buffer is the per-subscriber channel size of the change feed.
	Buffer int64 `mapstructure:"buffer" validate:"gte=0"`
}

type PayoutConfig struct {
	DefaultBasePay    string `mapstructure:"default_base_pay" validate:"required,numeric"`
	CohortConcurrency int    `mapstructure:"cohort_concurrency" validate:"gte=1"`
}

// BasePay returns DefaultBasePay as a decimal.
func (p PayoutConfig) BasePay() decimal.Decimal {
	d, err := decimal.NewFromString(p.DefaultBasePay)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// setDefaults registers every key so environment variables can override it
// even without a config file.
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout)
	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("postgres.url", "")
	v.SetDefault("postgres.notify_channel", d.Postgres.NotifyChannel)
	v.SetDefault("postgres.max_open_conns", d.Postgres.MaxOpenConns)
	v.SetDefault("supabase.url", "")
	v.SetDefault("supabase.key", "")
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.error_sample_rate", d.Logging.ErrorSampleRate)
	v.SetDefault("logging.otel_enabled", d.Logging.OTELEnabled)
	v.SetDefault("logging.service_name", d.Logging.ServiceName)
	v.SetDefault("realtime.enabled", d.Realtime.Enabled)
	v.SetDefault("realtime.buffer", d.Realtime.Buffer)
	v.SetDefault("payout.default_base_pay", d.Payout.DefaultBasePay)
	v.SetDefault("payout.cohort_concurrency", d.Payout.CohortConcurrency)
}

// NewConfig loads configuration. An explicit path wins over the search paths.
func NewConfig(path string) (*Configuration, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/incentives")
	}

	v.SetEnvPrefix("INCENTIVES")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if path != "" || !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks struct tags and the backend specific requirements.
func (c Configuration) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	switch c.Store.Backend {
	case BackendPostgres:
		if c.Postgres.URL == "" {
			return errors.New("invalid configuration: postgres.url is required for the postgres backend")
		}
	case BackendSupabase:
		if c.Supabase.URL == "" || c.Supabase.Key == "" {
			return errors.New("invalid configuration: supabase.url and supabase.key are required for the supabase backend")
		}
	}
	if c.Realtime.Enabled && c.Store.Backend == BackendPostgres && c.Postgres.NotifyChannel == "" {
		return errors.New("invalid configuration: postgres.notify_channel is required for realtime on postgres")
	}
	return nil
}

// Default returns an in-memory configuration for local development, tests and the CLI.
func Default() *Configuration {
	return &Configuration{
		Server: ServerConfig{
			Address:        ":8080",
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			IdleTimeout:    60 * time.Second,
			RequestTimeout: 30 * time.Second,
		},
		Store:    StoreConfig{Backend: BackendMemory},
		Postgres: PostgresConfig{NotifyChannel: "incentive_changes", MaxOpenConns: 10},
		Logging: LoggingConfig{
			Level:           "info",
			ErrorSampleRate: 1,
			ServiceName:     "incentives",
		},
		Realtime: RealtimeConfig{Enabled: true, Buffer: 64},
		Payout:   PayoutConfig{DefaultBasePay: "0", CohortConcurrency: 8},
	}
}
