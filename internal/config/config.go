// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Metadata backends.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metadata MetadataConfig `mapstructure:"metadata"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Scrape   ScrapeConfig   `mapstructure:"scrape"`
	Frames   FramesConfig   `mapstructure:"frames"`
	Sessions SessionsConfig `mapstructure:"sessions"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MetadataConfig selects where the metadata cache is persisted.
type MetadataConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	Table   string `mapstructure:"table"`
}

// PostgresConfig controls the shared connection pool.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// ScrapeConfig governs metadata scraping and the frame session.
type ScrapeConfig struct {
	Source         string        `mapstructure:"source"`
	BaseURL        string        `mapstructure:"base_url"`
	Identifiers    string        `mapstructure:"identifiers"`
	Period         time.Duration `mapstructure:"period"`
	Duration       time.Duration `mapstructure:"duration"`
	Workers        int           `mapstructure:"workers"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

// FramesConfig sets the frame root and the optional GCS mirror.
type FramesConfig struct {
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// SessionsConfig controls session history in Postgres.
type SessionsConfig struct {
	Record bool   `mapstructure:"record"`
	Table  string `mapstructure:"table"`
}

// MetricsConfig controls the status server, which also serves /metrics.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith is Load on a caller-supplied Viper instance, so command flags
// bound to v take precedence over the file and environment.
func LoadWith(v *viper.Viper, path string) (Config, error) {
	v.SetEnvPrefix("HARVESTER")
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
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("metadata.backend", BackendFile)
	v.SetDefault("metadata.path", "metadata.msgpack")
	v.SetDefault("metadata.table", "webcam_metadata")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_conns", 4)
	v.SetDefault("postgres.min_conns", 0)
	v.SetDefault("postgres.max_conn_lifetime", "30m")
	v.SetDefault("scrape.source", "opentopia")
	v.SetDefault("scrape.base_url", "")
	v.SetDefault("scrape.identifiers", "1:17000")
	v.SetDefault("scrape.period", "5m")
	v.SetDefault("scrape.duration", "168h")
	v.SetDefault("scrape.workers", 100)
	v.SetDefault("scrape.fetch_timeout", "10s")
	v.SetDefault("scrape.user_agent", "webcam-harvester/0.1")
	v.SetDefault("scrape.rate_limit_rps", 2.0)
	v.SetDefault("scrape.rate_limit_burst", 2)
	v.SetDefault("frames.dir", "frames")
	v.SetDefault("frames.gcs_bucket", "")
	v.SetDefault("frames.gcs_prefix", "frames")
	v.SetDefault("sessions.record", false)
	v.SetDefault("sessions.table", "harvest_sessions")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	switch c.Metadata.Backend {
	case BackendFile:
		if c.Metadata.Path == "" {
			errs = append(errs, errors.New("metadata.path must be set for the file backend"))
		}
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres.dsn must be set for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("metadata.backend must be %q or %q, got %q",
			BackendFile, BackendPostgres, c.Metadata.Backend))
	}
	if c.Sessions.Record && c.Postgres.DSN == "" {
		errs = append(errs, errors.New("postgres.dsn must be set when sessions.record is enabled"))
	}
	if c.Scrape.Source == "" {
		errs = append(errs, errors.New("scrape.source must be set"))
	}
	if _, err := ParseRange(c.Scrape.Identifiers); err != nil {
		errs = append(errs, fmt.Errorf("scrape.identifiers: %w", err))
	}
	if c.Scrape.Period <= 0 {
		errs = append(errs, errors.New("scrape.period must be > 0"))
	}
	if c.Scrape.Duration <= 0 {
		errs = append(errs, errors.New("scrape.duration must be > 0"))
	}
	if c.Scrape.Workers <= 0 {
		errs = append(errs, errors.New("scrape.workers must be > 0"))
	}
	if c.Scrape.FetchTimeout <= 0 {
		errs = append(errs, errors.New("scrape.fetch_timeout must be > 0"))
	}
	if c.Scrape.RateLimitRPS < 0 {
		errs = append(errs, errors.New("scrape.rate_limit_rps must be >= 0"))
	}
	if c.Frames.Dir == "" {
		errs = append(errs, errors.New("frames.dir must be set"))
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, errors.New("metrics.addr must be set when metrics are enabled"))
	}
	return errors.Join(errs...)
}
