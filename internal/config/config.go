// Package config loads the mailroute binary configuration.
//
// Values come from, in increasing precedence: built-in defaults, a YAML
// file, and MAILROUTE_ environment variables with dots replaced by
// underscores (MAILROUTE_DATABASE_TYPE overrides database.type).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rbaliyan/mailroute/filter"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "MAILROUTE"

// Database types.
const (
	DatabaseMemory   = "memory"
	DatabaseSQLite   = "sqlite"
	DatabasePostgres = "postgres"
	DatabaseMongo    = "mongo"
)

// Archive types.
const (
	ArchiveNone = "none"
	ArchiveS3   = "s3"
	ArchiveGCS  = "gcs"
)

// Config is the global binary configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Reclaim   ReclaimConfig   `mapstructure:"reclaim"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Rules     []RuleConfig    `mapstructure:"rules"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text or json
}

// DatabaseConfig selects and addresses the message store.
type DatabaseConfig struct {
	Type    string        `mapstructure:"type"`
	Path    string        `mapstructure:"path"` // sqlite
	DSN     string        `mapstructure:"dsn"`  // postgres
	URI     string        `mapstructure:"uri"`  // mongo
	Name    string        `mapstructure:"name"` // mongo database
	Timeout time.Duration `mapstructure:"timeout"`
	// Prefix is prepended to table or collection names.
	Prefix string `mapstructure:"prefix"`
}

// RedisConfig enables the Redis Streams event transport when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ArchiveConfig selects where purged messages are archived.
type ArchiveConfig struct {
	Type            string `mapstructure:"type"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	PathStyle       bool   `mapstructure:"path_style"`
	CredentialsFile string `mapstructure:"credentials_file"`
	// RoleARN, when set, makes the S3 archiver assume this role.
	RoleARN    string `mapstructure:"role_arn"`
	ExternalID string `mapstructure:"external_id"`
	// SlowWrite logs archive writes slower than this when telemetry is on.
	SlowWrite time.Duration `mapstructure:"slow_write"`
}

// ReclaimConfig controls trash reclamation.
type ReclaimConfig struct {
	// OnRead sweeps expired trash before every listing. When false,
	// serve runs the sweep on Schedule instead.
	OnRead     bool          `mapstructure:"on_read"`
	Schedule   string        `mapstructure:"schedule"`
	RunTimeout time.Duration `mapstructure:"run_timeout"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RuleConfig is one routing rule. Verdict is "stage-priority" or "discard".
type RuleConfig struct {
	Keyword string `mapstructure:"keyword"`
	Verdict string `mapstructure:"verdict"`
}

// TelemetryConfig toggles OpenTelemetry and the Prometheus endpoint.
type TelemetryConfig struct {
	Tracing     bool   `mapstructure:"tracing"`
	Metrics     bool   `mapstructure:"metrics"`
	Prometheus  bool   `mapstructure:"prometheus"`
	ServiceName string `mapstructure:"service_name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("database.type", DatabaseSQLite)
	v.SetDefault("database.path", "mailroute.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.uri", "")
	v.SetDefault("database.name", "mailroute")
	v.SetDefault("database.timeout", 30*time.Second)
	v.SetDefault("database.prefix", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("archive.type", ArchiveNone)
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "purged")
	v.SetDefault("archive.region", "")
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("archive.path_style", false)
	v.SetDefault("archive.credentials_file", "")
	v.SetDefault("archive.role_arn", "")
	v.SetDefault("archive.external_id", "")
	v.SetDefault("archive.slow_write", 5*time.Second)

	v.SetDefault("reclaim.on_read", true)
	v.SetDefault("reclaim.schedule", "@every 1h")
	v.SetDefault("reclaim.run_timeout", 5*time.Minute)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 15*time.Second)

	v.SetDefault("rules", []map[string]any{
		{"keyword": "urgente", "verdict": "stage-priority"},
		{"keyword": "spam", "verdict": "discard"},
	})

	v.SetDefault("telemetry.tracing", false)
	v.SetDefault("telemetry.metrics", false)
	v.SetDefault("telemetry.prometheus", true)
	v.SetDefault("telemetry.service_name", "mailroute")
}

// Load reads the configuration. An empty path uses defaults and
// environment only; a missing file at an explicit path is an error.
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

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Type {
	case DatabaseMemory:
	case DatabaseSQLite:
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	case DatabasePostgres:
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for postgres"))
		}
	case DatabaseMongo:
		if c.Database.URI == "" {
			errs = append(errs, errors.New("database.uri is required for mongo"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database.type %q", c.Database.Type))
	}

	switch c.Archive.Type {
	case ArchiveNone, "":
	case ArchiveS3, ArchiveGCS:
		if c.Archive.Bucket == "" {
			errs = append(errs, fmt.Errorf("archive.bucket is required for %s", c.Archive.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown archive.type %q", c.Archive.Type))
	}

	if _, err := c.Routing(); err != nil {
		errs = append(errs, err)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Routing builds the routing rules in configured order.
func (c *Config) Routing() (*filter.Rules, error) {
	rules := filter.New()
	for i, r := range c.Rules {
		if strings.TrimSpace(r.Keyword) == "" {
			return nil, fmt.Errorf("rules[%d]: keyword is required", i)
		}
		v, err := filter.ParseVerdict(r.Verdict)
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		rules.Add(r.Keyword, v)
	}
	return rules, nil
}

// NewLogger builds the process logger writing to stderr.
func (c LogConfig) NewLogger() *slog.Logger {
	level, err := parseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log.level %q", s)
	}
	return level, nil
}
