package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rbaliyan/mailroute/filter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mailroute.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DatabaseSQLite, cfg.Database.Type)
	assert.Equal(t, "mailroute.db", cfg.Database.Path)
	assert.Equal(t, 30*time.Second, cfg.Database.Timeout)
	assert.Equal(t, ArchiveNone, cfg.Archive.Type)
	assert.Equal(t, 5*time.Second, cfg.Archive.SlowWrite)
	assert.True(t, cfg.Reclaim.OnRead)
	assert.Equal(t, "@every 1h", cfg.Reclaim.Schedule)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "mailroute", cfg.Telemetry.ServiceName)

	rules, err := cfg.Routing()
	require.NoError(t, err)
	assert.Equal(t, filter.StagePriority, rules.Apply("URGENTE"))
	assert.Equal(t, filter.Discard, rules.Apply("spam"))
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: json
database:
  type: postgres
  dsn: postgres://localhost/mail?sslmode=disable
reclaim:
  on_read: false
  schedule: "@every 10m"
  run_timeout: 90s
archive:
  type: s3
  bucket: mail-archive
  path_style: true
  role_arn: arn:aws:iam::123456789012:role/mail-archive
rules:
  - keyword: Factura
    verdict: stage-priority
  - keyword: casino
    verdict: discard
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, DatabasePostgres, cfg.Database.Type)
	assert.False(t, cfg.Reclaim.OnRead)
	assert.Equal(t, 90*time.Second, cfg.Reclaim.RunTimeout)
	assert.Equal(t, "mail-archive", cfg.Archive.Bucket)
	assert.True(t, cfg.Archive.PathStyle)
	assert.Equal(t, "arn:aws:iam::123456789012:role/mail-archive", cfg.Archive.RoleARN)
	assert.Equal(t, "purged", cfg.Archive.Prefix, "unset keys keep defaults")

	rules, err := cfg.Routing()
	require.NoError(t, err)
	require.Equal(t, 2, rules.Len())
	assert.Equal(t, filter.StagePriority, rules.Apply("tu factura"))
	assert.Equal(t, filter.None, rules.Apply("urgente"), "file rules replace the defaults")
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "database:\n  type: sqlite\n  path: file.db\n")
	t.Setenv("MAILROUTE_DATABASE_PATH", "/var/lib/mailroute/env.db")
	t.Setenv("MAILROUTE_HTTP_ADDR", "127.0.0.1:9000")
	t.Setenv("MAILROUTE_RECLAIM_ON_READ", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/mailroute/env.db", cfg.Database.Path)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Addr)
	assert.False(t, cfg.Reclaim.OnRead)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"unknown database", func(c *Config) { c.Database.Type = "oracle" }, `unknown database.type "oracle"`},
		{"postgres without dsn", func(c *Config) { c.Database.Type = DatabasePostgres }, "database.dsn is required"},
		{"mongo without uri", func(c *Config) { c.Database.Type = DatabaseMongo }, "database.uri is required"},
		{"archive without bucket", func(c *Config) { c.Archive.Type = ArchiveGCS }, "archive.bucket is required for gcs"},
		{"unknown archive", func(c *Config) { c.Archive.Type = "ftp" }, `unknown archive.type "ftp"`},
		{"bad verdict", func(c *Config) { c.Rules = []RuleConfig{{Keyword: "x", Verdict: "bounce"}} }, "rules[0]"},
		{"empty keyword", func(c *Config) { c.Rules = []RuleConfig{{Keyword: " ", Verdict: "discard"}} }, "keyword is required"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, `unknown log.level "loud"`},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, `unknown log.format "xml"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	t.Run("memory needs nothing", func(t *testing.T) {
		cfg := base()
		cfg.Database.Type = DatabaseMemory
		cfg.Database.Path = ""
		assert.NoError(t, cfg.Validate())
	})
}

func TestNewLogger(t *testing.T) {
	assert.NotNil(t, LogConfig{Level: "debug", Format: "json"}.NewLogger())
	assert.NotNil(t, LogConfig{Level: "nonsense", Format: "text"}.NewLogger())
}
