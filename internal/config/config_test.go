package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "abstraction.db", cfg.Store.SQLitePath)
	assert.Equal(t, 3, cfg.Store.Retry.MaxAttempts)
	assert.Equal(t, "embedded", cfg.Catalog.Source)
	assert.InDelta(t, 3.0, cfg.Notion.RateLimit, 0.001)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, int64(4096), cfg.Anthropic.MaxTokens)
	assert.Equal(t, "1h", cfg.Anthropic.CacheTTL)
	assert.Equal(t, 4, cfg.Anthropic.Retry.MaxAttempts)
	assert.Equal(t, "file", cfg.Extraction.Source)
	assert.Equal(t, "cases", cfg.Extraction.Dir)
	assert.Equal(t, 8, cfg.Adjudication.MaxConcurrentFields)
	assert.Equal(t, 4, cfg.Adjudication.MaxConcurrentCases)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.False(t, cfg.Monitoring.Enabled)
	assert.InDelta(t, 0.5, cfg.Monitoring.ReviewRateThreshold, 0.001)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/abstraction
catalog:
  source: file
  path: rules.yaml
log:
  level: debug
  format: console
server:
  port: 9090
adjudication:
  max_concurrent_fields: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/abstraction", cfg.Store.DatabaseURL)
	assert.Equal(t, "file", cfg.Catalog.Source)
	assert.Equal(t, "rules.yaml", cfg.Catalog.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Adjudication.MaxConcurrentFields)
	// Defaults still apply for unset values
	assert.Equal(t, 4, cfg.Adjudication.MaxConcurrentCases)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("ABSTRACT_STORE_DRIVER", "postgres")
	t.Setenv("ABSTRACT_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("ABSTRACT_SERVER_PORT", "3000")
	t.Setenv("ABSTRACT_ANTHROPIC_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "sk-test", cfg.Anthropic.Key)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.SQLitePath = "abstraction.db"
	cfg.Catalog.Source = "embedded"
	cfg.Extraction.Source = "file"
	cfg.Adjudication.MaxConcurrentFields = 8
	cfg.Adjudication.MaxConcurrentCases = 4
	cfg.Server.Port = 8080
	return cfg
}

func TestValidate_DefaultsPassEveryMode(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{"run", "batch", "serve", "rules", "trail"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("enrichment")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidate_PostgresNeedsURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url")

	// The rules command never opens the store.
	assert.NoError(t, cfg.Validate("rules"))

	cfg.Store.DatabaseURL = "postgres://localhost/test"
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidate_UnknownDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	err := cfg.Validate("trail")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}

func TestValidate_CatalogSources(t *testing.T) {
	cfg := validDefaults()
	cfg.Catalog.Source = "notion"

	err := cfg.Validate("rules")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notion.token")
	assert.Contains(t, err.Error(), "notion.rule_db")

	cfg.Notion.Token = "ntn_token"
	cfg.Notion.RuleDB = "rule-db-id"
	assert.NoError(t, cfg.Validate("rules"))

	cfg.Catalog.Source = "file"
	err = cfg.Validate("rules")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog.path")

	cfg.Catalog.Source = "spreadsheet"
	assert.Error(t, cfg.Validate("rules"))
}

func TestValidate_ClaudeExtractionNeedsKey(t *testing.T) {
	cfg := validDefaults()
	cfg.Extraction.Source = "claude"

	err := cfg.Validate("batch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key")

	// Serving adjudicates posted bundles and never extracts.
	assert.NoError(t, cfg.Validate("serve"))

	cfg.Anthropic.Key = "sk-test"
	assert.NoError(t, cfg.Validate("batch"))
}

func TestValidateConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Adjudication.MaxConcurrentFields = 0
	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent_fields")

	cfg = validDefaults()
	cfg.Adjudication.MaxConcurrentCases = 0
	assert.NoError(t, cfg.Validate("run"))
	err = cfg.Validate("batch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent_cases")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 70000
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestValidateServe_MonitoringLookback(t *testing.T) {
	cfg := validDefaults()
	cfg.Monitoring.Enabled = true
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring.lookback_window_hours")

	cfg.Monitoring.LookbackWindowHours = 24
	assert.NoError(t, cfg.Validate("serve"))
}

func TestLoadFile_ExplicitPath(t *testing.T) {
	chdirTemp(t)
	path := filepath.Join(t.TempDir(), "abstract.yml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9191\n"), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
}

func TestLoadFile_MissingExplicitPath(t *testing.T) {
	chdirTemp(t)
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}
