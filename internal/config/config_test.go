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
	assert.Equal(t, "supervisors.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.InDelta(t, 1.0, cfg.Fetch.RatePerDomain, 0.001)
	assert.Equal(t, 5, cfg.Fetch.MaxInFlight)
	assert.Equal(t, 168, cfg.Fetch.CacheTTLHours)
	assert.Equal(t, 5, cfg.Pipeline.MaxConcurrentDomains)
	assert.Equal(t, 30, cfg.Pipeline.MaxProfilesPerDomain)
	assert.Equal(t, 100, cfg.Select.Target)
	assert.Equal(t, 10, cfg.Select.MaxPerInstitution)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, DefaultThresholds(), cfg.Thresholds)
	assert.False(t, cfg.Monitoring.Enabled)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)
	assert.InDelta(t, 0.4, cfg.Monitoring.DropReasonShare, 0.001)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/supervisors
log:
  level: debug
  format: console
thresholds:
  min_profile_links: 10
select:
  target: 50
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 10, cfg.Thresholds.MinProfileLinks)
	assert.Equal(t, 50, cfg.Select.Target)
	// Defaults still apply for unset values
	assert.Equal(t, 5, cfg.Thresholds.ConservativeProfileLinks)
	assert.InDelta(t, 0.35, cfg.Thresholds.CoreTierScore, 0.001)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("SUPERVISOR_STORE_DRIVER", "postgres")
	t.Setenv("SUPERVISOR_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SUPERVISOR_SERVER_PORT=3000\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("SUPERVISOR_SERVER_PORT") }) //nolint:errcheck

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
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
	cfg.Store.DatabaseURL = "test.db"
	cfg.Fetch.RatePerDomain = 1
	cfg.Fetch.MaxInFlight = 5
	cfg.Pipeline.MaxConcurrentDomains = 5
	cfg.Select.Target = 100
	cfg.Server.Port = 8080
	cfg.SeedsPath = "seeds.yaml"
	cfg.Thresholds = DefaultThresholds()
	return cfg
}

func TestValidateRun(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("run"))

	cfg.Fetch.MaxInFlight = 0
	cfg.SeedsPath = ""
	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch.max_in_flight must be between 1 and 50")
	assert.Contains(t, err.Error(), "seeds_path is required")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateBadDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	err := cfg.Validate("select")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}

func TestThresholdsValidate(t *testing.T) {
	th := DefaultThresholds()
	assert.NoError(t, th.Validate())

	th.ConservativeProfileLinks = 20
	th.PIMinFitScore = 0.5
	err := th.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conservative_profile_links")
	assert.Contains(t, err.Error(), "pi_min_fit_score")
}

func TestThresholdsFitFloor(t *testing.T) {
	th := DefaultThresholds()
	assert.InDelta(t, 0.1, th.FitFloor(false), 0.0001)
	assert.InDelta(t, 0.05, th.FitFloor(true), 0.0001)
}

func TestParseResearchProfile(t *testing.T) {
	p, err := ParseResearchProfile([]byte(`
core_keywords: [" Machine Learning", "machine learning", "NLP"]
adjacent_keywords: [statistics]
negative_keywords: [Dentistry]
required_context: []
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"machine learning", "nlp"}, p.CoreKeywords)
	assert.Equal(t, []string{"statistics"}, p.AdjacentKeywords)
	assert.Equal(t, []string{"dentistry"}, p.NegativeKeywords)
	assert.Empty(t, p.RequiredContext)
}

func TestParseResearchProfile_NoCore(t *testing.T) {
	_, err := ParseResearchProfile([]byte("adjacent_keywords: [a]\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no core_keywords")
}

func TestLoadResearchProfile_Missing(t *testing.T) {
	_, err := LoadResearchProfile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
