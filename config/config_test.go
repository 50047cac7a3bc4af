package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV_FILE", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")
	t.Setenv("DB_DRIVER", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr())
	assert.Equal(t, []string{"title"}, cfg.Curriculum.FrenchFields)
	assert.Equal(t, 6*time.Hour, cfg.Sweep.Interval)
	assert.True(t, cfg.IsDevelopment())
	assert.True(t, cfg.RedisEnabled())
	assert.Equal(t, time.UTC, cfg.SweepLocation())
}

func TestLoadBuildsPostgresURL(t *testing.T) {
	t.Setenv("ENV_FILE", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_DRIVER", "")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "coach")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("HTTP_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "postgres://coach:secret@db:5432/curriculum?sslmode=disable", cfg.Database.URL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.AllowedOrigins)
}

func TestLoadReadsDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("CURRICULUM_TEST_MARKER=from-file\nSWEEP_CRON=0 4 * * *\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("CURRICULUM_TEST_MARKER")
		_ = os.Unsetenv("SWEEP_CRON")
	})
	t.Setenv("ENV_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file", os.Getenv("CURRICULUM_TEST_MARKER"))
	assert.Equal(t, "0 4 * * *", cfg.Sweep.Cron)

	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	_, err = Load()
	assert.NoError(t, err, "a missing env file is not an error")
}

func validConfig() *Config {
	return &Config{
		App:        AppConfig{Environment: EnvDevelopment},
		Database:   DatabaseConfig{Driver: DriverSQLite, SQLitePath: "x.db"},
		HTTP:       HTTPConfig{Port: 8080, MaxUploadBytes: 1 << 20},
		Auth:       AuthConfig{AuthorRoles: []string{"author"}},
		Curriculum: CurriculumConfig{FrenchFields: []string{"title", "content"}},
		Sweep:      SweepConfig{Enabled: true, Interval: time.Hour, Timezone: "UTC"},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	cfg := validConfig()
	cfg.App.Environment = EnvProduction
	cfg.Auth.JWTSecret = "short"
	cfg.Curriculum.FrenchFields = []string{"title", "media"}
	cfg.Curriculum.MaxAttempts = -1
	cfg.Sweep.Interval = 0
	cfg.Sweep.Timezone = "Mars/Olympus"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"sqlite driver is not allowed in production",
		"JWT_SECRET",
		`unknown field "media"`,
		"CURRICULUM_MAX_ATTEMPTS",
		"SWEEP_INTERVAL",
		"SWEEP_TIMEZONE",
	} {
		assert.Contains(t, err.Error(), want)
	}

	cfg = validConfig()
	cfg.Database.Driver = "mongo"
	assert.ErrorContains(t, cfg.Validate(), "DB_DRIVER")
}

func TestFeatureFlags(t *testing.T) {
	t.Setenv("FEATURE_TRANSFER_XLSX", "false")
	t.Setenv("FEATURE_EVENTS_PROGRESS", "30")

	ff := LoadFeatureFlags()
	assert.False(t, ff.Enabled(FeatureXLSXTransfer))
	assert.True(t, ff.Enabled(FeatureCourseTreeCache))
	assert.False(t, ff.Enabled(FeatureProgressEvents), "partial rollouts are off globally")
	assert.False(t, ff.EnabledFor(FeatureProgressEvents, ""))

	in := 0
	for _, u := range []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8", "u9", "u10"} {
		first := ff.EnabledFor(FeatureProgressEvents, u)
		assert.Equal(t, first, ff.EnabledFor(FeatureProgressEvents, u), "bucket is stable")
		if first {
			in++
		}
	}
	assert.Equal(t, 5, in)

	ff.SetUserOverride("support", FeatureXLSXTransfer, true)
	assert.True(t, ff.EnabledFor(FeatureXLSXTransfer, "support"))
	assert.False(t, ff.EnabledFor(FeatureXLSXTransfer, "someone"))

	require.NoError(t, ff.EnableFeature(FeatureXLSXTransfer))
	assert.True(t, ff.Enabled(FeatureXLSXTransfer))
	assert.ErrorIs(t, ff.SetRolloutPercent("nope", 10), ErrFeatureNotFound)
	assert.ErrorIs(t, ff.SetRolloutPercent(FeatureXLSXTransfer, 101), ErrInvalidRolloutPercent)

	snap := ff.Snapshot()
	require.Len(t, snap, 6)
	assert.Equal(t, FeatureCourseTreeCache, snap[0].Name)
}
