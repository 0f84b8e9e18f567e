package heap

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizingConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*SizingConfig)
		code ConfigErrorCode
	}{
		{"zero interval", func(c *SizingConfig) { c.EvaluationInterval = 0 }, ConfigErrInterval},
		{"negative interval", func(c *SizingConfig) { c.EvaluationInterval = -time.Second }, ConfigErrInterval},
		{"delay below floor", func(c *SizingConfig) { c.UncommitDelay = 100 * time.Millisecond }, ConfigErrDelay},
		{"zero min regions", func(c *SizingConfig) { c.MinRegionsToUncommit = 0 }, ConfigErrMinRegions},
		{"negative min regions", func(c *SizingConfig) { c.MinRegionsToUncommit = -1 }, ConfigErrMinRegions},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultSizingConfig()
			tc.mut(&cfg)

			err := cfg.Validate()
			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tc.code, ce.Code)
		})
	}

	assert.NoError(t, DefaultSizingConfig().Validate())
}

// A delay shorter than the interval is unusual but internally consistent
// and must pass validation.
func TestSizingConfigShortDelayAccepted(t *testing.T) {
	cfg := DefaultSizingConfig()
	cfg.EvaluationInterval = 10 * time.Second
	cfg.UncommitDelay = 2 * time.Second
	assert.NoError(t, cfg.Validate())
}

func TestConfigStoreRejectsInvalidInitial(t *testing.T) {
	cfg := DefaultSizingConfig()
	cfg.MinRegionsToUncommit = 0
	_, err := NewConfigStore(cfg)
	assert.Error(t, err)
}

func TestConfigStoreUpdateVersioning(t *testing.T) {
	store, err := NewConfigStore(DefaultSizingConfig())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), store.Version())

	next := DefaultSizingConfig()
	next.MinRegionsToUncommit = 5
	require.NoError(t, store.Update(next))
	assert.Equal(t, uint64(2), store.Version())
	assert.Equal(t, 5, store.Snapshot().MinRegionsToUncommit)
}

// An invalid dynamic update is refused and leaves the previous snapshot
// in force — never clamped, never partially applied.
func TestConfigStoreRefusesInvalidUpdate(t *testing.T) {
	store, err := NewConfigStore(DefaultSizingConfig())
	require.NoError(t, err)

	bad := DefaultSizingConfig()
	bad.EvaluationInterval = 0
	require.Error(t, store.Update(bad))

	assert.Equal(t, uint64(1), store.Version())
	assert.Equal(t, DefaultEvaluationInterval, store.Snapshot().EvaluationInterval)
}

func TestConfigStoreSetEnabled(t *testing.T) {
	store, err := NewConfigStore(DefaultSizingConfig())
	require.NoError(t, err)

	store.SetEnabled(false)
	assert.False(t, store.Snapshot().Enabled)
	assert.Equal(t, uint64(2), store.Version())
}

func TestParseSizingConfig(t *testing.T) {
	cfg, err := ParseSizingConfig([]byte(`
schema_version: "1.2.0"
sizing:
  evaluation_interval_ms: 30000
  uncommit_delay_ms: 60000
  min_regions_to_uncommit: 3
  enabled: true
`))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.EvaluationInterval)
	assert.Equal(t, time.Minute, cfg.UncommitDelay)
	assert.Equal(t, 3, cfg.MinRegionsToUncommit)
	assert.True(t, cfg.Enabled)
}

func TestParseSizingConfigDefaults(t *testing.T) {
	cfg, err := ParseSizingConfig([]byte(`sizing: {}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultSizingConfig(), cfg)
}

func TestParseSizingConfigRejectsBadValues(t *testing.T) {
	_, err := ParseSizingConfig([]byte(`
sizing:
  uncommit_delay_ms: 100
`))
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ConfigErrDelay, ce.Code)
}

func TestParseSizingConfigSchemaVersion(t *testing.T) {
	_, err := ParseSizingConfig([]byte(`schema_version: "2.0.0"`))
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ConfigErrSchema, ce.Code)

	_, err = ParseSizingConfig([]byte(`schema_version: "not-a-version"`))
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ConfigErrSchema, ce.Code)
}

func TestParseSizingConfigMalformedYAML(t *testing.T) {
	_, err := ParseSizingConfig([]byte("sizing: ["))
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ConfigErrParse, ce.Code)
}

func TestLoadSizingConfigMissingFile(t *testing.T) {
	_, err := LoadSizingConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ConfigErrParse, ce.Code)
}

func TestLoadSizingConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quill.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
schema_version: "1.0.0"
sizing:
  evaluation_interval_ms: 15000
  uncommit_delay_ms: 30000
  min_regions_to_uncommit: 2
`), 0o644))

	cfg, err := LoadSizingConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.EvaluationInterval)
	assert.Equal(t, 30*time.Second, cfg.UncommitDelay)
	assert.Equal(t, 2, cfg.MinRegionsToUncommit)
	assert.True(t, cfg.Enabled)
}
