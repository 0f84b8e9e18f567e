package heap

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, path string, intervalMS, delayMS int64, minRegions int) {
	t.Helper()
	data := fmt.Sprintf(`
schema_version: "1.0.0"
sizing:
  evaluation_interval_ms: %d
  uncommit_delay_ms: %d
  min_regions_to_uncommit: %d
`, intervalMS, delayMS, minRegions)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
}

func TestConfigWatcherAppliesUpdates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quill.yaml")
	writeConfigFile(t, path, 30000, 60000, 2)

	cfg, err := LoadSizingConfig(path)
	require.NoError(t, err)
	store, err := NewConfigStore(cfg)
	require.NoError(t, err)

	cw, err := NewConfigWatcher(path, store, quietLogger())
	require.NoError(t, err)
	defer cw.Close()

	writeConfigFile(t, path, 45000, 90000, 4)

	require.Eventually(t, func() bool {
		return store.Snapshot().MinRegionsToUncommit == 4
	}, 5*time.Second, 10*time.Millisecond)

	snap := store.Snapshot()
	assert.Equal(t, 45*time.Second, snap.EvaluationInterval)
	assert.Equal(t, 90*time.Second, snap.UncommitDelay)
}

// An invalid rewrite is rejected at the boundary and the last good
// configuration stays in force.
func TestConfigWatcherKeepsLastGoodConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quill.yaml")
	writeConfigFile(t, path, 30000, 60000, 2)

	cfg, err := LoadSizingConfig(path)
	require.NoError(t, err)
	store, err := NewConfigStore(cfg)
	require.NoError(t, err)

	cw, err := NewConfigWatcher(path, store, quietLogger())
	require.NoError(t, err)
	defer cw.Close()

	// uncommit_delay_ms below the floor must be refused.
	writeConfigFile(t, path, 30000, 100, 2)

	// Give the watcher time to observe and reject the update.
	time.Sleep(200 * time.Millisecond)
	snap := store.Snapshot()
	assert.Equal(t, 30*time.Second, snap.EvaluationInterval)
	assert.Equal(t, time.Minute, snap.UncommitDelay)
	assert.Equal(t, uint64(1), store.Version())
}

func TestConfigWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quill.yaml")
	writeConfigFile(t, path, 30000, 60000, 2)

	cfg, err := LoadSizingConfig(path)
	require.NoError(t, err)
	store, err := NewConfigStore(cfg)
	require.NoError(t, err)

	cw, err := NewConfigWatcher(path, store, quietLogger())
	require.NoError(t, err)
	defer cw.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("sizing:\n  min_regions_to_uncommit: 9\n"), 0o644))

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, uint64(1), store.Version())
	assert.Equal(t, 2, store.Snapshot().MinRegionsToUncommit)
}
