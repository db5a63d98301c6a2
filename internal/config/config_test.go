package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFallsBackToDefaultsWhenNoKDL(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir, filepath.Join(dir, "data"))
	require.NoError(t, err)
	assert.Equal(t, Default(filepath.Join(dir, "data")).WatchDebounceMs, cfg.WatchDebounceMs)
	assert.Equal(t, Default(filepath.Join(dir, "data")).BatchSize, cfg.BatchSize)
}

func TestLoadParsesKDL(t *testing.T) {
	dir := t.TempDir()
	kdl := `
roots "/home/me/docs" "/home/me/code"
watch {
	debounce_ms 250
}
ingest {
	batch_size 512
	batch_interval_ms 50
}
search {
	max_results 500
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".qfind.kdl"), []byte(kdl), 0o644))

	cfg, err := Load(dir, filepath.Join(dir, "data"))
	require.NoError(t, err)
	assert.Equal(t, []string{"/home/me/docs", "/home/me/code"}, cfg.Roots)
	assert.Equal(t, 250, cfg.WatchDebounceMs)
	assert.Equal(t, 512, cfg.BatchSize)
	assert.Equal(t, 50, cfg.BatchIntervalMs)
	assert.Equal(t, 500, cfg.MaxResults)
}

func TestDefaultExclusionsCoverVCSDirs(t *testing.T) {
	ex := DefaultExclusions()
	assert.Contains(t, ex, "**/.git/**")
}
