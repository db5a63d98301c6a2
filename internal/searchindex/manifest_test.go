package searchindex

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localsearch/qfind/internal/qerrors"
)

func TestOpenManifestDirOnFreshDirReturnsEmptyManifest(t *testing.T) {
	dir := t.TempDir()
	m, err := OpenManifestDir(dir)
	require.NoError(t, err)
	assert.False(t, m.ClosedCleanly)
	assert.True(t, m.LastRebuilt.IsZero())
}

func TestWriteManifestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	_, err := OpenManifestDir(dir)
	require.NoError(t, err)

	now := time.Now().Truncate(time.Second)
	require.NoError(t, WriteManifest(dir, &Manifest{ClosedCleanly: true, LastRebuilt: now, EntryCount: 7}))

	m, err := OpenManifestDir(dir)
	require.NoError(t, err)
	assert.True(t, m.ClosedCleanly)
	assert.True(t, m.LastRebuilt.Equal(now))
	assert.Equal(t, 7, m.EntryCount)
}

func TestManifestClosedCleanlyFalseSurvivesAnUnfinishedRebuild(t *testing.T) {
	dir := t.TempDir()
	_, err := OpenManifestDir(dir)
	require.NoError(t, err)

	// Simulates the write a build makes before crawling starts: if the
	// process dies before Close() ever runs a second write, this is what
	// the next OpenManifestDir reads back.
	require.NoError(t, WriteManifest(dir, &Manifest{ClosedCleanly: false, LastRebuilt: time.Now()}))

	m, err := OpenManifestDir(dir)
	require.NoError(t, err)
	assert.False(t, m.ClosedCleanly)
	assert.False(t, m.LastRebuilt.IsZero())
}

func TestIncompatibleManifestVersionRejected(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "VERSION"), []byte("99"), 0o644))

	_, err := OpenManifestDir(dir)
	require.Error(t, err)
	qe, ok := err.(*qerrors.Error)
	require.True(t, ok)
	assert.Equal(t, qerrors.KindIncompatibleVersion, qe.Kind)
}
