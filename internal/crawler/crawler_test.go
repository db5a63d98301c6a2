package crawler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("b"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules", "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "pkg", "c.txt"), []byte("c"), 0o644))
	return dir
}

func TestWalkDiscoversAllFilesAndDirs(t *testing.T) {
	root := writeTree(t)
	out := make(chan Event, 64)
	c := New(nil, out)

	var total uint64
	require.NoError(t, c.Walk(context.Background(), root, &total))
	close(out)

	var discovered []string
	var done *Event
	for ev := range out {
		switch ev.Kind {
		case EventDiscovered:
			discovered = append(discovered, ev.Discovered.Path)
		case EventDone:
			e := ev
			done = &e
		}
	}

	require.NotNil(t, done)
	assert.Contains(t, discovered, filepath.Join(root, "a.txt"))
	assert.Contains(t, discovered, filepath.Join(root, "sub"))
	assert.Contains(t, discovered, filepath.Join(root, "sub", "b.txt"))
	assert.Contains(t, discovered, filepath.Join(root, "node_modules", "pkg", "c.txt"))
}

func TestExcludePrunesMatchingSubtree(t *testing.T) {
	root := writeTree(t)
	out := make(chan Event, 64)
	c := New([]string{"**/node_modules/**"}, out)

	var total uint64
	require.NoError(t, c.Walk(context.Background(), root, &total))
	close(out)

	for ev := range out {
		if ev.Kind == EventDiscovered {
			assert.NotContains(t, ev.Discovered.Path, "node_modules")
		}
	}
}

func TestCountMatchesWalkedEntries(t *testing.T) {
	root := writeTree(t)
	out := make(chan Event, 64)
	c := New(nil, out)

	n, err := c.Count(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestWalkInvalidRootReturnsTypedError(t *testing.T) {
	out := make(chan Event, 8)
	c := New(nil, out)
	var total uint64
	err := c.Walk(context.Background(), "/no/such/qfind-root", &total)
	require.Error(t, err)
}

func TestWalkRespectsContextCancellation(t *testing.T) {
	root := writeTree(t)
	out := make(chan Event, 64)
	c := New(nil, out)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var total uint64
	_ = c.Walk(ctx, root, &total)
}
