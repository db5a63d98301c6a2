package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, out <-chan Event, timeout time.Duration) []Event {
	t.Helper()
	var got []Event
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-out:
			got = append(got, ev)
		case <-deadline:
			return got
		}
	}
}

func TestCreateEventIsDebouncedAndForwarded(t *testing.T) {
	dir := t.TempDir()
	out := make(chan Event, 64)
	w, err := New(dir, nil, 30*time.Millisecond, out)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hi"), 0o644))

	events := drain(t, out, 300*time.Millisecond)
	require.NotEmpty(t, events)
	assert.Equal(t, KindCreate, events[len(events)-1].Kind)
}

func TestRapidRewritesCollapseToOneModifyEvent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("1"), 0o644))

	out := make(chan Event, 64)
	w, err := New(dir, nil, 80*time.Millisecond, out)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		time.Sleep(5 * time.Millisecond)
	}

	events := drain(t, out, 400*time.Millisecond)
	count := 0
	for _, ev := range events {
		if ev.Path == path {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestExcludedDirectoryIsNotWatched(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules"), 0o755))

	exclude := func(path string, isDir bool) bool {
		return filepath.Base(path) == "node_modules"
	}
	out := make(chan Event, 64)
	w, err := New(dir, exclude, 30*time.Millisecond, out)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "c.txt"), []byte("c"), 0o644))

	events := drain(t, out, 250*time.Millisecond)
	for _, ev := range events {
		assert.NotContains(t, ev.Path, "node_modules")
	}
}

func TestEventOverflowEmitsDesynchronized(t *testing.T) {
	dir := t.TempDir()
	out := make(chan Event, 8)
	w, err := New(dir, nil, 10*time.Millisecond, out)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)

	w.fsw.Errors <- fsnotify.ErrEventOverflow
	ev := <-out
	assert.Equal(t, KindDesynchronized, ev.Kind)
}
