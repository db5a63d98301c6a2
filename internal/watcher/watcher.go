// Package watcher implements the Watcher: a best-effort subscriber to OS
// filesystem change notifications that debounces rapid-fire events per
// path and treats lost fidelity (buffer overflow, an unmounted root) as
// a first-class Desynchronized event rather than pretending
// notifications are lossless.
package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/localsearch/qfind/internal/logging"
)

// Kind discriminates a Watcher event. RenameTo has no constructor in
// this package: the OS-native notification APIs this Watcher subscribes
// to (inotify via fsnotify) report the new path of a rename as an
// ordinary Create, indistinguishable from a genuinely new file: only the
// old path is tagged Rename. RenameTo exists as a Kind so the Ingest
// Pipeline's event grammar is complete, but Watcher never emits it —
// Create already carries RenameTo's required stat-and-insert semantics.
type Kind int

const (
	KindCreate Kind = iota
	KindModify
	KindDelete
	KindRenameFrom
	KindRenameTo
	KindDesynchronized
)

// Event is a single filesystem change observed (or inferred) by the
// Watcher, already debounced.
type Event struct {
	Kind Kind
	Path string // for KindDesynchronized, the subtree root to rescan
}

const defaultHealthCheckInterval = 2 * time.Second

// Watcher subscribes to recursive filesystem notifications for one root
// and emits debounced Events to Out.
type Watcher struct {
	root     string
	exclude  func(path string, isDir bool) bool
	debounce time.Duration
	out      chan<- Event

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*pendingEvent

	rootHealthy bool
}

// pendingEvent is one path's not-yet-flushed event plus the timer that
// will flush it. Each path owns its own timer so that activity on one
// path can never reset another, already-quiescent path's flush deadline.
type pendingEvent struct {
	kind  Kind
	timer *time.Timer
}

// New returns a Watcher for root. exclude, if non-nil, is consulted
// before a directory is watched or a path's event is forwarded.
func New(root string, exclude func(path string, isDir bool) bool, debounce time.Duration, out chan<- Event) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		root:        root,
		exclude:     exclude,
		debounce:    debounce,
		out:         out,
		fsw:         fsw,
		pending:     make(map[string]*pendingEvent),
		rootHealthy: true,
	}, nil
}

// Run adds recursive watches under root and processes events until ctx
// is cancelled. It blocks; callers should run it in its own goroutine.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.addRecursive(w.root); err != nil {
		logging.Log("watcher", "initial watch of %s failed: %v", w.root, err)
	}

	health := time.NewTicker(defaultHealthCheckInterval)
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			return w.fsw.Close()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleFsEvent(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				logging.Log("watcher", "event overflow on %s, triggering rescan", w.root)
				w.emit(Event{Kind: KindDesynchronized, Path: w.root})
				continue
			}
			logging.Log("watcher", "error: %v", err)

		case <-health.C:
			w.checkRootHealth()
		}
	}
}

func (w *Watcher) checkRootHealth() {
	_, err := os.Stat(w.root)
	if err != nil {
		if w.rootHealthy {
			logging.Log("watcher", "root %s became unreachable", w.root)
		}
		w.rootHealthy = false
		return
	}
	if !w.rootHealthy {
		logging.Log("watcher", "root %s reachable again, re-subscribing", w.root)
		w.rootHealthy = true
		if err := w.addRecursive(w.root); err != nil {
			logging.Log("watcher", "re-subscribe failed: %v", err)
		}
		w.emit(Event{Kind: KindDesynchronized, Path: w.root})
	}
}

func (w *Watcher) addRecursive(root string) error {
	visited := make(map[string]bool)
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		real, err := filepath.EvalSymlinks(path)
		if err != nil {
			return nil
		}
		if visited[real] {
			return filepath.SkipDir
		}
		visited[real] = true

		if w.exclude != nil && path != root && w.exclude(path, true) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			logging.Log("watcher", "failed to watch %s: %v", path, err)
		}
		return nil
	})
}

func (w *Watcher) handleFsEvent(ev fsnotify.Event) {
	path := ev.Name

	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if w.exclude == nil || !w.exclude(path, true) {
				if err := w.fsw.Add(path); err != nil {
					logging.Log("watcher", "failed to watch new directory %s: %v", path, err)
				}
			}
		}
	}

	if w.exclude != nil {
		info, statErr := os.Stat(path)
		isDir := statErr == nil && info.IsDir()
		if w.exclude(path, isDir) {
			return
		}
	}

	var kind Kind
	switch {
	case ev.Op&fsnotify.Create != 0:
		kind = KindCreate
	case ev.Op&fsnotify.Write != 0:
		kind = KindModify
	case ev.Op&fsnotify.Remove != 0:
		kind = KindDelete
	case ev.Op&fsnotify.Rename != 0:
		kind = KindRenameFrom
	default:
		return
	}

	w.debounceEvent(path, kind)
}

func (w *Watcher) debounceEvent(path string, kind Kind) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if pe, ok := w.pending[path]; ok {
		// A write right after a create is still reported as the create.
		if !(pe.kind == KindCreate && kind == KindModify) {
			pe.kind = kind
		}
		pe.timer.Stop()
		pe.timer = time.AfterFunc(w.debounce, func() { w.flush(path) })
		return
	}
	w.pending[path] = &pendingEvent{
		kind:  kind,
		timer: time.AfterFunc(w.debounce, func() { w.flush(path) }),
	}
}

func (w *Watcher) flush(path string) {
	w.mu.Lock()
	pe, ok := w.pending[path]
	if !ok {
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	kind := pe.kind
	w.mu.Unlock()

	w.emit(Event{Kind: kind, Path: path})
}

func (w *Watcher) emit(ev Event) {
	select {
	case w.out <- ev:
	default:
		// Output is full: the consumer (Ingest Pipeline) is falling
		// behind. Collapsing to Desynchronized rather than blocking or
		// dropping silently matches the overflow policy for WA's
		// outbound channel.
		select {
		case w.out <- Event{Kind: KindDesynchronized, Path: ev.Path}:
		default:
		}
	}
}
