// Package crawler implements the Crawler: a recursive, depth-first
// filesystem walker that emits Discovered entries to the Ingest
// Pipeline and reports progress periodically.
package crawler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/localsearch/qfind/internal/entry"
	"github.com/localsearch/qfind/internal/logging"
	"github.com/localsearch/qfind/internal/qerrors"
)

// progressEvery bounds how often Progress events fire during a crawl:
// every N entries or every interval, whichever comes first.
const progressEvery = 1000

const progressInterval = 250 * time.Millisecond

// EventKind discriminates the events a Crawler emits.
type EventKind int

const (
	EventDiscovered EventKind = iota
	EventProgress
	EventDone
)

// Event is what a Crawler sends on its output channel. Exactly one of
// the kind-specific fields is meaningful for a given Kind.
type Event struct {
	Kind EventKind

	Discovered entry.Record // EventDiscovered

	Processed     uint64 // EventProgress
	TotalEstimate uint64 // EventProgress, monotonically non-decreasing

	Total  uint64   // EventDone
	Errors []string // EventDone, per-root errors that were skipped, not fatal
}

// Crawler walks a set of roots, applying the configured exclusions, and
// emits Events to Out. It does not read file content and does not
// follow symlinked directories.
type Crawler struct {
	Exclude []string // doublestar patterns, matched against the path relative to its root
	Out     chan<- Event
}

// New returns a Crawler writing events to out.
func New(exclude []string, out chan<- Event) *Crawler {
	return &Crawler{Exclude: exclude, Out: out}
}

// Count performs a fast dry-run walk of root, applying the same
// exclusions as Walk, and returns the number of entries it would visit;
// like Walk, it does not count a root directory itself. The Control Plane uses this to seed total_estimate before a full
// crawl's first progress event.
func (c *Crawler) Count(ctx context.Context, root string) (int, error) {
	visited := make(map[string]bool)
	var n int
	err := filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if walkErr != nil {
			return nil
		}
		if info.IsDir() {
			if skip := c.checkCycle(path, visited); skip {
				return filepath.SkipDir
			}
		}
		if path == root && info.IsDir() {
			return nil
		}
		if c.excluded(root, path, info.IsDir()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		n++
		return nil
	})
	return n, err
}

// Walk crawls root, sending a Discovered event per live entry below a
// root directory (the root directory itself is not emitted) and a
// final Done event with the root's total and any skipped errors. It
// returns qerrors.InvalidRoot if root itself cannot be walked at all.
func (c *Crawler) Walk(ctx context.Context, root string, totalEstimate *uint64) error {
	if _, err := os.Stat(root); err != nil {
		return qerrors.InvalidRoot(root, err)
	}

	visited := make(map[string]bool)
	var processed uint64
	var errs []string
	lastProgress := time.Now()

	err := filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if walkErr != nil {
			errs = append(errs, walkErr.Error())
			logging.Log("crawler", "skipping %s: %v", path, walkErr)
			if os.IsPermission(walkErr) && info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if info.IsDir() {
			if skip := c.checkCycle(path, visited); skip {
				return filepath.SkipDir
			}
		}
		if path == root && info.IsDir() {
			return nil
		}

		if c.excluded(root, path, info.IsDir()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rec := entry.New(path, uint64(info.Size()), info.ModTime(), info.IsDir())
		c.send(ctx, Event{Kind: EventDiscovered, Discovered: rec})
		processed++

		if processed%progressEvery == 0 || time.Since(lastProgress) >= progressInterval {
			if processed > *totalEstimate {
				*totalEstimate = processed
			}
			c.send(ctx, Event{Kind: EventProgress, Processed: processed, TotalEstimate: *totalEstimate})
			lastProgress = time.Now()
		}
		return nil
	})
	if err != nil && err != ctx.Err() {
		errs = append(errs, err.Error())
	}

	if processed > *totalEstimate {
		*totalEstimate = processed
	}
	c.send(ctx, Event{Kind: EventDone, Total: processed, Errors: errs})
	return nil
}

func (c *Crawler) checkCycle(path string, visited map[string]bool) bool {
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		return true
	}
	if visited[real] {
		return true
	}
	visited[real] = true
	return false
}

func (c *Crawler) excluded(root, path string, isDir bool) bool {
	if path == root {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range c.Exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		if isDir {
			if ok, _ := doublestar.Match(pattern, rel+"/"); ok {
				return true
			}
		}
		if ok, _ := doublestar.Match(strings.TrimSuffix(pattern, "/**"), rel); ok && strings.HasSuffix(pattern, "/**") {
			return true
		}
	}
	return false
}

func (c *Crawler) send(ctx context.Context, ev Event) {
	select {
	case c.Out <- ev:
	case <-ctx.Done():
	}
}
