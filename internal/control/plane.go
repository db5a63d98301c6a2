// Package control implements the Control Plane: it owns the lifecycle of
// every other component and is the only type an external caller (the
// CLI, or an embedding GUI) talks to.
package control

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/localsearch/qfind/internal/config"
	"github.com/localsearch/qfind/internal/crawler"
	"github.com/localsearch/qfind/internal/entry"
	"github.com/localsearch/qfind/internal/ingest"
	"github.com/localsearch/qfind/internal/logging"
	"github.com/localsearch/qfind/internal/metastore"
	"github.com/localsearch/qfind/internal/qerrors"
	"github.com/localsearch/qfind/internal/query"
	"github.com/localsearch/qfind/internal/searchindex"
	"github.com/localsearch/qfind/internal/watcher"
	"github.com/localsearch/qfind/pkg/pathutil"
)

// ProgressEvent is what Plane.Progress() publishes, the in-process
// analogue of an "index-progress" event crossing an IPC boundary.
type ProgressEvent struct {
	Processed uint64
	Total     uint64
}

// BuildStatus is what BuildIndex returns.
type BuildStatus struct {
	Status       string // "started", "completed", or "failed"
	FilesIndexed uint64
	Errors       []string
}

// IndexStatus is what GetIndexStatus returns.
type IndexStatus struct {
	IsReady            bool
	TotalFiles         uint64
	LastUpdated        time.Time
	IndexingInProgress bool
	Error              string
}

// Plane is the Control Plane. It owns MS, SI, the Ingest Pipeline, every
// active Watcher, and the Query Evaluator, and exposes the three
// operations an external UI is allowed to call.
type Plane struct {
	cfg *config.Config

	ms *metastore.Store
	si *searchindex.Index
	ip *ingest.Pipeline
	qe *query.Evaluator

	crawlCh  chan crawler.Event
	watchCh  chan watcher.Event
	progress chan ProgressEvent

	mu       sync.Mutex
	roots    []string
	watchers []*watcher.Watcher
	ctx      context.Context
	cancel   context.CancelFunc
	building bool
}

// Open wires every component together over cfg and starts the Ingest
// Pipeline's background goroutine. The caller must call Close to release
// the Metadata Store's handle and stop all watchers.
func Open(cfg *config.Config) (*Plane, error) {
	ms, err := metastore.Open(filepath.Join(cfg.DataDir, "meta"))
	if err != nil {
		return nil, err
	}
	manifest, err := searchindex.OpenManifestDir(filepath.Join(cfg.DataDir, "index"))
	if err != nil {
		ms.Close()
		return nil, err
	}
	if !manifest.LastRebuilt.IsZero() && !manifest.ClosedCleanly {
		// The process that wrote this manifest started a rebuild and never
		// reached Close(): a crash, a kill -9, a power loss. SI is rebuilt
		// from MS unconditionally below regardless, so there's nothing to
		// repair here, only to report.
		logging.Log("control", "previous shutdown did not complete cleanly (rebuild started %v); rebuilding index from metadata store", manifest.LastRebuilt)
	}

	si := searchindex.New()
	if err := rebuildFromMetastore(ms, si); err != nil {
		ms.Close()
		return nil, err
	}

	crawlCh := make(chan crawler.Event, 8192)
	watchCh := make(chan watcher.Event, 8192)

	p := &Plane{cfg: cfg, ms: ms, si: si, crawlCh: crawlCh, watchCh: watchCh, progress: make(chan ProgressEvent, 16)}
	batchInterval := time.Duration(cfg.BatchIntervalMs) * time.Millisecond
	p.ip = ingest.New(ms, si, crawlCh, watchCh, p.rescan, cfg.BatchSize, batchInterval)
	p.qe = query.New(si, ms, func() bool { return si.Snapshot().Count() > 0 || ms.LastCommitTime().Unix() > 0 }, cfg.MaxResults)

	p.ctx, p.cancel = context.WithCancel(context.Background())
	go p.ip.Run(p.ctx)
	go p.forwardProgress()

	return p, nil
}

// forwardProgress republishes IP's internal progress channel under the
// Control Plane's own name, the in-process analogue of the "index-progress"
// event an embedding GUI subscribes to across an IPC boundary.
func (p *Plane) forwardProgress() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case ev, ok := <-p.ip.Progress():
			if !ok {
				return
			}
			select {
			case p.progress <- ProgressEvent{Processed: ev.Processed, Total: ev.Total}:
			default:
			}
		}
	}
}

func rebuildFromMetastore(ms *metastore.Store, si *searchindex.Index) error {
	var ops []searchindex.Op
	err := ms.All(context.Background(), func(rec entry.Record) error {
		ops = append(ops, searchindex.Insert(rec))
		return nil
	})
	if err != nil {
		return err
	}
	si.Apply(ops)
	return nil
}

// Close stops all watchers and the Ingest Pipeline, writes a clean
// manifest, and closes the Metadata Store.
func (p *Plane) Close() error {
	if p.cancel != nil {
		p.cancel()
	}
	p.qe.Close()

	count, _ := p.ms.Count(context.Background())
	_ = searchindex.WriteManifest(filepath.Join(p.cfg.DataDir, "index"), &searchindex.Manifest{
		ClosedCleanly: true,
		LastRebuilt:   time.Now(),
		EntryCount:    int(count),
	})

	return p.ms.Close()
}

// Progress returns the channel index-progress events are delivered on.
func (p *Plane) Progress() <-chan ProgressEvent { return p.progress }

// BuildIndex starts (or restarts, if force) a crawl of roots. It returns
// as soon as the crawl is scheduled; completion is observable via
// GetIndexStatus and Progress.
func (p *Plane) BuildIndex(ctx context.Context, roots []string, force bool) (BuildStatus, error) {
	p.mu.Lock()
	alreadyIndexed := p.ip.State() == ingest.StateReady
	building := p.building
	p.mu.Unlock()

	if building {
		return BuildStatus{Status: "started"}, nil
	}

	if alreadyIndexed && !force {
		return BuildStatus{Status: "completed", FilesIndexed: 0}, nil
	}

	var normalized []string
	for _, r := range roots {
		abs, err := pathutil.ValidateRoot(r)
		if err != nil {
			return BuildStatus{}, qerrors.InvalidRoot(r, err)
		}
		normalized = append(normalized, abs)
	}

	p.mu.Lock()
	p.roots = normalized
	p.building = true
	p.mu.Unlock()

	p.ip.BeginRebuild()

	// Marking the manifest dirty before the crawl starts (rather than only
	// writing it clean on Close) is what makes ClosedCleanly mean anything:
	// a process that dies mid-rebuild leaves this write as the last one on
	// disk, and the next Open sees it.
	_ = searchindex.WriteManifest(filepath.Join(p.cfg.DataDir, "index"), &searchindex.Manifest{
		ClosedCleanly: false,
		LastRebuilt:   time.Now(),
	})

	go p.runBuild(normalized, force && alreadyIndexed)

	return BuildStatus{Status: "started"}, nil
}

func (p *Plane) runBuild(roots []string, clearFirst bool) {
	defer func() {
		p.mu.Lock()
		p.building = false
		p.mu.Unlock()
	}()

	if clearFirst {
		// A forced rebuild of an already-indexed tree must start from
		// empty: otherwise an entry removed from disk since the last
		// build survives in MS/SI because nothing about a plain re-crawl
		// ever tombstones a path the crawler no longer visits.
		if err := p.ms.Clear(p.ctx); err != nil {
			logging.Log("control", "force rebuild: clearing metastore failed: %v", err)
			return
		}
		p.si.Reset()
	}

	cr := crawler.New(p.cfg.Exclude, p.crawlCh)

	// Counting every root is fast (no Discovered events, no MS/SI work)
	// and happens up front purely to seed a meaningful initial progress
	// total; it runs concurrently per root via errgroup, the same
	// coordinated-goroutine-group pattern the teacher uses for its own
	// parallel directory scans.
	totals := make([]uint64, len(roots))
	g, gctx := errgroup.WithContext(p.ctx)
	for i, root := range roots {
		i, root := i, root
		g.Go(func() error {
			if n, err := cr.Count(gctx, root); err == nil {
				totals[i] = uint64(n)
			}
			return nil
		})
	}
	_ = g.Wait()

	walkGroup, walkCtx := errgroup.WithContext(p.ctx)
	for i, root := range roots {
		i, root := i, root
		walkGroup.Go(func() error {
			total := totals[i]
			if err := cr.Walk(walkCtx, root, &total); err != nil {
				logging.Log("control", "crawl of %s failed: %v", root, err)
				return nil
			}
			p.startWatcher(root)
			return nil
		})
	}
	_ = walkGroup.Wait()
}

func (p *Plane) startWatcher(root string) {
	exclude := func(path string, isDir bool) bool {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return false
		}
		rel = filepath.ToSlash(rel)
		for _, pattern := range p.cfg.Exclude {
			if ok, _ := doublestar.Match(pattern, rel); ok {
				return true
			}
			if isDir {
				if ok, _ := doublestar.Match(pattern, rel+"/"); ok {
					return true
				}
			}
		}
		return false
	}

	debounce := time.Duration(p.cfg.WatchDebounceMs) * time.Millisecond
	w, err := watcher.New(root, exclude, debounce, p.watchCh)
	if err != nil {
		logging.Log("control", "failed to start watcher on %s: %v", root, err)
		return
	}

	p.mu.Lock()
	p.watchers = append(p.watchers, w)
	p.mu.Unlock()

	go func() { _ = w.Run(p.ctx) }()
}

// rescan is the Ingest Pipeline's Desynchronized hook: it reschedules a
// targeted crawl of prefix without disturbing the rest of the index.
func (p *Plane) rescan(prefix string) {
	cr := crawler.New(p.cfg.Exclude, p.crawlCh)
	var total uint64
	go func() {
		if err := cr.Walk(p.ctx, prefix, &total); err != nil {
			logging.Log("control", "rescan of %s failed: %v", prefix, err)
		}
	}()
}

// SearchFiles is a thin dispatch to the Query Evaluator.
func (p *Plane) SearchFiles(ctx context.Context, queryString string, useRegex bool, limit int) (query.Result, error) {
	return p.qe.Search(ctx, queryString, useRegex, limit, time.Second)
}

// GetIndexStatus reports the overall index lifecycle state.
func (p *Plane) GetIndexStatus() IndexStatus {
	p.mu.Lock()
	building := p.building
	p.mu.Unlock()

	state := p.ip.State()
	count, _ := p.ms.Count(context.Background())

	status := IndexStatus{
		IsReady:            state == ingest.StateReady,
		TotalFiles:         count,
		LastUpdated:        p.ms.LastCommitTime(),
		IndexingInProgress: building,
	}
	if state == ingest.StateError {
		if err := p.ip.LastError(); err != nil {
			status.Error = err.Error()
		}
	}
	return status
}
