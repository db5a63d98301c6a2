// Package ingest implements the Ingest Pipeline: the single writer that
// serializes Crawler and Watcher events, applies them atomically to the
// Metadata Store and the Search Index (in that order), and reports
// progress.
package ingest

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/localsearch/qfind/internal/crawler"
	"github.com/localsearch/qfind/internal/entry"
	"github.com/localsearch/qfind/internal/logging"
	"github.com/localsearch/qfind/internal/metastore"
	"github.com/localsearch/qfind/internal/qerrors"
	"github.com/localsearch/qfind/internal/searchindex"
	"github.com/localsearch/qfind/internal/watcher"
)

const (
	defaultBatchSize     = 1024
	defaultBatchInterval = 100 * time.Millisecond
	maxCommitRetry       = 5
)

// State is the overall index lifecycle state, per spec.md §4.5's state
// machine.
type State int

const (
	StateEmpty State = iota
	StateRebuilding
	StateReady
	StateError
)

// Progress is one index-progress notification. Total is CR's current
// estimate while a crawl is in flight, and the live MS count afterward.
type Progress struct {
	Processed uint64
	Total     uint64
}

// Pipeline is the Ingest Pipeline. It owns the only write paths into MS
// and SI: every other component reaches them only indirectly, through
// Pipeline's event channels.
type Pipeline struct {
	ms *metastore.Store
	si *searchindex.Index

	crawlerEvents <-chan crawler.Event
	watcherEvents <-chan watcher.Event

	progress chan Progress
	rescan   func(prefix string)

	batchSize     int
	batchInterval time.Duration

	mu         sync.Mutex
	state      State
	totalEst   uint64
	lastErr    error
	crawlErrs  []string
}

// New builds a Pipeline reading from crawlCh and watchCh. rescan is
// called when a Desynchronized event asks IP to request a targeted
// rescan of a subtree; the Control Plane supplies it since only the
// Control Plane owns the Crawler's lifecycle. batchSize <= 0 and
// batchInterval <= 0 fall back to defaultBatchSize/defaultBatchInterval.
func New(ms *metastore.Store, si *searchindex.Index, crawlCh <-chan crawler.Event, watchCh <-chan watcher.Event, rescan func(prefix string), batchSize int, batchInterval time.Duration) *Pipeline {
	initial := StateEmpty
	if si.Snapshot().Count() > 0 {
		initial = StateReady
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if batchInterval <= 0 {
		batchInterval = defaultBatchInterval
	}
	return &Pipeline{
		ms:            ms,
		si:            si,
		crawlerEvents: crawlCh,
		watcherEvents: watchCh,
		progress:      make(chan Progress, 16),
		rescan:        rescan,
		state:         initial,
		batchSize:     batchSize,
		batchInterval: batchInterval,
	}
}

// Progress returns the channel status updates are published on.
func (p *Pipeline) Progress() <-chan Progress { return p.progress }

// State returns the index's current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// LastError returns the last persistent commit error, if the pipeline is
// in StateError.
func (p *Pipeline) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// CrawlErrors returns the per-entry errors accumulated by the most
// recent crawl, for surfacing through get_index_status.
func (p *Pipeline) CrawlErrors() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.crawlErrs...)
}

// BeginRebuild transitions the pipeline to Rebuilding ahead of a crawl
// CP is about to start.
func (p *Pipeline) BeginRebuild() {
	p.mu.Lock()
	p.state = StateRebuilding
	p.totalEst = 0
	p.lastErr = nil
	p.crawlErrs = nil
	p.mu.Unlock()
}

// pendingOp is the batch's last-write-wins decision for one path, keyed
// by path rather than id so that a create+delete pair on the same path
// within a batch collapses correctly even though a delete's id must be
// derived rather than looked up.
type pendingOp struct {
	remove bool
	record entry.Record
}

// Run drains crawlerEvents and watcherEvents until ctx is cancelled,
// batching by count or time and committing MS then SI per batch. It
// blocks; callers run it in its own goroutine.
func (p *Pipeline) Run(ctx context.Context) {
	batch := make(map[string]pendingOp)
	timer := time.NewTimer(p.batchInterval)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			timer.Reset(p.batchInterval)
			return
		}
		p.commit(ctx, batch)
		batch = make(map[string]pendingOp)
		timer.Reset(p.batchInterval)
	}

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				p.commit(context.Background(), batch)
			}
			return

		case ev, ok := <-p.crawlerEvents:
			if !ok {
				p.crawlerEvents = nil
				continue
			}
			p.applyCrawlerEvent(ev, batch)
			if len(batch) >= p.batchSize {
				flush()
			}

		case ev, ok := <-p.watcherEvents:
			if !ok {
				p.watcherEvents = nil
				continue
			}
			p.applyWatcherEvent(ctx, ev, batch)
			if len(batch) >= p.batchSize {
				flush()
			}

		case <-timer.C:
			flush()
		}
	}
}

func (p *Pipeline) applyCrawlerEvent(ev crawler.Event, batch map[string]pendingOp) {
	switch ev.Kind {
	case crawler.EventDiscovered:
		batch[ev.Discovered.Path] = pendingOp{record: ev.Discovered}

	case crawler.EventProgress:
		p.mu.Lock()
		if ev.TotalEstimate > p.totalEst {
			p.totalEst = ev.TotalEstimate
		}
		est := p.totalEst
		p.mu.Unlock()
		p.emitProgress(Progress{Processed: ev.Processed, Total: est})

	case crawler.EventDone:
		p.mu.Lock()
		p.crawlErrs = append(p.crawlErrs, ev.Errors...)
		if ev.Total > p.totalEst {
			p.totalEst = ev.Total
		}
		p.mu.Unlock()
	}
}

func (p *Pipeline) applyWatcherEvent(ctx context.Context, ev watcher.Event, batch map[string]pendingOp) {
	switch ev.Kind {
	case watcher.KindCreate, watcher.KindRenameTo:
		info, err := os.Stat(ev.Path)
		if err != nil {
			// A transient create/delete pair: the path is already gone
			// by the time IP gets to stat it. Nothing to do.
			return
		}
		batch[ev.Path] = pendingOp{record: entry.New(ev.Path, uint64(info.Size()), info.ModTime(), info.IsDir())}

	case watcher.KindModify:
		info, err := os.Stat(ev.Path)
		if err != nil {
			return
		}
		existing, found, err := p.ms.GetByPath(ctx, ev.Path)
		if err == nil && found {
			if existing.Size == uint64(info.Size()) &&
				existing.Modified.Equal(info.ModTime().Truncate(time.Second)) &&
				existing.IsFolder == info.IsDir() {
				return
			}
		}
		batch[ev.Path] = pendingOp{record: entry.New(ev.Path, uint64(info.Size()), info.ModTime(), info.IsDir())}

	case watcher.KindDelete, watcher.KindRenameFrom:
		batch[ev.Path] = pendingOp{remove: true, record: entry.Record{ID: entry.NewID(ev.Path)}}

	case watcher.KindDesynchronized:
		if p.rescan != nil {
			p.rescan(ev.Path)
		}
	}
}

func (p *Pipeline) commit(ctx context.Context, batch map[string]pendingOp) {
	msOps := make([]metastore.Op, 0, len(batch))
	siOps := make([]searchindex.Op, 0, len(batch))
	for _, op := range batch {
		if op.remove {
			msOps = append(msOps, metastore.Delete(op.record.ID))
			siOps = append(siOps, searchindex.Remove(op.record.ID))
			continue
		}
		msOps = append(msOps, metastore.Put(op.record))
		siOps = append(siOps, searchindex.Insert(op.record))
	}

	if err := p.commitWithRetry(ctx, msOps); err != nil {
		p.mu.Lock()
		p.state = StateError
		p.lastErr = err
		p.mu.Unlock()
		logging.Log("ingest", "MS commit failed after retries: %v", err)
		return
	}

	p.si.Apply(siOps)

	count, err := p.ms.Count(ctx)
	if err != nil {
		count = uint64(len(batch))
	}

	p.mu.Lock()
	if p.state != StateError {
		p.state = StateReady
	}
	if count > p.totalEst {
		p.totalEst = count
	}
	est := p.totalEst
	p.mu.Unlock()

	p.emitProgress(Progress{Processed: count, Total: est})
}

func (p *Pipeline) commitWithRetry(ctx context.Context, ops []metastore.Op) error {
	var err error
	for attempt := 0; attempt < maxCommitRetry; attempt++ {
		if err = p.ms.Batch(ctx, ops); err == nil {
			return nil
		}
		if attempt < maxCommitRetry-1 {
			time.Sleep(backoff(attempt))
		}
	}
	return qerrors.StorageCommit("batch", err)
}

func backoff(attempt int) time.Duration {
	d := 10 * time.Millisecond
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	if d > time.Second {
		d = time.Second
	}
	return d
}

func (p *Pipeline) emitProgress(ev Progress) {
	select {
	case p.progress <- ev:
	default:
		// A slow subscriber drops the oldest queued update rather than
		// blocking ingest.
		select {
		case <-p.progress:
		default:
		}
		select {
		case p.progress <- ev:
		default:
		}
	}
}
