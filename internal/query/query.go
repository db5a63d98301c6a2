// Package query implements the Query Evaluator: it parses the search
// grammar, validates regex syntax before touching the Search Index,
// executes the plan against an immutable SI snapshot, and hydrates hits
// through the Metadata Store.
package query

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/localsearch/qfind/internal/cache"
	"github.com/localsearch/qfind/internal/entry"
	"github.com/localsearch/qfind/internal/metastore"
	"github.com/localsearch/qfind/internal/qerrors"
	"github.com/localsearch/qfind/internal/searchindex"
)

// defaultMaxResults is used when a caller constructs an Evaluator with
// maxResults <= 0, matching config.Default's QE result cap.
const defaultMaxResults = 1000

// Hit is one search result, already hydrated from the Metadata Store.
type Hit struct {
	ID       entry.ID
	Name     string
	Path     string
	Size     uint64
	Modified time.Time
	IsFolder bool
}

// Result is what a Search call returns.
type Result struct {
	Hits       []Hit
	TotalFound int
	ElapsedMs  int64
	Truncated  bool
}

// Evaluator answers search queries against an index that may still be
// rebuilding.
type Evaluator struct {
	si            *searchindex.Index
	ms            *metastore.Store
	everCommitted func() bool
	results       *cache.ResultCache
	maxResults    int
}

// New returns an Evaluator over si and ms. everCommitted reports whether
// SI has ever published a non-empty snapshot; Search rejects with
// IndexNotReady until it does. maxResults caps limit and is also the
// limit used when a caller passes a negative (unspecified) one; a
// value <= 0 falls back to defaultMaxResults.
func New(si *searchindex.Index, ms *metastore.Store, everCommitted func() bool, maxResults int) *Evaluator {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	return &Evaluator{
		si:            si,
		ms:            ms,
		everCommitted: everCommitted,
		results:       cache.NewResultCache(cache.DefaultCacheConfig()),
		maxResults:    maxResults,
	}
}

// Close stops the Evaluator's background cache-cleanup goroutine.
func (e *Evaluator) Close() { e.results.Close() }

// Search parses queryString according to the grammar below, executes it
// against a single SI snapshot, and hydrates hits through MS.
//
//   ext:<literal>    filename suffix equals .<literal>, case-insensitive
//   folder:<frag>    substring match of frag on the path
//   regex:<pattern>  regex against name
//   <token>          plain substring match across name and path
//
// Tokens combine with implicit AND. If useRegex is set, the entire
// queryString is instead compiled as one regex over name.
func (e *Evaluator) Search(ctx context.Context, queryString string, useRegex bool, limit int, deadline time.Duration) (Result, error) {
	start := time.Now()

	if !e.everCommitted() {
		return Result{}, qerrors.IndexNotReady("search_files")
	}

	limit = e.clampLimit(limit)

	// The cache key folds in MS's last commit time, so a write anywhere
	// invalidates every entry cached before it without explicit eviction:
	// identical queries made between commits (typing pauses, a UI redraw
	// re-issuing the same search) are served without re-scanning SI.
	cacheKey := fmt.Sprintf("%s|%v|%d|%d", queryString, useRegex, limit, e.ms.LastCommitTime().UnixNano())
	if cached, ok := e.results.Get(cacheKey); ok {
		result := cached.(Result)
		result.ElapsedMs = elapsedMs(start)
		return result, nil
	}

	plan, err := parse(queryString, useRegex)
	if err != nil {
		return Result{}, err
	}

	if isEmptyPlan(plan) {
		return Result{TotalFound: 0, ElapsedMs: elapsedMs(start)}, nil
	}

	snap := e.si.Snapshot()
	results, total := snap.Search(plan, limit)

	// The in-memory snapshot scan itself isn't interruptible mid-flight;
	// a soft deadline here only bounds hydration, the part that talks to
	// MS and can legitimately run long against a cold disk cache.
	truncated := false
	deadlineAt := start.Add(deadlineOrDefault(deadline))

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		if ctx.Err() != nil || time.Now().After(deadlineAt) {
			truncated = true
			break
		}
		rec, found, err := e.ms.Get(ctx, r.ID)
		if err != nil || !found {
			// Tombstoned between the SI snapshot and hydration: dropped,
			// not an error, per invariant 2's permitted skew direction.
			continue
		}
		hits = append(hits, Hit{
			ID:       rec.ID,
			Name:     rec.Name,
			Path:     rec.Path,
			Size:     rec.Size,
			Modified: rec.Modified,
			IsFolder: rec.IsFolder,
		})
	}

	result := Result{
		Hits:       hits,
		TotalFound: total,
		ElapsedMs:  elapsedMs(start),
		Truncated:  truncated,
	}
	if !truncated {
		e.results.Put(cacheKey, result)
	}
	return result, nil
}

// clampLimit treats a negative limit as unspecified (e.maxResults) but
// leaves limit == 0 alone: a caller that explicitly asks for zero results
// still wants an accurate TotalFound, just no Hits.
func (e *Evaluator) clampLimit(limit int) int {
	if limit < 0 {
		return e.maxResults
	}
	if limit > e.maxResults {
		return e.maxResults
	}
	return limit
}

func deadlineOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	return d
}

func elapsedMs(start time.Time) int64 { return time.Since(start).Milliseconds() }

func isEmptyPlan(p searchindex.Plan) bool {
	return len(p.Substrings) == 0 && p.ExtSuffix == "" && p.Folder == "" && p.Regex == nil
}

// parse turns queryString into a Plan, or returns qerrors.InvalidRegex
// if a regex: filter or the top-level useRegex flag fails to compile.
func parse(queryString string, useRegex bool) (searchindex.Plan, error) {
	queryString = strings.TrimSpace(queryString)
	if isOnlySeparators(queryString) {
		return searchindex.Plan{}, nil
	}

	if useRegex {
		re, err := regexp.Compile(queryString)
		if err != nil {
			return searchindex.Plan{}, qerrors.InvalidRegex("search_files", err)
		}
		return searchindex.Plan{Regex: re, RegexField: "name"}, nil
	}

	var plan searchindex.Plan
	for _, field := range strings.Fields(queryString) {
		switch {
		case strings.HasPrefix(field, "ext:"):
			v := strings.TrimPrefix(field, "ext:")
			if !strings.HasPrefix(v, ".") {
				v = "." + v
			}
			plan.ExtSuffix = v

		case strings.HasPrefix(field, "folder:"):
			plan.Folder = strings.TrimPrefix(field, "folder:")

		case strings.HasPrefix(field, "regex:"):
			pattern := strings.TrimPrefix(field, "regex:")
			re, err := regexp.Compile(pattern)
			if err != nil {
				return searchindex.Plan{}, qerrors.InvalidRegex("search_files", err)
			}
			plan.Regex = re
			plan.RegexField = "name"

		default:
			plan.Substrings = append(plan.Substrings, field)
		}
	}
	return plan, nil
}

func isOnlySeparators(s string) bool {
	if s == "" {
		return true
	}
	for _, r := range s {
		if r != '/' && r != '\\' && r != '.' {
			return false
		}
	}
	return true
}
