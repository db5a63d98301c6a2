package query

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localsearch/qfind/internal/entry"
	"github.com/localsearch/qfind/internal/metastore"
	"github.com/localsearch/qfind/internal/qerrors"
	"github.com/localsearch/qfind/internal/searchindex"
)

func newTestEvaluator(t *testing.T, ready bool) (*Evaluator, *searchindex.Index, *metastore.Store) {
	t.Helper()
	return newTestEvaluatorWithMaxResults(t, ready, 0)
}

func newTestEvaluatorWithMaxResults(t *testing.T, ready bool, maxResults int) (*Evaluator, *searchindex.Index, *metastore.Store) {
	t.Helper()
	ms, err := metastore.Open(filepath.Join(t.TempDir(), "meta"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ms.Close() })

	si := searchindex.New()
	ev := New(si, ms, func() bool { return ready }, maxResults)
	t.Cleanup(ev.Close)
	return ev, si, ms
}

func put(t *testing.T, ms *metastore.Store, si *searchindex.Index, rec entry.Record) {
	t.Helper()
	require.NoError(t, ms.Batch(context.Background(), []metastore.Op{metastore.Put(rec)}))
	si.Apply([]searchindex.Op{searchindex.Insert(rec)})
}

func TestSearchRejectsWhenIndexNeverCommitted(t *testing.T) {
	ev, _, _ := newTestEvaluator(t, false)
	_, err := ev.Search(context.Background(), "x", false, 10, 0)
	require.Error(t, err)
	qerr, ok := err.(*qerrors.Error)
	require.True(t, ok)
	assert.Equal(t, qerrors.KindIndexNotReady, qerr.Kind)
}

func TestPlainSubstringMatchesNameAndPath(t *testing.T) {
	ev, si, ms := newTestEvaluator(t, true)
	put(t, ms, si, entry.New("/r/a.txt", 1, time.Now(), false))
	put(t, ms, si, entry.New("/r/sub/b.TXT", 1, time.Now(), false))

	res, err := ev.Search(context.Background(), "txt", false, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 2, res.TotalFound)
	assert.Equal(t, "a.txt", res.Hits[0].Name)
	assert.Equal(t, "b.TXT", res.Hits[1].Name)
}

func TestExtFilterParsesAndMatches(t *testing.T) {
	ev, si, ms := newTestEvaluator(t, true)
	put(t, ms, si, entry.New("/r/a.txt", 1, time.Now(), false))
	put(t, ms, si, entry.New("/r/b.md", 1, time.Now(), false))

	res, err := ev.Search(context.Background(), "ext:md", false, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalFound)
	assert.Equal(t, "b.md", res.Hits[0].Name)
}

func TestFolderFilterParsesAndMatches(t *testing.T) {
	ev, si, ms := newTestEvaluator(t, true)
	put(t, ms, si, entry.New("/r/sub/a.txt", 1, time.Now(), false))
	put(t, ms, si, entry.New("/r/other/b.txt", 1, time.Now(), false))

	res, err := ev.Search(context.Background(), "folder:sub", false, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalFound)
	assert.Equal(t, "a.txt", res.Hits[0].Name)
}

func TestInvalidRegexReturnsErrorWithoutTouchingIndex(t *testing.T) {
	ev, si, ms := newTestEvaluator(t, true)
	put(t, ms, si, entry.New("/r/a.txt", 1, time.Now(), false))

	_, err := ev.Search(context.Background(), "[bad", true, 10, 0)
	require.Error(t, err)
	qerr, ok := err.(*qerrors.Error)
	require.True(t, ok)
	assert.Equal(t, qerrors.KindInvalidRegex, qerr.Kind)
	assert.Equal(t, 1, si.Snapshot().Count())
}

func TestEmptyQueryReturnsEmptyWithoutScanning(t *testing.T) {
	ev, si, ms := newTestEvaluator(t, true)
	put(t, ms, si, entry.New("/r/a.txt", 1, time.Now(), false))

	res, err := ev.Search(context.Background(), "", false, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalFound)
	assert.Empty(t, res.Hits)
}

func TestQueryOfOnlySeparatorsTreatedAsEmpty(t *testing.T) {
	ev, si, ms := newTestEvaluator(t, true)
	put(t, ms, si, entry.New("/r/a.txt", 1, time.Now(), false))

	res, err := ev.Search(context.Background(), "///", false, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalFound)
}

func TestLimitClampedToMax(t *testing.T) {
	ev, si, ms := newTestEvaluator(t, true)
	for i := 0; i < 3; i++ {
		put(t, ms, si, entry.New(filepath.Join("/r", string(rune('a'+i))+".txt"), 1, time.Now(), false))
	}
	res, err := ev.Search(context.Background(), "txt", false, 5000, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalFound)
}

func TestLimitClampedToConfiguredMaxResults(t *testing.T) {
	ev, si, ms := newTestEvaluatorWithMaxResults(t, true, 2)
	for i := 0; i < 3; i++ {
		put(t, ms, si, entry.New(filepath.Join("/r", string(rune('a'+i))+".txt"), 1, time.Now(), false))
	}
	res, err := ev.Search(context.Background(), "txt", false, 5000, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalFound)
	assert.Len(t, res.Hits, 2)
}

func TestLimitZeroReturnsEmptyWithAccurateTotal(t *testing.T) {
	ev, si, ms := newTestEvaluator(t, true)
	put(t, ms, si, entry.New("/r/a.txt", 1, time.Now(), false))

	res, err := ev.Search(context.Background(), "a.txt", false, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalFound)
	assert.Empty(t, res.Hits)
}

func TestTombstonedHitIsDroppedNotErrored(t *testing.T) {
	ev, si, ms := newTestEvaluator(t, true)
	rec := entry.New("/r/a.txt", 1, time.Now(), false)
	si.Apply([]searchindex.Op{searchindex.Insert(rec)})
	// Deliberately not written to MS: simulates a commit ordering skew
	// where SI is ahead (which invariant 2 forbids) only to exercise the
	// drop-don't-error hydration path.
	_ = ms

	res, err := ev.Search(context.Background(), "a.txt", false, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalFound)
	assert.Empty(t, res.Hits)
}

func TestSearchResultIsCachedUntilNextCommit(t *testing.T) {
	ev, si, ms := newTestEvaluator(t, true)
	put(t, ms, si, entry.New("/r/a.txt", 1, time.Now(), false))

	first, err := ev.Search(context.Background(), "a", false, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 0, ev.results.Stats().Hits)

	second, err := ev.Search(context.Background(), "a", false, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, ev.results.Stats().Hits)
	assert.Equal(t, first.Hits, second.Hits)

	// A new commit changes the cache key, so the next identical query
	// re-scans rather than serving a stale hit list.
	put(t, ms, si, entry.New("/r/another.txt", 1, time.Now(), false))
	third, err := ev.Search(context.Background(), "a", false, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, ev.results.Stats().Hits)
	assert.Equal(t, 2, third.TotalFound)
}

func TestSearchIsIdempotentAgainstSameSnapshot(t *testing.T) {
	ev, si, ms := newTestEvaluator(t, true)
	put(t, ms, si, entry.New("/r/a.txt", 1, time.Now(), false))

	first, err := ev.Search(context.Background(), "a", false, 10, 0)
	require.NoError(t, err)
	second, err := ev.Search(context.Background(), "a", false, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, first.Hits, second.Hits)
	assert.Equal(t, first.TotalFound, second.TotalFound)
}
