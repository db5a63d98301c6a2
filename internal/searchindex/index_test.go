package searchindex

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localsearch/qfind/internal/entry"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	return New()
}

func TestInsertThenSubstringSearch(t *testing.T) {
	idx := newTestIndex(t)
	a := entry.New("/r/a.txt", 1, time.Now(), false)
	b := entry.New("/r/sub/b.TXT", 1, time.Now(), false)
	idx.Apply([]Op{Insert(a), Insert(b)})

	snap := idx.Snapshot()
	results, total := snap.Search(Plan{Substrings: []string{"txt"}}, 10)
	require.Equal(t, 2, total)
	require.Len(t, results, 2)
	assert.Equal(t, "a.txt", results[0].Name)
	assert.Equal(t, "b.TXT", results[1].Name)
}

func TestFoldersSortBeforeFiles(t *testing.T) {
	idx := newTestIndex(t)
	file := entry.New("/r/zzz.txt", 1, time.Now(), false)
	dir := entry.New("/r/aaa", 0, time.Now(), true)
	idx.Apply([]Op{Insert(file), Insert(dir)})

	snap := idx.Snapshot()
	results, _ := snap.Search(Plan{}, 10)
	require.Len(t, results, 2)
	assert.True(t, results[0].IsFolder)
	assert.Equal(t, "aaa", results[0].Name)
}

func TestRemoveDropsFromPostings(t *testing.T) {
	idx := newTestIndex(t)
	a := entry.New("/r/a.txt", 1, time.Now(), false)
	idx.Apply([]Op{Insert(a)})
	idx.Apply([]Op{Remove(a.ID)})

	snap := idx.Snapshot()
	_, total := snap.Search(Plan{Substrings: []string{"a"}}, 10)
	assert.Equal(t, 0, total)
	assert.Equal(t, 0, snap.Count())
}

func TestReplacePreservesSingleID(t *testing.T) {
	idx := newTestIndex(t)
	a := entry.New("/r/a.txt", 1, time.Now(), false)
	idx.Apply([]Op{Insert(a)})

	renamed := a
	renamed.Name = "a.txt"
	renamed.Size = 99
	idx.Apply([]Op{Replace(renamed)})

	snap := idx.Snapshot()
	assert.Equal(t, 1, snap.Count())
}

func TestPriorSnapshotUnaffectedByLaterCommit(t *testing.T) {
	idx := newTestIndex(t)
	a := entry.New("/r/a.txt", 1, time.Now(), false)
	idx.Apply([]Op{Insert(a)})

	oldSnap := idx.Snapshot()

	b := entry.New("/r/b.txt", 1, time.Now(), false)
	idx.Apply([]Op{Insert(b)})

	assert.Equal(t, 1, oldSnap.Count())
	assert.Equal(t, 2, idx.Snapshot().Count())
}

func TestExtFilter(t *testing.T) {
	idx := newTestIndex(t)
	idx.Apply([]Op{
		Insert(entry.New("/r/a.txt", 1, time.Now(), false)),
		Insert(entry.New("/r/b.md", 1, time.Now(), false)),
	})

	snap := idx.Snapshot()
	results, total := snap.Search(Plan{ExtSuffix: ".md"}, 10)
	require.Equal(t, 1, total)
	assert.Equal(t, "b.md", results[0].Name)
}

func TestFolderFilter(t *testing.T) {
	idx := newTestIndex(t)
	idx.Apply([]Op{
		Insert(entry.New("/r/sub/a.txt", 1, time.Now(), false)),
		Insert(entry.New("/r/other/b.txt", 1, time.Now(), false)),
	})

	snap := idx.Snapshot()
	results, total := snap.Search(Plan{Folder: "sub"}, 10)
	require.Equal(t, 1, total)
	assert.Equal(t, "a.txt", results[0].Name)
}

func TestRegexOnName(t *testing.T) {
	idx := newTestIndex(t)
	idx.Apply([]Op{
		Insert(entry.New("/r/report_2024.csv", 1, time.Now(), false)),
		Insert(entry.New("/r/notes.txt", 1, time.Now(), false)),
	})

	re := regexp.MustCompile(`^report_\d+\.csv$`)
	snap := idx.Snapshot()
	results, total := snap.Search(Plan{Regex: re, RegexField: "name"}, 10)
	require.Equal(t, 1, total)
	assert.Equal(t, "report_2024.csv", results[0].Name)
}

func TestLimitTruncatesButTotalReflectsAllMatches(t *testing.T) {
	idx := newTestIndex(t)
	var ops []Op
	for i := 0; i < 5; i++ {
		ops = append(ops, Insert(entry.New(pathFor(i), 1, time.Now(), false)))
	}
	idx.Apply(ops)

	snap := idx.Snapshot()
	results, total := snap.Search(Plan{Substrings: []string{"log"}}, 2)
	assert.Equal(t, 5, total)
	assert.Len(t, results, 2)
}

func TestResetDiscardsEveryRecordAndPosting(t *testing.T) {
	idx := newTestIndex(t)
	idx.Apply([]Op{
		Insert(entry.New("/r/a.txt", 1, time.Now(), false)),
		Insert(entry.New("/r/b.txt", 1, time.Now(), false)),
	})
	require.Equal(t, 2, idx.Snapshot().Count())

	idx.Reset()

	snap := idx.Snapshot()
	assert.Equal(t, 0, snap.Count())
	_, total := snap.Search(Plan{Substrings: []string{"txt"}}, 10)
	assert.Equal(t, 0, total)
}

func pathFor(i int) string {
	names := []string{"/r/log1.txt", "/r/log2.txt", "/r/log3.txt", "/r/log4.txt", "/r/log5.txt"}
	return names[i]
}
