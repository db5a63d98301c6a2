// Package searchindex implements the Search Index: an in-memory inverted
// index over tokenized entry names and paths, published through
// copy-on-write immutable snapshots so that readers never block writers
// and a new commit never invalidates a snapshot a reader already holds.
package searchindex

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/localsearch/qfind/internal/alloc"
	"github.com/localsearch/qfind/internal/entry"
)

// postingPool supplies the backing arrays for name/path posting lists,
// sized by its tiers. Removing an id from a posting rebuilds the slice
// (postings must stay exact, so there is no tombstone trick). Arrays are
// taken from the pool but never returned to it.
var postingPool = alloc.NewSlabAllocator[entry.ID](alloc.PostingTierConfigs)

// record is the subset of Entry attributes the index needs to filter and
// order results without going back to the Metadata Store.
type record struct {
	Name     string
	Path     string
	IsFolder bool
}

// snapshot is an immutable point-in-time view of the index. Readers hold
// a *snapshot obtained from Index.Snapshot; a subsequent commit never
// mutates it.
type snapshot struct {
	nameTokens map[string][]entry.ID
	pathTokens map[string][]entry.ID
	records    map[entry.ID]record
}

func emptySnapshot() *snapshot {
	return &snapshot{
		nameTokens: make(map[string][]entry.ID),
		pathTokens: make(map[string][]entry.ID),
		records:    make(map[entry.ID]record),
	}
}

// Op is a single pending write, matching the MS Op shapes so the ingest
// pipeline can build one list of intents and apply it to both stores.
type Op struct {
	Remove bool
	ID     entry.ID
	Record entry.Record
}

func Insert(r entry.Record) Op  { return Op{ID: r.ID, Record: r} }
func Replace(r entry.Record) Op { return Op{ID: r.ID, Record: r} }
func Remove(id entry.ID) Op     { return Op{Remove: true, ID: id} }

// Index is the Search Index. Exactly one writer at a time is expected
// (enforced by writeMu); any number of concurrent readers may hold
// snapshots obtained before, during, or after a commit.
type Index struct {
	writeMu sync.Mutex
	current atomic.Pointer[snapshot]
}

// New returns an empty Index.
func New() *Index {
	idx := &Index{}
	idx.current.Store(emptySnapshot())
	return idx
}

// Snapshot returns the index's current immutable view.
func (idx *Index) Snapshot() *snapshot { return idx.current.Load() }

// Reset discards every posting and record, publishing a fresh empty
// snapshot. A forced rebuild calls this before re-crawling so a path
// that existed under the old snapshot but not on disk anymore cannot
// survive the rebuild.
func (idx *Index) Reset() {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()
	idx.current.Store(emptySnapshot())
}

// Apply stages ops against a clone of the current snapshot and commits
// them, publishing a new snapshot that existing readers' snapshots are
// unaffected by. Apply is IP's only entry point into SI.
func (idx *Index) Apply(ops []Op) {
	if len(ops) == 0 {
		return
	}
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	next := cloneSnapshot(idx.current.Load())
	for _, op := range ops {
		if op.Remove {
			next.remove(op.ID)
			continue
		}
		next.remove(op.Record.ID) // replace semantics: drop stale postings first
		next.insert(op.Record)
	}
	idx.current.Store(next)
}

func cloneSnapshot(s *snapshot) *snapshot {
	next := &snapshot{
		nameTokens: make(map[string][]entry.ID, len(s.nameTokens)),
		pathTokens: make(map[string][]entry.ID, len(s.pathTokens)),
		records:    make(map[entry.ID]record, len(s.records)),
	}
	for k, v := range s.nameTokens {
		next.nameTokens[k] = v
	}
	for k, v := range s.pathTokens {
		next.pathTokens[k] = v
	}
	for k, v := range s.records {
		next.records[k] = v
	}
	return next
}

func (s *snapshot) insert(r entry.Record) {
	s.records[r.ID] = record{Name: r.Name, Path: r.Path, IsFolder: r.IsFolder}
	for _, tok := range tokenize(r.Name) {
		s.nameTokens[tok] = appendID(s.nameTokens[tok], r.ID)
	}
	if ext := r.Extension(); ext != "" {
		tok := strings.TrimPrefix(ext, ".")
		s.nameTokens[tok] = appendID(s.nameTokens[tok], r.ID)
	}
	for _, tok := range tokenize(r.Path) {
		s.pathTokens[tok] = appendID(s.pathTokens[tok], r.ID)
	}
}

func (s *snapshot) remove(id entry.ID) {
	rec, ok := s.records[id]
	if !ok {
		return
	}
	delete(s.records, id)
	for _, tok := range tokenize(rec.Name) {
		s.nameTokens[tok] = removeID(s.nameTokens[tok], id)
	}
	for _, tok := range tokenize(rec.Path) {
		s.pathTokens[tok] = removeID(s.pathTokens[tok], id)
	}
}

func appendID(ids []entry.ID, id entry.ID) []entry.ID {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	if ids == nil {
		ids = postingPool.Get(1)
	}
	return append(ids, id)
}

func removeID(ids []entry.ID, id entry.ID) []entry.ID {
	if len(ids) == 0 {
		return ids
	}
	// ids may still be aliased by a snapshot a reader is holding, so the
	// old backing array is never returned to postingPool.
	out := postingPool.Get(len(ids) - 1)
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

// Plan describes a fully parsed query, independent of the query
// grammar's surface text (see internal/query for the parser).
type Plan struct {
	Substrings []string // plain-token substring-AND over name+path
	ExtSuffix  string   // ext: filename suffix including leading dot, compared case-insensitively
	Folder     string   // folder: substring on path
	Regex      *regexp.Regexp
	RegexField string // "name" or "path"
}

// Result is one matched id plus the attributes needed to order it
// without a round-trip to the Metadata Store.
type Result struct {
	ID       entry.ID
	Name     string
	Path     string
	IsFolder bool
}

// Search executes plan against the snapshot, returning up to limit hits
// in default order plus the total match count before truncation.
func (s *snapshot) Search(plan Plan, limit int) ([]Result, int) {
	candidates := s.candidateIDs(plan)

	var matched []Result
	for id := range candidates {
		rec, ok := s.records[id]
		if !ok {
			continue
		}
		if !plan.matches(rec) {
			continue
		}
		matched = append(matched, Result{ID: id, Name: rec.Name, Path: rec.Path, IsFolder: rec.IsFolder})
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.IsFolder != b.IsFolder {
			return a.IsFolder // folders first
		}
		an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name)
		if an != bn {
			return an < bn
		}
		return a.Path < b.Path
	})

	total := len(matched)
	if limit >= 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total
}

// candidateIDs narrows the scan using postings where possible, falling
// back to a full scan over records for regex-only and empty plans.
func (s *snapshot) candidateIDs(plan Plan) map[entry.ID]struct{} {
	if len(plan.Substrings) == 0 && plan.ExtSuffix == "" && plan.Folder == "" {
		out := make(map[entry.ID]struct{}, len(s.records))
		for id := range s.records {
			out[id] = struct{}{}
		}
		return out
	}

	// A fragment containing punctuation ("a.txt") spans several tokens, so
	// each of its tokens narrows the candidates separately; plan.matches
	// then checks the whole fragment against the name and path.
	var sets []map[entry.ID]struct{}
	addFragment := func(frag string) {
		for _, piece := range tokenize(frag) {
			sets = append(sets, s.substringCandidates(piece))
		}
	}
	for _, sub := range plan.Substrings {
		addFragment(sub)
	}
	if plan.ExtSuffix != "" {
		addFragment(plan.ExtSuffix)
	}
	if plan.Folder != "" {
		addFragment(plan.Folder)
	}

	return intersect(sets)
}

// substringCandidates returns every id whose name or path postings
// contain a token that is a superstring of frag, via a linear scan of
// the postings keys. This keeps the posting lists themselves exact-token
// maps (cheap to maintain incrementally) while still answering substring
// queries, at the cost of a token-table scan per query term.
func (s *snapshot) substringCandidates(frag string) map[entry.ID]struct{} {
	frag = strings.ToLower(frag)
	out := make(map[entry.ID]struct{})
	for tok, ids := range s.nameTokens {
		if strings.Contains(tok, frag) {
			for _, id := range ids {
				out[id] = struct{}{}
			}
		}
	}
	for tok, ids := range s.pathTokens {
		if strings.Contains(tok, frag) {
			for _, id := range ids {
				out[id] = struct{}{}
			}
		}
	}
	return out
}

func intersect(sets []map[entry.ID]struct{}) map[entry.ID]struct{} {
	if len(sets) == 0 {
		return map[entry.ID]struct{}{}
	}
	smallest := sets[0]
	for _, s := range sets[1:] {
		if len(s) < len(smallest) {
			smallest = s
		}
	}
	out := make(map[entry.ID]struct{}, len(smallest))
	for id := range smallest {
		inAll := true
		for _, s := range sets {
			if _, ok := s[id]; !ok {
				inAll = false
				break
			}
		}
		if inAll {
			out[id] = struct{}{}
		}
	}
	return out
}

func (p Plan) matches(rec record) bool {
	if p.ExtSuffix != "" {
		if !strings.HasSuffix(strings.ToLower(rec.Name), strings.ToLower(p.ExtSuffix)) {
			return false
		}
	}
	if p.Folder != "" {
		if !strings.Contains(strings.ToLower(rec.Path), strings.ToLower(p.Folder)) {
			return false
		}
	}
	for _, sub := range p.Substrings {
		lower := strings.ToLower(sub)
		if !strings.Contains(strings.ToLower(rec.Name), lower) && !strings.Contains(strings.ToLower(rec.Path), lower) {
			return false
		}
	}
	if p.Regex != nil {
		target := rec.Name
		if p.RegexField == "path" {
			target = rec.Path
		}
		if !p.Regex.MatchString(target) {
			return false
		}
	}
	return true
}

// Count returns the number of live ids in the snapshot.
func (s *snapshot) Count() int { return len(s.records) }
