// Package entry defines the Entry data model shared by every component:
// the metadata store, the search index, the crawler, the watcher, and the
// ingest pipeline all exchange Entry values keyed by ID.
package entry

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// ID is the stable 128-bit identifier derived from an Entry's absolute
// path. It never changes while the path is unchanged; a rename produces a
// new ID because the ID is path-derived, not inode-derived.
type ID [16]byte

// String renders the ID as 32 lowercase hex characters.
func (id ID) String() string { return hex.EncodeToString(id[:]) }

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool { return id == ID{} }

// NewID derives the stable ID for a normalized absolute path. The low 8
// bytes are xxhash64(path); the high 8 bytes are xxhash64 of the path
// salted with a NUL separator and itself again, so that the two halves
// are not trivially related. This keeps ID derivation to a single
// well-tested 64-bit hash primitive rather than pulling in a dedicated
// 128-bit hash library.
func NewID(path string) ID {
	var id ID
	lo := xxhash.Sum64String(path)
	hi := xxhash.Sum64String(path + "\x00" + path)
	binary.BigEndian.PutUint64(id[:8], hi)
	binary.BigEndian.PutUint64(id[8:], lo)
	return id
}

// ParseID parses the 32-character hex form produced by ID.String.
func ParseID(s string) (ID, error) {
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("entry: invalid id %q: %w", s, err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("entry: invalid id %q: want %d bytes, got %d", s, len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Record is the durable, canonical shape of an indexed file or directory.
type Record struct {
	ID       ID
	Name     string // final path component, case-preserved
	Path     string // absolute, normalized, platform-native separator
	Size     uint64 // 0 for directories
	Modified time.Time
	IsFolder bool
}

// New builds a Record for path, deriving its ID and name from path. path
// must already be normalized (see pkg/pathutil.Normalize).
func New(path string, size uint64, modified time.Time, isFolder bool) Record {
	if isFolder {
		size = 0
	}
	return Record{
		ID:       NewID(path),
		Name:     baseName(path),
		Path:     path,
		Size:     size,
		Modified: modified.Truncate(time.Second),
		IsFolder: isFolder,
	}
}

func baseName(path string) string {
	i := strings.LastIndexAny(path, `/\`)
	if i < 0 {
		return path
	}
	return path[i+1:]
}

// Extension returns the Record's filename extension including the leading
// dot, lowercased, or "" if there is none. Directories have no extension.
func (r Record) Extension() string {
	if r.IsFolder {
		return ""
	}
	i := strings.LastIndexByte(r.Name, '.')
	if i <= 0 || i == len(r.Name)-1 {
		return ""
	}
	return strings.ToLower(r.Name[i:])
}
