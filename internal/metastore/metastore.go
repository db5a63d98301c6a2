// Package metastore implements the Metadata Store: a crash-safe, durable
// keyed record of every known Entry, backed by an embedded SQLite
// database opened in WAL mode. A batch commit is a single SQL
// transaction; SQLite's WAL commit discipline is what gives the store
// its crash-safety guarantee — on reopen after an abrupt termination,
// the last successfully committed transaction is what is visible.
package metastore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/localsearch/qfind/internal/entry"
	"github.com/localsearch/qfind/internal/qerrors"
)

// Op is a single write in a batch, either an upsert or a delete.
type Op struct {
	Delete bool
	ID     entry.ID // only required for Delete
	Record entry.Record // only required when !Delete
}

// Put returns an upsert Op for record.
func Put(record entry.Record) Op { return Op{Record: record} }

// Delete returns a delete Op for id.
func Delete(id entry.ID) Op { return Op{Delete: true, ID: id} }

// Store is the Metadata Store. All exported methods are safe for
// concurrent use; writes still serialize on SQLite's single-writer
// connection, matching the store's single-writer contract with the
// ingest pipeline.
type Store struct {
	db   *sql.DB
	path string

	mu             sync.Mutex
	lastCommitTime time.Time
}

// Open opens (creating if necessary) the metadata store rooted at dir,
// which corresponds to the on-disk meta/ directory. It checks the
// VERSION file for compatibility before touching the database.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, qerrors.IO("open", dir, err)
	}
	if err := checkVersion(dir); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dir, "metastore.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, qerrors.StorageCommit("open", err)
	}

	// SQLite permits exactly one writer; the ingest pipeline is already
	// the application-level single writer, but pinning the pool to one
	// connection keeps that invariant true even if a caller misuses the
	// API from two goroutines at once.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, qerrors.StorageCommit("pragma", err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, qerrors.StorageCommit("init_schema", err)
	}
	if _, err := db.Exec(initMetadataSQL); err != nil {
		db.Close()
		return nil, qerrors.StorageCommit("init_metadata", err)
	}

	s := &Store{db: db, path: dbPath}
	s.loadLastCommitTime()
	return s, nil
}

func checkVersion(dir string) error {
	versionPath := filepath.Join(dir, "VERSION")
	data, err := os.ReadFile(versionPath)
	if os.IsNotExist(err) {
		return os.WriteFile(versionPath, []byte(strconv.Itoa(schemaVersion)), 0o644)
	}
	if err != nil {
		return qerrors.IO("read_version", versionPath, err)
	}
	onDisk, err := strconv.Atoi(string(data))
	if err != nil {
		return qerrors.IncompatibleVersion(dir, -1, schemaVersion)
	}
	if onDisk != schemaVersion {
		return qerrors.IncompatibleVersion(dir, onDisk, schemaVersion)
	}
	return nil
}

func (s *Store) loadLastCommitTime() {
	row := s.db.QueryRow(`SELECT value FROM metadata WHERE key = 'last_commit_time'`)
	var raw string
	if err := row.Scan(&raw); err != nil {
		return
	}
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || sec == 0 {
		return
	}
	s.lastCommitTime = time.Unix(sec, 0)
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Get performs a point lookup by id.
func (s *Store) Get(ctx context.Context, id entry.ID) (entry.Record, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, path, size, modified, is_folder FROM entries WHERE id = ?`, id.String())
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return entry.Record{}, false, nil
	}
	if err != nil {
		return entry.Record{}, false, qerrors.StorageCommit("get", err)
	}
	return rec, true, nil
}

// GetByPath performs a point lookup by normalized absolute path.
func (s *Store) GetByPath(ctx context.Context, path string) (entry.Record, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, path, size, modified, is_folder FROM entries WHERE path = ?`, path)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return entry.Record{}, false, nil
	}
	if err != nil {
		return entry.Record{}, false, qerrors.StorageCommit("get_by_path", err)
	}
	return rec, true, nil
}

// Count returns the number of live entries.
func (s *Store) Count(ctx context.Context) (uint64, error) {
	var n uint64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n)
	if err != nil {
		return 0, qerrors.StorageCommit("count", err)
	}
	return n, nil
}

// LastCommitTime returns the time of the last successful Batch commit, or
// the zero time if none has ever happened.
func (s *Store) LastCommitTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCommitTime
}

// Batch applies ops atomically: all puts and deletes either fully commit
// or are fully rolled back, leaving the store in its prior state.
func (s *Store) Batch(ctx context.Context, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return qerrors.StorageCommit("begin", err)
	}
	defer tx.Rollback()

	upsert, err := tx.PrepareContext(ctx, `
		INSERT INTO entries (id, name, path, size, modified, is_folder)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			path = excluded.path,
			size = excluded.size,
			modified = excluded.modified,
			is_folder = excluded.is_folder
	`)
	if err != nil {
		return qerrors.StorageCommit("prepare_upsert", err)
	}
	defer upsert.Close()

	del, err := tx.PrepareContext(ctx, `DELETE FROM entries WHERE id = ?`)
	if err != nil {
		return qerrors.StorageCommit("prepare_delete", err)
	}
	defer del.Close()

	for _, op := range ops {
		if op.Delete {
			if _, err := del.ExecContext(ctx, op.ID.String()); err != nil {
				return qerrors.StorageCommit("delete", err)
			}
			continue
		}
		r := op.Record
		isFolder := 0
		if r.IsFolder {
			isFolder = 1
		}
		if _, err := upsert.ExecContext(ctx, r.ID.String(), r.Name, r.Path, r.Size, r.Modified.Unix(), isFolder); err != nil {
			return qerrors.StorageCommit("upsert", err)
		}
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO metadata (key, value) VALUES ('last_commit_time', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.FormatInt(now.Unix(), 10)); err != nil {
		return qerrors.StorageCommit("commit_metadata", err)
	}

	if err := tx.Commit(); err != nil {
		return qerrors.StorageCommit("commit", err)
	}

	s.mu.Lock()
	s.lastCommitTime = now
	s.mu.Unlock()
	return nil
}

// Clear deletes every entry, used at the start of a forced rebuild so
// the crawl that follows starts from empty rather than merging into
// whatever the store held before.
func (s *Store) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return qerrors.StorageCommit("begin_clear", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		return qerrors.StorageCommit("clear", err)
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO metadata (key, value) VALUES ('last_commit_time', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.FormatInt(now.Unix(), 10)); err != nil {
		return qerrors.StorageCommit("clear_metadata", err)
	}

	if err := tx.Commit(); err != nil {
		return qerrors.StorageCommit("commit_clear", err)
	}

	s.mu.Lock()
	s.lastCommitTime = now
	s.mu.Unlock()
	return nil
}

// All streams every live record to fn in path order, for rebuilding the
// Search Index from the Metadata Store on process start. Iteration stops
// and returns fn's error if fn returns non-nil.
func (s *Store) All(ctx context.Context, fn func(entry.Record) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, path, size, modified, is_folder FROM entries ORDER BY path`)
	if err != nil {
		return qerrors.StorageCommit("scan_all", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecordRows(rows)
		if err != nil {
			return qerrors.StorageCommit("scan_all", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (entry.Record, error) {
	var idStr, name, path string
	var size uint64
	var modified int64
	var isFolder int
	if err := row.Scan(&idStr, &name, &path, &size, &modified, &isFolder); err != nil {
		return entry.Record{}, err
	}
	id, err := entry.ParseID(idStr)
	if err != nil {
		return entry.Record{}, fmt.Errorf("metastore: corrupt id %q: %w", idStr, err)
	}
	return entry.Record{
		ID:       id,
		Name:     name,
		Path:     path,
		Size:     size,
		Modified: time.Unix(modified, 0),
		IsFolder: isFolder != 0,
	}, nil
}

func scanRecordRows(rows *sql.Rows) (entry.Record, error) { return scanRecord(rows) }
