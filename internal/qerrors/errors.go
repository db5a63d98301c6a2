// Package qerrors defines the discriminated error taxonomy shared by every
// component of the indexing and search engine.
package qerrors

import (
	"fmt"
	"time"
)

// Kind discriminates the error taxonomy surfaced to the control plane.
type Kind string

const (
	KindInvalidRegex        Kind = "invalid_regex"
	KindIndexNotReady       Kind = "index_not_ready"
	KindInvalidRoot         Kind = "invalid_root"
	KindIO                  Kind = "io"
	KindStorageCommit       Kind = "storage_commit"
	KindIncompatibleVersion Kind = "incompatible_version"
)

// Error is the typed error value every component returns for
// taxonomy-bearing failures.
type Error struct {
	Kind       Kind
	Op         string
	Path       string
	Underlying error
	At         time.Time
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Underlying: err, At: time.Now()}
}

// InvalidRegex reports a syntactically invalid user-supplied pattern.
func InvalidRegex(op string, err error) *Error { return newError(KindInvalidRegex, op, err) }

// IndexNotReady reports that no SI snapshot has ever been committed.
func IndexNotReady(op string) *Error { return newError(KindIndexNotReady, op, nil) }

// InvalidRoot reports a crawl root that does not exist or is unreadable.
func InvalidRoot(path string, err error) *Error {
	e := newError(KindInvalidRoot, "build_index", err)
	e.Path = path
	return e
}

// IO reports a transient I/O error encountered during crawl or ingest.
func IO(op string, path string, err error) *Error {
	e := newError(KindIO, op, err)
	e.Path = path
	return e
}

// StorageCommit reports an MS or SI commit failure.
func StorageCommit(op string, err error) *Error { return newError(KindStorageCommit, op, err) }

// IncompatibleVersion reports an on-disk layout version mismatch.
func IncompatibleVersion(path string, onDisk, expected int) *Error {
	e := newError(KindIncompatibleVersion, "open",
		fmt.Errorf("on-disk version %d, expected %d", onDisk, expected))
	e.Path = path
	return e
}

// WithPath attaches a path to an error that was built without one.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (%s): %v", e.Kind, e.Op, e.Path, e.Underlying)
	}
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Underlying)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Op)
}

func (e *Error) Unwrap() error { return e.Underlying }

// Is allows errors.Is(err, qerrors.Sentinel(qerrors.KindIndexNotReady))
// style checks: any *Error target matches when its Kind is equal.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// Sentinel returns a bare *Error carrying only a Kind, suitable for use
// with errors.Is(err, qerrors.Sentinel(qerrors.KindIndexNotReady)).
func Sentinel(k Kind) *Error { return &Error{Kind: k} }
