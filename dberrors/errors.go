// Package dberrors defines the result-code taxonomy surfaced at the
// storage engine's API boundary, along with typed errors that carry
// enough context for callers and logs to diagnose a failure without
// re-deriving it from a bare code.
package dberrors

import (
	"errors"
	"fmt"
)

// Code is a result code in the spirit of SQLite's primary result codes.
// OK is the zero value so a freshly declared Code reads as success.
type Code int

const (
	OK Code = iota
	NOMEM
	IOERR
	CORRUPT
	FULL
	LOCKED
	LockedSharedCache
	BUSY
	READONLY
	CONSTRAINT
	ABORT
	NOTADB
	DONE // not an error; signals end-of-stream to a cursor walk
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case NOMEM:
		return "NOMEM"
	case IOERR:
		return "IOERR"
	case CORRUPT:
		return "CORRUPT"
	case FULL:
		return "FULL"
	case LOCKED:
		return "LOCKED"
	case LockedSharedCache:
		return "LOCKED_SHAREDCACHE"
	case BUSY:
		return "BUSY"
	case READONLY:
		return "READONLY"
	case CONSTRAINT:
		return "CONSTRAINT"
	case ABORT:
		return "ABORT"
	case NOTADB:
		return "NOTADB"
	case DONE:
		return "DONE"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// Sentinel errors, one per non-IO result code. Callers compare with
// errors.Is; typed errors below wrap these so As still works through
// a StorageError.
var (
	ErrNoMem             = errors.New("out of memory")
	ErrCorrupt           = errors.New("database disk image is malformed")
	ErrFull              = errors.New("database or disk is full")
	ErrLocked            = errors.New("database table is locked")
	ErrLockedSharedCache = errors.New("database table is locked (shared cache)")
	ErrBusy              = errors.New("database is locked")
	ErrReadOnly          = errors.New("attempt to write a readonly database")
	ErrConstraint        = errors.New("constraint failed")
	ErrAbort             = errors.New("callback requested query abort")
	ErrNotADatabase      = errors.New("file is not a database")
	ErrDone              = errors.New("no more rows")
)

// StorageError is the typed error returned by most engine operations.
// It carries the result code plus enough structural context (which
// page, which operation) to make a log line self-sufficient.
type StorageError struct {
	Code Code
	Op   string // operation in progress, e.g. "balance", "readCell", "commitPhase1"
	Page uint32 // page number involved, 0 if not page-specific
	Err  error  // underlying cause, if any
}

func (e *StorageError) Error() string {
	var base string
	switch {
	case e.Op != "" && e.Page != 0:
		base = fmt.Sprintf("%s: page %d: %s", e.Op, e.Page, e.Code)
	case e.Op != "":
		base = fmt.Sprintf("%s: %s", e.Op, e.Code)
	default:
		base = e.Code.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", base, e.Err)
	}
	return base
}

func (e *StorageError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return sentinelFor(e.Code)
}

func sentinelFor(c Code) error {
	switch c {
	case NOMEM:
		return ErrNoMem
	case CORRUPT:
		return ErrCorrupt
	case FULL:
		return ErrFull
	case LOCKED:
		return ErrLocked
	case LockedSharedCache:
		return ErrLockedSharedCache
	case BUSY:
		return ErrBusy
	case READONLY:
		return ErrReadOnly
	case CONSTRAINT:
		return ErrConstraint
	case ABORT:
		return ErrAbort
	case NOTADB:
		return ErrNotADatabase
	case DONE:
		return ErrDone
	default:
		return nil
	}
}

// New builds a StorageError for the given code and operation.
func New(code Code, op string) *StorageError {
	return &StorageError{Code: code, Op: op}
}

// NewPage builds a StorageError tied to a specific page number.
func NewPage(code Code, op string, page uint32) *StorageError {
	return &StorageError{Code: code, Op: op, Page: page}
}

// Wrap attaches a result code and operation to an underlying error.
// Returns nil if err is nil, mirroring fmt.Errorf's nil-passthrough
// conventions used elsewhere in this codebase.
func Wrap(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Code: code, Op: op, Err: err}
}

// IOError represents a failure of the underlying file, wrapping the
// OS-level error and naming which I/O step was in flight — SQLite
// subdivides IOERR by call site (read/write/fsync/short-read/...) so
// that a single "disk error" report can be traced to the syscall that
// produced it.
type IOError struct {
	Step string // "read", "write", "fsync", "truncate", "seek", "short-read", ...
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("IOERR(%s): %s: %v", e.Step, e.Path, e.Err)
	}
	return fmt.Sprintf("IOERR(%s): %v", e.Step, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// NewIO creates an IOError for the named step.
func NewIO(step, path string, err error) *IOError {
	return &IOError{Step: step, Path: path, Err: err}
}

// CodeOf extracts the result Code carried by err, walking the wrap
// chain. An *IOError anywhere in the chain reports IOERR. A non-nil
// error with no recognizable Code reports CORRUPT, since that is how
// this engine treats unrecognized structural failures.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var se *StorageError
	if errors.As(err, &se) {
		return se.Code
	}
	var ioe *IOError
	if errors.As(err, &ioe) {
		return IOERR
	}
	return CORRUPT
}

// Is wraps errors.Is for convenience, matching the rest of this codebase's
// error-handling style.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
