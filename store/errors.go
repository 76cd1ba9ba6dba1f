package store

import (
	"errors"
	"fmt"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// Sentinel errors callers branch on with errors.Is. Absence is never an
// error: lookups return nil results for unknown ids.
var (
	// ErrFatalStorage marks backend failures no retry can repair. Every
	// other sentinel below also matches it.
	ErrFatalStorage = errors.New("fatal storage failure")
	// ErrCorruption marks stored state that breaks a store invariant.
	ErrCorruption = errors.New("store corruption")
	// ErrOperationMissing marks a view insert whose fields reference an
	// operation the store has never seen.
	ErrOperationMissing = errors.New("referenced operation missing")

	// ErrNotBlobDocument marks blob assembly of a document outside the blob schema.
	ErrNotBlobDocument = errors.New("not a blob document")
	// ErrNoBlobPiecesFound marks a blob none of whose declared pieces exist.
	ErrNoBlobPiecesFound = errors.New("no blob pieces found")
	// ErrMissingPieces marks a blob with only part of its declared pieces.
	ErrMissingPieces = errors.New("blob pieces missing")
	// ErrIncorrectLength marks an assembled blob whose byte size differs
	// from the length its document declares.
	ErrIncorrectLength = errors.New("blob length mismatch")
)

// storageError carries the failing store operation alongside the backend
// error that caused it.
type storageError struct {
	op    string
	cause error
}

func (e *storageError) Error() string {
	return fmt.Sprintf("%s: fatal storage failure: %v", e.op, e.cause)
}

func (e *storageError) Unwrap() []error {
	return []error{ErrFatalStorage, e.cause}
}

// corruptionError reports stored state the materialiser could never have
// written. Corruption is fatal, the error matches both sentinels.
type corruptionError struct {
	detail string
}

func (e *corruptionError) Error() string {
	return "store corruption: " + e.detail
}

func (e *corruptionError) Unwrap() []error {
	return []error{ErrCorruption, ErrFatalStorage}
}

func corruptionf(format string, args ...any) error {
	return &corruptionError{detail: fmt.Sprintf(format, args...)}
}

// missingOperationError reports view fields referencing operations outside
// the store, surfaced from the backend's foreign key enforcement.
type missingOperationError struct {
	op    string
	cause error
}

func (e *missingOperationError) Error() string {
	return fmt.Sprintf("%s: referenced operation missing: %v", e.op, e.cause)
}

func (e *missingOperationError) Unwrap() []error {
	return []error{ErrOperationMissing, ErrFatalStorage, e.cause}
}

// classifyStorageErr maps a backend error into the store taxonomy. Storage
// errors are never retried here; redundancy lives in the replication layer,
// not in this process.
func classifyStorageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &storageError{op: op, cause: err}
}

// classifyOperationRefErr classifies failures from statements whose only
// enforced foreign key points at operations_v1, so a foreign key breach
// means the referenced operation was never stored.
func classifyOperationRefErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) &&
		sqliteErr.Code == sqlite3.ErrConstraint &&
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey {
		return &missingOperationError{op: op, cause: err}
	}
	return &storageError{op: op, cause: err}
}
