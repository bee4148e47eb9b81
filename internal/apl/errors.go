package apl

import (
	"errors"
	"fmt"
)

// ErrRunInProgress is returned when a sync is requested for a state whose
// previous run has not finished. The caller drops the tick, it is never queued.
var ErrRunInProgress = errors.New("sync already running for state")

// FetchError aborts a run before any transformation happens. No partial
// ingestion is ever performed from a partial download.
type FetchError struct {
	State  string
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.State, e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StorageError indicates the run's transaction failed and rolled back fully.
type StorageError struct {
	State string
	Err   error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.State, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsFetchError reports whether err is (or wraps) a FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
