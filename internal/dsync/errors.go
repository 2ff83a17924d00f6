package dsync

import (
	"errors"
	"fmt"
)

// StorageFault wraps a local store failure. Storage faults are fatal: the
// engine surfaces them to the caller and never retries them.
type StorageFault struct {
	Op  string
	Err error
}

func (e *StorageFault) Error() string {
	return fmt.Sprintf("storage fault during %s: %v", e.Op, e.Err)
}

func (e *StorageFault) Unwrap() error { return e.Err }

// RemoteError wraps a cloud store failure. Transient errors (network,
// timeout) are eligible for queue retry up to MaxRetries; permanent errors
// (invalid credentials, rejected request) are surfaced immediately.
type RemoteError struct {
	Transient bool
	Op        string
	Err       error
}

func (e *RemoteError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("remote %s failed (%s): %v", e.Op, kind, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// TransientRemote builds a retryable RemoteError.
func TransientRemote(op string, err error) *RemoteError {
	return &RemoteError{Transient: true, Op: op, Err: err}
}

// PermanentRemote builds a non-retryable RemoteError.
func PermanentRemote(op string, err error) *RemoteError {
	return &RemoteError{Transient: false, Op: op, Err: err}
}

// IsTransient reports whether err is a transient RemoteError.
func IsTransient(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Transient
}

// ErrConflictPending is returned when a sync stops because the document has
// an open conflict requiring external resolution. It is a terminal state for
// the document, not a failure: SyncAll sweeps treat it as non-fatal.
var ErrConflictPending = errors.New("sync pending manual conflict resolution")

// ValidationError rejects a malformed document before it enters the store.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid document: " + e.Reason
}
