package lifecycle

import (
	"errors"
	"fmt"
)

// IllegalState reasons. Machine-readable; surfaced verbatim in API conflict
// responses.
const (
	ReasonNotValidated     = "NOT_VALIDATED"
	ReasonStaleFingerprint = "STALE_FINGERPRINT"
	ReasonNoActivePack     = "NO_ACTIVE_PACK"
)

// StateConflictError reports an optimistic-concurrency version mismatch.
// Retryable by the caller with bounded backoff; the engine never retries.
type StateConflictError struct {
	RecordID        string
	ExpectedVersion int64
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("state conflict on record %s: expected version %d is stale", e.RecordID, e.ExpectedVersion)
}

// NotFoundError reports a missing record or rule pack. Fatal for the
// request.
type NotFoundError struct {
	Kind string // "record" or "rule pack"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// IllegalStateError reports a lifecycle precondition violation. Not
// retryable without caller-side correction (re-validate, then re-export).
type IllegalStateError struct {
	RecordID string
	Reason   string
	Detail   string
}

func (e *IllegalStateError) Error() string {
	return fmt.Sprintf("illegal state on record %s (%s): %s", e.RecordID, e.Reason, e.Detail)
}

// ExportError reports artifact generation failure. Fatal; no partial
// artifact is ever persisted.
type ExportError struct {
	RecordID string
	Err      error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export failed for record %s: %v", e.RecordID, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }

// IsRetryable reports whether the caller may retry the operation without
// changing anything (only state conflicts qualify).
func IsRetryable(err error) bool {
	var sc *StateConflictError
	return errors.As(err, &sc)
}
