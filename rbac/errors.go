package rbac

import (
	"fmt"

	"github.com/hakrNJN/user-management-service-sub003/kv"
)

// AlreadyExistsError is returned when a conditional create loses to an
// existing record with the same key or unique field.
type AlreadyExistsError struct {
	// Kind names the entity kind or unique field that collided
	// (e.g. "role", "policy name", "user email").
	Kind string

	// Key is the record key the precondition failed on.
	Key kv.Key
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("rbac: %s already exists (pk=%s, sk=%s)", e.Kind, e.Key.PK, e.Key.SK)
}

// InvalidRecordError is returned when a stored record fails required-field
// validation on read. It signals data corruption, not absence.
type InvalidRecordError struct {
	Kind   string
	Key    kv.Key
	Reason string
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("rbac: invalid %s record (pk=%s, sk=%s): %s", e.Kind, e.Key.PK, e.Key.SK, e.Reason)
}

// StorageError wraps any backend fault not covered by the rest of the
// taxonomy. The store layer never retries these; that policy belongs to
// the caller.
type StorageError struct {
	Op  string
	Key kv.Key
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("rbac: %s failed (pk=%s, sk=%s): %v", e.Op, e.Key.PK, e.Key.SK, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// CleanupQueryError is returned when cascading cleanup fails while
// enumerating edges. No deletions have been attempted at that point.
type CleanupQueryError struct {
	EntityKey string
	Err       error
}

func (e *CleanupQueryError) Error() string {
	return fmt.Sprintf("rbac: cleanup enumeration failed for %s: %v", e.EntityKey, e.Err)
}

func (e *CleanupQueryError) Unwrap() error { return e.Err }

// CleanupDeleteError is returned when the cleanup batch delete fails after
// retries. Some edges may already be gone; the operation is at-least-once.
type CleanupDeleteError struct {
	EntityKey string

	// Remaining counts keys still unprocessed when the retry budget ran out.
	Remaining int

	// Err is the underlying fault, nil when the budget alone was exhausted.
	Err error
}

func (e *CleanupDeleteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rbac: cleanup delete failed for %s: %v", e.EntityKey, e.Err)
	}
	return fmt.Sprintf("rbac: cleanup delete for %s left %d keys unprocessed after retries", e.EntityKey, e.Remaining)
}

func (e *CleanupDeleteError) Unwrap() error { return e.Err }
