package engine

import (
	"errors"

	"github.com/trellishq/trellis/internal/store"
)

// Common errors returned by engine operations.
//
// These errors can be checked using errors.Is() for proper error handling:
//
//	if errors.Is(err, engine.ErrNotFound) {
//	    // Handle a missing branch, commit, merge, or conflict
//	}
var (
	// ErrNotFound is returned when the branch, commit, merge, or conflict
	// an operation refers to does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when the operation is not allowed from
	// the entity's current state, such as committing to a merged branch
	// or resolving a conflict on a completed merge.
	ErrInvalidState = errors.New("invalid state for operation")

	// ErrConflicts is returned when a merge cannot complete because
	// conflicts remain unresolved.
	ErrConflicts = errors.New("unresolved conflicts")

	// ErrBranchNotWritable is returned when the author lacks write access
	// to the branch.
	ErrBranchNotWritable = errors.New("branch not writable")

	// ErrStaleHead is returned when a concurrent writer advanced the
	// branch head between read and write. The caller should re-read the
	// head and retry.
	ErrStaleHead = store.ErrStaleHead
)

// IsNotFound returns true if the error indicates a missing entity, at
// either the engine or the storage layer.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, store.ErrBranchNotFound) ||
		errors.Is(err, store.ErrCommitNotFound) ||
		errors.Is(err, store.ErrMergeNotFound) ||
		errors.Is(err, store.ErrConflictNotFound) ||
		errors.Is(err, store.ErrComparisonNotFound)
}

// IsInvalidState returns true if the error means the operation was legal
// but not from the entity's current state.
func IsInvalidState(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrInvalidState) || errors.Is(err, ErrBranchNotWritable)
}

// IsConflict returns true if the error requires conflict resolution or a
// retry after concurrent modification.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrConflicts) ||
		errors.Is(err, ErrStaleHead) ||
		errors.Is(err, store.ErrConflictsPending)
}
