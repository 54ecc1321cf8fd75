// Package corerr holds the sentinel error values shared across the query
// execution core. Every signal the core can raise is one of these,
// optionally wrapped with fmt.Errorf("...: %w", ...) for context.
package corerr

import "errors"

var (
	// ErrNoOrderedPlan is returned when a requested sort cannot be
	// satisfied by any candidate plan and out-of-order results are
	// disallowed by the caller's policy.
	ErrNoOrderedPlan = errors.New("querycore: no plan satisfies the requested sort order")

	// ErrDocumentTooLarge is returned by capped allocation when a full
	// cycle of the extent list was walked without finding room.
	ErrDocumentTooLarge = errors.New("querycore: document too large for capped collection")

	// ErrRecoveryFailed is returned when a cursor cannot resume after a
	// yield: the current record was overwritten (capped) or deleted, or
	// the backing namespace/index was dropped.
	ErrRecoveryFailed = errors.New("querycore: cursor recovery failed")

	// ErrKilled is returned once a kill signal has been observed on the
	// current operation.
	ErrKilled = errors.New("querycore: operation killed")

	// ErrIntegrity indicates a broken invariant (capped pass counter
	// exceeded, deleted chain not terminated, ...). Fatal: the caller
	// should abort the operation rather than retry.
	ErrIntegrity = errors.New("querycore: integrity error")

	// ErrRefuseEmpty is returned by truncateAfter when the requested
	// truncation would remove the last remaining document of a capped
	// namespace. The source this spec is drawn from asserts in this
	// case rather than allowing an empty capped collection; we surface
	// that as a typed error instead of a panic.
	ErrRefuseEmpty = errors.New("querycore: refusing to empty capped collection via truncate")
)
