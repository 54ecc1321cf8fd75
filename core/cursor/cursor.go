// Package cursor implements the uniform forward/backward iterator over
// a namespace -- table scan, index scan, capped, and geo variants --
// plus the yield/recover and touch-earlier-iterate suspension contract
// of spec.md §4.A. It is grounded on the small-interface, wrapper-
// struct composition style of datalog/executor/iterator_composition.go
// and buffered_iterator.go.
package cursor

import (
	"github.com/wbrown/querycore/core/query"
)

// Cursor is the uniform interface every variant (table scan, index
// scan, capped forward, geo, and the multi-plan racer) implements.
type Cursor interface {
	// Ok reports whether the cursor is currently positioned on a live
	// item. False after exhaustion or a failed recovery.
	Ok() bool

	// Advance moves to the next matching item, applying the cursor's
	// own Matcher (if any) and returning Ok()'s new value. Internal
	// re-advancing on a non-match or a duplicate is the cursor's own
	// responsibility; callers see only matched, deduplicated items.
	Advance() bool

	CurrentLocation() query.Location
	CurrentDocument() (*query.Document, error)

	// CurrentKey and IndexKeyPattern are meaningful only for index-
	// backed cursors; table scan and capped cursors return ok=false.
	CurrentKey() (query.IndexKey, bool)
	IndexKeyPattern() (query.IndexSpec, bool)

	// IsMultiKey reports whether the current key came from a document
	// that contributed more than one key to the index (e.g. an array
	// field) -- surfaced for explain(), not acted on internally since
	// multi-key indexing itself is out of scope.
	IsMultiKey() bool

	Matcher() *query.Matcher

	// KeyFieldsOnly reports whether the cursor can answer the query
	// entirely from the index key, without fetching the document (the
	// covering-projection path of spec.md §4.A).
	KeyFieldsOnly() bool

	// GetSetDup is the membership test *and* insert for cross-plan
	// deduplication: it returns whether loc has already been seen, and
	// as a side effect records it as seen.
	GetSetDup(loc query.Location) bool

	// PrepareToYield captures enough state to resume after a
	// concurrent write; RecoverFromYield restores it or reports
	// corerr.ErrRecoveryFailed.
	PrepareToYield() (YieldToken, error)
	RecoverFromYield(YieldToken) error

	// PrepareToTouchEarlierIterate/RecoverFromTouchingEarlierIterate
	// are the narrower suspension used when the caller mutates a
	// previously returned (not current) document.
	PrepareToTouchEarlierIterate() (YieldToken, error)
	RecoverFromTouchingEarlierIterate(YieldToken) error

	NScanned() int64

	// NoteLocation/CheckLocation let a caller record a location of
	// interest (e.g. one about to be deleted) and later ask whether
	// the cursor has already passed it, used to keep touch-earlier-
	// iterate and yield recovery consistent with in-flight deletes.
	NoteLocation(query.Location)
	CheckLocation(query.Location) bool

	Close() error
}

// YieldToken is an opaque capture of a cursor's resumption state,
// produced by PrepareToYield/PrepareToTouchEarlierIterate and consumed
// by the matching Recover call. Each variant defines its own
// concrete type; callers never need to look inside one.
type YieldToken interface {
	cursorYieldToken()
}
