// Package orclause implements the $or Clause Driver of spec.md §4.D:
// executes a top-level disjunction clause by clause, range-eliminating
// each clause's predicate against the union of intervals already
// covered by earlier clauses, and deduplicating matches across the
// whole sequence with a single shared DupSet. Grounded on the
// sequential-then-merge union strategy of
// datalog/executor/pattern_match.go's disjunction handling.
package orclause

import (
	"fmt"

	"github.com/wbrown/querycore/core/corerr"
	"github.com/wbrown/querycore/core/cursor"
	"github.com/wbrown/querycore/core/dupset"
	"github.com/wbrown/querycore/core/query"
)

// ClauseBuilder builds a fresh Cursor (typically a *racer.Racer) for
// one surviving clause's restricted predicate. Supplied by the
// caller, since building a clause's racer needs the namespace's
// indexes, plan cache, and cursor-opening collaborators, none of which
// this package needs to know about directly.
type ClauseBuilder func(restricted *query.Predicate, clauseIndex int) (cursor.Cursor, error)

// Driver executes Clauses []* query.Predicate in order, skipping any
// that range elimination empties out, and surfaces the union of their
// matches with cross-clause deduplication.
type Driver struct {
	clauses []*query.Predicate
	build   ClauseBuilder

	dup *dupset.DupSet

	// covered accumulates, per field, every interval any prior
	// surviving clause has contributed -- the range-elimination state
	// passed to Predicate.Restrict for each subsequent clause.
	covered map[string][]query.Interval

	clauseIdx int
	current   cursor.Cursor

	killed bool
	ok     bool

	nscanned int64

	lastBuildErr error
	lastErr      error
}

// New builds a Driver over clauses, executed against build in list
// order. No clause cursor is opened until the first Advance.
func New(clauses []*query.Predicate, build ClauseBuilder) *Driver {
	return &Driver{
		clauses: clauses,
		build:   build,
		dup:     dupset.New(),
		covered: make(map[string][]query.Interval),
	}
}

func (d *Driver) Ok() bool { return d.ok }

// Kill marks the driver dead: the current Advance call (if any
// in-flight semantics require it) and every subsequent one report not
// ok, per spec.md §4.D. Every Advance from this point on also sets
// Err to corerr.ErrKilled, so a caller can distinguish a killed clause
// from one that simply ran out of matches.
func (d *Driver) Kill() {
	d.killed = true
	if d.current != nil {
		d.current.Close()
		d.current = nil
	}
}

func (d *Driver) Advance() bool {
	if d.killed {
		d.ok = false
		d.lastErr = corerr.ErrKilled
		return false
	}
	for {
		if d.current == nil {
			if !d.advanceToNextClause() {
				d.ok = false
				return false
			}
		}
		if d.killed {
			d.ok = false
			d.lastErr = corerr.ErrKilled
			return false
		}
		if !d.current.Advance() {
			d.current.Close()
			d.current = nil
			continue
		}
		d.nscanned += d.current.NScanned()
		loc := d.current.CurrentLocation()
		if d.dup.GetSetDup(loc) {
			continue
		}
		d.ok = true
		return true
	}
}

// advanceToNextClause opens the next clause whose range-eliminated
// predicate is non-empty, recording its intervals into covered for
// the clauses that follow. Returns false once clauses are exhausted.
func (d *Driver) advanceToNextClause() bool {
	for d.clauseIdx < len(d.clauses) {
		orig := d.clauses[d.clauseIdx]
		hadConjuncts := len(orig.Conjuncts)
		restricted := orig.Restrict(d.covered)
		idx := d.clauseIdx
		d.clauseIdx++

		if restricted.IsEmpty(hadConjuncts) {
			continue
		}

		for _, f := range orig.Fields() {
			d.covered[f] = append(d.covered[f], orig.FieldIntervals(f)...)
		}

		cur, err := d.build(restricted, idx)
		if err != nil {
			// A clause that fails to build is treated as contributing
			// nothing rather than aborting the whole union; callers
			// that want stricter behavior can inspect LastBuildError.
			d.lastBuildErr = err
			continue
		}
		d.current = cur
		return true
	}
	return false
}

// LastBuildError returns the most recent clause-build failure, if
// any, so callers can distinguish "no more matches" from "a clause
// silently failed to open".
func (d *Driver) LastBuildError() error { return d.lastBuildErr }

// Err returns the reason the most recent Advance call returned false
// for a reason other than natural exhaustion: corerr.ErrKilled once
// Kill has been called, nil otherwise.
func (d *Driver) Err() error { return d.lastErr }

func (d *Driver) CurrentLocation() query.Location {
	if d.current == nil {
		return query.NullLocation
	}
	return d.current.CurrentLocation()
}

func (d *Driver) CurrentDocument() (*query.Document, error) {
	if d.current == nil || !d.ok {
		return nil, fmt.Errorf("orclause: not positioned on an item")
	}
	return d.current.CurrentDocument()
}

func (d *Driver) NScanned() int64 { return d.nscanned }

func (d *Driver) Close() error {
	if d.current != nil {
		d.current.Close()
		d.current = nil
	}
	d.killed = true
	return nil
}

// IsKilled reports whether Kill has been called.
func (d *Driver) IsKilled() bool { return d.killed }

// ErrKilled is returned by operations attempted on a killed driver
// that expect to report an error rather than simply stop producing
// results.
var ErrKilled = corerr.ErrKilled
