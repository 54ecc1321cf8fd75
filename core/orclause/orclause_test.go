package orclause

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/querycore/core/corerr"
	"github.com/wbrown/querycore/core/cursor"
	"github.com/wbrown/querycore/core/query"
)

// sliceCursor is a minimal cursor.Cursor fake over a fixed list of
// locations, used to drive the $or driver without a real storage
// backend.
type sliceCursor struct {
	locs []query.Location
	pos  int
	ok   bool
}

func newSliceCursor(locs ...query.Location) *sliceCursor {
	return &sliceCursor{locs: locs, pos: -1}
}

func (c *sliceCursor) Ok() bool { return c.ok }

func (c *sliceCursor) Advance() bool {
	c.pos++
	c.ok = c.pos < len(c.locs)
	return c.ok
}

func (c *sliceCursor) CurrentLocation() query.Location {
	if !c.ok {
		return query.NullLocation
	}
	return c.locs[c.pos]
}

func (c *sliceCursor) CurrentDocument() (*query.Document, error) {
	if !c.ok {
		return nil, fmt.Errorf("sliceCursor: not positioned")
	}
	return query.NewDocument(), nil
}

func (c *sliceCursor) CurrentKey() (query.IndexKey, bool)          { return query.IndexKey{}, false }
func (c *sliceCursor) IndexKeyPattern() (query.IndexSpec, bool)    { return query.IndexSpec{}, false }
func (c *sliceCursor) IsMultiKey() bool                            { return false }
func (c *sliceCursor) Matcher() *query.Matcher                     { return nil }
func (c *sliceCursor) KeyFieldsOnly() bool                         { return false }
func (c *sliceCursor) GetSetDup(loc query.Location) bool           { return false }
func (c *sliceCursor) PrepareToYield() (cursor.YieldToken, error)  { return nil, nil }
func (c *sliceCursor) RecoverFromYield(cursor.YieldToken) error    { return nil }
func (c *sliceCursor) PrepareToTouchEarlierIterate() (cursor.YieldToken, error) {
	return nil, nil
}
func (c *sliceCursor) RecoverFromTouchingEarlierIterate(cursor.YieldToken) error { return nil }
func (c *sliceCursor) NScanned() int64                             { return int64(len(c.locs)) }
func (c *sliceCursor) NoteLocation(query.Location)                 {}
func (c *sliceCursor) CheckLocation(query.Location) bool           { return false }
func (c *sliceCursor) Close() error                                { return nil }

func loc(offset int64) query.Location { return query.Location{FileID: 1, Offset: offset} }

func clauseWithRange(field string, low, high int64) *query.Predicate {
	return &query.Predicate{Conjuncts: []query.Conjunct{
		{Field: field, Kind: query.KindRange, Intervals: []query.Interval{
			{Low: low, High: high, LowInclusive: true, HighInclusive: true},
		}},
	}}
}

func TestDriverUnionsClausesWithoutDuplicates(t *testing.T) {
	clauses := []*query.Predicate{
		clauseWithRange("x", 0, 10),
		clauseWithRange("x", 20, 30),
	}
	built := map[int][]query.Location{
		0: {loc(1), loc(2)},
		1: {loc(3), loc(1)}, // loc(1) duplicated across clauses
	}
	d := New(clauses, func(restricted *query.Predicate, idx int) (cursor.Cursor, error) {
		return newSliceCursor(built[idx]...), nil
	})

	var seen []query.Location
	for d.Advance() {
		seen = append(seen, d.CurrentLocation())
	}
	assert.ElementsMatch(t, []query.Location{loc(1), loc(2), loc(3)}, seen)
}

func TestDriverEliminatesFullyCoveredClause(t *testing.T) {
	clauses := []*query.Predicate{
		clauseWithRange("x", 0, 10),
		clauseWithRange("x", 0, 10), // identical range: fully covered by clause 0
	}
	var builtClauses []int
	d := New(clauses, func(restricted *query.Predicate, idx int) (cursor.Cursor, error) {
		builtClauses = append(builtClauses, idx)
		return newSliceCursor(loc(int64(idx))), nil
	})
	for d.Advance() {
	}
	assert.Equal(t, []int{0}, builtClauses, "second clause should be skipped as fully covered")
}

func TestDriverPartialOverlapStillBuildsRestrictedClause(t *testing.T) {
	clauses := []*query.Predicate{
		clauseWithRange("x", 0, 20),
		clauseWithRange("x", 10, 30), // overlaps but extends beyond clause 0
	}
	var builtIdx []int
	d := New(clauses, func(restricted *query.Predicate, idx int) (cursor.Cursor, error) {
		builtIdx = append(builtIdx, idx)
		return newSliceCursor(loc(int64(idx))), nil
	})
	for d.Advance() {
	}
	assert.Equal(t, []int{0, 1}, builtIdx)
}

func TestDriverKillStopsIteration(t *testing.T) {
	clauses := []*query.Predicate{clauseWithRange("x", 0, 10)}
	d := New(clauses, func(restricted *query.Predicate, idx int) (cursor.Cursor, error) {
		return newSliceCursor(loc(1), loc(2), loc(3)), nil
	})
	require.True(t, d.Advance())
	d.Kill()
	assert.False(t, d.Advance())
	assert.True(t, d.IsKilled())
}

func TestDriverAdvanceAfterKillSurfacesErrKilled(t *testing.T) {
	clauses := []*query.Predicate{clauseWithRange("x", 0, 10)}
	d := New(clauses, func(restricted *query.Predicate, idx int) (cursor.Cursor, error) {
		return newSliceCursor(loc(1), loc(2), loc(3)), nil
	})
	require.True(t, d.Advance())
	require.NoError(t, d.Err(), "a live driver must not report an error before it's killed or exhausted")
	d.Kill()

	assert.False(t, d.Advance())
	assert.ErrorIs(t, d.Err(), corerr.ErrKilled,
		"advancing a killed driver must surface ErrKilled, not just report false the way natural exhaustion does")
}

func TestDriverNaturalExhaustionReportsNoErr(t *testing.T) {
	clauses := []*query.Predicate{clauseWithRange("x", 0, 10)}
	d := New(clauses, func(restricted *query.Predicate, idx int) (cursor.Cursor, error) {
		return newSliceCursor(loc(1)), nil
	})
	require.True(t, d.Advance())
	require.False(t, d.Advance())
	assert.NoError(t, d.Err(), "running out of matches naturally is not the same as being killed")
}

func TestDriverClauseBuildFailureIsSkippedNotFatal(t *testing.T) {
	clauses := []*query.Predicate{
		clauseWithRange("x", 0, 10),
		clauseWithRange("y", 0, 10),
	}
	d := New(clauses, func(restricted *query.Predicate, idx int) (cursor.Cursor, error) {
		if idx == 0 {
			return nil, fmt.Errorf("boom")
		}
		return newSliceCursor(loc(5)), nil
	})
	require.True(t, d.Advance())
	assert.Equal(t, loc(5), d.CurrentLocation())
	require.Error(t, d.LastBuildError())
}
