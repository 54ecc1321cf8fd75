package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/querycore/core/corerr"
	"github.com/wbrown/querycore/core/query"
)

func eqConjunct(field string, v query.Value) query.Conjunct {
	return query.Conjunct{Field: field, Kind: query.KindEquality, Intervals: []query.Interval{
		{Low: v, High: v, LowInclusive: true, HighInclusive: true},
	}}
}

func TestGenerateHintShortCircuits(t *testing.T) {
	byA := query.NewIndexSpec("by_a", "a")
	byB := query.NewIndexSpec("by_b", "b")
	req := Request{
		Indexes:   []query.IndexSpec{byA, byB},
		Predicate: &query.Predicate{},
		Hint:      &byB,
	}
	cands, err := Generate(req)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "by_b", cands[0].Index.Name)
}

func TestGenerateSnapshotPrefersIDIndex(t *testing.T) {
	idIdx := query.NewIndexSpec("_id_", "_id")
	other := query.NewIndexSpec("by_a", "a")
	req := Request{
		Indexes:   []query.IndexSpec{other, idIdx},
		Predicate: &query.Predicate{},
		Snapshot:  true,
	}
	cands, err := Generate(req)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "_id_", cands[0].Index.Name)
}

func TestGenerateSnapshotFallsBackToTableScan(t *testing.T) {
	other := query.NewIndexSpec("by_a", "a")
	req := Request{
		Indexes:   []query.IndexSpec{other},
		Predicate: &query.Predicate{},
		Snapshot:  true,
	}
	cands, err := Generate(req)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, TableScan, cands[0].Classification)
}

func TestGenerateOptimalSinglePlan(t *testing.T) {
	idx := query.NewIndexSpec("by_a", "a")
	req := Request{
		Indexes:   []query.IndexSpec{idx},
		Predicate: &query.Predicate{Conjuncts: []query.Conjunct{eqConjunct("a", int64(1))}},
	}
	cands, err := Generate(req)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, Optimal, cands[0].Classification)
}

func TestGenerateSkipsOptimalWhenPredicateBoundsFieldOutsideIndex(t *testing.T) {
	byA := query.NewIndexSpec("by_a", "a")
	req := Request{
		Indexes: []query.IndexSpec{byA},
		Predicate: &query.Predicate{Conjuncts: []query.Conjunct{
			eqConjunct("a", int64(1)), eqConjunct("b", int64(2)),
		}},
		// No sort requested: an empty sort is trivially satisfied by any
		// index, so the only thing standing between this and a (wrong)
		// Optimal short-circuit is whether "b" -- bound by the predicate
		// but absent from by_a -- is detected as uncovered.
	}
	cands, err := Generate(req)
	require.NoError(t, err)
	for _, c := range cands {
		assert.NotEqual(t, Optimal, c.Classification,
			"by_a does not cover bound field b, so this predicate must not take the single-plan optimal path")
	}
	var names []string
	for _, c := range cands {
		names = append(names, c.Index.Name)
	}
	assert.Contains(t, names, "by_a", "by_a is still a valid racing candidate, just not an optimal one")
	assert.Contains(t, names, "", "the table scan must be enumerated alongside by_a")
}

func TestGenerateEnumeratesBoundedIndexesPlusTableScan(t *testing.T) {
	byA := query.NewIndexSpec("by_a", "a")
	byB := query.NewIndexSpec("by_b", "b")
	req := Request{
		Indexes: []query.IndexSpec{byA, byB},
		Predicate: &query.Predicate{Conjuncts: []query.Conjunct{
			eqConjunct("a", int64(1)), eqConjunct("b", int64(2)),
		}},
		// Neither index's order satisfies a sort on an unindexed field, so
		// step 3's optimal short-circuit can't fire for either: both land
		// in step 4's enumeration alongside the table scan.
		Sort:            []query.IndexField{{Field: "c", Direction: query.Ascending}},
		AllowOutOfOrder: true,
	}
	cands, err := Generate(req)
	require.NoError(t, err)
	var names []string
	for _, c := range cands {
		names = append(names, c.Index.Name)
		assert.True(t, c.ScanAndOrderRequired)
	}
	assert.Contains(t, names, "by_a")
	assert.Contains(t, names, "by_b")
	assert.Contains(t, names, "") // table scan has a zero-value Index
}

func TestGenerateNoOrderedPlanWhenOutOfOrderDisallowed(t *testing.T) {
	byA := query.NewIndexSpec("by_a", "a")
	req := Request{
		Indexes:   []query.IndexSpec{byA},
		Predicate: &query.Predicate{Conjuncts: []query.Conjunct{eqConjunct("a", int64(1))}},
		Sort:      []query.IndexField{{Field: "b", Direction: query.Ascending}},
	}
	_, err := Generate(req)
	require.Error(t, err)
	assert.True(t, IsNoOrderedPlan(err))
	assert.ErrorIs(t, err, corerr.ErrNoOrderedPlan)
}

func TestGenerateOutOfOrderAllowedWhenPermitted(t *testing.T) {
	byA := query.NewIndexSpec("by_a", "a")
	req := Request{
		Indexes:         []query.IndexSpec{byA},
		Predicate:       &query.Predicate{Conjuncts: []query.Conjunct{eqConjunct("a", int64(1))}},
		Sort:            []query.IndexField{{Field: "b", Direction: query.Ascending}},
		AllowOutOfOrder: true,
	}
	cands, err := Generate(req)
	require.NoError(t, err)
	require.NotEmpty(t, cands)
	found := false
	for _, c := range cands {
		if c.Classification == OutOfOrder {
			found = true
			assert.True(t, c.ScanAndOrderRequired)
		}
	}
	assert.True(t, found)
}

func TestGenerateFiltersOutOfOrderWhenDisallowedButSortSatisfiable(t *testing.T) {
	byA := query.NewIndexSpec("by_a", "a")
	byB := query.NewIndexSpec("by_b", "b")
	req := Request{
		Indexes: []query.IndexSpec{byA, byB},
		Predicate: &query.Predicate{Conjuncts: []query.Conjunct{
			eqConjunct("a", int64(1)), eqConjunct("b", int64(2)),
		}},
		Sort: []query.IndexField{{Field: "a", Direction: query.Ascending}},
	}
	cands, err := Generate(req)
	require.NoError(t, err)
	for _, c := range cands {
		assert.NotEqual(t, OutOfOrder, c.Classification)
	}
}
