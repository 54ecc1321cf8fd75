package cursor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/querycore/core/query"
)

func candidate(loc int64, x, y float64) Geo2DCandidate {
	return Geo2DCandidate{
		Location: query.Location{FileID: 0, Offset: loc},
		Document: query.NewDocument(query.Field{Key: "x", Value: x}, query.Field{Key: "y", Value: y}),
		X:        x, Y: y,
	}
}

func TestGeo2DOrdersByDistanceFromCenter(t *testing.T) {
	cands := []Geo2DCandidate{
		candidate(1, 10, 10),
		candidate(2, 1, 1),
		candidate(3, 5, 5),
	}
	g := NewGeo2D(0, 0, cands, nil)

	var order []int64
	for g.Advance() {
		order = append(order, g.CurrentLocation().Offset)
	}
	assert.Equal(t, []int64{2, 3, 1}, order)
}

func TestGeo2DDistanceMonotonicallyIncreases(t *testing.T) {
	cands := []Geo2DCandidate{
		candidate(1, 10, 10),
		candidate(2, 1, 1),
		candidate(3, 5, 5),
	}
	g := NewGeo2D(0, 0, cands, nil)

	var last float64 = -1
	for g.Advance() {
		d := g.Distance()
		assert.GreaterOrEqual(t, d, last)
		last = d
	}
}

func TestGeo2DAppliesMatcher(t *testing.T) {
	cands := []Geo2DCandidate{candidate(1, 1, 1), candidate(2, 2, 2)}
	pred := &query.Predicate{Conjuncts: []query.Conjunct{
		{Field: "x", Kind: query.KindEquality, Intervals: []query.Interval{
			{Low: 2.0, High: 2.0, LowInclusive: true, HighInclusive: true},
		}},
	}}
	g := NewGeo2D(0, 0, cands, query.NewMatcher(pred))

	require.True(t, g.Advance())
	assert.Equal(t, int64(2), g.CurrentLocation().Offset)
	assert.False(t, g.Advance())
}

func TestGeo2DYieldRecoveryResumesAtSamePosition(t *testing.T) {
	cands := []Geo2DCandidate{candidate(1, 1, 1), candidate(2, 2, 2), candidate(3, 3, 3)}
	g := NewGeo2D(0, 0, cands, nil)

	require.True(t, g.Advance())
	tok, err := g.PrepareToYield()
	require.NoError(t, err)
	require.NoError(t, g.RecoverFromYield(tok))

	require.True(t, g.Advance())
	assert.Equal(t, int64(2), g.CurrentLocation().Offset)
}
