package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/querycore/core/query"
)

func pattern(field string) query.Pattern {
	return query.Fingerprint(&query.Predicate{Conjuncts: []query.Conjunct{
		{Field: field, Kind: query.KindEquality},
	}}, nil)
}

func TestPlanCacheSetGetRoundTrip(t *testing.T) {
	c := NewPlanCache(100)
	p := pattern("a")
	winner := Winner{Index: query.NewIndexSpec("by_a", "a")}

	c.Set("events", p, winner)
	c.rc.Wait()

	got, ok := c.Get("events", p)
	require.True(t, ok)
	assert.Equal(t, "by_a", got.Index.Name)
}

func TestPlanCacheMissCountsSeparately(t *testing.T) {
	c := NewPlanCache(100)
	_, ok := c.Get("events", pattern("missing"))
	assert.False(t, ok)
	hits, misses := c.Stats()
	assert.Equal(t, int64(0), hits)
	assert.Equal(t, int64(1), misses)
}

func TestPlanCacheInvalidateNamespaceHidesOldEntries(t *testing.T) {
	c := NewPlanCache(100)
	p := pattern("a")
	c.Set("events", p, Winner{Index: query.NewIndexSpec("by_a", "a")})
	c.rc.Wait()

	_, ok := c.Get("events", p)
	require.True(t, ok)

	c.InvalidateNamespace("events")
	_, ok = c.Get("events", p)
	assert.False(t, ok, "entry set before invalidation must not be visible afterward")
}

func TestPlanCacheInvalidationIsPerNamespace(t *testing.T) {
	c := NewPlanCache(100)
	p := pattern("a")
	c.Set("events", p, Winner{Index: query.NewIndexSpec("by_a", "a")})
	c.Set("logs", p, Winner{Index: query.NewIndexSpec("by_a", "a")})
	c.rc.Wait()

	c.InvalidateNamespace("events")

	_, ok := c.Get("events", p)
	assert.False(t, ok)
	_, ok = c.Get("logs", p)
	assert.True(t, ok)
}

func TestPatternFingerprintIgnoresBoundValuesButNotShape(t *testing.T) {
	p1 := query.Fingerprint(&query.Predicate{Conjuncts: []query.Conjunct{
		{Field: "a", Kind: query.KindEquality, Intervals: []query.Interval{
			{Low: int64(1), High: int64(1), LowInclusive: true, HighInclusive: true},
		}},
	}}, nil)
	p2 := query.Fingerprint(&query.Predicate{Conjuncts: []query.Conjunct{
		{Field: "a", Kind: query.KindEquality, Intervals: []query.Interval{
			{Low: int64(2), High: int64(2), LowInclusive: true, HighInclusive: true},
		}},
	}}, nil)
	assert.True(t, p1.Equal(p2), "same shape with different bound values must share a fingerprint")

	p3 := query.Fingerprint(&query.Predicate{Conjuncts: []query.Conjunct{
		{Field: "a", Kind: query.KindEquality},
		{Field: "b", Kind: query.KindEquality},
	}}, nil)
	assert.False(t, p1.Equal(p3), "a differently shaped predicate must not share a fingerprint")
}
