package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndexSpecLeadingFieldAndNames(t *testing.T) {
	spec := NewIndexSpec("by_ab", "a", "b")
	assert.Equal(t, "a", spec.LeadingField())
	assert.Equal(t, []string{"a", "b"}, spec.FieldNames())
}

func TestIndexSpecSatisfiesSortEmptyAlwaysTrue(t *testing.T) {
	spec := NewIndexSpec("by_a", "a")
	assert.True(t, spec.SatisfiesSort(nil))
}

func TestIndexSpecSatisfiesSortForwardAndReverse(t *testing.T) {
	spec := NewIndexSpec("by_ab", "a", "b")
	assert.True(t, spec.SatisfiesSort([]IndexField{{Field: "a", Direction: Ascending}}))
	assert.True(t, spec.SatisfiesSort([]IndexField{{Field: "a", Direction: Descending}}))
	assert.False(t, spec.SatisfiesSort([]IndexField{{Field: "b", Direction: Ascending}}))
	assert.False(t, spec.SatisfiesSort([]IndexField{
		{Field: "a", Direction: Ascending}, {Field: "b", Direction: Ascending}, {Field: "c", Direction: Ascending},
	}))
}

func TestIndexSpecLeadingBound(t *testing.T) {
	spec := NewIndexSpec("by_a", "a")
	bound := &Predicate{Conjuncts: []Conjunct{{Field: "a", Kind: KindEquality, Intervals: []Interval{
		{Low: int64(1), High: int64(1), LowInclusive: true, HighInclusive: true},
	}}}}
	unbound := &Predicate{}
	assert.True(t, spec.LeadingBound(bound))
	assert.False(t, spec.LeadingBound(unbound))
}

func eqInterval(v Value) Interval {
	return Interval{Low: v, High: v, LowInclusive: true, HighInclusive: true}
}

func TestCoversPredicateFieldsSingleFieldIndexBoundExactly(t *testing.T) {
	spec := NewIndexSpec("by_a", "a")
	pred := &Predicate{Conjuncts: []Conjunct{{Field: "a", Kind: KindEquality, Intervals: []Interval{eqInterval(int64(1))}}}}
	assert.True(t, spec.CoversPredicateFields(pred))
}

func TestCoversPredicateFieldsRejectsBoundFieldOutsideIndex(t *testing.T) {
	spec := NewIndexSpec("by_a", "a")
	pred := &Predicate{Conjuncts: []Conjunct{
		{Field: "a", Kind: KindEquality, Intervals: []Interval{eqInterval(int64(1))}},
		{Field: "b", Kind: KindEquality, Intervals: []Interval{eqInterval(int64(2))}},
	}}
	assert.False(t, spec.CoversPredicateFields(pred),
		"b is bound by the predicate but absent from by_a, so the index must not be reported as covering it")
}

func TestCoversPredicateFieldsRejectsBoundFieldPastGap(t *testing.T) {
	spec := NewIndexSpec("by_ab", "a", "b")
	pred := &Predicate{Conjuncts: []Conjunct{
		{Field: "b", Kind: KindEquality, Intervals: []Interval{eqInterval(int64(2))}},
	}}
	assert.False(t, spec.CoversPredicateFields(pred),
		"a is unbound so the contiguous prefix stops before b, even though b is an index field")
}

func TestCoversPredicateFieldsTrueForEmptyPredicate(t *testing.T) {
	spec := NewIndexSpec("by_a", "a")
	assert.True(t, spec.CoversPredicateFields(&Predicate{}))
}

func TestProjectAndCompareKeys(t *testing.T) {
	spec := NewIndexSpec("by_ab", "a", "b")
	doc1 := NewDocument(Field{Key: "a", Value: int64(1)}, Field{Key: "b", Value: int64(2)})
	doc2 := NewDocument(Field{Key: "a", Value: int64(1)}, Field{Key: "b", Value: int64(3)})

	k1 := Project(spec, doc1)
	k2 := Project(spec, doc2)
	assert.Equal(t, -1, CompareKeys(k1, k2))
	assert.Equal(t, 0, CompareKeys(k1, k1))
}

func TestProjectMissingFieldProjectsNil(t *testing.T) {
	spec := NewIndexSpec("by_a", "a")
	doc := NewDocument()
	k := Project(spec, doc)
	assert.Nil(t, k.Values[0])
}

func TestDirectionFlip(t *testing.T) {
	assert.Equal(t, Descending, Ascending.Flip())
	assert.Equal(t, Ascending, Descending.Flip())
}
