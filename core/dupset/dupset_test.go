package dupset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/querycore/core/query"
)

func loc(offset int64) query.Location { return query.Location{FileID: 1, Offset: offset} }

func TestGetSetDupBasic(t *testing.T) {
	d := New()
	assert.False(t, d.GetSetDup(loc(1)))
	assert.True(t, d.GetSetDup(loc(1)))
	assert.False(t, d.GetSetDup(loc(2)))
	assert.Equal(t, 2, d.Len())
}

func TestGetDoesNotInsert(t *testing.T) {
	d := New()
	assert.False(t, d.Get(loc(1)))
	assert.Equal(t, 0, d.Len())
	d.GetSetDup(loc(1))
	assert.True(t, d.Get(loc(1)))
}

func TestUpgradePreservesEntries(t *testing.T) {
	d := New()
	for i := int64(0); i < arrayCapacity+50; i++ {
		dup := d.GetSetDup(loc(i))
		require.False(t, dup)
	}
	assert.NotNil(t, d.set, "expected DupSet to have upgraded to a hash set")
	assert.Equal(t, arrayCapacity+50, d.Len())

	// Every entry inserted before the upgrade must still be considered
	// a duplicate afterward.
	for i := int64(0); i < arrayCapacity+50; i++ {
		assert.True(t, d.GetSetDup(loc(i)), "location %d lost across upgrade", i)
	}
	assert.Equal(t, arrayCapacity+50, d.Len())
}

func TestUpgradeExactlyAtThreshold(t *testing.T) {
	d := New()
	for i := int64(0); i < arrayCapacity; i++ {
		d.GetSetDup(loc(i))
	}
	assert.Nil(t, d.set, "should not upgrade until strictly past the threshold")
	d.GetSetDup(loc(arrayCapacity))
	assert.NotNil(t, d.set)
}
