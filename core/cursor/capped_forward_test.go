package cursor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/querycore/core/corerr"
	"github.com/wbrown/querycore/core/query"
)

func TestCappedForwardAdvancesInInsertionOrder(t *testing.T) {
	mgr := openTestManager(t)
	seedRecords(t, mgr, "events", 3)

	cf, err := NewCappedForward("events", mgr, nil, decodeTestDoc)
	require.NoError(t, err)
	defer cf.Close()

	var seen []int64
	for cf.Advance() {
		doc, err := cf.CurrentDocument()
		require.NoError(t, err)
		v, _ := doc.Get("n")
		seen = append(seen, int64(v.(float64)))
	}
	assert.Equal(t, []int64{0, 1, 2}, seen)
}

func TestCappedForwardAppliesMatcher(t *testing.T) {
	mgr := openTestManager(t)
	seedRecords(t, mgr, "events", 4)

	pred := &query.Predicate{Conjuncts: []query.Conjunct{
		{Field: "n", Kind: query.KindEquality, Intervals: []query.Interval{
			{Low: 3.0, High: 3.0, LowInclusive: true, HighInclusive: true},
		}},
	}}
	cf, err := NewCappedForward("events", mgr, query.NewMatcher(pred), decodeTestDoc)
	require.NoError(t, err)
	defer cf.Close()

	require.True(t, cf.Advance())
	doc, _ := cf.CurrentDocument()
	v, _ := doc.Get("n")
	assert.Equal(t, int64(3), int64(v.(float64)))
	assert.False(t, cf.Advance())
}

func TestCappedForwardYieldRecoveryResumesAfterSavedLocation(t *testing.T) {
	mgr := openTestManager(t)
	seedRecords(t, mgr, "events", 3)

	cf, err := NewCappedForward("events", mgr, nil, decodeTestDoc)
	require.NoError(t, err)
	defer cf.Close()

	require.True(t, cf.Advance())
	tok, err := cf.PrepareToYield()
	require.NoError(t, err)
	require.NoError(t, cf.RecoverFromYield(tok))

	require.True(t, cf.Advance())
	doc, _ := cf.CurrentDocument()
	v, _ := doc.Get("n")
	assert.Equal(t, int64(1), int64(v.(float64)))
}

func TestCappedForwardRecoveryFailsWhenRecordOverwrittenWhileSuspended(t *testing.T) {
	mgr := openTestManager(t)
	locs := seedRecords(t, mgr, "events", 3)

	cf, err := NewCappedForward("events", mgr, nil, decodeTestDoc)
	require.NoError(t, err)
	defer cf.Close()

	require.True(t, cf.Advance())
	require.Equal(t, locs[0], cf.CurrentLocation())
	tok, err := cf.PrepareToYield()
	require.NoError(t, err)

	// Simulate the capped ring recycling this exact slot for an
	// unrelated document while the cursor was suspended.
	require.NoError(t, mgr.Write("events", locs[0], encodeTestDoc(999)))

	err = cf.RecoverFromYield(tok)
	require.Error(t, err)
	assert.ErrorIs(t, err, corerr.ErrRecoveryFailed)
	assert.True(t, cf.CurrentLocation().IsInvalid(), "an overwrite-detected recovery must leave the cursor's location at the invalid sentinel")
	assert.False(t, cf.Ok())
}

func TestCappedForwardCurrentDocumentErrorsWhenNotPositioned(t *testing.T) {
	mgr := openTestManager(t)
	cf, err := NewCappedForward("events", mgr, nil, decodeTestDoc)
	require.NoError(t, err)
	defer cf.Close()

	_, err = cf.CurrentDocument()
	assert.Error(t, err)
}
