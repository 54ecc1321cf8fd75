package explain

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wbrown/querycore/core/plan"
	"github.com/wbrown/querycore/core/query"
)

func TestNewFromCandidateSeedsStaticFields(t *testing.T) {
	c := plan.Candidate{
		Classification:       plan.InOrder,
		Index:                query.NewIndexSpec("by_a", "a"),
		ScanAndOrderRequired: false,
		IndexOnly:            true,
	}
	r := NewFromCandidate("events", c)

	assert.Equal(t, "events", r.Namespace)
	assert.Equal(t, c.Classification.String(), r.PlanKind)
	assert.Equal(t, "by_a", r.IndexName)
	assert.False(t, r.ScanAndOrder)
	assert.True(t, r.IndexOnly)
	assert.Zero(t, r.N)
	assert.Zero(t, r.NScanned)
}

func TestRecordMatchIncrementsNAndScannedObjects(t *testing.T) {
	r := &Report{}
	r.RecordMatch()
	r.RecordMatch()
	assert.Equal(t, int64(2), r.N)
	assert.Equal(t, int64(2), r.NScannedObjects)
}

func TestRecordScanIncrementsNScannedOnly(t *testing.T) {
	r := &Report{}
	r.RecordScan()
	r.RecordScan()
	r.RecordScan()
	assert.Equal(t, int64(3), r.NScanned)
	assert.Zero(t, r.N)
}

func TestRecordYieldAndChunkSkipIncrementIndependently(t *testing.T) {
	r := &Report{}
	r.RecordYield()
	r.RecordChunkSkip()
	r.RecordChunkSkip()
	assert.Equal(t, int64(1), r.NYields)
	assert.Equal(t, int64(2), r.NChunkSkips)
}

func TestRenderIncludesAllFieldsForIndexPlan(t *testing.T) {
	c := plan.Candidate{
		Classification:       plan.InOrder,
		Index:                query.NewIndexSpec("by_a", "a"),
		ScanAndOrderRequired: false,
	}
	r := NewFromCandidate("events", c)
	r.RecordMatch()
	r.RecordScan()
	r.RecordYield()
	r.RecordChunkSkip()
	r.IsMultiKey = true
	r.CacheHit = true

	out := r.Render()

	assert.Contains(t, out, "events")
	assert.Contains(t, out, "by_a")
	assert.Contains(t, out, "1") // n, nyields, nChunkSkips all 1
	assert.Contains(t, out, "true")
}

func TestRenderShowsTableScanWhenNoIndex(t *testing.T) {
	c := plan.Candidate{Classification: plan.TableScan}
	r := NewFromCandidate("events", c)

	out := r.Render()
	assert.Contains(t, out, "(table scan)")
}

func TestRenderNScannedSumsScansAndMatches(t *testing.T) {
	r := &Report{}
	r.RecordMatch()
	r.RecordMatch()
	r.RecordScan()

	out := r.Render()
	// nscanned = NScanned(1) + NScannedObjects(2) = 3
	assert.Contains(t, out, "3")
}

func TestColorizeBoolMarksScanAndOrderDistinctly(t *testing.T) {
	r := &Report{}
	trueOut := r.colorizeBool(true)
	falseOut := r.colorizeBool(false)

	assert.Contains(t, trueOut, "true")
	assert.Equal(t, "false", falseOut)
}
