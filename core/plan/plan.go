// Package plan implements the Plan Generator of spec.md §4.B: from a
// namespace's registered indexes plus a predicate, optional sort, and
// optional hint, enumerate candidate access paths and classify each as
// optimal, in-order, or out-of-order. Grounded on the candidate-plan
// enumeration shape of datalog/planner/planner.go, generalized from
// datalog pattern plans to document-store index plans.
package plan

import (
	"errors"
	"fmt"

	"github.com/wbrown/querycore/core/corerr"
	"github.com/wbrown/querycore/core/indexspan"
	"github.com/wbrown/querycore/core/query"
)

// Classification is the kind of candidate a plan belongs to, per
// spec.md §4.B.
type Classification int

const (
	// Optimal means the predicate bounds every leading index field and
	// the sort (if any) is satisfied by the index order: no racing is
	// needed, this plan is returned alone.
	Optimal Classification = iota
	InOrder
	OutOfOrder
	TableScan
)

func (c Classification) String() string {
	switch c {
	case Optimal:
		return "optimal"
	case InOrder:
		return "in-order"
	case OutOfOrder:
		return "out-of-order"
	case TableScan:
		return "table-scan"
	default:
		return "unknown"
	}
}

// Candidate is one access path the Racer (or, for Optimal/hint/
// snapshot plans, the caller directly) may execute.
type Candidate struct {
	Classification Classification
	Index          query.IndexSpec // zero value when Classification == TableScan
	Range          indexspan.Range // leading-field bound; zero value for table scan
	ScanAndOrderRequired bool       // result order does not match the requested sort
	IndexOnly      bool            // every projected field lives in the key (not computed here; caller-supplied)
}

// Request is the input to Generate: the fields of spec.md §4.B's
// "(namespace, predicate, sort, hint?)" tuple, plus the $min/$max index
// bounds supplemented from original_source (queryoptimizercursortests.cpp
// exercises bounding a scan between two explicit index keys).
type Request struct {
	Indexes        []query.IndexSpec
	Predicate      *query.Predicate
	Sort           []query.IndexField
	Hint           *query.IndexSpec // explicit index choice, step 1
	Snapshot       bool              // $snapshot, step 2
	AllowOutOfOrder bool             // whether the caller permits a scan-and-order plan
	Min, Max       query.IndexKey    // optional; both zero-valued (empty Spec) when absent
}

func (r Request) hasMin() bool { return len(r.Min.Values) > 0 }
func (r Request) hasMax() bool { return len(r.Max.Values) > 0 }

// Generate runs the five-step algorithm of spec.md §4.B and returns
// the resulting candidate set. A nil error with len(candidates) == 0
// never occurs: callers instead see corerr.ErrNoOrderedPlan when step 5
// applies.
func Generate(req Request) ([]Candidate, error) {
	// Step 1: hint short-circuit.
	if req.Hint != nil {
		return []Candidate{hintedCandidate(*req.Hint, req)}, nil
	}

	// Step 2: $snapshot short-circuit onto the primary key index, or a
	// table scan if none is registered.
	if req.Snapshot {
		for _, idx := range req.Indexes {
			if idx.Name == "_id_" {
				return []Candidate{hintedCandidate(idx, req)}, nil
			}
		}
		return []Candidate{tableScanCandidate(req)}, nil
	}

	// Step 3: optimal single-plan detection.
	for _, idx := range req.Indexes {
		if isOptimal(idx, req) {
			return []Candidate{{
				Classification: Optimal,
				Index:          idx,
				Range:          rangeFor(idx, req),
			}}, nil
		}
	}

	// Step 4: enumerate every index bounded on its leading field, plus
	// the table scan.
	var candidates []Candidate
	haveInOrder := false
	for _, idx := range req.Indexes {
		if !idx.LeadingBound(req.Predicate) {
			continue
		}
		inOrder := idx.SatisfiesSort(req.Sort)
		if inOrder {
			haveInOrder = true
		}
		class := OutOfOrder
		if inOrder {
			class = InOrder
		}
		candidates = append(candidates, Candidate{
			Classification:       class,
			Index:                idx,
			Range:                rangeFor(idx, req),
			ScanAndOrderRequired: !inOrder,
		})
	}
	candidates = append(candidates, tableScanCandidate(req))

	// Step 5: out-of-order plans require caller permission. If sort is
	// unsatisfiable by anything in-order (including table scan, which
	// can never satisfy a non-empty sort) and out-of-order is
	// disallowed, signal NoOrderedPlan.
	if len(req.Sort) > 0 && !haveInOrder && !req.AllowOutOfOrder {
		return nil, fmt.Errorf("plan: generating candidates: %w", corerr.ErrNoOrderedPlan)
	}
	if !req.AllowOutOfOrder {
		candidates = filterOutOfOrder(candidates)
	}
	return candidates, nil
}

func isOptimal(idx query.IndexSpec, req Request) bool {
	if !idx.CoversPredicateFields(req.Predicate) {
		return false
	}
	if !idx.LeadingBound(req.Predicate) {
		return false
	}
	return idx.SatisfiesSort(req.Sort)
}

func hintedCandidate(idx query.IndexSpec, req Request) Candidate {
	inOrder := idx.SatisfiesSort(req.Sort)
	class := InOrder
	if !inOrder {
		class = OutOfOrder
	}
	return Candidate{
		Classification:       class,
		Index:                idx,
		Range:                rangeFor(idx, req),
		ScanAndOrderRequired: !inOrder,
	}
}

func tableScanCandidate(req Request) Candidate {
	return Candidate{
		Classification:       TableScan,
		ScanAndOrderRequired: len(req.Sort) > 0,
	}
}

// rangeFor computes the leading-field bound for idx, applying
// predicate intervals first and then clipping to any $min/$max bound
// supplied on the request.
func rangeFor(idx query.IndexSpec, req Request) indexspan.Range {
	leading := idx.LeadingField()
	var iv query.Interval
	for _, c := range req.Predicate.FieldIntervals(leading) {
		iv = intersect(iv, c)
	}
	rng := indexspan.LeadingFieldRange(idx, iv)
	if req.hasMin() && len(req.Min.Values) > 0 {
		rng = clipLow(rng, req.Min.Values[0])
	}
	if req.hasMax() && len(req.Max.Values) > 0 {
		rng = clipHigh(rng, req.Max.Values[0])
	}
	return rng
}

func intersect(a, b query.Interval) query.Interval {
	out := a
	if b.Low != nil && (out.Low == nil || query.CompareValues(b.Low, out.Low) > 0) {
		out.Low, out.LowInclusive = b.Low, b.LowInclusive
	}
	if b.High != nil && (out.High == nil || query.CompareValues(b.High, out.High) < 0) {
		out.High, out.HighInclusive = b.High, b.HighInclusive
	}
	return out
}

func clipLow(rng indexspan.Range, min query.Value) indexspan.Range {
	lowBytes := indexspan.EncodeLeadingValue(min)
	if rng.Low == nil || bytesLess(rng.Low, lowBytes) {
		rng.Low, rng.LowInclusive = lowBytes, true
	}
	return rng
}

func clipHigh(rng indexspan.Range, max query.Value) indexspan.Range {
	highBytes := indexspan.EncodeLeadingValue(max)
	if rng.High == nil || bytesLess(highBytes, rng.High) {
		rng.High, rng.HighInclusive = highBytes, false
	}
	return rng
}

func bytesLess(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func filterOutOfOrder(in []Candidate) []Candidate {
	out := in[:0]
	for _, c := range in {
		if c.Classification == OutOfOrder {
			continue
		}
		out = append(out, c)
	}
	return out
}

// IsNoOrderedPlan reports whether err is (or wraps) corerr.ErrNoOrderedPlan.
func IsNoOrderedPlan(err error) bool {
	return errors.Is(err, corerr.ErrNoOrderedPlan)
}
