package query

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Pattern is the fingerprint of a (predicate shape, sort shape) pair,
// used as the PlanCache key per spec.md §3. It intentionally hashes
// *shape* only -- field names, conjunct kinds, and sort direction -- and
// never the bound values, so that `{a:1}` and `{a:2}` share a cache
// entry while `{a:1}` and `{a:1,b:1}` do not.
type Pattern struct {
	hash uint64
}

// Equal reports whether two patterns have the same fingerprint.
func (p Pattern) Equal(o Pattern) bool { return p.hash == o.hash }

func (p Pattern) String() string { return strconv.FormatUint(p.hash, 16) }

// Fingerprint computes the Pattern for a predicate and optional sort.
// Conjuncts are sorted by field name before hashing so that logically
// identical predicates built in a different conjunct order still
// collapse to the same pattern (matching the teacher's
// planner.PlanCache key, which is similarly order-stable per clause).
func Fingerprint(pred *Predicate, sort_ []IndexField) Pattern {
	h := xxhash.New()
	writePredicateShape(h, pred)
	fmt.Fprintf(h, "SORT:")
	for _, s := range sort_ {
		fmt.Fprintf(h, "%s:%d;", s.Field, s.Direction)
	}
	return Pattern{hash: h.Sum64()}
}

func writePredicateShape(h *xxhash.Digest, pred *Predicate) {
	if pred == nil {
		fmt.Fprintf(h, "NIL;")
		return
	}
	conjuncts := append([]Conjunct(nil), pred.Conjuncts...)
	sort.Slice(conjuncts, func(i, j int) bool {
		if conjuncts[i].Field != conjuncts[j].Field {
			return conjuncts[i].Field < conjuncts[j].Field
		}
		return conjuncts[i].Kind < conjuncts[j].Kind
	})
	for _, c := range conjuncts {
		fmt.Fprintf(h, "C:%s:%d:%d;", c.Field, c.Kind, len(c.Intervals))
	}
	fmt.Fprintf(h, "OR:%d[", len(pred.Or))
	for _, sub := range pred.Or {
		writePredicateShape(h, sub)
	}
	fmt.Fprintf(h, "];")
}
