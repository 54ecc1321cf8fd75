package query

// ConjunctKind is the kind of a single predicate conjunct, per spec.md §3:
// "equality, a bounded range on a field, a regex, a geo predicate, or a
// nested existence test."
type ConjunctKind int

const (
	KindEquality ConjunctKind = iota
	KindRange
	KindRegex
	KindGeo
	KindExists
)

// Interval is a closed/open bound on a single field, e.g. the range a
// $gt/$lte pair produces, or the degenerate [v,v] interval of an
// equality. Low/High may be nil to mean unbounded on that side.
type Interval struct {
	Low            Value
	High           Value
	LowInclusive   bool
	HighInclusive  bool
}

// Contains reports whether v falls within the interval.
func (iv Interval) Contains(v Value) bool {
	if iv.Low != nil {
		c := CompareValues(v, iv.Low)
		if c < 0 || (c == 0 && !iv.LowInclusive) {
			return false
		}
	}
	if iv.High != nil {
		c := CompareValues(v, iv.High)
		if c > 0 || (c == 0 && !iv.HighInclusive) {
			return false
		}
	}
	return true
}

// Equality reports whether the interval denotes a single-point equality
// match, i.e. Low == High and both bounds inclusive.
func (iv Interval) Equality() (Value, bool) {
	if iv.Low == nil || iv.High == nil {
		return nil, false
	}
	if !iv.LowInclusive || !iv.HighInclusive {
		return nil, false
	}
	if CompareValues(iv.Low, iv.High) != 0 {
		return nil, false
	}
	return iv.Low, true
}

// overlaps reports whether two intervals on the same field share any
// point.
func (iv Interval) overlaps(o Interval) bool {
	if iv.High != nil && o.Low != nil {
		c := CompareValues(iv.High, o.Low)
		if c < 0 || (c == 0 && !(iv.HighInclusive && o.LowInclusive)) {
			return false
		}
	}
	if o.High != nil && iv.Low != nil {
		c := CompareValues(o.High, iv.Low)
		if c < 0 || (c == 0 && !(o.HighInclusive && iv.LowInclusive)) {
			return false
		}
	}
	return true
}

// coveredBy reports whether iv is entirely contained within o -- used
// during $or range elimination (spec.md §4.D) to drop a clause's
// interval once an earlier clause already covers it completely.
func (iv Interval) coveredBy(o Interval) bool {
	if o.Low != nil {
		if iv.Low == nil {
			return false
		}
		c := CompareValues(iv.Low, o.Low)
		if c < 0 || (c == 0 && !o.LowInclusive && iv.LowInclusive) {
			return false
		}
	}
	if o.High != nil {
		if iv.High == nil {
			return false
		}
		c := CompareValues(iv.High, o.High)
		if c > 0 || (c == 0 && !o.HighInclusive && iv.HighInclusive) {
			return false
		}
	}
	return true
}

// Conjunct is one leaf of a predicate tree on a single field.
type Conjunct struct {
	Field     string
	Kind      ConjunctKind
	Intervals []Interval // ordered set of intervals on Field (spec.md §3)
	Pattern   string     // regex source, only meaningful when Kind == KindRegex
}

// Predicate is a tree of conjuncts joined by AND, plus an optional
// top-level list of $or clauses. Nested $or is not modeled: spec.md
// scopes $or to "top-level disjuncts".
type Predicate struct {
	Conjuncts []Conjunct
	Or        []*Predicate
}

// FieldIntervals returns the intervals this predicate's equality and
// range conjuncts (not its $or clauses) place on field, concatenated in
// conjunct order. Intervals from several conjuncts on the same field are
// returned side by side, not intersected.
func (p *Predicate) FieldIntervals(field string) []Interval {
	var out []Interval
	for _, c := range p.Conjuncts {
		if c.Field == field && c.Kind == KindRange || c.Field == field && c.Kind == KindEquality {
			out = append(out, c.Intervals...)
		}
	}
	return out
}

// Fields returns the distinct set of fields this predicate's conjuncts
// bound, in first-seen order. Used by the plan generator to intersect
// against an IndexSpec's fields.
func (p *Predicate) Fields() []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range p.Conjuncts {
		if !seen[c.Field] {
			seen[c.Field] = true
			out = append(out, c.Field)
		}
	}
	return out
}

// BoundsField reports whether the predicate has at least one conjunct
// that restricts field to a finite or half-open range (equality or
// range kinds only -- regex/geo/exists conjuncts don't produce a
// contiguous key range).
func (p *Predicate) BoundsField(field string) bool {
	for _, c := range p.Conjuncts {
		if c.Field == field && (c.Kind == KindEquality || c.Kind == KindRange) {
			return true
		}
	}
	return false
}

// Restrict returns a copy of p with, for every field present in
// covered, any interval that is already fully covered by one of the
// prior clauses' intervals on that field removed. This is the $or
// clause range-elimination step of spec.md §4.D. If a conjunct's
// intervals are entirely eliminated, the conjunct itself is dropped; if
// every conjunct is dropped the resulting predicate has no conjuncts
// left, IsEmpty reports true, and the clause driver skips it.
func (p *Predicate) Restrict(covered map[string][]Interval) *Predicate {
	out := &Predicate{Or: p.Or}
	for _, c := range p.Conjuncts {
		if c.Kind != KindEquality && c.Kind != KindRange {
			out.Conjuncts = append(out.Conjuncts, c)
			continue
		}
		priors, ok := covered[c.Field]
		if !ok {
			out.Conjuncts = append(out.Conjuncts, c)
			continue
		}
		var remaining []Interval
		for _, iv := range c.Intervals {
			if !isFullyCovered(iv, priors) {
				remaining = append(remaining, iv)
			}
		}
		if len(remaining) > 0 {
			nc := c
			nc.Intervals = remaining
			out.Conjuncts = append(out.Conjuncts, nc)
		}
	}
	return out
}

func isFullyCovered(iv Interval, priors []Interval) bool {
	for _, p := range priors {
		if iv.coveredBy(p) {
			return true
		}
	}
	return false
}

// IsEmpty reports whether range elimination has left p with no
// conjuncts at all although the original had hadConjuncts of them. A
// clause that keeps a regex, geo or exists conjunct is not empty even
// when all of its equality/range intervals were eliminated, and a
// predicate with zero conjuncts to begin with is never considered empty
// by this check.
func (p *Predicate) IsEmpty(hadConjuncts int) bool {
	return hadConjuncts > 0 && len(p.Conjuncts) == 0
}

// Matches reports whether doc satisfies every conjunct of p. $or
// sub-predicates, if present, are OR'd together on top of the AND of
// conjuncts -- used by the in-process Matcher rather than the clause
// driver, which instead expands $or into separate clauses up front.
func (p *Predicate) Matches(doc *Document) bool {
	for _, c := range p.Conjuncts {
		if !conjunctMatches(c, doc) {
			return false
		}
	}
	if len(p.Or) == 0 {
		return true
	}
	for _, sub := range p.Or {
		if sub.Matches(doc) {
			return true
		}
	}
	return false
}

func conjunctMatches(c Conjunct, doc *Document) bool {
	v, ok := doc.Get(c.Field)
	switch c.Kind {
	case KindExists:
		return ok
	case KindRegex:
		if !ok {
			return false
		}
		s, isStr := v.(string)
		return isStr && regexCache.match(c.Pattern, s)
	default: // KindEquality, KindRange, KindGeo (matched as intervals over the field's own value)
		if !ok {
			return false
		}
		for _, iv := range c.Intervals {
			if iv.Contains(v) {
				return true
			}
		}
		return false
	}
}
