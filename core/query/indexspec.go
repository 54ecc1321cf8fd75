package query

// Direction is the sort direction of one field within an IndexSpec.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

// Flip returns the opposite direction.
func (d Direction) Flip() Direction {
	if d == Ascending {
		return Descending
	}
	return Ascending
}

// IndexField is one (field, direction) pair of an IndexSpec.
type IndexField struct {
	Field     string
	Direction Direction
}

// IndexSpec is an ordered list of (field, direction) pairs defining a
// total order on index keys and a projection from Document to index
// key, per spec.md §3.
type IndexSpec struct {
	Name   string
	Fields []IndexField
	Unique bool
}

// NewIndexSpec builds an ascending IndexSpec over the given field names,
// the common case exercised by single- and compound-field indexes.
func NewIndexSpec(name string, fields ...string) IndexSpec {
	spec := IndexSpec{Name: name}
	for _, f := range fields {
		spec.Fields = append(spec.Fields, IndexField{Field: f, Direction: Ascending})
	}
	return spec
}

// LeadingField returns the first field of the index, or "" if the index
// is empty (which should never happen for a registered index).
func (s IndexSpec) LeadingField() string {
	if len(s.Fields) == 0 {
		return ""
	}
	return s.Fields[0].Field
}

// FieldNames returns just the field-name projection of Fields, in
// index order.
func (s IndexSpec) FieldNames() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Field
	}
	return out
}

// SatisfiesSort reports whether this index's field order is a prefix
// match (component-wise, direction-aware, honoring reversal of the
// entire sort) for the requested sort order. An empty sort is
// satisfied by any index (and by a table scan).
func (s IndexSpec) SatisfiesSort(sort []IndexField) bool {
	if len(sort) == 0 {
		return true
	}
	if len(sort) > len(s.Fields) {
		return false
	}
	// Either every field matches directly, or every field is reversed
	// relative to the index -- an index can be walked backward to
	// satisfy the opposite sort.
	forward, reverse := true, true
	for i, sf := range sort {
		idxf := s.Fields[i]
		if idxf.Field != sf.Field {
			return false
		}
		if idxf.Direction != sf.Direction {
			forward = false
		}
		if idxf.Direction == sf.Direction.Flip() {
			// already captured by forward being false; reverse check
			// below is for the opposite-direction-on-every-field case
		}
		if idxf.Direction.Flip() != sf.Direction {
			reverse = false
		}
	}
	return forward || reverse
}

// CoversPredicateFields reports whether every equality/range-bound field
// of pred is a prefix of this index's field list, i.e. every leading
// field of the index through the last bound one maps to a contiguous
// key range, and the predicate bounds nothing outside that prefix. This
// is the "optimal" test of spec.md §4.B step 3.
func (s IndexSpec) CoversPredicateFields(pred *Predicate) bool {
	prefix := make(map[string]bool, len(s.Fields))
	for _, idxf := range s.Fields {
		if !pred.BoundsField(idxf.Field) {
			// First unbound field in the index: everything before it was
			// bound and contiguous, so the index only covers up to here.
			break
		}
		prefix[idxf.Field] = true
	}
	for _, f := range pred.Fields() {
		if pred.BoundsField(f) && !prefix[f] {
			// f is bound by the predicate but falls outside the index's
			// contiguous bound prefix (not in the index at all, or past
			// the first unbound index field).
			return false
		}
	}
	return true
}

// LeadingBound reports whether the predicate bounds this index's
// leading field at all -- the minimal requirement for the index to be
// a racing candidate (spec.md §4.B step 4).
func (s IndexSpec) LeadingBound(pred *Predicate) bool {
	return pred.BoundsField(s.LeadingField())
}

// IndexKey is a single projected key value for an IndexSpec: one Value
// per field of the spec, in spec order.
type IndexKey struct {
	Spec   IndexSpec
	Values []Value
}

// Project computes the index key for doc under spec. A field missing
// from the document projects as nil, which sorts before every other
// value (multi-key indexes over array fields are out of scope: the
// core treats one document as contributing one key unless IsMultiKey
// is explicitly set by the storage collaborator).
func Project(spec IndexSpec, doc *Document) IndexKey {
	values := make([]Value, len(spec.Fields))
	for i, f := range spec.Fields {
		v, _ := doc.Get(f.Field)
		values[i] = v
	}
	return IndexKey{Spec: spec, Values: values}
}

// CompareKeys orders two keys of the same spec field-by-field,
// honoring each field's direction.
func CompareKeys(a, b IndexKey) int {
	for i := range a.Spec.Fields {
		if i >= len(b.Values) {
			break
		}
		c := CompareValues(a.Values[i], b.Values[i])
		if a.Spec.Fields[i].Direction == Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}
