// Package dupset implements the DupSet datatype of spec.md §4.C and
// §9: a set of query.Location that starts as a small ordered array and
// upgrades to a hash set once it grows past a threshold, preserving
// every earlier entry across the upgrade. It is grounded on the small-
// set-then-map upgrade pattern datalog/storage/matcher_relations.go
// uses for binding relations.
package dupset

import "github.com/wbrown/querycore/core/query"

// arrayCapacity is the array-backed size before DupSet upgrades to a
// hash set, per spec.md §4.C ("past a threshold (~540 entries)").
const arrayCapacity = 540

// DupSet records RecordLocations already emitted so the Multi-Plan
// Racer and the $or Clause Driver never yield the same document twice
// across candidate plans or clauses (spec.md's universal "no
// duplicates" property).
type DupSet struct {
	array []query.Location       // used while len(array) <= arrayCapacity
	set   map[query.Location]struct{} // non-nil once upgraded
}

// New creates an empty DupSet.
func New() *DupSet {
	return &DupSet{array: make([]query.Location, 0, 64)}
}

// Get reports whether loc is already present, without inserting it.
func (d *DupSet) Get(loc query.Location) bool {
	if d.set != nil {
		_, ok := d.set[loc]
		return ok
	}
	for _, l := range d.array {
		if l == loc {
			return true
		}
	}
	return false
}

// GetSetDup reports whether loc was already present and, if not,
// inserts it -- the combined membership-test-and-insert operation
// spec.md §4.A specifies for Cursor.get_set_dup.
func (d *DupSet) GetSetDup(loc query.Location) bool {
	if d.set != nil {
		if _, ok := d.set[loc]; ok {
			return true
		}
		d.set[loc] = struct{}{}
		return false
	}
	for _, l := range d.array {
		if l == loc {
			return true
		}
	}
	d.array = append(d.array, loc)
	if len(d.array) > arrayCapacity {
		d.upgrade()
	}
	return false
}

// upgrade migrates the array representation to a hash set, preserving
// every entry inserted so far.
func (d *DupSet) upgrade() {
	set := make(map[query.Location]struct{}, len(d.array)*2)
	for _, l := range d.array {
		set[l] = struct{}{}
	}
	d.set = set
	d.array = nil
}

// Len reports the number of distinct locations recorded.
func (d *DupSet) Len() int {
	if d.set != nil {
		return len(d.set)
	}
	return len(d.array)
}
