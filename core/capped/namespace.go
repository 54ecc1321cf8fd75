// Package capped implements the Capped Storage Engine of spec.md §4.E:
// a fixed-capacity, cyclic record store with an extent list, a
// deleted-record free list, in-place overwrite via oldest-record
// eviction, and the allocation/compaction/truncation algorithms.
// Grounded directly on original_source/db/cap.cpp (NamespaceDetails'
// capped* methods): the tri-state cap_first_new_record, the extent
// wraparound walk, and the O(n^2)-acceptable compact() are all ported
// from that source rather than invented, since spec.md's distillation
// of component E assumes the original's exact behavior for its edge
// cases.
package capped

import (
	"fmt"
	"sort"
	"sync"

	"github.com/wbrown/querycore/core/corerr"
	"github.com/wbrown/querycore/core/query"
	"github.com/wbrown/querycore/core/record"
)

// Extent is a contiguous region of a capped namespace's storage,
// carrying its own live-record doubly linked list (FirstRecord,
// LastRecord) and the global extent chain (Prev, Next; -1 for none).
type Extent struct {
	ID          int
	Prev, Next  int
	BaseLoc     query.Location // the location reserved for this extent's whole byte range
	Capacity    int64
	FirstRecord query.Location
	LastRecord  query.Location
}

// RecordSlot is a live record's bookkeeping entry: which extent it
// belongs to and its neighbors in that extent's insertion-order chain.
type RecordSlot struct {
	Loc               query.Location
	LengthWithHeaders int64
	ExtentID          int
	Next, Prev        query.Location
}

// DeletedRecord is a free-list node, per spec.md §3.
type DeletedRecord struct {
	Loc               query.Location
	LengthWithHeaders int64
	ExtentID          int
	NextDeleted       query.Location
}

// capFirstNewRecordState is the tri-state cap_first_new_record of
// spec.md §3: Valid=false means "not yet looped through every
// extent"; Valid=true and Loc null means "looped, nothing written on
// this pass through the current extent yet"; Valid=true and Loc set
// means the first record written on this pass.
type capFirstNewRecordState struct {
	valid bool
	loc   query.Location
}

// NamespaceState is the capped namespace collaborator of spec.md §3,
// §4.E.
type NamespaceState struct {
	mu sync.Mutex

	ns  string
	mgr record.Manager

	extents                []*Extent
	firstExtentID, lastExtentID int
	capExtentID             int

	capFirstNewRecord      capFirstNewRecordState
	capLastDelRecLastExtent query.Location

	listOfAllDeletedHead query.Location
	deletedByLoc         map[query.Location]*DeletedRecord
	liveRecords          map[query.Location]*RecordSlot

	nrecords int64
	maxDocs  int64 // 0 means unbounded by document count; capacity is still bounded by extent bytes
}

// New creates an empty capped namespace with no extents yet; callers
// add its fixed storage with AddExtent before the first Alloc.
func New(ns string, mgr record.Manager, maxDocs int64) *NamespaceState {
	return &NamespaceState{
		ns: ns, mgr: mgr, maxDocs: maxDocs,
		firstExtentID: -1, lastExtentID: -1, capExtentID: -1,
		listOfAllDeletedHead:    query.NullLocation,
		capLastDelRecLastExtent: query.NullLocation,
		deletedByLoc: make(map[query.Location]*DeletedRecord),
		liveRecords:  make(map[query.Location]*RecordSlot),
	}
}

// AddExtent reserves capacity bytes from the record manager as a new
// extent appended to the end of the extent chain, and seeds its whole
// span as one free DeletedRecord. The first extent added also becomes
// cap_extent.
func (n *NamespaceState) AddExtent(capacity int64) (*Extent, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	loc, err := n.mgr.Reserve(n.ns, int(capacity))
	if err != nil {
		return nil, fmt.Errorf("capped: reserving extent: %w", err)
	}
	id := len(n.extents)
	ext := &Extent{ID: id, Prev: -1, Next: -1, BaseLoc: loc, Capacity: capacity,
		FirstRecord: query.NullLocation, LastRecord: query.NullLocation}
	if len(n.extents) > 0 {
		prev := n.extents[len(n.extents)-1]
		prev.Next = id
		ext.Prev = prev.ID
	} else {
		n.firstExtentID = id
		n.capExtentID = id
	}
	n.lastExtentID = id
	n.extents = append(n.extents, ext)

	dr := &DeletedRecord{Loc: loc, LengthWithHeaders: capacity, ExtentID: id, NextDeleted: query.NullLocation}
	n.deletedByLoc[loc] = dr
	n.linkDeletedAtTail(dr)
	return ext, nil
}

func (n *NamespaceState) linkDeletedAtTail(dr *DeletedRecord) {
	if n.listOfAllDeletedHead.IsNull() {
		n.listOfAllDeletedHead = dr.Loc
		return
	}
	i := n.listOfAllDeletedHead
	for !n.deletedByLoc[i].NextDeleted.IsNull() {
		i = n.deletedByLoc[i].NextDeleted
	}
	n.deletedByLoc[i].NextDeleted = dr.Loc
}

func (n *NamespaceState) extent(id int) *Extent { return n.extents[id] }
func (n *NamespaceState) theCapExtent() *Extent  { return n.extents[n.capExtentID] }

func (n *NamespaceState) capLooped() bool { return n.capFirstNewRecord.valid }

func (n *NamespaceState) inCapExtent(loc query.Location) bool {
	if rs, ok := n.liveRecords[loc]; ok {
		return rs.ExtentID == n.capExtentID
	}
	if dr, ok := n.deletedByLoc[loc]; ok {
		return dr.ExtentID == n.capExtentID
	}
	return false
}

func (n *NamespaceState) nextIsInCapExtent(loc query.Location) bool {
	dr, ok := n.deletedByLoc[loc]
	if !ok || dr.NextDeleted.IsNull() {
		return false
	}
	return n.inCapExtent(dr.NextDeleted)
}

// firstDeletedInCurExtent mirrors cappedFirstDeletedInCurExtent():
// the head of the free-list run belonging to cap_extent, found
// relative to cap_last_del_rec_last_extent.
func (n *NamespaceState) firstDeletedInCurExtent() query.Location {
	if n.capLastDelRecLastExtent.IsNull() {
		return n.listOfAllDeletedHead
	}
	dr, ok := n.deletedByLoc[n.capLastDelRecLastExtent]
	if !ok {
		return query.NullLocation
	}
	return dr.NextDeleted
}

// AdvanceCapExtent moves cap_extent to the next extent in the chain
// (wrapping to first_extent past the last), recomputing
// cap_last_del_rec_last_extent to mark the boundary before the new
// cap_extent's free-list run.
func (n *NamespaceState) AdvanceCapExtent() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.advanceCapExtent()
}

func (n *NamespaceState) advanceCapExtent() {
	cur := n.theCapExtent()
	if n.capExtentID == n.lastExtentID {
		n.capLastDelRecLastExtent = query.NullLocation
	} else {
		i := n.firstDeletedInCurExtent()
		for !i.IsNull() && n.nextIsInCapExtent(i) {
			i = n.deletedByLoc[i].NextDeleted
		}
		n.capLastDelRecLastExtent = i
	}
	if cur.Next >= 0 {
		n.capExtentID = cur.Next
	} else {
		n.capExtentID = n.firstExtentID
	}
	n.capFirstNewRecord = capFirstNewRecordState{valid: true, loc: query.NullLocation}
}

// capAllocLow mirrors __capAlloc: the within-extent free-list walk for
// the first free block of size >= length+24. The 24-byte reserve is
// the remainder cap.cpp always leaves behind as a new (shrunk)
// DeletedRecord at the tail of the consumed block, so an extent still
// holding live records never runs out of a free-list node to splice
// future deletions onto -- alloc.cpp's splitting step (not present in
// this pack's original_source) is what this reconstructs: __capAlloc
// itself only locates a big-enough block, the caller splits it.
func (n *NamespaceState) capAllocLow(length int64) (consumedLoc query.Location, consumedLen int64, extentID int, ok bool) {
	prev := n.capLastDelRecLastExtent
	i := n.firstDeletedInCurExtent()
	for !i.IsNull() && n.inCapExtent(i) {
		dr := n.deletedByLoc[i]
		if dr.LengthWithHeaders >= length+24 {
			consumedLoc = dr.Loc
			extentID = dr.ExtentID
			remainder := dr.LengthWithHeaders - length

			delete(n.deletedByLoc, dr.Loc)
			newLoc := query.Location{FileID: dr.Loc.FileID, Offset: dr.Loc.Offset + length}
			dr.Loc = newLoc
			dr.LengthWithHeaders = remainder
			n.deletedByLoc[newLoc] = dr
			if prev.IsNull() {
				n.listOfAllDeletedHead = newLoc
			} else {
				n.deletedByLoc[prev].NextDeleted = newLoc
			}
			if n.capLastDelRecLastExtent == consumedLoc {
				n.capLastDelRecLastExtent = newLoc
			}
			return consumedLoc, length, extentID, true
		}
		prev = i
		i = dr.NextDeleted
	}
	return query.Location{}, 0, 0, false
}

// Alloc runs the five-step cap_alloc algorithm of spec.md §4.E: reuse
// a free record in the current extent if one fits, else cycle extents
// evicting the oldest live record and recompacting, bounded by
// max(5000, len/30+2) iterations.
func (n *NamespaceState) Alloc(length int64) (query.Location, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.extents) == 0 {
		return query.NullLocation, fmt.Errorf("capped: alloc: namespace has no extents")
	}

	maxPasses := length/30 + 2
	if maxPasses < 5000 {
		maxPasses = 5000
	}
	var passes int64
	firstEmptyExtent := -1

	for {
		if n.maxDocs == 0 || n.nrecords < n.maxDocs {
			if consumedLoc, consumedLen, extentID, ok := n.capAllocLow(length); ok {
				n.onAllocated(consumedLoc, consumedLen, extentID)
				return consumedLoc, nil
			}
		}

		if !n.capFirstNewRecord.valid {
			// First pass through the extents: never delete anything,
			// just keep cycling until every extent has been tried.
			n.advanceCapExtent()
			if n.capExtentID != n.firstExtentID {
				n.capFirstNewRecord.valid = false
			}
			continue
		}

		if !n.capFirstNewRecord.loc.IsNull() && n.theCapExtent().FirstRecord == n.capFirstNewRecord.loc {
			// Every record allocated on the previous pass through this
			// extent has now been evicted.
			n.advanceCapExtent()
			continue
		}

		if n.theCapExtent().FirstRecord.IsNull() {
			if firstEmptyExtent < 0 {
				firstEmptyExtent = n.capExtentID
			}
			n.advanceCapExtent()
			if firstEmptyExtent == n.capExtentID {
				return query.NullLocation, fmt.Errorf("capped: alloc: %w", corerr.ErrDocumentTooLarge)
			}
			continue
		}

		fr := n.theCapExtent().FirstRecord
		if err := n.deleteLiveRecord(fr); err != nil {
			return query.NullLocation, err
		}
		n.compact()
		passes++
		if passes > maxPasses {
			return query.NullLocation, fmt.Errorf("capped: alloc exceeded %d passes: %w", maxPasses, corerr.ErrIntegrity)
		}
	}
}

func (n *NamespaceState) onAllocated(loc query.Location, length int64, extentID int) {
	ext := n.extent(extentID)
	rs := &RecordSlot{Loc: loc, LengthWithHeaders: length, ExtentID: extentID, Prev: ext.LastRecord, Next: query.NullLocation}
	if ext.LastRecord.IsNull() {
		ext.FirstRecord = loc
	} else {
		n.liveRecords[ext.LastRecord].Next = loc
	}
	ext.LastRecord = loc
	n.liveRecords[loc] = rs
	n.nrecords++

	if n.capFirstNewRecord.valid && n.capFirstNewRecord.loc.IsNull() {
		n.capFirstNewRecord.loc = loc
	}
}

// deleteLiveRecord evicts the record at loc: unlinks it from its
// extent's live chain, frees the underlying bytes via the record
// manager, and splices a DeletedRecord into the free list at the head
// of cap_extent's run.
func (n *NamespaceState) deleteLiveRecord(loc query.Location) error {
	rs, ok := n.liveRecords[loc]
	if !ok {
		return fmt.Errorf("capped: deleting %v: %w", loc, corerr.ErrIntegrity)
	}
	ext := n.extent(rs.ExtentID)
	if rs.Prev.IsNull() {
		ext.FirstRecord = rs.Next
	} else {
		n.liveRecords[rs.Prev].Next = rs.Next
	}
	if rs.Next.IsNull() {
		ext.LastRecord = rs.Prev
	} else {
		n.liveRecords[rs.Next].Prev = rs.Prev
	}
	delete(n.liveRecords, loc)
	n.nrecords--

	if err := n.mgr.Delete(n.ns, loc); err != nil {
		return fmt.Errorf("capped: freeing record bytes: %w", err)
	}

	dr := &DeletedRecord{Loc: loc, LengthWithHeaders: rs.LengthWithHeaders, ExtentID: rs.ExtentID}
	dr.NextDeleted = n.firstDeletedInCurExtent()
	if n.capLastDelRecLastExtent.IsNull() {
		n.listOfAllDeletedHead = loc
	} else {
		n.deletedByLoc[n.capLastDelRecLastExtent].NextDeleted = loc
	}
	n.deletedByLoc[loc] = dr
	return nil
}

// compact pulls every deleted record belonging to cap_extent off the
// free list, merges byte-contiguous neighbors, and re-threads the
// result back into the same position. O(n^2) would be acceptable per
// spec.md §4.E since n is 1-3 in steady state; this uses sort.Slice
// for clarity, which costs nothing extra at that scale.
func (n *NamespaceState) compact() {
	head := n.firstDeletedInCurExtent()
	var drecs []*DeletedRecord
	i := head
	for !i.IsNull() && n.inCapExtent(i) {
		dr := n.deletedByLoc[i]
		drecs = append(drecs, dr)
		i = dr.NextDeleted
	}
	if len(drecs) == 0 {
		return
	}
	tail := i
	for _, dr := range drecs {
		delete(n.deletedByLoc, dr.Loc)
	}

	sort.Slice(drecs, func(a, b int) bool { return locLess(drecs[a].Loc, drecs[b].Loc) })
	merged := mergeContiguous(drecs)

	prev := n.capLastDelRecLastExtent
	for _, dr := range merged {
		n.deletedByLoc[dr.Loc] = dr
		if prev.IsNull() {
			n.listOfAllDeletedHead = dr.Loc
		} else {
			n.deletedByLoc[prev].NextDeleted = dr.Loc
		}
		prev = dr.Loc
	}
	if prev.IsNull() {
		n.listOfAllDeletedHead = tail
	} else {
		n.deletedByLoc[prev].NextDeleted = tail
	}
}

func locLess(a, b query.Location) bool { return a.Less(b) }

// mergeContiguous merges adjacent (by sort order) deleted records that
// are byte-contiguous within the same file: a's end offset equals b's
// start offset.
func mergeContiguous(sorted []*DeletedRecord) []*DeletedRecord {
	if len(sorted) == 0 {
		return nil
	}
	out := []*DeletedRecord{sorted[0]}
	for _, b := range sorted[1:] {
		a := out[len(out)-1]
		if a.Loc.FileID == b.Loc.FileID && a.Loc.Offset+a.LengthWithHeaders == b.Loc.Offset {
			a.LengthWithHeaders += b.LengthWithHeaders
			continue
		}
		out = append(out, b)
	}
	return out
}

// TruncateAfter removes documents newest-first until the document at
// end is reached, optionally removing end itself too, mirroring
// cappedTruncateAfter. RefuseEmpty is raised rather than allowing the
// last document to be removed (spec.md §9's Open Question resolution).
func (n *NamespaceState) TruncateAfter(end query.Location, inclusive bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	foundLast := false
	for !foundLast {
		ext := n.theCapExtent()
		curr := ext.LastRecord
		if curr.IsNull() {
			return fmt.Errorf("capped: truncate: %w", corerr.ErrIntegrity)
		}
		if curr == end {
			if inclusive {
				foundLast = true
			} else {
				break
			}
		}
		if n.nrecords <= 1 {
			return fmt.Errorf("capped: truncate: %w", corerr.ErrRefuseEmpty)
		}

		looped := n.capLooped()
		if err := n.deleteLiveRecord(curr); err != nil {
			return err
		}
		n.compact()

		if !looped {
			if n.theCapExtent().LastRecord.IsNull() {
				if ext.Prev < 0 {
					return fmt.Errorf("capped: truncate: %w", corerr.ErrIntegrity)
				}
				n.capExtentID = ext.Prev
				n.recomputeLastDelRecLastExtentOnRewind()
			}
			continue
		}

		if curr == n.capFirstNewRecord.loc {
			if n.capExtentID == n.firstExtentID {
				n.capExtentID = n.lastExtentID
			} else {
				n.capExtentID = ext.Prev
			}
			newExt := n.theCapExtent()
			if newExt.FirstRecord.IsNull() {
				return fmt.Errorf("capped: truncate: %w", corerr.ErrIntegrity)
			}
			n.capFirstNewRecord.loc = newExt.FirstRecord
			n.recomputeLastDelRecLastExtentOnRewind()
		}
	}
	return nil
}

// recomputeLastDelRecLastExtentOnRewind rebuilds
// cap_last_del_rec_last_extent after cap_extent has rewound to an
// earlier extent during truncate-through-wrap, by scanning the global
// deleted list for the node whose successor first enters the new
// cap_extent.
func (n *NamespaceState) recomputeLastDelRecLastExtentOnRewind() {
	if n.capExtentID == n.firstExtentID {
		n.capLastDelRecLastExtent = query.NullLocation
		return
	}
	i := n.listOfAllDeletedHead
	for !i.IsNull() {
		dr := n.deletedByLoc[i]
		if dr.NextDeleted.IsNull() || n.inCapExtent(dr.NextDeleted) {
			n.capLastDelRecLastExtent = i
			return
		}
		i = dr.NextDeleted
	}
	n.capLastDelRecLastExtent = query.NullLocation
}

// EmptyCapped resets the namespace to zero live records and rebuilds
// each extent as a single whole-span free record, mirroring
// emptyCappedCollection.
func (n *NamespaceState) EmptyCapped() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.capLastDelRecLastExtent = query.NullLocation
	n.listOfAllDeletedHead = query.NullLocation
	n.capExtentID = n.firstExtentID
	n.nrecords = 0
	n.capFirstNewRecord = capFirstNewRecordState{valid: false}
	n.liveRecords = make(map[query.Location]*RecordSlot)
	n.deletedByLoc = make(map[query.Location]*DeletedRecord)

	prev := query.NullLocation
	for id := n.firstExtentID; id >= 0; {
		ext := n.extent(id)
		ext.FirstRecord, ext.LastRecord = query.NullLocation, query.NullLocation
		dr := &DeletedRecord{Loc: ext.BaseLoc, LengthWithHeaders: ext.Capacity, ExtentID: ext.ID, NextDeleted: query.NullLocation}
		n.deletedByLoc[ext.BaseLoc] = dr
		if prev.IsNull() {
			n.listOfAllDeletedHead = ext.BaseLoc
		} else {
			n.deletedByLoc[prev].NextDeleted = ext.BaseLoc
		}
		prev = ext.BaseLoc
		id = ext.Next
	}
	return nil
}

// MigrateLegacyFormat merges a set of legacy per-bucket deleted-record
// chains (as the pre-tri-state on-disk format stored them) into the
// unified free list, mirroring cappedCheckMigrate. bucketHeads'
// entries must already be present in deletedByLoc (e.g. loaded
// directly from a legacy namespace header by the caller); this only
// re-threads them. Heads already on the unified free list are skipped,
// so calling it again with the same heads changes nothing.
func (n *NamespaceState) MigrateLegacyFormat(bucketHeads []query.Location) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.capExtentID != n.firstExtentID {
		return
	}
	onList := make(map[query.Location]bool)
	for i := n.listOfAllDeletedHead; !i.IsNull(); i = n.deletedByLoc[i].NextDeleted {
		onList[i] = true
	}
	var pending []query.Location
	for _, head := range bucketHeads {
		if !head.IsNull() && !onList[head] {
			pending = append(pending, head)
		}
	}
	if len(pending) == 0 {
		return
	}
	n.capFirstNewRecord = capFirstNewRecordState{valid: false}
	for _, head := range pending {
		last := head
		for !n.deletedByLoc[last].NextDeleted.IsNull() {
			last = n.deletedByLoc[last].NextDeleted
		}
		n.deletedByLoc[last].NextDeleted = n.listOfAllDeletedHead
		n.listOfAllDeletedHead = head
	}
	n.capExtentID = n.firstExtentID
}

// NRecords reports the current live document count.
func (n *NamespaceState) NRecords() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nrecords
}

// CapExtentID reports the extent currently receiving writes, for
// diagnostics and tests.
func (n *NamespaceState) CapExtentID() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.capExtentID
}
