// Package record implements the record file manager collaborator the
// core consumes: allocate/delete/overwrite a raw record of N bytes,
// addressed by query.Location, with forward/backward natural-order
// iteration. It is backed by Badger, playing the same storage-backend
// role here that datalog/storage.Store plays for the teacher's datom
// store.
package record

import (
	"encoding/binary"

	"github.com/wbrown/querycore/core/query"
)

// Manager is the record file manager collaborator of spec.md §1.
type Manager interface {
	// Reserve appends a brand-new, never-before-used span of length
	// bytes to namespace ns and returns its Location. Used for normal
	// (non-capped) inserts and for capped extent growth.
	Reserve(ns string, length int) (query.Location, error)

	// Write overwrites the bytes at an already-reserved Location.
	// len(data) must not exceed the length the location was reserved
	// (or last written) with -- the capped engine enforces the "+24
	// reserve" invariant of spec.md §4.E before calling Write with a
	// shorter record than the slot held.
	Write(ns string, loc query.Location, data []byte) error

	// Read returns the bytes stored at loc.
	Read(ns string, loc query.Location) ([]byte, error)

	// Delete removes the record at loc. For a normal namespace this
	// is a true delete (replacement is delete+insert per spec.md §3);
	// for a capped namespace the capped engine calls Delete only when
	// coalescing/reclaiming via compact, since capped "overwrite in
	// place" goes through Write instead.
	Delete(ns string, loc query.Location) error

	// Natural iterates records of ns in Location order (component A's
	// table scan and the capped forward cursor's backing source).
	Natural(ns string, reverse bool) (Iterator, error)

	// DropNamespace removes every record of ns.
	DropNamespace(ns string) error

	// NewBatch opens a batch of writes/deletes against ns that commit
	// atomically, used by core/durable to fund the page-level durable
	// writer's crash-consistency guarantee (spec.md §7).
	NewBatch(ns string) Batch

	Close() error
}

// Batch accumulates writes and deletes for atomic commit.
type Batch interface {
	Write(loc query.Location, data []byte) error
	Delete(loc query.Location) error
	Commit() error
	Cancel()
}

// Iterator walks records in Location order.
type Iterator interface {
	Next() bool
	Location() query.Location
	Value() []byte
	Close() error
	// SeekAfter repositions the iterator strictly after loc, used by
	// yield recovery to resume "the next match after the last seen
	// location" (spec.md §4.A).
	SeekAfter(loc query.Location)
}

// locationKey encodes ns + Location into a byte string whose
// lexicographic order matches Location's numeric (FileID, Offset)
// order, so a Badger range scan over a namespace's key prefix visits
// records in natural order.
func locationKey(ns string, loc query.Location) []byte {
	key := make([]byte, 0, len(ns)+1+4+8)
	key = append(key, []byte(ns)...)
	key = append(key, 0) // separator: namespace names never contain NUL
	var fileID [4]byte
	binary.BigEndian.PutUint32(fileID[:], loc.FileID)
	key = append(key, fileID[:]...)
	var offset [8]byte
	binary.BigEndian.PutUint64(offset[:], uint64(loc.Offset))
	key = append(key, offset[:]...)
	return key
}

func namespacePrefix(ns string) []byte {
	return append([]byte(ns), 0)
}

func decodeLocation(ns string, key []byte) query.Location {
	rest := key[len(ns)+1:]
	return query.Location{
		FileID: binary.BigEndian.Uint32(rest[0:4]),
		Offset: int64(binary.BigEndian.Uint64(rest[4:12])),
	}
}
