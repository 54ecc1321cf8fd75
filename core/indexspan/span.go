package indexspan

import (
	"bytes"
	"encoding/binary"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/wbrown/querycore/core/query"
)

// Store maintains one Badger-backed ordered index per (namespace,
// IndexSpec.Name) pair: a sorted multimap from encoded index key to the
// set of Locations that project to it, with a stable directional
// iterator. This is the "sorted multimap" collaborator spec.md §1
// treats the B-tree as.
type Store struct {
	db *badger.DB
}

// Open wraps an existing Badger handle (the same one record.Manager
// uses) as an index Store.
func Open(db *badger.DB) *Store { return &Store{db: db} }

func entryKey(ns, indexName string, encodedKey []byte, loc query.Location) []byte {
	out := make([]byte, 0, len(ns)+1+len(indexName)+1+len(encodedKey)+12)
	out = append(out, []byte(ns)...)
	out = append(out, 0)
	out = append(out, []byte(indexName)...)
	out = append(out, 0)
	out = append(out, encodedKey...)
	var fid [4]byte
	binary.BigEndian.PutUint32(fid[:], loc.FileID)
	out = append(out, fid[:]...)
	var off [8]byte
	binary.BigEndian.PutUint64(off[:], uint64(loc.Offset))
	out = append(out, off[:]...)
	return out
}

func indexPrefix(ns, indexName string) []byte {
	out := append([]byte(ns), 0)
	out = append(out, []byte(indexName)...)
	out = append(out, 0)
	return out
}

// Put inserts a (key -> location) entry for a document's projection
// under the given index.
func (s *Store) Put(ns, indexName string, key query.IndexKey, loc query.Location) error {
	ek := entryKey(ns, indexName, EncodeKey(key), loc)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(ek, locBytes(loc))
	})
}

// Delete removes a (key -> location) entry.
func (s *Store) Delete(ns, indexName string, key query.IndexKey, loc query.Location) error {
	ek := entryKey(ns, indexName, EncodeKey(key), loc)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(ek)
	})
}

// DropIndex removes every entry of (ns, indexName).
func (s *Store) DropIndex(ns, indexName string) error {
	prefix := indexPrefix(ns, indexName)
	for {
		var keys [][]byte
		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = prefix
			it := txn.NewIterator(opts)
			defer it.Close()
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
				if len(keys) >= 1000 {
					break
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}
		if err := s.db.Update(func(txn *badger.Txn) error {
			for _, k := range keys {
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return err
		}
	}
}

func locBytes(loc query.Location) []byte {
	out := make([]byte, 12)
	binary.BigEndian.PutUint32(out[0:4], loc.FileID)
	binary.BigEndian.PutUint64(out[4:12], uint64(loc.Offset))
	return out
}

func locFromBytes(b []byte) query.Location {
	return query.Location{
		FileID: binary.BigEndian.Uint32(b[0:4]),
		Offset: int64(binary.BigEndian.Uint64(b[4:12])),
	}
}

// Range bounds a scan by the encoded bytes of the index's leading
// field, per spec.md §4.B's treatment of the index range as a
// contiguous bound on the leading field; remaining predicate fields
// are filtered by the Matcher against the fetched document.
type Range struct {
	Low, High              []byte
	LowInclusive, HighInclusive bool
}

// LeadingFieldRange builds a Range from an Interval on an IndexSpec's
// leading field.
func LeadingFieldRange(spec query.IndexSpec, iv query.Interval) Range {
	dir := query.Ascending
	if len(spec.Fields) > 0 {
		dir = spec.Fields[0].Direction
	}
	low, high := iv.Low, iv.High
	lowIncl, highIncl := iv.LowInclusive, iv.HighInclusive
	if dir == query.Descending {
		low, high = high, low
		lowIncl, highIncl = highIncl, lowIncl
	}
	var r Range
	if low != nil {
		r.Low = encodeValue(low)
		r.LowInclusive = lowIncl
	}
	if high != nil {
		r.High = encodeValue(high)
		r.HighInclusive = highIncl
	}
	return r
}

// Iterator walks (key, location) entries of one index in key order.
type Iterator struct {
	ns, indexName string
	prefix        []byte
	rng           Range
	reverse       bool
	txn           *badger.Txn
	it            *badger.Iterator
	started       bool
}

// Scan opens a directional Iterator over ns's indexName index,
// optionally bounded by rng.
func (s *Store) Scan(ns, indexName string, rng Range, reverse bool) (*Iterator, error) {
	txn := s.db.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	opts.Reverse = reverse
	it := txn.NewIterator(opts)

	prefix := indexPrefix(ns, indexName)
	iter := &Iterator{ns: ns, indexName: indexName, prefix: prefix, rng: rng, reverse: reverse, txn: txn, it: it}
	iter.seekStart()
	return iter, nil
}

func (it *Iterator) seekStart() {
	seek := append([]byte(nil), it.prefix...)
	if !it.reverse {
		if it.rng.Low != nil {
			seek = append(seek, it.rng.Low...)
			if !it.rng.LowInclusive {
				seek = append(seek, 0xFF)
			}
		}
	} else {
		if it.rng.High != nil {
			seek = append(seek, it.rng.High...)
			seek = append(seek, 0xFF) // land past any entry with this prefix
		} else {
			seek = append(seek, bytes.Repeat([]byte{0xFF}, 32)...)
		}
	}
	it.it.Seek(seek)
}

// Next advances the iterator; returns false once past the bound or
// prefix.
func (it *Iterator) Next() bool {
	if !it.started {
		it.started = true
	} else {
		it.it.Next()
	}
	for it.it.ValidForPrefix(it.prefix) {
		key := it.it.Item().Key()
		encoded := key[len(it.prefix):]
		if it.withinBound(encoded) {
			return true
		}
		if it.pastBound(encoded) {
			return false
		}
		it.it.Next()
	}
	return false
}

// withinBound reports whether the entry's leading field falls inside
// rng. encodedAndLoc is the full (all index fields + 12-byte location)
// suffix after the index prefix; only its leading field is compared,
// since Range bounds the leading field only (remaining fields are left
// to the Matcher).
func (it *Iterator) withinBound(encodedAndLoc []byte) bool {
	lead := leadingField(encodedAndLoc)
	if it.rng.Low != nil {
		c := bytes.Compare(lead, it.rng.Low)
		if c < 0 || (c == 0 && !it.rng.LowInclusive) {
			return false
		}
	}
	if it.rng.High != nil {
		c := bytes.Compare(lead, it.rng.High)
		if c > 0 || (c == 0 && !it.rng.HighInclusive) {
			return false
		}
	}
	return true
}

// pastBound reports whether the entry's leading field has moved beyond
// the bound in the direction of travel, meaning the scan is done.
func (it *Iterator) pastBound(encodedAndLoc []byte) bool {
	lead := leadingField(encodedAndLoc)
	if !it.reverse && it.rng.High != nil {
		return bytes.Compare(lead, it.rng.High) > 0
	}
	if it.reverse && it.rng.Low != nil {
		return bytes.Compare(lead, it.rng.Low) < 0
	}
	return false
}

// Key returns the raw encoded key bytes of the current entry (index
// fields only, location suffix stripped by the 12-byte tail).
func (it *Iterator) Key() []byte {
	key := it.it.Item().Key()
	encoded := key[len(it.prefix):]
	return encoded[:len(encoded)-12]
}

// Location returns the current entry's document location.
func (it *Iterator) Location() query.Location {
	key := it.it.Item().Key()
	encoded := key[len(it.prefix):]
	return locFromBytes(encoded[len(encoded)-12:])
}

// SeekAfter repositions the iterator strictly after the entry for
// (key, loc) -- used by index-scan cursor yield recovery.
func (it *Iterator) SeekAfter(key []byte, loc query.Location) {
	// started stays false, matching Seek's construction-time contract;
	// see the equivalent comment on badgerRecordIterator.SeekAfter.
	target := append([]byte(nil), it.prefix...)
	target = append(target, key...)
	target = append(target, locBytes(loc)...)
	it.it.Seek(target)
	it.started = false
	if it.it.ValidForPrefix(it.prefix) && bytes.Equal(it.it.Item().Key(), target) {
		it.it.Next()
	}
}

// Close releases the iterator's transaction.
func (it *Iterator) Close() error {
	it.it.Close()
	it.txn.Discard()
	return nil
}
