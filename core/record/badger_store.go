package record

import (
	"bytes"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/wbrown/querycore/core/query"
)

// BadgerManager is the Manager implementation backing every record
// store in this repository on a single Badger instance, exactly as
// datalog/storage.Store does for the teacher's datom store.
type BadgerManager struct {
	db *badger.DB

	mu        sync.Mutex
	nextOffset map[string]int64 // namespace -> next free offset on fileID 0
}

// OpenBadgerManager opens (or creates) a Badger database at dir.
func OpenBadgerManager(dir string) (*BadgerManager, error) {
	opts := badger.DefaultOptions(dir)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("record: opening badger at %q: %w", dir, err)
	}
	return &BadgerManager{db: db, nextOffset: make(map[string]int64)}, nil
}

// Close closes the underlying Badger instance.
func (m *BadgerManager) Close() error { return m.db.Close() }

// DB exposes the underlying *badger.DB so a caller that owns both the
// record manager and a collaborator needing direct Badger access (the
// index span store's ordered iteration) can share one handle instead
// of opening the file twice. Not part of the Manager interface --
// callers that only hold a record.Manager have no business reaching
// past it.
func (m *BadgerManager) DB() *badger.DB { return m.db }

// Reserve hands out the next unused offset for ns on fileID 0 and
// writes a zeroed placeholder so readers never observe a torn write.
func (m *BadgerManager) Reserve(ns string, length int) (query.Location, error) {
	m.mu.Lock()
	offset := m.nextOffset[ns]
	m.nextOffset[ns] = offset + int64(length)
	m.mu.Unlock()

	loc := query.Location{FileID: 0, Offset: offset}
	if err := m.Write(ns, loc, make([]byte, length)); err != nil {
		return query.Location{}, err
	}
	return loc, nil
}

// Write stores data at loc, overwriting whatever was there before.
func (m *BadgerManager) Write(ns string, loc query.Location, data []byte) error {
	key := locationKey(ns, loc)
	cp := append([]byte(nil), data...)
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, cp)
	})
}

// Read returns the bytes stored at loc.
func (m *BadgerManager) Read(ns string, loc query.Location) ([]byte, error) {
	key := locationKey(ns, loc)
	var out []byte
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, fmt.Errorf("record: %s %s: %w", ns, loc, err)
		}
		return nil, err
	}
	return out, nil
}

// Delete removes the record at loc.
func (m *BadgerManager) Delete(ns string, loc query.Location) error {
	key := locationKey(ns, loc)
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// DropNamespace removes every record belonging to ns.
func (m *BadgerManager) DropNamespace(ns string) error {
	prefix := namespacePrefix(ns)
	for {
		var keys [][]byte
		err := m.db.View(func(txn *badger.Txn) error {
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
			break
		}
		if err := m.db.Update(func(txn *badger.Txn) error {
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
	m.mu.Lock()
	delete(m.nextOffset, ns)
	m.mu.Unlock()
	return nil
}

// NewBatch opens an atomic write batch against ns.
func (m *BadgerManager) NewBatch(ns string) Batch {
	return &badgerBatch{ns: ns, wb: m.db.NewWriteBatch()}
}

type badgerBatch struct {
	ns string
	wb *badger.WriteBatch
}

func (b *badgerBatch) Write(loc query.Location, data []byte) error {
	return b.wb.Set(locationKey(b.ns, loc), append([]byte(nil), data...))
}

func (b *badgerBatch) Delete(loc query.Location) error {
	return b.wb.Delete(locationKey(b.ns, loc))
}

func (b *badgerBatch) Commit() error { return b.wb.Flush() }

func (b *badgerBatch) Cancel() { b.wb.Cancel() }

// Natural returns an Iterator over ns's records in Location order.
func (m *BadgerManager) Natural(ns string, reverse bool) (Iterator, error) {
	txn := m.db.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	opts.Reverse = reverse
	prefix := namespacePrefix(ns)
	it := txn.NewIterator(opts)

	seek := append([]byte(nil), prefix...)
	if reverse {
		// Seeking in reverse mode must start at the largest key with
		// this prefix; append 0xFF bytes to land past every real key.
		seek = append(seek, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
	}
	it.Seek(seek)

	return &badgerRecordIterator{ns: ns, prefix: prefix, txn: txn, it: it, reverse: reverse}, nil
}

type badgerRecordIterator struct {
	ns      string
	prefix  []byte
	txn     *badger.Txn
	it      *badger.Iterator
	reverse bool

	started bool
}

func (bi *badgerRecordIterator) Next() bool {
	if !bi.started {
		bi.started = true
	} else {
		bi.it.Next()
	}
	return bi.it.ValidForPrefix(bi.prefix)
}

func (bi *badgerRecordIterator) Location() query.Location {
	return decodeLocation(bi.ns, bi.it.Item().Key())
}

func (bi *badgerRecordIterator) Value() []byte {
	v, err := bi.it.Item().ValueCopy(nil)
	if err != nil {
		return nil
	}
	return v
}

func (bi *badgerRecordIterator) Close() error {
	bi.it.Close()
	bi.txn.Discard()
	return nil
}

// SeekAfter repositions the iterator strictly after loc -- forward
// mode seeks to the next key greater than loc's key; reverse mode
// seeks to the next key smaller than it.
func (bi *badgerRecordIterator) SeekAfter(loc query.Location) {
	// started stays false: Seek only positions the raw iterator, it
	// doesn't "consume" an item, so the next logical Next() call must
	// read the position landed on here rather than advancing past it
	// again (the same contract the initial construction-time Seek relies
	// on). Setting it true here would make Next() skip a record.
	key := locationKey(bi.ns, loc)
	bi.it.Seek(key)
	bi.started = false
	if bi.it.ValidForPrefix(bi.prefix) && bytes.Equal(bi.it.Item().Key(), key) {
		bi.it.Next()
	}
}
