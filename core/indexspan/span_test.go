package indexspan

import (
	"testing"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/querycore/core/query"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	opts := badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return Open(db)
}

func put(t *testing.T, s *Store, spec query.IndexSpec, v query.Value, offset int64) {
	t.Helper()
	key := query.IndexKey{Spec: spec, Values: []query.Value{v}}
	loc := query.Location{FileID: 0, Offset: offset}
	require.NoError(t, s.Put("events", spec.Name, key, loc))
}

func TestStoreScanForwardInKeyOrder(t *testing.T) {
	s := openTestStore(t)
	spec := query.NewIndexSpec("by_a", "a")
	put(t, s, spec, 3.0, 30)
	put(t, s, spec, 1.0, 10)
	put(t, s, spec, 2.0, 20)

	it, err := s.Scan("events", "by_a", Range{}, false)
	require.NoError(t, err)
	defer it.Close()

	var offsets []int64
	for it.Next() {
		offsets = append(offsets, it.Location().Offset)
	}
	require.Equal(t, []int64{10, 20, 30}, offsets)
}

func TestStoreScanReverse(t *testing.T) {
	s := openTestStore(t)
	spec := query.NewIndexSpec("by_a", "a")
	put(t, s, spec, 1.0, 10)
	put(t, s, spec, 2.0, 20)
	put(t, s, spec, 3.0, 30)

	it, err := s.Scan("events", "by_a", Range{}, true)
	require.NoError(t, err)
	defer it.Close()

	var offsets []int64
	for it.Next() {
		offsets = append(offsets, it.Location().Offset)
	}
	require.Equal(t, []int64{30, 20, 10}, offsets)
}

func TestStoreScanRespectsLeadingFieldBound(t *testing.T) {
	s := openTestStore(t)
	spec := query.NewIndexSpec("by_a", "a")
	put(t, s, spec, 1.0, 10)
	put(t, s, spec, 2.0, 20)
	put(t, s, spec, 3.0, 30)
	put(t, s, spec, 4.0, 40)

	rng := LeadingFieldRange(spec, query.Interval{Low: 2.0, High: 3.0, LowInclusive: true, HighInclusive: true})
	it, err := s.Scan("events", "by_a", rng, false)
	require.NoError(t, err)
	defer it.Close()

	var offsets []int64
	for it.Next() {
		offsets = append(offsets, it.Location().Offset)
	}
	require.Equal(t, []int64{20, 30}, offsets)
}

func TestStoreScanExclusiveBound(t *testing.T) {
	s := openTestStore(t)
	spec := query.NewIndexSpec("by_a", "a")
	put(t, s, spec, 1.0, 10)
	put(t, s, spec, 2.0, 20)
	put(t, s, spec, 3.0, 30)

	rng := LeadingFieldRange(spec, query.Interval{Low: 1.0, High: 3.0, LowInclusive: false, HighInclusive: false})
	it, err := s.Scan("events", "by_a", rng, false)
	require.NoError(t, err)
	defer it.Close()

	var offsets []int64
	for it.Next() {
		offsets = append(offsets, it.Location().Offset)
	}
	require.Equal(t, []int64{20}, offsets)
}

func TestStoreDeleteRemovesEntry(t *testing.T) {
	s := openTestStore(t)
	spec := query.NewIndexSpec("by_a", "a")
	key := query.IndexKey{Spec: spec, Values: []query.Value{1.0}}
	loc := query.Location{FileID: 0, Offset: 10}
	require.NoError(t, s.Put("events", "by_a", key, loc))
	require.NoError(t, s.Delete("events", "by_a", key, loc))

	it, err := s.Scan("events", "by_a", Range{}, false)
	require.NoError(t, err)
	defer it.Close()
	require.False(t, it.Next())
}

func TestStoreDropIndexRemovesAllEntries(t *testing.T) {
	s := openTestStore(t)
	spec := query.NewIndexSpec("by_a", "a")
	put(t, s, spec, 1.0, 10)
	put(t, s, spec, 2.0, 20)

	require.NoError(t, s.DropIndex("events", "by_a"))

	it, err := s.Scan("events", "by_a", Range{}, false)
	require.NoError(t, err)
	defer it.Close()
	require.False(t, it.Next())
}

func TestStoreScanIsolatesDifferentIndexes(t *testing.T) {
	s := openTestStore(t)
	specA := query.NewIndexSpec("by_a", "a")
	specB := query.NewIndexSpec("by_b", "b")
	put(t, s, specA, 1.0, 10)
	put(t, s, specB, 1.0, 20)

	it, err := s.Scan("events", "by_a", Range{}, false)
	require.NoError(t, err)
	defer it.Close()

	var offsets []int64
	for it.Next() {
		offsets = append(offsets, it.Location().Offset)
	}
	require.Equal(t, []int64{10}, offsets)
}
