package durable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/querycore/core/record"
)

func openTestManager(t *testing.T) *record.BadgerManager {
	t.Helper()
	mgr, err := record.OpenBadgerManager(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

func TestSessionCommitPersistsWrites(t *testing.T) {
	mgr := openTestManager(t)
	w := New(mgr)
	loc, err := mgr.Reserve("events", 8)
	require.NoError(t, err)

	s := w.Begin("events")
	region, err := s.Writing(loc, 8)
	require.NoError(t, err)
	copy(region, []byte("hello!!!"))
	require.NoError(t, s.Commit())

	got, err := mgr.Read("events", loc)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello!!!"), got)
}

func TestSessionPutStagesVerbatimBytes(t *testing.T) {
	mgr := openTestManager(t)
	w := New(mgr)
	loc, err := mgr.Reserve("events", 4)
	require.NoError(t, err)

	s := w.Begin("events")
	s.Put(loc, []byte("ABCD"))
	require.NoError(t, s.Commit())

	got, err := mgr.Read("events", loc)
	require.NoError(t, err)
	assert.Equal(t, []byte("ABCD"), got)
}

func TestSessionWritingSeesPriorContent(t *testing.T) {
	mgr := openTestManager(t)
	w := New(mgr)
	loc, err := mgr.Reserve("events", 8)
	require.NoError(t, err)
	require.NoError(t, mgr.Write("events", loc, []byte("original")))

	s := w.Begin("events")
	region, err := s.Writing(loc, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), region)
}

func TestSessionCommitTwiceErrors(t *testing.T) {
	mgr := openTestManager(t)
	w := New(mgr)
	loc, err := mgr.Reserve("events", 4)
	require.NoError(t, err)

	s := w.Begin("events")
	s.Put(loc, []byte("ABCD"))
	require.NoError(t, s.Commit())
	assert.Error(t, s.Commit())
}

func TestSessionAbandonDiscardsPendingWrites(t *testing.T) {
	mgr := openTestManager(t)
	w := New(mgr)
	loc, err := mgr.Reserve("events", 4)
	require.NoError(t, err)
	require.NoError(t, mgr.Write("events", loc, []byte("orig")))

	s := w.Begin("events")
	s.Put(loc, []byte("new!"))
	s.Abandon()

	got, err := mgr.Read("events", loc)
	require.NoError(t, err)
	assert.Equal(t, []byte("orig"), got)
}

func TestSessionDeleteStagesRemoval(t *testing.T) {
	mgr := openTestManager(t)
	w := New(mgr)
	loc, err := mgr.Reserve("events", 4)
	require.NoError(t, err)

	s := w.Begin("events")
	require.NoError(t, s.Delete(loc))
	require.NoError(t, s.Commit())

	_, err = mgr.Read("events", loc)
	assert.Error(t, err)
}
