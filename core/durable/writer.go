// Package durable implements the page-level durable writer collaborator
// the core consumes: "writing(region) -> mutable region". A caller
// opens a Session, calls Writing to get a mutable buffer for a
// location, mutates it, and Commits the session once -- every Writing
// call made against the session becomes durable atomically.
// core/capped does not use this package: its allocate, compact and
// advance bookkeeping lives in memory and frees record bytes through
// record.Manager directly, outside any Session.
package durable

import (
	"fmt"

	"github.com/wbrown/querycore/core/query"
	"github.com/wbrown/querycore/core/record"
)

// Writer is the page-level durable writer collaborator.
type Writer struct {
	mgr record.Manager
}

// New wraps a record.Manager as a durable Writer.
func New(mgr record.Manager) *Writer {
	return &Writer{mgr: mgr}
}

// Begin opens a Session against namespace ns. All Writing/Delete calls
// made on the returned Session are buffered until Commit.
func (w *Writer) Begin(ns string) *Session {
	return &Session{ns: ns, mgr: w.mgr, batch: w.mgr.NewBatch(ns)}
}

// Session is one atomic unit of durable mutation.
type Session struct {
	ns      string
	mgr     record.Manager
	batch   record.Batch
	pending map[query.Location][]byte
	committed bool
}

// Writing returns a mutable region for loc: the region's current
// on-disk bytes if any exist, sized up to length (zero-padded or
// truncated as needed), for the caller to mutate in place before the
// session commits.
func (s *Session) Writing(loc query.Location, length int) ([]byte, error) {
	region := make([]byte, length)
	existing, err := s.mgr.Read(s.ns, loc)
	if err == nil {
		copy(region, existing)
	}
	if s.pending == nil {
		s.pending = make(map[query.Location][]byte)
	}
	s.pending[loc] = region
	return region, nil
}

// Put stages data to be written at loc verbatim (used when the caller
// already has the full region, e.g. a freshly reserved record).
func (s *Session) Put(loc query.Location, data []byte) {
	if s.pending == nil {
		s.pending = make(map[query.Location][]byte)
	}
	s.pending[loc] = data
}

// Delete stages a deletion of loc.
func (s *Session) Delete(loc query.Location) error {
	return s.batch.Delete(loc)
}

// Commit flushes every staged Writing/Put region and Delete as a
// single atomic batch.
func (s *Session) Commit() error {
	if s.committed {
		return fmt.Errorf("durable: session for %q already committed", s.ns)
	}
	for loc, data := range s.pending {
		if err := s.batch.Write(loc, data); err != nil {
			s.batch.Cancel()
			return fmt.Errorf("durable: staging write at %s: %w", loc, err)
		}
	}
	s.committed = true
	return s.batch.Commit()
}

// Abandon cancels the session without committing any staged mutation.
func (s *Session) Abandon() {
	if !s.committed {
		s.batch.Cancel()
		s.committed = true
	}
}
