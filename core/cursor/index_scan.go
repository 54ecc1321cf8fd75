package cursor

import (
	"fmt"

	"github.com/wbrown/querycore/core/corerr"
	"github.com/wbrown/querycore/core/dupset"
	"github.com/wbrown/querycore/core/indexspan"
	"github.com/wbrown/querycore/core/query"
	"github.com/wbrown/querycore/core/record"
)

// IndexScan is the directional index-scan Cursor variant of spec.md
// §4.A, with an optional covering (key-fields-only) projection.
type IndexScan struct {
	ns      string
	spec    query.IndexSpec
	mgr     record.Manager
	matcher *query.Matcher
	decode  func([]byte) (*query.Document, error)
	covering bool
	multiKey bool

	it  *indexspan.Iterator
	dup *dupset.DupSet

	ok       bool
	loc      query.Location
	keyBytes []byte
	doc      *query.Document
	nscanned int64

	noted map[query.Location]bool
}

// NewIndexScan opens a directional scan of spec over ns bounded by
// rng.
func NewIndexScan(
	ns string, spec query.IndexSpec, idx *indexspan.Store, mgr record.Manager,
	rng indexspan.Range, reverse bool, matcher *query.Matcher, covering bool,
	decode func([]byte) (*query.Document, error),
) (*IndexScan, error) {
	it, err := idx.Scan(ns, spec.Name, rng, reverse)
	if err != nil {
		return nil, fmt.Errorf("cursor: opening index scan on %s.%s: %w", ns, spec.Name, err)
	}
	return &IndexScan{
		ns: ns, spec: spec, mgr: mgr, matcher: matcher, decode: decode, covering: covering,
		it: it, dup: dupset.New(), noted: make(map[query.Location]bool),
	}, nil
}

func (s *IndexScan) Ok() bool { return s.ok }

func (s *IndexScan) Advance() bool {
	for s.it.Next() {
		s.nscanned++
		loc := s.it.Location()
		keyBytes := append([]byte(nil), s.it.Key()...)

		var doc *query.Document
		needFetch := !s.covering
		if s.matcher != nil && s.covering {
			key, ok := indexspan.DecodeKey(s.spec, keyBytes)
			if !ok {
				// The key didn't decode exactly (unrecognized encoding,
				// truncated bytes): don't trust an empty/partial key
				// against the matcher, fetch the real document instead.
				needFetch = true
			} else if !s.matcher.MatchesKey(key) {
				continue
			}
		}

		if needFetch {
			raw, err := s.mgr.Read(s.ns, loc)
			if err != nil {
				continue
			}
			d, err := s.decode(raw)
			if err != nil {
				continue
			}
			doc = d
			if s.matcher != nil && !s.matcher.Matches(doc) {
				continue
			}
		}

		if s.dup.GetSetDup(loc) {
			continue
		}
		s.loc, s.keyBytes, s.doc, s.ok = loc, keyBytes, doc, true
		return true
	}
	s.ok = false
	return false
}

func (s *IndexScan) CurrentLocation() query.Location { return s.loc }

func (s *IndexScan) CurrentDocument() (*query.Document, error) {
	if !s.ok {
		return nil, fmt.Errorf("cursor: index scan not positioned on an item")
	}
	if s.doc != nil {
		return s.doc, nil
	}
	raw, err := s.mgr.Read(s.ns, s.loc)
	if err != nil {
		return nil, err
	}
	return s.decode(raw)
}

func (s *IndexScan) CurrentKey() (query.IndexKey, bool) {
	if !s.ok {
		return query.IndexKey{}, false
	}
	return indexspan.DecodeKey(s.spec, s.keyBytes)
}

func (s *IndexScan) IndexKeyPattern() (query.IndexSpec, bool) { return s.spec, true }
func (s *IndexScan) IsMultiKey() bool                         { return s.multiKey }
func (s *IndexScan) Matcher() *query.Matcher                  { return s.matcher }
func (s *IndexScan) KeyFieldsOnly() bool                      { return s.covering }
func (s *IndexScan) GetSetDup(loc query.Location) bool        { return s.dup.GetSetDup(loc) }
func (s *IndexScan) NScanned() int64                          { return s.nscanned }
func (s *IndexScan) NoteLocation(loc query.Location)          { s.noted[loc] = true }
func (s *IndexScan) CheckLocation(loc query.Location) bool    { return s.noted[loc] }
func (s *IndexScan) Close() error                             { return s.it.Close() }

type indexScanYield struct {
	key   []byte
	loc   query.Location
	valid bool
}

func (indexScanYield) cursorYieldToken() {}

func (s *IndexScan) PrepareToYield() (YieldToken, error) {
	return indexScanYield{key: s.keyBytes, loc: s.loc, valid: s.ok}, nil
}

func (s *IndexScan) RecoverFromYield(tok YieldToken) error {
	y, ok := tok.(indexScanYield)
	if !ok {
		return fmt.Errorf("cursor: index scan recovery: %w", corerr.ErrRecoveryFailed)
	}
	if !y.valid {
		return nil
	}
	s.it.SeekAfter(y.key, y.loc)
	s.ok = false
	return nil
}

func (s *IndexScan) PrepareToTouchEarlierIterate() (YieldToken, error) {
	return s.PrepareToYield()
}

func (s *IndexScan) RecoverFromTouchingEarlierIterate(tok YieldToken) error {
	return s.RecoverFromYield(tok)
}
