package cursor

import (
	"fmt"

	"github.com/wbrown/querycore/core/corerr"
	"github.com/wbrown/querycore/core/dupset"
	"github.com/wbrown/querycore/core/query"
	"github.com/wbrown/querycore/core/record"
)

// TableScan is the forward/backward natural-order Cursor variant of
// spec.md §4.A.
type TableScan struct {
	ns      string
	mgr     record.Manager
	reverse bool
	matcher *query.Matcher
	decode  func([]byte) (*query.Document, error)

	it       record.Iterator
	dup      *dupset.DupSet
	ok       bool
	loc      query.Location
	nscanned int64
	lastDoc  *query.Document

	noted map[query.Location]bool
}

// NewTableScan opens a forward/backward table scan over ns.
func NewTableScan(ns string, mgr record.Manager, reverse bool, matcher *query.Matcher, decode func([]byte) (*query.Document, error)) (*TableScan, error) {
	it, err := mgr.Natural(ns, reverse)
	if err != nil {
		return nil, fmt.Errorf("cursor: opening table scan on %q: %w", ns, err)
	}
	return &TableScan{
		ns: ns, mgr: mgr, reverse: reverse, matcher: matcher, decode: decode,
		it: it, dup: dupset.New(), noted: make(map[query.Location]bool),
	}, nil
}

func (t *TableScan) Ok() bool { return t.ok }

func (t *TableScan) Advance() bool {
	for t.it.Next() {
		t.nscanned++
		loc := t.it.Location()
		val := t.it.Value()
		doc, err := t.decode(val)
		if err != nil {
			continue
		}
		if t.matcher != nil && !t.matcher.Matches(doc) {
			continue
		}
		if t.dup.GetSetDup(loc) {
			continue
		}
		t.loc, t.lastDoc, t.ok = loc, doc, true
		return true
	}
	t.ok = false
	return false
}

func (t *TableScan) CurrentLocation() query.Location { return t.loc }

func (t *TableScan) CurrentDocument() (*query.Document, error) {
	if !t.ok {
		return nil, fmt.Errorf("cursor: table scan not positioned on an item")
	}
	return t.lastDoc, nil
}

func (t *TableScan) CurrentKey() (query.IndexKey, bool)        { return query.IndexKey{}, false }
func (t *TableScan) IndexKeyPattern() (query.IndexSpec, bool)   { return query.IndexSpec{}, false }
func (t *TableScan) IsMultiKey() bool                           { return false }
func (t *TableScan) Matcher() *query.Matcher                    { return t.matcher }
func (t *TableScan) KeyFieldsOnly() bool                        { return false }
func (t *TableScan) GetSetDup(loc query.Location) bool          { return t.dup.GetSetDup(loc) }
func (t *TableScan) NScanned() int64                            { return t.nscanned }
func (t *TableScan) NoteLocation(loc query.Location)            { t.noted[loc] = true }
func (t *TableScan) CheckLocation(loc query.Location) bool      { return t.noted[loc] }
func (t *TableScan) Close() error                               { return t.it.Close() }

// tableScanYield captures the last location seen so recovery can
// resume strictly after it, per spec.md §4.A's yield contract.
type tableScanYield struct {
	loc   query.Location
	valid bool
}

func (tableScanYield) cursorYieldToken() {}

func (t *TableScan) PrepareToYield() (YieldToken, error) {
	return tableScanYield{loc: t.loc, valid: t.ok}, nil
}

func (t *TableScan) RecoverFromYield(tok YieldToken) error {
	y, ok := tok.(tableScanYield)
	if !ok {
		return fmt.Errorf("cursor: table scan recovery: %w", corerr.ErrRecoveryFailed)
	}
	if !y.valid {
		return nil
	}
	t.it.SeekAfter(y.loc)
	t.ok = false
	return nil
}

func (t *TableScan) PrepareToTouchEarlierIterate() (YieldToken, error) {
	return t.PrepareToYield()
}

func (t *TableScan) RecoverFromTouchingEarlierIterate(tok YieldToken) error {
	return t.RecoverFromYield(tok)
}
