package cursor

import (
	"bytes"
	"fmt"

	"github.com/wbrown/querycore/core/corerr"
	"github.com/wbrown/querycore/core/dupset"
	"github.com/wbrown/querycore/core/query"
	"github.com/wbrown/querycore/core/record"
)

// CappedForward walks a capped namespace in insertion order, forward
// only, tolerating wraps and the overwrite of records it has not yet
// reached -- the variant spec.md §4.A and §7 specify for tailing a
// capped collection. Unlike TableScan it never reverses, since a
// capped collection's "natural order" is defined to BE insertion
// order regardless of extent wraparound.
type CappedForward struct {
	ns      string
	mgr     record.Manager
	matcher *query.Matcher
	decode  func([]byte) (*query.Document, error)

	it  record.Iterator
	dup *dupset.DupSet

	ok       bool
	loc      query.Location
	doc      *query.Document
	raw      []byte // the exact bytes last read at loc, for overwrite detection across a yield
	nscanned int64

	// wraps counts how many times Advance has observed the underlying
	// iterator's location decrease (a wrap back to the start of the
	// capped extent ring), with lastLoc holding the previous location
	// seen. Nothing else reads the count; CheckLocation answers only
	// from the locations recorded by NoteLocation.
	lastLoc    query.Location
	haveLastLoc bool
	wraps      int64

	noted map[query.Location]bool
}

// NewCappedForward opens a forward capped cursor over ns.
func NewCappedForward(ns string, mgr record.Manager, matcher *query.Matcher, decode func([]byte) (*query.Document, error)) (*CappedForward, error) {
	it, err := mgr.Natural(ns, false)
	if err != nil {
		return nil, fmt.Errorf("cursor: opening capped forward scan on %q: %w", ns, err)
	}
	return &CappedForward{
		ns: ns, mgr: mgr, matcher: matcher, decode: decode,
		it: it, dup: dupset.New(), noted: make(map[query.Location]bool),
	}, nil
}

func (c *CappedForward) Ok() bool { return c.ok }

func (c *CappedForward) Advance() bool {
	for c.it.Next() {
		c.nscanned++
		loc := c.it.Location()
		if c.haveLastLoc && loc.Less(c.lastLoc) {
			c.wraps++
		}
		c.lastLoc, c.haveLastLoc = loc, true

		doc, err := c.decode(c.it.Value())
		if err != nil {
			continue
		}
		if c.matcher != nil && !c.matcher.Matches(doc) {
			continue
		}
		if c.dup.GetSetDup(loc) {
			continue
		}
		c.loc, c.doc, c.ok = loc, doc, true
		c.raw = append(c.raw[:0], c.it.Value()...)
		return true
	}
	c.ok = false
	return false
}

func (c *CappedForward) CurrentLocation() query.Location { return c.loc }

func (c *CappedForward) CurrentDocument() (*query.Document, error) {
	if !c.ok {
		return nil, fmt.Errorf("cursor: capped forward scan not positioned on an item")
	}
	return c.doc, nil
}

func (c *CappedForward) CurrentKey() (query.IndexKey, bool)      { return query.IndexKey{}, false }
func (c *CappedForward) IndexKeyPattern() (query.IndexSpec, bool) { return query.IndexSpec{}, false }
func (c *CappedForward) IsMultiKey() bool                         { return false }
func (c *CappedForward) Matcher() *query.Matcher                  { return c.matcher }
func (c *CappedForward) KeyFieldsOnly() bool                      { return false }
func (c *CappedForward) GetSetDup(loc query.Location) bool        { return c.dup.GetSetDup(loc) }
func (c *CappedForward) NScanned() int64                          { return c.nscanned }
func (c *CappedForward) NoteLocation(loc query.Location)          { c.noted[loc] = true }
func (c *CappedForward) CheckLocation(loc query.Location) bool    { return c.noted[loc] }
func (c *CappedForward) Close() error                             { return c.it.Close() }

type cappedForwardYield struct {
	loc   query.Location
	raw   []byte
	valid bool
}

func (cappedForwardYield) cursorYieldToken() {}

func (c *CappedForward) PrepareToYield() (YieldToken, error) {
	return cappedForwardYield{loc: c.loc, raw: c.raw, valid: c.ok}, nil
}

// RecoverFromYield repositions after the saved location, first
// checking that the record still there is the one the cursor left: a
// capped collection's defining hazard, per spec.md §7's "cursors must
// tolerate deletion of the record at their current position", is that
// the slot at loc may have been reclaimed and overwritten with an
// unrelated document while this cursor was suspended. SeekAfter alone
// can't tell a genuinely-resumed position from a stale one landing on
// whatever new record now occupies that slot, so recovery re-reads loc
// and compares bytes; any mismatch (including the slot no longer
// existing) marks the cursor's position invalid and fails recovery
// rather than silently resuming mid-ring.
func (c *CappedForward) RecoverFromYield(tok YieldToken) error {
	y, ok := tok.(cappedForwardYield)
	if !ok {
		return fmt.Errorf("cursor: capped forward recovery: %w", corerr.ErrRecoveryFailed)
	}
	if !y.valid {
		return nil
	}
	cur, err := c.mgr.Read(c.ns, y.loc)
	if err != nil || !bytes.Equal(cur, y.raw) {
		c.loc = query.InvalidLocation
		c.ok = false
		return fmt.Errorf("cursor: capped forward recovery: record at %s overwritten while suspended: %w", y.loc, corerr.ErrRecoveryFailed)
	}
	c.it.SeekAfter(y.loc)
	c.ok = false
	return nil
}

func (c *CappedForward) PrepareToTouchEarlierIterate() (YieldToken, error) {
	return c.PrepareToYield()
}

func (c *CappedForward) RecoverFromTouchingEarlierIterate(tok YieldToken) error {
	return c.RecoverFromYield(tok)
}
