package cursor

import (
	"fmt"
	"math"

	"github.com/wbrown/querycore/core/corerr"
	"github.com/wbrown/querycore/core/dupset"
	"github.com/wbrown/querycore/core/query"
)

// Geo2DCandidate is one document a geo cursor's underlying search
// supplies, already carrying the field used as the distance key.
type Geo2DCandidate struct {
	Location query.Location
	Document *query.Document
	X, Y     float64
}

// Geo2D is the nearest-first cursor variant supplemented from
// original_source (the legacy 2D geo index's incremental expanding-box
// search), per SPEC_FULL.md §7. It does not implement the box search
// itself -- that belongs to a real spatial index, out of scope here --
// but wraps a pre-fetched candidate set, sorts it by distance from a
// center point, and reuses the same Cursor/DupSet/yield contract as
// every other variant so the racer and explain() can treat it
// uniformly.
type Geo2D struct {
	matcher    *query.Matcher
	centerX, centerY float64

	candidates []Geo2DCandidate
	pos        int

	dup *dupset.DupSet

	ok       bool
	loc      query.Location
	doc      *query.Document
	nscanned int64

	noted map[query.Location]bool
}

// NewGeo2D sorts candidates by distance from (centerX, centerY) and
// returns a Cursor over them.
func NewGeo2D(centerX, centerY float64, candidates []Geo2DCandidate, matcher *query.Matcher) *Geo2D {
	sorted := append([]Geo2DCandidate(nil), candidates...)
	sortByDistance(sorted, centerX, centerY)
	return &Geo2D{
		matcher: matcher, centerX: centerX, centerY: centerY,
		candidates: sorted, dup: dupset.New(), noted: make(map[query.Location]bool),
	}
}

func sortByDistance(c []Geo2DCandidate, cx, cy float64) {
	dist := func(v Geo2DCandidate) float64 {
		dx, dy := v.X-cx, v.Y-cy
		return dx*dx + dy*dy
	}
	for i := 1; i < len(c); i++ {
		for j := i; j > 0 && dist(c[j]) < dist(c[j-1]); j-- {
			c[j], c[j-1] = c[j-1], c[j]
		}
	}
}

func (g *Geo2D) Ok() bool { return g.ok }

func (g *Geo2D) Advance() bool {
	for g.pos < len(g.candidates) {
		cand := g.candidates[g.pos]
		g.pos++
		g.nscanned++
		if g.matcher != nil && !g.matcher.Matches(cand.Document) {
			continue
		}
		if g.dup.GetSetDup(cand.Location) {
			continue
		}
		g.loc, g.doc, g.ok = cand.Location, cand.Document, true
		return true
	}
	g.ok = false
	return false
}

// Distance reports the current item's Euclidean distance from the
// search center, for explain() reporting.
func (g *Geo2D) Distance() float64 {
	if g.pos == 0 || g.pos > len(g.candidates) {
		return math.NaN()
	}
	cand := g.candidates[g.pos-1]
	dx, dy := cand.X-g.centerX, cand.Y-g.centerY
	return math.Sqrt(dx*dx + dy*dy)
}

func (g *Geo2D) CurrentLocation() query.Location { return g.loc }

func (g *Geo2D) CurrentDocument() (*query.Document, error) {
	if !g.ok {
		return nil, fmt.Errorf("cursor: geo cursor not positioned on an item")
	}
	return g.doc, nil
}

func (g *Geo2D) CurrentKey() (query.IndexKey, bool)      { return query.IndexKey{}, false }
func (g *Geo2D) IndexKeyPattern() (query.IndexSpec, bool) { return query.IndexSpec{}, false }
func (g *Geo2D) IsMultiKey() bool                         { return false }
func (g *Geo2D) Matcher() *query.Matcher                  { return g.matcher }
func (g *Geo2D) KeyFieldsOnly() bool                      { return false }
func (g *Geo2D) GetSetDup(loc query.Location) bool        { return g.dup.GetSetDup(loc) }
func (g *Geo2D) NScanned() int64                          { return g.nscanned }
func (g *Geo2D) NoteLocation(loc query.Location)          { g.noted[loc] = true }
func (g *Geo2D) CheckLocation(loc query.Location) bool    { return g.noted[loc] }
func (g *Geo2D) Close() error                             { return nil }

type geo2DYield struct {
	pos   int
	valid bool
}

func (geo2DYield) cursorYieldToken() {}

func (g *Geo2D) PrepareToYield() (YieldToken, error) {
	return geo2DYield{pos: g.pos, valid: g.ok}, nil
}

func (g *Geo2D) RecoverFromYield(tok YieldToken) error {
	y, ok := tok.(geo2DYield)
	if !ok {
		return fmt.Errorf("cursor: geo cursor recovery: %w", corerr.ErrRecoveryFailed)
	}
	if !y.valid {
		return nil
	}
	g.pos = y.pos
	g.ok = false
	return nil
}

func (g *Geo2D) PrepareToTouchEarlierIterate() (YieldToken, error) {
	return g.PrepareToYield()
}

func (g *Geo2D) RecoverFromTouchingEarlierIterate(tok YieldToken) error {
	return g.RecoverFromYield(tok)
}
