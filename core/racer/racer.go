// Package racer implements the Multi-Plan Racer of spec.md §4.C: a
// single Cursor that fronts N candidate child cursors, interleaving
// them round-robin, deduplicating across plans, detecting a winner,
// and caching it. Grounded on the round-robin, stateful relation
// iteration of datalog/executor/iterator_composition.go, generalized
// from relation tuples to RecordLocations.
package racer

import (
	"errors"
	"fmt"

	"github.com/wbrown/querycore/core/catalog"
	"github.com/wbrown/querycore/core/corerr"
	"github.com/wbrown/querycore/core/cursor"
	"github.com/wbrown/querycore/core/dupset"
	"github.com/wbrown/querycore/core/plan"
	"github.com/wbrown/querycore/core/query"
)

// MatchTakeover and ScanTakeover are the fixed thresholds of spec.md
// §4.C.
const (
	MatchTakeover = 101
	ScanTakeover  = 120
)

// cachedProbeScans bounds how many successful advances of the cached
// child the cached-plan fast path counts before judging the probe.
// cachedProbeMinMatches is the minimum match count expected by then;
// falling short trips addOtherPlans. Neither constant is spec-mandated
// (spec.md only says "bounded probe"/"substantially fewer than
// expected"). checkCachedProbe runs only right after the cached child
// has produced a match, so with cachedProbeMinMatches = 1 the probe
// never falls back: a cached plan returning few or no matches keeps
// racing alone, and only NotifyDeleted reopens the other candidates.
const (
	cachedProbeScans     = 40
	cachedProbeMinMatches = 1
)

// State is the Racer's state machine position, per spec.md §4.C.
type State int

const (
	Racing State = iota
	TakenOver
	HybridComplete
	Done
)

func (s State) String() string {
	switch s {
	case Racing:
		return "racing"
	case TakenOver:
		return "taken-over"
	case HybridComplete:
		return "hybrid-complete"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Opener constructs a live Cursor for one candidate plan. Supplied by
// the caller, since opening a real cursor needs namespace-specific
// collaborators (a record.Manager, an indexspan.Store, a decode
// function) the racer package itself has no business knowing about.
type Opener func(plan.Candidate) (cursor.Cursor, error)

type child struct {
	candidate plan.Candidate
	cursor    cursor.Cursor
	alive     bool
	matches   int64
}

// Racer is itself a cursor.Cursor (the "RacerCursor" variant of
// spec.md §4.A), so it can be wrapped by the $or clause driver or
// nested inside another racer's candidate set without special-casing.
type Racer struct {
	ns      string
	pattern query.Pattern
	cache   *catalog.PlanCache
	opener  Opener

	allCandidates []plan.Candidate
	opened        []bool
	children      []*child

	dup      *dupset.DupSet
	rotation int

	state            State
	cachedFastPath   bool
	probeScans       int64
	winner           *child
	inOrderCompleted bool

	ok      bool
	lastChild *child

	noted map[query.Location]bool
}

// New builds a Racer over candidates. If cache has a recorded winner
// for pattern, only that candidate's cursor is opened up front (the
// cached-plan fast path); the rest open lazily via addOtherPlans if
// the probe judges the cached plan unproductive.
func New(ns string, pattern query.Pattern, candidates []plan.Candidate, opener Opener, cache *catalog.PlanCache) (*Racer, error) {
	r := &Racer{
		ns: ns, pattern: pattern, cache: cache, opener: opener,
		allCandidates: candidates,
		opened:        make([]bool, len(candidates)),
		dup:           dupset.New(),
		noted:         make(map[query.Location]bool),
	}

	if cache != nil {
		if winner, ok := cache.Get(ns, pattern); ok {
			if idx := findCachedCandidate(candidates, winner); idx >= 0 {
				if err := r.openChild(idx); err != nil {
					return nil, err
				}
				r.cachedFastPath = true
				return r, nil
			}
		}
	}

	for i := range candidates {
		if err := r.openChild(i); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func findCachedCandidate(candidates []plan.Candidate, w catalog.Winner) int {
	for i, c := range candidates {
		if w.TableScan && c.Classification == plan.TableScan {
			return i
		}
		if !w.TableScan && c.Classification != plan.TableScan && c.Index.Name == w.Index.Name {
			return i
		}
	}
	return -1
}

func (r *Racer) openChild(i int) error {
	if r.opened[i] {
		return nil
	}
	cur, err := r.opener(r.allCandidates[i])
	if err != nil {
		return fmt.Errorf("racer: opening candidate %d: %w", i, err)
	}
	r.opened[i] = true
	r.children = append(r.children, &child{candidate: r.allCandidates[i], cursor: cur, alive: true})
	return nil
}

// addOtherPlans opens every not-yet-opened candidate, per spec.md
// §4.C's cached-plan fallback.
func (r *Racer) addOtherPlans() error {
	r.cachedFastPath = false
	for i := range r.allCandidates {
		if err := r.openChild(i); err != nil {
			return err
		}
	}
	return nil
}

// NotifyDeleted signals that a document matching the cached plan was
// deleted during iteration. Per spec.md §4.C this, like an
// unproductive probe, triggers a fallback to full racing.
func (r *Racer) NotifyDeleted(loc query.Location) {
	if r.cachedFastPath {
		_ = r.addOtherPlans()
	}
}

func (r *Racer) State() State { return r.state }

func (r *Racer) Ok() bool { return r.ok }

func (r *Racer) Advance() bool {
	if r.state == Done || r.state == HybridComplete {
		r.ok = false
		return false
	}
	if r.state == TakenOver {
		return r.advanceWinner()
	}
	return r.advanceRacing()
}

func (r *Racer) advanceWinner() bool {
	w := r.winner
	if !w.alive {
		r.ok = false
		return false
	}
	for w.cursor.Advance() {
		loc := w.cursor.CurrentLocation()
		if r.dup.GetSetDup(loc) {
			continue
		}
		w.matches++
		r.lastChild = w
		r.ok = true
		return true
	}
	w.alive = false
	r.state = Done
	r.ok = false
	return false
}

func (r *Racer) advanceRacing() bool {
	for {
		if len(r.children) == 0 {
			r.state = Done
			r.ok = false
			return false
		}
		idx := r.rotation % len(r.children)
		r.rotation++
		c := r.children[idx]
		if !c.alive {
			if r.allDead() {
				r.state = Done
				r.ok = false
				return false
			}
			continue
		}
		if r.state == HybridComplete && c.candidate.ScanAndOrderRequired {
			// Out-of-order contributions are disregarded once an
			// in-order plan has completed (spec.md §4.C "order
			// preservation"); this branch is defensive since
			// closeFrozenChildren already marks these dead.
			c.alive = false
			continue
		}

		if !c.cursor.Advance() {
			c.alive = false
			c.cursor.Close()
			if !c.candidate.ScanAndOrderRequired {
				r.onInOrderCompleted()
				if r.state == HybridComplete || r.state == Done {
					return r.finishAfterCompletion()
				}
			}
			if r.allDead() {
				r.state = Done
				r.ok = false
				return false
			}
			continue
		}

		if r.cachedFastPath {
			r.probeScans++
		}

		loc := c.cursor.CurrentLocation()
		if r.dup.GetSetDup(loc) {
			continue
		}
		c.matches++
		r.lastChild = c
		r.checkCachedProbe(c)
		r.checkTakeover(c)
		r.ok = true
		return true
	}
}

// finishAfterCompletion re-enters the advance loop once a completion
// transition has left the racer still in Racing-equivalent territory
// with surviving in-order children, or returns false once the racer
// has nothing left to offer.
func (r *Racer) finishAfterCompletion() bool {
	if r.state == Done {
		r.ok = false
		return false
	}
	// HybridComplete: any in-order children still alive continue to
	// contribute (only out-of-order ones are frozen), so keep racing.
	return r.advanceRacing()
}

func (r *Racer) allDead() bool {
	for _, c := range r.children {
		if c.alive {
			return false
		}
	}
	return true
}

// checkCachedProbe judges whether the cached-plan fast path's lone
// child is productive enough to keep racing alone.
func (r *Racer) checkCachedProbe(c *child) {
	if !r.cachedFastPath {
		return
	}
	if r.probeScans < cachedProbeScans {
		return
	}
	if c.matches < cachedProbeMinMatches {
		_ = r.addOtherPlans()
	} else {
		// Productive: stop probing, but the fast path has already
		// proven itself, so just stop counting further.
		r.cachedFastPath = false
	}
}

func (r *Racer) checkTakeover(c *child) {
	if r.state == TakenOver {
		return
	}
	matchTakeover := !c.candidate.ScanAndOrderRequired && c.matches >= MatchTakeover
	scanTakeover := c.cursor.NScanned() >= ScanTakeover
	if matchTakeover || scanTakeover {
		r.takeOver(c)
	}
}

func (r *Racer) takeOver(winner *child) {
	r.winner = winner
	r.state = TakenOver
	for _, c := range r.children {
		if c != winner && c.alive {
			c.cursor.Close()
			c.alive = false
		}
	}
	if r.cache != nil {
		r.cache.Set(r.ns, r.pattern, catalog.Winner{
			TableScan: winner.candidate.Classification == plan.TableScan,
			Index:     winner.candidate.Index,
		})
	}
}

// onInOrderCompleted transitions Racing -> HybridComplete the first
// time an in-order (or table-scan-in-order) child exhausts, and closes
// every out-of-order child since their further contributions are
// disregarded from that point on (spec.md §4.C "order preservation").
func (r *Racer) onInOrderCompleted() {
	if r.inOrderCompleted {
		return
	}
	r.inOrderCompleted = true
	if r.state == Racing {
		r.state = HybridComplete
	}
	r.closeFrozenChildren()
	if r.allDead() {
		r.state = Done
	}
}

func (r *Racer) closeFrozenChildren() {
	for _, c := range r.children {
		if c.alive && c.candidate.ScanAndOrderRequired {
			c.cursor.Close()
			c.alive = false
		}
	}
}

// NScanned implements the pre/post-takeover accounting rule: the
// minimum across all opened children (exhausted ones included) before
// takeover, the winner's count after.
func (r *Racer) NScanned() int64 {
	if r.state == TakenOver || r.state == Done && r.winner != nil {
		return r.winner.cursor.NScanned()
	}
	var min int64 = -1
	for _, c := range r.children {
		n := c.cursor.NScanned()
		if min < 0 || n < min {
			min = n
		}
	}
	if min < 0 {
		return 0
	}
	return min
}

func (r *Racer) CurrentLocation() query.Location {
	if r.lastChild == nil {
		return query.NullLocation
	}
	return r.lastChild.cursor.CurrentLocation()
}

func (r *Racer) CurrentDocument() (*query.Document, error) {
	if r.lastChild == nil || !r.ok {
		return nil, fmt.Errorf("racer: not positioned on an item")
	}
	return r.lastChild.cursor.CurrentDocument()
}

func (r *Racer) CurrentKey() (query.IndexKey, bool) {
	if r.lastChild == nil || !r.ok {
		return query.IndexKey{}, false
	}
	return r.lastChild.cursor.CurrentKey()
}

func (r *Racer) IndexKeyPattern() (query.IndexSpec, bool) {
	if r.lastChild == nil || !r.ok {
		return query.IndexSpec{}, false
	}
	return r.lastChild.cursor.IndexKeyPattern()
}

func (r *Racer) IsMultiKey() bool {
	if r.lastChild == nil {
		return false
	}
	return r.lastChild.cursor.IsMultiKey()
}

func (r *Racer) Matcher() *query.Matcher {
	if r.lastChild == nil {
		return nil
	}
	return r.lastChild.cursor.Matcher()
}

func (r *Racer) KeyFieldsOnly() bool {
	if r.lastChild == nil {
		return false
	}
	return r.lastChild.cursor.KeyFieldsOnly()
}

func (r *Racer) GetSetDup(loc query.Location) bool { return r.dup.GetSetDup(loc) }

func (r *Racer) NoteLocation(loc query.Location) { r.noted[loc] = true }
func (r *Racer) CheckLocation(loc query.Location) bool { return r.noted[loc] }

// ScanAndOrderRequired reports whether, as of right now, the racer can
// no longer guarantee sort order -- true once an in-order candidate
// has been exhausted without a takeover, and still true after the
// racer reaches Done (the
// complete_plan_of_hybrid_set_scan_and_order_required observable of
// spec.md §4.C).
func (r *Racer) ScanAndOrderRequired() bool {
	return r.inOrderCompleted && r.winner == nil
}

func (r *Racer) Close() error {
	for _, c := range r.children {
		if c.alive {
			c.cursor.Close()
			c.alive = false
		}
	}
	r.state = Done
	return nil
}

type racerYieldEntry struct {
	idx   int
	token cursor.YieldToken
}

// racerYield embeds cursor.YieldToken (left nil) so that it carries the
// interface's unexported marker method, which a type declared outside
// package cursor cannot define itself.
type racerYield struct {
	cursor.YieldToken
	entries []racerYieldEntry
}

func (r *Racer) PrepareToYield() (cursor.YieldToken, error) {
	var entries []racerYieldEntry
	for i, c := range r.children {
		if !c.alive {
			continue
		}
		tok, err := c.cursor.PrepareToYield()
		if err != nil {
			return nil, fmt.Errorf("racer: preparing child %d to yield: %w", i, err)
		}
		entries = append(entries, racerYieldEntry{idx: i, token: tok})
	}
	return racerYield{entries: entries}, nil
}

// RecoverFromYield restores every live child; a child whose own
// recovery fails is dropped rather than failing the whole racer,
// unless every child fails, in which case corerr.ErrRecoveryFailed is
// reported (spec.md §4.C "Yield").
func (r *Racer) RecoverFromYield(tok cursor.YieldToken) error {
	y, ok := tok.(racerYield)
	if !ok {
		return fmt.Errorf("racer: yield recovery: %w", corerr.ErrRecoveryFailed)
	}
	anyAlive := false
	for _, e := range y.entries {
		c := r.children[e.idx]
		if err := c.cursor.RecoverFromYield(e.token); err != nil {
			c.alive = false
			continue
		}
		anyAlive = anyAlive || c.alive
	}
	r.ok = false
	if !anyAlive && len(y.entries) > 0 {
		r.state = Done
		return fmt.Errorf("racer: recovering from yield: %w", corerr.ErrRecoveryFailed)
	}
	return nil
}

func (r *Racer) PrepareToTouchEarlierIterate() (cursor.YieldToken, error) {
	var entries []racerYieldEntry
	for i, c := range r.children {
		if !c.alive {
			continue
		}
		tok, err := c.cursor.PrepareToTouchEarlierIterate()
		if err != nil {
			return nil, fmt.Errorf("racer: preparing child %d to touch earlier iterate: %w", i, err)
		}
		entries = append(entries, racerYieldEntry{idx: i, token: tok})
	}
	return racerYield{entries: entries}, nil
}

func (r *Racer) RecoverFromTouchingEarlierIterate(tok cursor.YieldToken) error {
	y, ok := tok.(racerYield)
	if !ok {
		return fmt.Errorf("racer: touch-earlier-iterate recovery: %w", corerr.ErrRecoveryFailed)
	}
	for _, e := range y.entries {
		c := r.children[e.idx]
		if err := c.cursor.RecoverFromTouchingEarlierIterate(e.token); err != nil {
			c.alive = false
		}
	}
	return nil
}

// IsRecoveryFailed reports whether err is (or wraps) the racer's
// unrecoverable-yield error.
func IsRecoveryFailed(err error) bool {
	return errors.Is(err, corerr.ErrRecoveryFailed)
}
