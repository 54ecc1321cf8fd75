package cursor

import (
	"sync"
	"time"

	"github.com/wbrown/querycore/core/corerr"
)

// idleTimeout is the "not touched in N seconds" expiry spec.md §5
// assigns to a long-lived client cursor.
const idleTimeout = 600 * time.Second

// ClientCursor wraps a Cursor with the bookkeeping a server needs to
// hand a cursor ID to a remote client across multiple request/response
// round trips: an idle deadline, and invalidation when the underlying
// namespace is dropped out from under it. Grounded on the long-lived
// handle pattern of datalog/executor/buffered_iterator.go, generalized
// to cover cross-request survival rather than single-query buffering.
type ClientCursor struct {
	mu sync.Mutex

	id     int64
	ns     string
	cursor Cursor

	lastUse time.Time
	killed  bool
}

// NewClientCursor wraps cursor for namespace ns under id.
func NewClientCursor(id int64, ns string, cursor Cursor) *ClientCursor {
	return &ClientCursor{id: id, ns: ns, cursor: cursor, lastUse: time.Now()}
}

func (c *ClientCursor) ID() int64 { return c.id }

func (c *ClientCursor) Namespace() string { return c.ns }

// Touch refreshes the idle deadline; call it on every client request
// that uses this cursor.
func (c *ClientCursor) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastUse = time.Now()
}

// Expired reports whether the cursor has been idle past idleTimeout.
func (c *ClientCursor) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.killed && time.Since(c.lastUse) > idleTimeout
}

// Kill marks the cursor dead, e.g. because its namespace was dropped
// or because a client explicitly closed it.
func (c *ClientCursor) Kill() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.killed {
		c.killed = true
		c.cursor.Close()
	}
}

func (c *ClientCursor) Killed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.killed
}

// Cursor returns the wrapped Cursor, or corerr.ErrKilled if this
// client cursor has been killed.
func (c *ClientCursor) Cursor() (Cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.killed {
		return nil, corerr.ErrKilled
	}
	return c.cursor, nil
}

// Registry tracks every live ClientCursor by ID, sweeping idle and
// namespace-dropped cursors.
type Registry struct {
	mu      sync.Mutex
	byID    map[int64]*ClientCursor
	nextID  int64
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[int64]*ClientCursor)}
}

// Register assigns a fresh ID to cursor and tracks it.
func (r *Registry) Register(ns string, cursor Cursor) *ClientCursor {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	cc := NewClientCursor(r.nextID, ns, cursor)
	r.byID[cc.id] = cc
	return cc
}

// Lookup returns the live client cursor for id, touching it.
func (r *Registry) Lookup(id int64) (*ClientCursor, bool) {
	r.mu.Lock()
	cc, ok := r.byID[id]
	r.mu.Unlock()
	if !ok || cc.Killed() {
		return nil, false
	}
	cc.Touch()
	return cc, true
}

// Kill removes and kills the cursor for id, if present.
func (r *Registry) Kill(id int64) {
	r.mu.Lock()
	cc, ok := r.byID[id]
	delete(r.byID, id)
	r.mu.Unlock()
	if ok {
		cc.Kill()
	}
}

// KillNamespace kills and removes every client cursor open on ns, per
// spec.md §5's requirement that dropping a namespace invalidates its
// outstanding cursors.
func (r *Registry) KillNamespace(ns string) {
	r.mu.Lock()
	var victims []*ClientCursor
	for id, cc := range r.byID {
		if cc.ns == ns {
			victims = append(victims, cc)
			delete(r.byID, id)
		}
	}
	r.mu.Unlock()
	for _, cc := range victims {
		cc.Kill()
	}
}

// ReapIdle kills and removes every cursor idle past idleTimeout,
// returning how many were reaped. Intended to run periodically from a
// background goroutine.
func (r *Registry) ReapIdle() int {
	r.mu.Lock()
	var victims []*ClientCursor
	for id, cc := range r.byID {
		if cc.Expired() {
			victims = append(victims, cc)
			delete(r.byID, id)
		}
	}
	r.mu.Unlock()
	for _, cc := range victims {
		cc.Kill()
	}
	return len(victims)
}

// Len reports the number of tracked (not necessarily live) cursors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
