// Package catalog is the namespace catalog collaborator: it tracks, per
// namespace, its registered indexes, whether it is capped and at what
// capacity, and a write counter used to invalidate the PlanCache. It
// also owns the coarse database-wide locks the cooperative, single-
// logical-thread-per-namespace concurrency model (spec.md §5) runs
// under.
package catalog

import (
	"fmt"
	"sync"

	"github.com/wbrown/querycore/core/query"
)

// Namespace describes one collection's indexing and capacity state.
type Namespace struct {
	Name    string
	Indexes []query.IndexSpec
	Capped  bool
	Capacity int64 // bytes; meaningful only when Capped

	writes int64 // writes since the PlanCache was last invalidated for this namespace
}

// PrimaryKeyIndex returns the namespace's primary key index, if one is
// registered under the conventional name "_id_".
func (n *Namespace) PrimaryKeyIndex() (query.IndexSpec, bool) {
	for _, idx := range n.Indexes {
		if idx.Name == "_id_" {
			return idx, true
		}
	}
	return query.IndexSpec{}, false
}

// IndexByName looks up a registered index by name.
func (n *Namespace) IndexByName(name string) (query.IndexSpec, bool) {
	for _, idx := range n.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return query.IndexSpec{}, false
}

// writesSinceInvalidation is the ~1000-write threshold of spec.md §3
// ("invalidated on ... ≥ ~1000 writes to namespace").
const writesSinceInvalidation = 1000

// Catalog is the process-wide namespace catalog.
type Catalog struct {
	// GlobalWrite and ReadContext are the coarse database-wide
	// read/write mutexes spec.md §5 describes; callers take GlobalWrite
	// for the duration of a write operation (insert/delete/index
	// create-drop/truncate) and ReadContext.RLock for the duration of a
	// query, matching the cooperative single-logical-thread-per-
	// namespace model.
	GlobalWrite sync.Mutex
	ReadContext sync.RWMutex

	mu         sync.RWMutex
	namespaces map[string]*Namespace
	cache      *PlanCache
}

// New creates an empty Catalog with a PlanCache of the given capacity.
func New(planCacheSize int) *Catalog {
	return &Catalog{
		namespaces: make(map[string]*Namespace),
		cache:      NewPlanCache(planCacheSize),
	}
}

// PlanCache returns the catalog's shared plan cache.
func (c *Catalog) PlanCache() *PlanCache { return c.cache }

// CreateNamespace registers a new namespace. Returns an error if one
// already exists under that name.
func (c *Catalog) CreateNamespace(name string, capped bool, capacity int64) (*Namespace, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.namespaces[name]; exists {
		return nil, fmt.Errorf("catalog: namespace %q already exists", name)
	}
	ns := &Namespace{Name: name, Capped: capped, Capacity: capacity}
	c.namespaces[name] = ns
	return ns, nil
}

// Namespace looks up a namespace by name.
func (c *Catalog) Namespace(name string) (*Namespace, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ns, ok := c.namespaces[name]
	return ns, ok
}

// DropNamespace removes a namespace and invalidates every cached plan
// for it, per spec.md §3's PlanCache invalidation trigger "namespace
// drop".
func (c *Catalog) DropNamespace(name string) {
	c.mu.Lock()
	delete(c.namespaces, name)
	c.mu.Unlock()
	c.cache.InvalidateNamespace(name)
}

// CreateIndex registers spec on namespace name and invalidates that
// namespace's cached plans ("invalidated on index creation/drop").
func (c *Catalog) CreateIndex(name string, spec query.IndexSpec) error {
	c.mu.Lock()
	ns, ok := c.namespaces[name]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("catalog: namespace %q not found", name)
	}
	for _, existing := range ns.Indexes {
		if existing.Name == spec.Name {
			c.mu.Unlock()
			return fmt.Errorf("catalog: index %q already exists on %q", spec.Name, name)
		}
	}
	ns.Indexes = append(ns.Indexes, spec)
	c.mu.Unlock()
	c.cache.InvalidateNamespace(name)
	return nil
}

// DropIndex removes a registered index and invalidates cached plans.
func (c *Catalog) DropIndex(name, indexName string) error {
	c.mu.Lock()
	ns, ok := c.namespaces[name]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("catalog: namespace %q not found", name)
	}
	kept := ns.Indexes[:0]
	found := false
	for _, existing := range ns.Indexes {
		if existing.Name == indexName {
			found = true
			continue
		}
		kept = append(kept, existing)
	}
	ns.Indexes = kept
	c.mu.Unlock()
	if !found {
		return fmt.Errorf("catalog: index %q not found on %q", indexName, name)
	}
	c.cache.InvalidateNamespace(name)
	return nil
}

// RecordWrite increments name's write counter and invalidates its
// cached plans once the ~1000-write threshold is crossed.
func (c *Catalog) RecordWrite(name string) {
	c.mu.Lock()
	ns, ok := c.namespaces[name]
	if !ok {
		c.mu.Unlock()
		return
	}
	ns.writes++
	crossed := ns.writes >= writesSinceInvalidation
	if crossed {
		ns.writes = 0
	}
	c.mu.Unlock()
	if crossed {
		c.cache.InvalidateNamespace(name)
	}
}
