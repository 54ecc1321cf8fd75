package query

import (
	"regexp"
	"sync"
)

// Matcher is a compiled predicate that can be asked whether a document,
// or an index key projected from one, satisfies it. Per spec.md §4.A
// and §9 the racer owns exactly one Matcher instance per query.
type Matcher struct {
	predicate *Predicate
}

// NewMatcher compiles p into a Matcher. Compilation today is limited to
// warming the shared regex cache; a future revision could precompute a
// per-field interval index, but predicate trees in practice have very
// few conjuncts so a linear scan is fine.
func NewMatcher(p *Predicate) *Matcher {
	for _, c := range p.Conjuncts {
		if c.Kind == KindRegex {
			regexCache.compile(c.Pattern)
		}
	}
	return &Matcher{predicate: p}
}

// Matches reports whether doc satisfies the compiled predicate.
func (m *Matcher) Matches(doc *Document) bool {
	if m == nil || m.predicate == nil {
		return true
	}
	return m.predicate.Matches(doc)
}

// MatchesKey reports whether an already-projected index key satisfies
// the subset of the predicate that the key's fields can answer. This
// lets an index-only scan filter without fetching the document, per
// spec.md §4.A's key_fields_only / index_only covering-projection path.
func (m *Matcher) MatchesKey(key IndexKey) bool {
	if m == nil || m.predicate == nil {
		return true
	}
	fields := make(map[string]Value, len(key.Values))
	for i, v := range key.Values {
		if i < len(key.Spec.Fields) {
			fields[key.Spec.Fields[i].Field] = v
		}
	}
	for _, c := range m.predicate.Conjuncts {
		v, ok := fields[c.Field]
		if !ok {
			// Field not covered by this key; defer to the full
			// document-level match.
			continue
		}
		switch c.Kind {
		case KindExists:
			continue
		case KindRegex:
			s, isStr := v.(string)
			if !isStr || !regexCache.match(c.Pattern, s) {
				return false
			}
		default:
			matched := false
			for _, iv := range c.Intervals {
				if iv.Contains(v) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		}
	}
	return true
}

// regexSet is a small compile-once cache of *regexp.Regexp keyed by
// source pattern, shared by every Matcher so repeated $regex conjuncts
// across plans/clauses don't each pay compilation cost.
type regexSet struct {
	mu    sync.RWMutex
	cache map[string]*regexp.Regexp
}

var regexCache = &regexSet{cache: make(map[string]*regexp.Regexp)}

func (r *regexSet) compile(pattern string) *regexp.Regexp {
	r.mu.RLock()
	re, ok := r.cache[pattern]
	r.mu.RUnlock()
	if ok {
		return re
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if re, ok := r.cache[pattern]; ok {
		return re
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		// An unparsable pattern matches nothing rather than panicking
		// mid-scan.
		re = regexp.MustCompile(`$^`)
	}
	r.cache[pattern] = re
	return re
}

func (r *regexSet) match(pattern, s string) bool {
	return r.compile(pattern).MatchString(s)
}
