package pim

import "sync"

// visitedSet records group expansions already queued during a run. Keys
// include the role and assignment stream, not just the group ID: a group
// granted through two roles or streams must expand under each one, or the
// later grant would silently lose its members. Within a single role and
// stream, cycles and diamond-shaped nesting still terminate because each
// group is queued at most once.
type visitedSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newVisitedSet() *visitedSet {
	return &visitedSet{seen: make(map[string]struct{})}
}

// tryAdd marks key as visited. It returns false if key was already present.
func (v *visitedSet) tryAdd(key string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.seen[key]; ok {
		return false
	}
	v.seen[key] = struct{}{}
	return true
}

func (v *visitedSet) size() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.seen)
}
