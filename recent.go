package opgate

import "sync"

// RecentSet remembers the last N keys seen. Capacity is fixed: when
// full, the oldest entry is evicted. This bounds memory for dedup of
// an unbounded notification stream.
type RecentSet struct {
	mu    sync.Mutex
	ring  []string
	next  int
	index map[string]struct{}
}

// NewRecentSet creates a RecentSet holding up to capacity keys.
func NewRecentSet(capacity int) *RecentSet {
	if capacity < 1 {
		capacity = 1
	}
	return &RecentSet{
		ring:  make([]string, capacity),
		index: make(map[string]struct{}, capacity),
	}
}

// Seen records key and reports whether it was already present.
func (s *RecentSet) Seen(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[key]; ok {
		return true
	}

	if old := s.ring[s.next]; old != "" {
		delete(s.index, old)
	}
	s.ring[s.next] = key
	s.index[key] = struct{}{}
	s.next = (s.next + 1) % len(s.ring)
	return false
}

// Len returns the number of keys currently remembered.
func (s *RecentSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}
