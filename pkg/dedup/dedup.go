package dedup

import (
	"sync"
)

// RecentSet is a bounded set of recently handled event identities. When the
// bound is exceeded the oldest entries are truncated first; reprocessing an
// aged-out duplicate is wasteful but not unsafe for idempotent handlers.
type RecentSet struct {
	mu    sync.Mutex
	limit int
	order []string
	ids   map[string]struct{}
}

func NewRecentSet(limit int) *RecentSet {
	if limit <= 0 {
		limit = 1000
	}
	return &RecentSet{
		limit: limit,
		order: make([]string, 0, limit),
		ids:   make(map[string]struct{}, limit),
	}
}

// Seen records id and reports whether it was already present.
func (s *RecentSet) Seen(id string) bool {
	if id == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; ok {
		return true
	}

	s.ids[id] = struct{}{}
	s.order = append(s.order, id)

	if len(s.order) > s.limit {
		drop := len(s.order) - s.limit
		for _, old := range s.order[:drop] {
			delete(s.ids, old)
		}
		s.order = s.order[drop:]
	}
	return false
}

// Forget removes id so a deliberate retry is not self-suppressed.
func (s *RecentSet) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; !ok {
		return
	}
	delete(s.ids, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *RecentSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
