package discovery

// FoundSet is an insertion-ordered set of root URLs. It only grows.
type FoundSet struct {
	order []string
	index map[string]struct{}
}

func NewFoundSet() *FoundSet {
	return &FoundSet{index: make(map[string]struct{})}
}

// Add inserts u and reports whether it was new. Equality is byte-exact.
func (s *FoundSet) Add(u string) bool {
	if _, ok := s.index[u]; ok {
		return false
	}
	s.index[u] = struct{}{}
	s.order = append(s.order, u)
	return true
}

func (s *FoundSet) Contains(u string) bool {
	_, ok := s.index[u]
	return ok
}

func (s *FoundSet) Len() int { return len(s.order) }

// List returns the members in insertion order.
func (s *FoundSet) List() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
