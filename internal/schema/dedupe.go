package schema

// ExecSet remembers recently seen execution ids in bounded memory. Two
// generations rotate as the current one fills, so a lookup covers between
// capacity and twice capacity of the most recent ids. Not synchronized;
// callers hold their own lock.
type ExecSet struct {
	capacity int
	cur      map[[16]byte]struct{}
	prev     map[[16]byte]struct{}
}

const defaultExecSetCapacity = 1 << 16

// NewExecSet creates a set that retains at least capacity recent ids.
func NewExecSet(capacity int) *ExecSet {
	if capacity <= 0 {
		capacity = defaultExecSetCapacity
	}
	return &ExecSet{
		capacity: capacity,
		cur:      make(map[[16]byte]struct{}, capacity),
	}
}

// Seen reports whether the id is in either generation.
func (s *ExecSet) Seen(id [16]byte) bool {
	if _, ok := s.cur[id]; ok {
		return true
	}
	_, ok := s.prev[id]
	return ok
}

// Add records the id, rotating generations when the current one is full.
func (s *ExecSet) Add(id [16]byte) {
	if len(s.cur) >= s.capacity {
		s.prev = s.cur
		s.cur = make(map[[16]byte]struct{}, s.capacity)
	}
	s.cur[id] = struct{}{}
}

// Len returns the number of ids currently retained.
func (s *ExecSet) Len() int {
	return len(s.cur) + len(s.prev)
}
