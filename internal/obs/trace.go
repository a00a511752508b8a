package obs

import (
	"sync/atomic"
	"time"
)

// IDSequence hands out monotonically increasing identifiers, used for
// order ids and trace ids on locally generated events.
type IDSequence struct {
	next atomic.Uint64
}

// NewIDSequence starts a sequence after seed. A zero seed starts from the
// current wall clock so restarts do not collide with recorded ids.
func NewIDSequence(seed uint64) *IDSequence {
	if seed == 0 {
		seed = uint64(time.Now().UTC().UnixNano())
	}
	s := &IDSequence{}
	s.next.Store(seed)
	return s
}

// Next returns the following identifier.
func (s *IDSequence) Next() uint64 {
	if s == nil {
		return 0
	}
	return s.next.Add(1)
}
