package live

import "sync/atomic"

// Sequencer hands out increasing sequence numbers to concurrent requests and
// accepts a result only when it is newer than every result accepted before.
type Sequencer struct {
	next      atomic.Uint64
	committed atomic.Uint64
}

// Begin returns the sequence number for a new request. The first is 1.
func (s *Sequencer) Begin() uint64 {
	return s.next.Add(1)
}

// Commit records seq as applied. It returns false when a result with a
// higher sequence number was already applied; that result must be dropped.
func (s *Sequencer) Commit(seq uint64) bool {
	for {
		cur := s.committed.Load()
		if seq <= cur {
			return false
		}
		if s.committed.CompareAndSwap(cur, seq) {
			return true
		}
	}
}

// Latest returns the highest committed sequence number, 0 if none.
func (s *Sequencer) Latest() uint64 {
	return s.committed.Load()
}
