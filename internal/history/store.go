// Package history keeps the most recent plant snapshots in a bounded,
// thread-safe ring buffer.
package history

import (
	"sync"

	"github.com/copyleftdev/setpoint/internal/plant"
)

// DefaultCapacity is the number of snapshots retained when none is configured.
const DefaultCapacity = 1000

// Store is a fixed-capacity FIFO of snapshots. Appending beyond capacity
// evicts the oldest entry.
type Store struct {
	mu    sync.Mutex
	buf   []plant.Snapshot
	start int
	size  int
}

// New creates a store holding at most capacity snapshots.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{buf: make([]plant.Snapshot, capacity)}
}

// Append adds a snapshot, evicting the oldest one when full.
func (s *Store) Append(snap plant.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	end := (s.start + s.size) % len(s.buf)
	s.buf[end] = snap
	if s.size < len(s.buf) {
		s.size++
		return
	}
	s.start = (s.start + 1) % len(s.buf)
}

// Recent returns a copy of the last min(n, Len()) snapshots, oldest first.
func (s *Store) Recent(n int) []plant.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n > s.size {
		n = s.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]plant.Snapshot, n)
	first := s.start + s.size - n
	for i := range out {
		out[i] = s.buf[(first+i)%len(s.buf)]
	}
	return out
}

// Latest returns the newest snapshot.
func (s *Store) Latest() (plant.Snapshot, bool) {
	recent := s.Recent(1)
	if len(recent) == 0 {
		return plant.Snapshot{}, false
	}
	return recent[0], true
}

// Len reports the number of stored snapshots.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Capacity reports the maximum number of snapshots retained.
func (s *Store) Capacity() int {
	return len(s.buf)
}
