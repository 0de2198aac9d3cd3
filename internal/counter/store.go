// Package counter holds the shared per-channel counters and the policy
// that writes them back to durable storage.
//
// Concurrency contract: Increment is called only from the verification
// engine, a single serialized goroutine, and uses an atomic add so it
// cannot tear against task-context writers. Everything else (readers,
// force-set, reset, persistence) serializes on one coarse mutex. The
// persistence path keeps the mutex across each storage put so a forced
// value and a periodic write cannot reorder on disk; the counting path
// never touches the mutex, so a slow put delays tasks, not counts.
package counter

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrIndex is returned for out-of-range channel indices.
var ErrIndex = fmt.Errorf("counter: channel index out of range")

// Store is the shared array of per-channel counts and display names.
// The channel set is fixed at construction.
type Store struct {
	mu sync.Mutex

	counters  []atomic.Uint32
	lastSaved []uint32 // watermark: counter value at last successful persist
	names     []string
}

// NewStore creates a store for n channels, all counters zero and
// names set to their defaults.
func NewStore(n int) *Store {
	s := &Store{
		counters:  make([]atomic.Uint32, n),
		lastSaved: make([]uint32, n),
		names:     make([]string, n),
	}
	for i := range s.names {
		s.names[i] = DefaultName(i)
	}
	return s
}

// DefaultName returns the fallback display name for a channel.
func DefaultName(index int) string {
	return fmt.Sprintf("counter%d", index)
}

// Channels returns the number of channels.
func (s *Store) Channels() int { return len(s.counters) }

func (s *Store) check(index int) error {
	if index < 0 || index >= len(s.counters) {
		return fmt.Errorf("%w: %d", ErrIndex, index)
	}
	return nil
}

// Read returns the current value of one counter.
func (s *Store) Read(index int) (uint32, error) {
	if err := s.check(index); err != nil {
		return 0, err
	}
	s.mu.Lock()
	v := s.counters[index].Load()
	s.mu.Unlock()
	return v, nil
}

// ReadAll returns a snapshot of every counter, taken under the lock so
// force-set and reset are never observed half-applied.
func (s *Store) ReadAll() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint32, len(s.counters))
	for i := range s.counters {
		out[i] = s.counters[i].Load()
	}
	return out
}

// Increment adds one confirmed pulse to a channel and returns the new
// value. Called from the verification engine only; the atomic add is
// what keeps it safe against concurrent task-context writers without
// taking the blocking lock.
func (s *Store) Increment(index int) uint32 {
	return s.counters[index].Add(1)
}

// ForceSet overwrites a counter with an arbitrary value. Used by the
// remote set command and the configuration portal. Durability is the
// caller's concern: follow with Persister.ForceSave so the value
// cannot be lost to a crash before the next periodic check.
func (s *Store) ForceSet(index int, value uint32) error {
	if err := s.check(index); err != nil {
		return err
	}
	s.mu.Lock()
	s.counters[index].Store(value)
	s.mu.Unlock()
	return nil
}

// ResetAll zeroes every counter.
func (s *Store) ResetAll() {
	s.mu.Lock()
	for i := range s.counters {
		s.counters[i].Store(0)
	}
	s.mu.Unlock()
}

// Name returns the display name of a channel.
func (s *Store) Name(index int) (string, error) {
	if err := s.check(index); err != nil {
		return "", err
	}
	s.mu.Lock()
	name := s.names[index]
	s.mu.Unlock()
	return name, nil
}

// Names returns a snapshot of all display names.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Snapshot returns the values and names as one consistent pair, so a
// concurrent rename cannot pair a value with another channel's name.
func (s *Store) Snapshot() ([]uint32, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values := make([]uint32, len(s.counters))
	names := make([]string, len(s.names))
	for i := range s.counters {
		values[i] = s.counters[i].Load()
	}
	copy(names, s.names)
	return values, names
}

// SetName updates the in-memory display name of a channel.
// Persistence goes through Persister.SaveName.
func (s *Store) SetName(index int, name string) error {
	if err := s.check(index); err != nil {
		return err
	}
	if name == "" {
		name = DefaultName(index)
	}
	s.mu.Lock()
	s.names[index] = name
	s.mu.Unlock()
	return nil
}

// setLoaded seeds a counter and its watermark at boot, before any
// concurrent access exists.
func (s *Store) setLoaded(index int, value uint32) {
	s.counters[index].Store(value)
	s.lastSaved[index] = value
}
