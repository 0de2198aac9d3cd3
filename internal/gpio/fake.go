package gpio

import (
	"errors"
	"sync"
)

// FakeWatcher is a test double: edges are injected by the test and
// pin levels are scripted.
type FakeWatcher struct {
	events chan int

	mu     sync.Mutex
	levels []bool

	// LevelError, if set, will be returned by Level()
	LevelError error

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeWatcher creates a FakeWatcher for n channels with the given
// event queue size.
func NewFakeWatcher(n, queue int) *FakeWatcher {
	return &FakeWatcher{
		events: make(chan int, queue),
		levels: make([]bool, n),
	}
}

// Events returns the injected edge stream.
func (f *FakeWatcher) Events() <-chan int { return f.events }

// InjectEdge simulates a rising edge on a channel. Returns false if
// the queue was full and the edge was dropped, mirroring the
// non-blocking contract of the real event handler.
func (f *FakeWatcher) InjectEdge(index int) bool {
	select {
	case f.events <- index:
		return true
	default:
		return false
	}
}

// SetLevel scripts the level Level() will report for a channel.
func (f *FakeWatcher) SetLevel(index int, level bool) {
	f.mu.Lock()
	f.levels[index] = level
	f.mu.Unlock()
}

// Level returns the scripted level.
func (f *FakeWatcher) Level(index int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.LevelError != nil {
		return false, f.LevelError
	}
	if index < 0 || index >= len(f.levels) {
		return false, errors.New("gpio: channel out of range")
	}
	return f.levels[index], nil
}

// Close marks the watcher as closed.
func (f *FakeWatcher) Close() error {
	f.Closed = true
	return nil
}
