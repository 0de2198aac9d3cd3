package counter

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sweeney/pulse-counter/internal/metrics"
)

// Storage is the durable backend for counters and display names.
// Implementations must commit each Put atomically (the kv adapter does).
type Storage interface {
	GetU32(key string) (uint32, bool, error)
	PutU32(key string, value uint32) error
	GetString(key string) (string, bool, error)
	PutString(key, value string) error
}

// CounterKey returns the storage key for a channel's count.
func CounterKey(index int) string { return fmt.Sprintf("c%d", index) }

// NameKey returns the storage key for a channel's display name.
func NameKey(index int) string { return fmt.Sprintf("m%d", index) }

// Load builds a store for n channels seeded from storage. A missing
// key means first boot and loads as zero; a read error is logged and
// also loads as zero. A damaged store must never prevent boot.
func Load(st Storage, n int) *Store {
	s := NewStore(n)
	for i := 0; i < n; i++ {
		value, found, err := st.GetU32(CounterKey(i))
		switch {
		case err != nil:
			log.Printf("counter: load channel %d: %v, starting at 0", i, err)
		case found:
			s.setLoaded(i, value)
		}

		name, found, err := st.GetString(NameKey(i))
		if err != nil {
			log.Printf("counter: load name %d: %v, using default", i, err)
		} else if found && name != "" {
			s.names[i] = name
		}
	}
	return s
}

// Persister periodically writes counters back to storage once they have
// drifted past the save threshold. Keeping writes threshold-gated bounds
// flash wear; the cost is that an unclean power loss can lose up to
// threshold-1 pulses per channel.
type Persister struct {
	store     *Store
	storage   Storage
	threshold uint32
	interval  time.Duration
}

// NewPersister creates a persister for the given store and backend.
func NewPersister(store *Store, storage Storage, threshold uint32, interval time.Duration) *Persister {
	return &Persister{
		store:     store,
		storage:   storage,
		threshold: threshold,
		interval:  interval,
	}
}

// Run checks the threshold on a fixed period until ctx is cancelled,
// then flushes whatever is still unsaved.
func (p *Persister) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.Flush()
			return
		case <-ticker.C:
			p.PersistDue()
		}
	}
}

// pending is one channel due for a write. mark is the watermark at
// snapshot time; a mismatch at write time means a force-save landed
// in between and the snapshot value is stale.
type pending struct {
	index int
	value uint32
	mark  uint32
}

// PersistDue writes every counter whose uncommitted increments have
// reached the threshold. Returns the number of successful writes.
// Unsigned subtraction keeps the check correct across counter wrap.
func (p *Persister) PersistDue() int {
	s := p.store

	s.mu.Lock()
	var due []pending
	for i := range s.counters {
		v := s.counters[i].Load()
		if v-s.lastSaved[i] >= p.threshold {
			due = append(due, pending{index: i, value: v, mark: s.lastSaved[i]})
		}
	}
	s.mu.Unlock()

	return p.write(due)
}

// Flush writes every counter whose watermark is behind, regardless of
// the threshold. Used at shutdown so a clean stop loses nothing.
func (p *Persister) Flush() int {
	s := p.store

	s.mu.Lock()
	var due []pending
	for i := range s.counters {
		v := s.counters[i].Load()
		if v != s.lastSaved[i] {
			due = append(due, pending{index: i, value: v, mark: s.lastSaved[i]})
		}
	}
	s.mu.Unlock()

	return p.write(due)
}

// write commits the due channels one at a time. Each put happens with
// the lock held and the watermark re-checked, so a force-save that
// landed after the snapshot wins: its durable value is never
// overwritten by the older snapshot.
func (p *Persister) write(due []pending) int {
	saved := 0
	for _, d := range due {
		p.store.mu.Lock()
		if p.store.lastSaved[d.index] != d.mark {
			p.store.mu.Unlock()
			continue
		}
		if err := p.storage.PutU32(CounterKey(d.index), d.value); err != nil {
			p.store.mu.Unlock()
			// In-memory value stays authoritative; the durable copy is
			// stale until the next successful write.
			log.Printf("counter: persist channel %d: %v", d.index, err)
			metrics.PersistErrors.Inc()
			continue
		}
		p.store.lastSaved[d.index] = d.value
		p.store.mu.Unlock()
		metrics.PersistWrites.Inc()
		saved++
	}
	return saved
}

// ForceSave writes one counter through to storage immediately,
// bypassing the threshold, and moves the watermark to the forced value
// so the next periodic check does not see a spurious threshold
// crossing. Used after an explicit external set.
func (p *Persister) ForceSave(index int, value uint32) error {
	if err := p.store.check(index); err != nil {
		return err
	}
	p.store.mu.Lock()
	if err := p.storage.PutU32(CounterKey(index), value); err != nil {
		p.store.mu.Unlock()
		metrics.PersistErrors.Inc()
		return fmt.Errorf("force save channel %d: %w", index, err)
	}
	p.store.lastSaved[index] = value
	p.store.mu.Unlock()
	metrics.PersistWrites.Inc()
	return nil
}

// SaveName updates a channel's display name in memory and writes it
// through to storage.
func (p *Persister) SaveName(index int, name string) error {
	if err := p.store.SetName(index, name); err != nil {
		return err
	}
	stored, err := p.store.Name(index)
	if err != nil {
		return err
	}
	if err := p.storage.PutString(NameKey(index), stored); err != nil {
		return fmt.Errorf("save name %d: %w", index, err)
	}
	return nil
}
