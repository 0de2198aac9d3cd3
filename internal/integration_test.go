package internal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sweeney/pulse-counter/internal/counter"
	"github.com/sweeney/pulse-counter/internal/gpio"
	"github.com/sweeney/pulse-counter/internal/kv"
	"github.com/sweeney/pulse-counter/internal/mqtt"
	"github.com/sweeney/pulse-counter/internal/pulse"
)

const (
	testChannels  = 5
	testThreshold = 100
	testDebounce  = 2 * time.Millisecond
)

type rig struct {
	dbPath    string
	db        *kv.DB
	ns        *kv.Namespace
	store     *counter.Store
	persister *counter.Persister
	watcher   *gpio.FakeWatcher
	engine    *pulse.Engine
	cancel    context.CancelFunc
}

// newRig wires the real counting stack (engine, store, persister,
// bbolt) around a fake GPIO watcher. The persister is driven manually
// so the tests control exactly when a persistence check happens.
func newRig(t *testing.T) *rig {
	t.Helper()
	return openRig(t, filepath.Join(t.TempDir(), "counters.db"))
}

func openRig(t *testing.T, dbPath string) *rig {
	t.Helper()
	db, err := kv.Open(dbPath)
	if err != nil {
		t.Fatalf("kv.Open: %v", err)
	}
	ns, err := db.Namespace("counters")
	if err != nil {
		t.Fatalf("Namespace: %v", err)
	}

	store := counter.Load(ns, testChannels)
	persister := counter.NewPersister(store, ns, testThreshold, 500*time.Millisecond)
	watcher := gpio.NewFakeWatcher(testChannels, 64)
	engine := pulse.NewEngine(store, watcher, watcher.Events(), testDebounce, 64)

	ctx, cancel := context.WithCancel(context.Background())
	go engine.Run(ctx)

	r := &rig{
		dbPath:    dbPath,
		db:        db,
		ns:        ns,
		store:     store,
		persister: persister,
		watcher:   watcher,
		engine:    engine,
		cancel:    cancel,
	}
	t.Cleanup(func() {
		cancel()
		db.Close()
	})
	return r
}

// restart simulates a power cycle: the engine stops, the database is
// closed and reopened, and the counters are reloaded from disk.
func (r *rig) restart(t *testing.T) *rig {
	t.Helper()
	r.cancel()
	if err := r.db.Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}
	return openRig(t, r.dbPath)
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// pulseOnce simulates one clean meter pulse: the level goes high, the
// edge fires, and the level is still high when the verification timer
// samples it.
func (r *rig) pulseOnce(t *testing.T, index int) {
	t.Helper()
	before, err := r.store.Read(index)
	if err != nil {
		t.Fatal(err)
	}
	r.watcher.SetLevel(index, true)
	if !r.watcher.InjectEdge(index) {
		t.Fatalf("edge queue full on channel %d", index)
	}
	waitFor(t, time.Second, "pulse confirmation", func() bool {
		v, _ := r.store.Read(index)
		return v == before+1
	})
	r.watcher.SetLevel(index, false)
}

func TestPulsesCountedAndPersisted(t *testing.T) {
	r := newRig(t)

	for i := 0; i < 150; i++ {
		r.pulseOnce(t, 0)
	}

	if v, _ := r.store.Read(0); v != 150 {
		t.Fatalf("count: got %d, want 150", v)
	}

	// 150 live, 50 past the threshold: one check writes channel 0.
	if n := r.persister.PersistDue(); n != 1 {
		t.Errorf("PersistDue: wrote %d channels, want 1", n)
	}
	saved, found, err := r.ns.GetU32(counter.CounterKey(0))
	if err != nil || !found {
		t.Fatalf("stored counter 0: found=%v err=%v", found, err)
	}
	if saved != 150 {
		t.Errorf("stored counter 0: got %d, want 150", saved)
	}

	// Nothing else drifted; a second check is a no-op.
	if n := r.persister.PersistDue(); n != 0 {
		t.Errorf("second PersistDue: wrote %d channels, want 0", n)
	}
}

func TestCountsSurviveRestart(t *testing.T) {
	r := newRig(t)

	for i := 0; i < 3; i++ {
		r.pulseOnce(t, 1)
	}
	r.pulseOnce(t, 4)
	if n := r.persister.Flush(); n != 2 {
		t.Fatalf("Flush: wrote %d channels, want 2", n)
	}

	r2 := r.restart(t)
	if v, _ := r2.store.Read(1); v != 3 {
		t.Errorf("channel 1 after restart: got %d, want 3", v)
	}
	if v, _ := r2.store.Read(4); v != 1 {
		t.Errorf("channel 4 after restart: got %d, want 1", v)
	}
}

func TestUnsavedPulsesLostWithinThreshold(t *testing.T) {
	r := newRig(t)

	for i := 0; i < 120; i++ {
		r.pulseOnce(t, 2)
	}
	if n := r.persister.PersistDue(); n != 1 {
		t.Fatalf("PersistDue: wrote %d channels, want 1", n)
	}
	for i := 0; i < 30; i++ {
		r.pulseOnce(t, 2)
	}

	// Power loss: no flush. The 30 pulses past the last save are
	// gone, which is within the threshold bound.
	r2 := r.restart(t)
	v, _ := r2.store.Read(2)
	if v != 120 {
		t.Errorf("channel 2 after crash: got %d, want 120", v)
	}
	if lost := uint32(150) - v; lost >= testThreshold {
		t.Errorf("lost %d pulses, bound is %d", lost, testThreshold-1)
	}
}

func TestResetCommandSurvivesRestart(t *testing.T) {
	r := newRig(t)
	client := mqtt.NewFakeClient()
	commander := mqtt.NewCommander(client, r.store, r.persister, "energy")
	if err := commander.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i, v := range []uint32{12, 0, 987, 3, 41} {
		if err := r.store.ForceSet(i, v); err != nil {
			t.Fatal(err)
		}
		if err := r.persister.ForceSave(i, v); err != nil {
			t.Fatal(err)
		}
	}

	if !client.Deliver(mqtt.CommandTopic("energy", mqtt.CmdReset), nil) {
		t.Fatal("no reset handler")
	}

	r2 := r.restart(t)
	for i, v := range r2.store.ReadAll() {
		if v != 0 {
			t.Errorf("channel %d after reset and restart: got %d, want 0", i, v)
		}
	}
}

func TestSetCommandSurvivesRestart(t *testing.T) {
	r := newRig(t)
	client := mqtt.NewFakeClient()
	commander := mqtt.NewCommander(client, r.store, r.persister, "energy")
	if err := commander.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	client.Deliver(mqtt.CommandTopic("energy", mqtt.CmdSet), []byte("3 4200"))

	r2 := r.restart(t)
	if v, _ := r2.store.Read(3); v != 4200 {
		t.Errorf("channel 3 after restart: got %d, want 4200", v)
	}
}

func TestBouncyPulseCountsOnce(t *testing.T) {
	r := newRig(t)

	// A bounce train: several edges inside one debounce window with
	// the level settling high.
	r.watcher.SetLevel(3, true)
	for i := 0; i < 8; i++ {
		r.watcher.InjectEdge(3)
	}
	waitFor(t, time.Second, "bounce confirmation", func() bool {
		v, _ := r.store.Read(3)
		return v == 1
	})

	// Give a stray duplicate confirmation time to land.
	time.Sleep(5 * testDebounce)
	if v, _ := r.store.Read(3); v != 1 {
		t.Errorf("bounce train: got %d, want 1", v)
	}
}

func TestNoiseSpikeNotCounted(t *testing.T) {
	r := newRig(t)

	// Edge fires but the level is back low at the sample instant.
	r.watcher.SetLevel(0, false)
	r.watcher.InjectEdge(0)

	time.Sleep(5 * testDebounce)
	if v, _ := r.store.Read(0); v != 0 {
		t.Errorf("noise spike: got %d, want 0", v)
	}
}
