package counter

import (
	"errors"
	"testing"
	"time"
)

// fakeStorage is an in-memory Storage with error injection.
type fakeStorage struct {
	u32  map[string]uint32
	str  map[string]string
	errs map[string]error // per-key write error

	readErr error // returned by every Get when set
	writes  []string

	// holdPut, if set, runs at the start of every PutU32; tests use
	// it to gate a write in flight.
	holdPut func(key string, value uint32)
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		u32:  make(map[string]uint32),
		str:  make(map[string]string),
		errs: make(map[string]error),
	}
}

func (f *fakeStorage) GetU32(key string) (uint32, bool, error) {
	if f.readErr != nil {
		return 0, false, f.readErr
	}
	v, ok := f.u32[key]
	return v, ok, nil
}

func (f *fakeStorage) PutU32(key string, value uint32) error {
	if f.holdPut != nil {
		f.holdPut(key, value)
	}
	if err := f.errs[key]; err != nil {
		return err
	}
	f.u32[key] = value
	f.writes = append(f.writes, key)
	return nil
}

func (f *fakeStorage) GetString(key string) (string, bool, error) {
	if f.readErr != nil {
		return "", false, f.readErr
	}
	v, ok := f.str[key]
	return v, ok, nil
}

func (f *fakeStorage) PutString(key, value string) error {
	if err := f.errs[key]; err != nil {
		return err
	}
	f.str[key] = value
	f.writes = append(f.writes, key)
	return nil
}

func newTestPersister(t *testing.T, n int, threshold uint32) (*Store, *Persister, *fakeStorage) {
	t.Helper()
	st := newFakeStorage()
	s := NewStore(n)
	p := NewPersister(s, st, threshold, 500*time.Millisecond)
	return s, p, st
}

func TestLoadFirstBoot(t *testing.T) {
	st := newFakeStorage()
	s := Load(st, 3)

	for _, v := range s.ReadAll() {
		if v != 0 {
			t.Errorf("first boot: got %v, want all zero", s.ReadAll())
			break
		}
	}
	if name, _ := s.Name(0); name != "counter0" {
		t.Errorf("first boot name: got %q, want counter0", name)
	}
}

func TestLoadSeedsCountersAndNames(t *testing.T) {
	st := newFakeStorage()
	st.u32["c0"] = 150
	st.u32["c2"] = 7
	st.str["m2"] = "water meter"

	s := Load(st, 3)

	want := []uint32{150, 0, 7}
	got := s.ReadAll()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("loaded counters: got %v, want %v", got, want)
			break
		}
	}
	if name, _ := s.Name(2); name != "water meter" {
		t.Errorf("name: got %q, want \"water meter\"", name)
	}
}

func TestLoadReadErrorDefaultsToZero(t *testing.T) {
	st := newFakeStorage()
	st.readErr = errors.New("store damaged")

	s := Load(st, 2)

	for _, v := range s.ReadAll() {
		if v != 0 {
			t.Error("load with read error should default to zero")
		}
	}
}

func TestLoadedValueDoesNotRetriggerSave(t *testing.T) {
	st := newFakeStorage()
	st.u32["c0"] = 500

	s := Load(st, 1)
	p := NewPersister(s, st, 100, 500*time.Millisecond)

	st.writes = nil
	if n := p.PersistDue(); n != 0 {
		t.Errorf("freshly loaded counter triggered %d saves", n)
	}
}

func TestPersistDueBelowThreshold(t *testing.T) {
	s, p, st := newTestPersister(t, 2, 100)

	for i := 0; i < 99; i++ {
		s.Increment(0)
	}

	if n := p.PersistDue(); n != 0 {
		t.Errorf("got %d writes below threshold, want 0", n)
	}
	if len(st.writes) != 0 {
		t.Errorf("unexpected writes: %v", st.writes)
	}
}

func TestPersistDueAtThreshold(t *testing.T) {
	s, p, st := newTestPersister(t, 2, 100)

	for i := 0; i < 100; i++ {
		s.Increment(0)
	}

	if n := p.PersistDue(); n != 1 {
		t.Fatalf("got %d writes, want 1", n)
	}
	if st.u32["c0"] != 100 {
		t.Errorf("persisted value: got %d, want 100", st.u32["c0"])
	}

	// Watermark advanced: no further write until the next crossing.
	if n := p.PersistDue(); n != 0 {
		t.Errorf("repeat check wrote %d times, want 0", n)
	}

	s.Increment(0)
	if n := p.PersistDue(); n != 0 {
		t.Errorf("one increment past save wrote %d times, want 0", n)
	}
}

func TestPersistDuePerChannel(t *testing.T) {
	s, p, st := newTestPersister(t, 3, 10)

	for i := 0; i < 10; i++ {
		s.Increment(0)
	}
	for i := 0; i < 25; i++ {
		s.Increment(2)
	}
	s.Increment(1) // below threshold

	if n := p.PersistDue(); n != 2 {
		t.Fatalf("got %d writes, want 2", n)
	}
	if st.u32["c0"] != 10 || st.u32["c2"] != 25 {
		t.Errorf("persisted: c0=%d c2=%d, want 10 and 25", st.u32["c0"], st.u32["c2"])
	}
	if _, ok := st.u32["c1"]; ok {
		t.Error("channel 1 written below threshold")
	}
}

func TestPersistDueFailureKeepsWatermark(t *testing.T) {
	s, p, st := newTestPersister(t, 1, 10)
	st.errs["c0"] = errors.New("flash write failed")

	for i := 0; i < 10; i++ {
		s.Increment(0)
	}

	if n := p.PersistDue(); n != 0 {
		t.Errorf("failed write counted as success: %d", n)
	}

	// Next cycle retries once the backend recovers.
	delete(st.errs, "c0")
	if n := p.PersistDue(); n != 1 {
		t.Errorf("retry after recovery: got %d writes, want 1", n)
	}
	if st.u32["c0"] != 10 {
		t.Errorf("persisted value: got %d, want 10", st.u32["c0"])
	}
}

func TestForceSave(t *testing.T) {
	s, p, st := newTestPersister(t, 2, 100)

	if err := s.ForceSet(1, 4242); err != nil {
		t.Fatalf("force set: %v", err)
	}
	if err := p.ForceSave(1, 4242); err != nil {
		t.Fatalf("force save: %v", err)
	}

	if st.u32["c1"] != 4242 {
		t.Errorf("persisted: got %d, want 4242", st.u32["c1"])
	}

	// Watermark moved to the forced value: no spurious threshold
	// crossing on the next periodic check.
	if n := p.PersistDue(); n != 0 {
		t.Errorf("spurious persist after force save: %d writes", n)
	}
}

// TestForceSaveWinsOverInFlightPeriodicWrite pins the ordering
// contract: a force-save landing while a periodic write is in flight
// must end up as the durable value, never be clobbered by the older
// periodic snapshot.
func TestForceSaveWinsOverInFlightPeriodicWrite(t *testing.T) {
	s, p, st := newTestPersister(t, 1, 100)

	for i := 0; i < 150; i++ {
		s.Increment(0)
	}

	// Gate the periodic write of 150 at the backend.
	entered := make(chan struct{})
	release := make(chan struct{})
	st.holdPut = func(key string, value uint32) {
		if value == 150 {
			entered <- struct{}{}
			<-release
		}
	}

	persistDone := make(chan int)
	go func() { persistDone <- p.PersistDue() }()
	<-entered

	// Remote reset while the periodic write is in flight.
	forceDone := make(chan error, 1)
	go func() {
		if err := s.ForceSet(0, 0); err != nil {
			forceDone <- err
			return
		}
		forceDone <- p.ForceSave(0, 0)
	}()

	close(release)
	if err := <-forceDone; err != nil {
		t.Fatalf("force save: %v", err)
	}
	<-persistDone

	if got := st.u32["c0"]; got != 0 {
		t.Errorf("durable value after force save: got %d, want 0", got)
	}
	if n := p.PersistDue(); n != 0 {
		t.Errorf("spurious persist after force save: %d writes", n)
	}
}

func TestForceSaveIndexValidation(t *testing.T) {
	_, p, st := newTestPersister(t, 2, 100)

	if err := p.ForceSave(9, 1); !errors.Is(err, ErrIndex) {
		t.Errorf("got %v, want ErrIndex", err)
	}
	if len(st.writes) != 0 {
		t.Error("rejected force save reached storage")
	}
}

func TestForceSaveError(t *testing.T) {
	_, p, st := newTestPersister(t, 1, 100)
	st.errs["c0"] = errors.New("flash write failed")

	if err := p.ForceSave(0, 5); err == nil {
		t.Error("expected error from failing backend")
	}
}

func TestFlushWritesEverythingBehind(t *testing.T) {
	s, p, st := newTestPersister(t, 3, 100)

	s.Increment(0)
	for i := 0; i < 42; i++ {
		s.Increment(2)
	}

	if n := p.Flush(); n != 2 {
		t.Fatalf("flush: got %d writes, want 2", n)
	}
	if st.u32["c0"] != 1 || st.u32["c2"] != 42 {
		t.Errorf("flushed: c0=%d c2=%d, want 1 and 42", st.u32["c0"], st.u32["c2"])
	}

	if n := p.Flush(); n != 0 {
		t.Errorf("repeat flush wrote %d times, want 0", n)
	}
}

func TestThresholdAcrossCounterWrap(t *testing.T) {
	// Seed near the top of the range, watermark there too.
	st := newFakeStorage()
	st.u32["c0"] = ^uint32(0) - 4
	s := Load(st, 1)
	p := NewPersister(s, st, 10, 500*time.Millisecond)

	// 10 increments wrap through zero; unsigned subtraction still
	// detects the crossing.
	for i := 0; i < 10; i++ {
		s.Increment(0)
	}
	if n := p.PersistDue(); n != 1 {
		t.Errorf("wrap crossing: got %d writes, want 1", n)
	}
	if st.u32["c0"] != 5 {
		t.Errorf("wrapped value: got %d, want 5", st.u32["c0"])
	}
}

func TestSaveName(t *testing.T) {
	_, p, st := newTestPersister(t, 2, 100)

	if err := p.SaveName(0, "heat pump"); err != nil {
		t.Fatalf("save name: %v", err)
	}
	if st.str["m0"] != "heat pump" {
		t.Errorf("persisted name: got %q", st.str["m0"])
	}

	// Empty names persist the default fallback.
	if err := p.SaveName(0, ""); err != nil {
		t.Fatalf("save empty name: %v", err)
	}
	if st.str["m0"] != "counter0" {
		t.Errorf("persisted default: got %q, want counter0", st.str["m0"])
	}
}

// TestBoundedLossAfterCrash verifies the durability contract: whatever
// is lost across an unclean restart is strictly less than the
// threshold per channel.
func TestBoundedLossAfterCrash(t *testing.T) {
	st := newFakeStorage()
	s := Load(st, 1)
	p := NewPersister(s, st, 100, 500*time.Millisecond)

	for i := 0; i < 250; i++ {
		s.Increment(0)
		p.PersistDue()
	}

	// Unclean restart: no Flush. Reload from the backend.
	recovered := Load(st, 1)

	inMemory, _ := s.Read(0)
	got, _ := recovered.Read(0)
	if inMemory-got >= 100 {
		t.Errorf("lost %d pulses, bound is threshold-1 = 99", inMemory-got)
	}
	if got != 200 {
		t.Errorf("recovered value: got %d, want 200", got)
	}
}
