package pulse

import (
	"context"
	"log"
	"time"

	"github.com/sweeney/pulse-counter/internal/counter"
	"github.com/sweeney/pulse-counter/internal/metrics"
)

// Sampler re-reads a channel's pin level at verification time.
// The GPIO watcher implements it.
type Sampler interface {
	Level(index int) (bool, error)
}

type expiry struct {
	index int
	gen   uint64
}

// Engine runs the verification state machine. All machine and timer
// state is owned by the single Run goroutine: edges arrive on a
// channel fed by the GPIO event handler, timer expiries are posted
// back into the same goroutine, so verifications are strictly
// serialized and per-channel increments follow timer firing order.
type Engine struct {
	machine *Machine
	store   *counter.Store
	sampler Sampler

	edges    <-chan int
	expiries chan expiry
	pulses   chan int
	done     chan struct{}

	timers []*time.Timer
	now    func() time.Time
}

// NewEngine wires the machine to the store and sampler. edges carries
// channel indices from the GPIO layer; notifyBuf sizes the bounded
// confirmed-pulse notification channel.
func NewEngine(store *counter.Store, sampler Sampler, edges <-chan int, debounce time.Duration, notifyBuf int) *Engine {
	n := store.Channels()
	return &Engine{
		machine:  NewMachine(n, debounce),
		store:    store,
		sampler:  sampler,
		edges:    edges,
		expiries: make(chan expiry, 2*n),
		pulses:   make(chan int, notifyBuf),
		done:     make(chan struct{}),
		timers:   make([]*time.Timer, n),
		now:      time.Now,
	}
}

// Pulses is the confirmed-pulse notification channel. It carries the
// channel index of each confirmed pulse; when the consumer lags the
// notification is dropped, never the count.
func (e *Engine) Pulses() <-chan int { return e.pulses }

// Run processes edges and expiries until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)
	defer e.stopTimers()

	for {
		select {
		case <-ctx.Done():
			return
		case index := <-e.edges:
			if index < 0 || index >= e.machine.Channels() {
				continue
			}
			e.arm(index)
		case x := <-e.expiries:
			e.verify(x)
		}
	}
}

// arm (re)starts a channel's verification timer. The old timer is
// stopped best-effort; if it already fired, its expiry carries a stale
// generation and is ignored at verify.
func (e *Engine) arm(index int) {
	a := e.machine.Edge(index, e.now())

	if t := e.timers[index]; t != nil {
		t.Stop()
	}
	e.timers[index] = time.AfterFunc(time.Until(a.Deadline), func() {
		select {
		case e.expiries <- expiry{index: a.Index, gen: a.Gen}:
		case <-e.done:
		}
	})
}

func (e *Engine) verify(x expiry) {
	level, err := e.sampler.Level(x.index)
	if err != nil {
		// The counting path never fails visibly; an unreadable pin at
		// the sample instant rejects the pending edge.
		log.Printf("pulse: sample channel %d: %v", x.index, err)
		level = false
	}

	switch e.machine.Verify(x.index, x.gen, level) {
	case Confirmed:
		e.store.Increment(x.index)
		metrics.Confirmed.WithLabelValues(metrics.Channel(x.index)).Inc()
		select {
		case e.pulses <- x.index:
		default:
			metrics.NotifyDrops.Inc()
		}
	case Rejected:
		metrics.Rejected.WithLabelValues(metrics.Channel(x.index)).Inc()
	}
}

func (e *Engine) stopTimers() {
	for _, t := range e.timers {
		if t != nil {
			t.Stop()
		}
	}
}
