// Package pulse turns raw rising edges into confirmed pulse events.
//
// The debounce policy is a single level re-sample: an edge arms a
// one-shot verification timer; further edges before expiry re-arm it,
// coalescing a bounce train into one pending verification; at expiry
// the pin level decides confirm or reject. Glitch trains shorter than
// the window are tolerated, anything not stable for the full window is
// rejected, and two true pulses closer together than the window count
// as one; the filter trades throughput (at most one pulse per window
// per channel) for stability.
//
// Machine is the pure state machine, driven by injected edges and
// expiries so the policy is testable without timers. Engine binds it
// to real timers, the GPIO sampler and the counter store.
package pulse

import "time"

// State is a channel's debounce state.
type State uint8

const (
	// StateIdle means no edge is pending verification.
	StateIdle State = iota
	// StateArmed means an edge was seen and the verification timer runs.
	StateArmed
)

// Outcome is the result of a verification.
type Outcome uint8

const (
	// Confirmed: level still asserted at the sample instant, count it.
	Confirmed Outcome = iota
	// Rejected: level deasserted, the edge was bounce or a glitch.
	Rejected
	// Stale: the verification was superseded by a re-arm, ignore it.
	Stale
)

func (o Outcome) String() string {
	switch o {
	case Confirmed:
		return "confirmed"
	case Rejected:
		return "rejected"
	default:
		return "stale"
	}
}

// Arm describes the one-shot timer a caller must (re)schedule after an
// edge. Gen invalidates timers superseded by a later edge.
type Arm struct {
	Index    int
	Gen      uint64
	Deadline time.Time
}

type channelState struct {
	state    State
	gen      uint64
	lastEdge time.Time
}

// Machine holds the per-channel debounce state. It is not safe for
// concurrent use; the engine drives it from a single goroutine.
type Machine struct {
	debounce time.Duration
	channels []channelState
}

// NewMachine creates a machine for n channels with the given debounce window.
func NewMachine(n int, debounce time.Duration) *Machine {
	return &Machine{
		debounce: debounce,
		channels: make([]channelState, n),
	}
}

// Channels returns the number of channels.
func (m *Machine) Channels() int { return len(m.channels) }

// State returns a channel's current debounce state.
func (m *Machine) State(index int) State { return m.channels[index].state }

// Edge records a rising edge at time now and returns the timer to
// schedule. An edge on an armed channel extends the window: the
// previous timer generation becomes stale and the deadline restarts
// from now. At most one verification is ever outstanding per channel.
func (m *Machine) Edge(index int, now time.Time) Arm {
	ch := &m.channels[index]
	ch.state = StateArmed
	ch.gen++
	ch.lastEdge = now
	return Arm{Index: index, Gen: ch.gen, Deadline: now.Add(m.debounce)}
}

// Verify resolves the verification for a timer generation, deciding by
// the sampled level alone; the bounce history inside the window does
// not matter. A level asserted exactly at the sample instant counts.
func (m *Machine) Verify(index int, gen uint64, level bool) Outcome {
	ch := &m.channels[index]
	if ch.state != StateArmed || ch.gen != gen {
		return Stale
	}
	ch.state = StateIdle
	if level {
		return Confirmed
	}
	return Rejected
}
