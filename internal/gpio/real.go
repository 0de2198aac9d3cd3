//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/pulse-counter/internal/metrics"
)

// RealWatcher watches actual hardware lines via the Linux GPIO
// character device, one rising-edge event request per channel.
type RealWatcher struct {
	chip   *gpiocdev.Chip
	lines  []*gpiocdev.Line
	events chan int
}

// NewRealWatcher requests the given line offsets as inputs with
// pull-up (the meter contacts pull to ground) and rising-edge events.
// queue sizes the edge event queue between the kernel event handler
// and the consumer.
func NewRealWatcher(chipName string, pins []int, queue int) (*RealWatcher, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}

	w := &RealWatcher{
		chip:   chip,
		lines:  make([]*gpiocdev.Line, len(pins)),
		events: make(chan int, queue),
	}

	for i, pin := range pins {
		index := i
		// The handler is the interrupt-context boundary: one
		// non-blocking send and a tally, nothing else.
		handler := func(gpiocdev.LineEvent) {
			metrics.EdgeEvents.WithLabelValues(metrics.Channel(index)).Inc()
			select {
			case w.events <- index:
			default:
				metrics.EdgeDrops.Inc()
			}
		}

		line, err := chip.RequestLine(pin,
			gpiocdev.AsInput,
			gpiocdev.WithPullUp,
			gpiocdev.WithRisingEdge,
			gpiocdev.WithEventHandler(handler))
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("request pin %d (channel %d): %w", pin, i, err)
		}
		w.lines[i] = line
	}

	return w, nil
}

// Events carries the channel index of each rising edge.
func (w *RealWatcher) Events() <-chan int { return w.events }

// Level re-samples the current level of a channel's pin.
func (w *RealWatcher) Level(index int) (bool, error) {
	if index < 0 || index >= len(w.lines) {
		return false, fmt.Errorf("gpio: channel %d out of range", index)
	}
	v, err := w.lines[index].Value()
	if err != nil {
		return false, fmt.Errorf("read channel %d: %w", index, err)
	}
	return v != 0, nil
}

// Close releases all requested lines and the chip. Safe to call twice.
func (w *RealWatcher) Close() error {
	var errs []error
	for i, line := range w.lines {
		if line == nil {
			continue
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel %d: %w", i, err))
		}
		w.lines[i] = nil
	}
	if w.chip != nil {
		if err := w.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		w.chip = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
