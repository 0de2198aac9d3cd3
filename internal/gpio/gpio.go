// Package gpio delivers rising-edge events and level re-samples for
// the counting inputs. The real implementation uses the Linux GPIO
// character device; the fake implementation allows testing without
// hardware.
package gpio

// Watcher watches the counting inputs.
type Watcher interface {
	// Events carries the channel index of each rising edge. The event
	// handler never blocks: when the queue is full the edge is dropped
	// and tallied, the same contract an interrupt routine would have.
	Events() <-chan int

	// Level re-samples the current pin level of a channel.
	// true means asserted.
	Level(index int) (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// DefaultPins are the stock meter input line offsets.
var DefaultPins = []int{18, 19, 23, 21, 22}

// DefaultChip is the GPIO character device the lines live on.
const DefaultChip = "gpiochip0"
