package mqtt

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/sweeney/pulse-counter/internal/counter"
)

// Commander handles the remote set/read/reset commands. Malformed
// payloads are rejected at this boundary with a log line and no state
// change; out-of-range indices are additionally rejected by the store.
type Commander struct {
	client    Client
	store     *counter.Store
	persister *counter.Persister
	prefix    string
}

// NewCommander creates a commander bound to the store and persister.
func NewCommander(client Client, store *counter.Store, persister *counter.Persister, prefix string) *Commander {
	return &Commander{
		client:    client,
		store:     store,
		persister: persister,
		prefix:    prefix,
	}
}

// Start subscribes the command topics.
func (c *Commander) Start() error {
	if err := c.client.Subscribe(CommandTopic(c.prefix, CmdSet), c.handleSet); err != nil {
		return err
	}
	if err := c.client.Subscribe(CommandTopic(c.prefix, CmdRead), c.handleRead); err != nil {
		return err
	}
	return c.client.Subscribe(CommandTopic(c.prefix, CmdReset), c.handleReset)
}

// handleSet processes "index value": force-set then immediate
// write-through, so a forced value survives a crash before the next
// periodic check.
func (c *Commander) handleSet(payload []byte) {
	index, value, err := parseSet(string(payload))
	if err != nil {
		log.Printf("mqtt: set command %q: %v", payload, err)
		return
	}
	if err := c.store.ForceSet(index, value); err != nil {
		log.Printf("mqtt: set command: %v", err)
		return
	}
	if err := c.persister.ForceSave(index, value); err != nil {
		log.Printf("mqtt: set command: %v", err)
	}
}

// handleRead processes "index" and publishes "index value" on the
// reply topic, the value unmodified.
func (c *Commander) handleRead(payload []byte) {
	index, err := parseIndex(string(payload))
	if err != nil {
		log.Printf("mqtt: read command %q: %v", payload, err)
		return
	}
	value, err := c.store.Read(index)
	if err != nil {
		log.Printf("mqtt: read command: %v", err)
		return
	}
	reply := fmt.Sprintf("%d %d", index, value)
	if err := c.client.Publish(ReplyTopic(c.prefix), []byte(reply), false); err != nil {
		log.Printf("mqtt: read reply: %v", err)
	}
}

// handleReset zeroes every counter and writes each zero through.
func (c *Commander) handleReset([]byte) {
	c.store.ResetAll()
	for i := 0; i < c.store.Channels(); i++ {
		if err := c.persister.ForceSave(i, 0); err != nil {
			log.Printf("mqtt: reset channel %d: %v", i, err)
		}
	}
	log.Printf("mqtt: all counters reset")
}

func parseSet(payload string) (int, uint32, error) {
	fields := strings.Fields(payload)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("want \"index value\", got %d fields", len(fields))
	}
	index, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad index: %w", err)
	}
	value, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("bad value: %w", err)
	}
	return index, uint32(value), nil
}

func parseIndex(payload string) (int, error) {
	index, err := strconv.Atoi(strings.TrimSpace(payload))
	if err != nil {
		return 0, fmt.Errorf("bad index: %w", err)
	}
	return index, nil
}
