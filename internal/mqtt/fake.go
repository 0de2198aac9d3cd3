package mqtt

import "sync"

// Message records one published message.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// FakeClient records published messages and routes injected messages
// to subscribed handlers, for test assertions.
type FakeClient struct {
	mu       sync.Mutex
	messages []Message
	handlers map[string]func(payload []byte)

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// SubscribeError, if set, will be returned by Subscribe.
	SubscribeError error

	// Connected controls the return value of IsConnected.
	Connected bool

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeClient creates a FakeClient for testing.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		handlers:  make(map[string]func(payload []byte)),
		Connected: true,
	}
}

// Publish records the message.
func (f *FakeClient) Publish(topic string, payload []byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.messages = append(f.messages, Message{
		Topic:    topic,
		Payload:  append([]byte(nil), payload...),
		Retained: retained,
	})
	return nil
}

// Subscribe records the handler for Deliver.
func (f *FakeClient) Subscribe(topic string, handler func(payload []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubscribeError != nil {
		return f.SubscribeError
	}
	f.handlers[topic] = handler
	return nil
}

// Deliver simulates an inbound message from the broker. Returns false
// when no handler is subscribed on the topic.
func (f *FakeClient) Deliver(topic string, payload []byte) bool {
	f.mu.Lock()
	h, ok := f.handlers[topic]
	f.mu.Unlock()
	if !ok {
		return false
	}
	h(payload)
	return true
}

// Messages returns a copy of all recorded publishes.
func (f *FakeClient) Messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Message, len(f.messages))
	copy(out, f.messages)
	return out
}

// OnTopic returns the recorded publishes for one topic.
func (f *FakeClient) OnTopic(topic string) []Message {
	var out []Message
	for _, m := range f.Messages() {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// Reset clears recorded messages.
func (f *FakeClient) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = nil
}

// IsConnected reports whether the fake client is "connected".
func (f *FakeClient) IsConnected() bool { return f.Connected }

// Close marks the client as closed.
func (f *FakeClient) Close() error {
	f.Closed = true
	return nil
}
