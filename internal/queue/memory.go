package queue

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process broker: each topic is a buffered channel.
// Publishing to a full topic blocks until space frees or ctx is done.
type Memory struct {
	mu     sync.Mutex
	buffer int
	topics map[string]chan Message
	acked  []string
	closed bool
}

// NewMemory creates a broker whose topics buffer up to buffer messages
func NewMemory(buffer int) *Memory {
	if buffer <= 0 {
		buffer = 1
	}
	return &Memory{buffer: buffer, topics: make(map[string]chan Message)}
}

func (m *Memory) topic(name string) chan Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.topics[name]
	if !ok {
		ch = make(chan Message, m.buffer)
		m.topics[name] = ch
	}
	return ch
}

// Publish implements Publisher
func (m *Memory) Publish(ctx context.Context, topic string, msg Message) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Topic = topic
	attrs := make(map[string]string, len(msg.Attributes))
	for k, v := range msg.Attributes {
		attrs[k] = v
	}
	msg.Attributes = attrs

	select {
	case m.topic(topic) <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Source returns a Source reading topic
func (m *Memory) Source(topic string) Source {
	return &memorySource{broker: m, ch: m.topic(topic)}
}

// Acked returns the ids of acknowledged messages in order
func (m *Memory) Acked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.acked...)
}

// Pending returns the number of undelivered messages on topic
func (m *Memory) Pending(topic string) int {
	return len(m.topic(topic))
}

// Close makes further publishes fail; pending messages can still be received
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type memorySource struct {
	broker *Memory
	ch     chan Message
}

func (s *memorySource) Receive(ctx context.Context) (Message, error) {
	select {
	case msg := <-s.ch:
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (s *memorySource) Ack(ctx context.Context, msg Message) error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	s.broker.acked = append(s.broker.acked, msg.ID)
	return nil
}

func (s *memorySource) Close() error { return nil }
