// Package queue carries operation messages between the web tier and the
// worker. Delivery is at-least-once: a message is acknowledged only after it
// has been handled.
package queue

import (
	"context"
	"errors"
)

// HeaderMessageID carries Message.ID across transports
const HeaderMessageID = "messageId"

// ErrClosed is returned by a closed Source or Publisher
var ErrClosed = errors.New("queue closed")

// Message is one queued operation. Attributes are routing metadata readable
// without decoding Body.
type Message struct {
	ID         string
	Topic      string
	Key        string
	Attributes map[string]string
	Body       []byte

	ack func(ctx context.Context) error
}

// Attr returns an attribute value
func (m Message) Attr(name string) (string, bool) {
	v, ok := m.Attributes[name]
	return v, ok
}

// Source yields messages one at a time
type Source interface {
	// Receive blocks until a message is available or ctx is done
	Receive(ctx context.Context) (Message, error)
	// Ack marks msg as handled so it is not redelivered
	Ack(ctx context.Context, msg Message) error
	Close() error
}

// Publisher sends messages to a topic
type Publisher interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Close() error
}
