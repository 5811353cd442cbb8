package websocket

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type mockMessage struct {
	kind int
	data []byte
}

// mockConnection records writes and serves reads from a channel
type mockConnection struct {
	mu      sync.Mutex
	written []mockMessage
	reads   chan []byte
	closed  bool
	writes  chan struct{}
}

func newMockConnection() *mockConnection {
	return &mockConnection{
		reads:  make(chan []byte, 8),
		writes: make(chan struct{}, 64),
	}
}

func (m *mockConnection) WriteMessage(kind int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return websocket.ErrCloseSent
	}
	m.written = append(m.written, mockMessage{kind: kind, data: append([]byte(nil), data...)})
	select {
	case m.writes <- struct{}{}:
	default:
	}
	return nil
}

func (m *mockConnection) ReadMessage() (int, []byte, error) {
	data, ok := <-m.reads
	if !ok {
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
	return websocket.TextMessage, data, nil
}

func (m *mockConnection) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("already closed")
	}
	m.closed = true
	return nil
}

func (m *mockConnection) SetReadDeadline(time.Time) error  { return nil }
func (m *mockConnection) SetWriteDeadline(time.Time) error { return nil }
func (m *mockConnection) SetReadLimit(int64)               {}
func (m *mockConnection) SetPongHandler(func(string) error) {}
func (m *mockConnection) RemoteAddr() string               { return "192.0.2.1:5555" }

func (m *mockConnection) textFrames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out [][]byte
	for _, msg := range m.written {
		if msg.kind == websocket.TextMessage {
			out = append(out, msg.data)
		}
	}
	return out
}

func (m *mockConnection) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// disconnect simulates the peer going away
func (m *mockConnection) disconnect() { close(m.reads) }
