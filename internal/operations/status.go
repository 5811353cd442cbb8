package operations

import (
	"context"
	"time"
)

// State is a dispatcher step for one message
type State string

const (
	StateDecoding  State = "decoding"
	StateRouting   State = "routing"
	StateExecuting State = "executing"
	StateReplying  State = "replying"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateDropped   State = "dropped"
)

// Terminal reports whether no further transitions follow s
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateDropped
}

// Status is one state transition of a message
type Status struct {
	Dispatcher string    `json:"dispatcher"`
	MessageID  string    `json:"messageId"`
	Operation  string    `json:"operation,omitempty"`
	UserID     int64     `json:"userId,omitempty"`
	State      State     `json:"state"`
	Result     string    `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// StatusSink receives state transitions. Implementations must not block.
type StatusSink interface {
	OperationStatus(ctx context.Context, status Status)
}

// StatusFunc adapts a function to StatusSink
type StatusFunc func(ctx context.Context, status Status)

func (f StatusFunc) OperationStatus(ctx context.Context, status Status) {
	f(ctx, status)
}
