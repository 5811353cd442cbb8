package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		kind     Kind
	}{
		{"not connected", NotConnected("credentials.ensure", 7), ErrNotConnected, KindNotConnected},
		{"invalid state", InvalidState("credentials.complete", "expired"), ErrInvalidState, KindInvalidState},
		{"email", EmailNotVerified("credentials.complete", "a@b.c"), ErrEmailNotVerified, KindEmailNotVerified},
		{"remote", Remote("gateway.read_range", errors.New("503")), ErrRemoteService, KindRemoteService},
		{"not found", NotFound("ledger.resolve", "application 3"), ErrNotFound, KindNotFound},
		{"decode", Decode("operations.decode", errors.New("bad json")), ErrDecode, KindDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(tt.err, tt.sentinel))
			assert.Equal(t, tt.kind, KindOf(tt.err))

			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.True(t, errors.Is(wrapped, tt.sentinel))
			assert.Equal(t, tt.kind, KindOf(wrapped))
		})
	}
}

func TestErrorUnwrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Remote("gateway.append_row", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "gateway.append_row")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(Decode("op", errors.New("x"))))
	assert.True(t, IsTerminal(Validation("op", errors.New("x"))))
	assert.False(t, IsTerminal(Remote("op", errors.New("x"))))
	assert.False(t, IsTerminal(errors.New("plain")))
}

func TestToProblemStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{NotConnected("op", 1), http.StatusConflict},
		{InvalidState("op", "replay"), http.StatusBadRequest},
		{EmailNotVerified("op", "x@y.z"), http.StatusForbidden},
		{NotFound("op", "ledger"), http.StatusNotFound},
		{Validation("op", errors.New("bad")), http.StatusBadRequest},
		{Remote("op", errors.New("boom")), http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("other"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.status, ToProblem(tt.err, "/x").Status)
		})
	}
}
