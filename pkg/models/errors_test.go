package models

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorTaxonomyMapping(t *testing.T) {
	cases := []struct {
		err       error
		code      string
		status    int
		retryable bool
	}{
		{ErrResourceExhausted, "ResourceExhausted", http.StatusServiceUnavailable, true},
		{ErrSessionCreationFailed, "SessionCreationFailed", http.StatusServiceUnavailable, true},
		{ErrTimeout, "Timeout", http.StatusGatewayTimeout, false},
		{ErrNavigation, "NavigationError", http.StatusUnprocessableEntity, false},
		{ErrExecution, "ExecutionError", http.StatusUnprocessableEntity, false},
		{ErrOverloaded, "Overloaded", http.StatusTooManyRequests, true},
		{ErrNotFound, "NotFound", http.StatusNotFound, false},
		{ErrExpired, "Expired", http.StatusGone, false},
		{ErrConflict, "Conflict", http.StatusConflict, false},
		{errors.New("boom"), "Internal", http.StatusInternalServerError, false},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			assert.Equal(t, tc.code, ErrorCode(tc.err))
			assert.Equal(t, tc.status, HTTPStatus(tc.err))
			assert.Equal(t, tc.retryable, Retryable(tc.err))
		})
	}
}

func TestWrappedErrorsKeepTheirClassification(t *testing.T) {
	err := fmt.Errorf("%w: all 4 workers leased", ErrResourceExhausted)

	assert.Equal(t, "ResourceExhausted", ErrorCode(err))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(err))
	assert.True(t, Retryable(err))
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse(fmt.Errorf("%w: session s1 mailbox full", ErrOverloaded))

	assert.Equal(t, "Overloaded", resp.Code)
	assert.True(t, resp.Retryable)
	assert.Contains(t, resp.Error, "mailbox full")
}

func TestSessionStateTerminal(t *testing.T) {
	assert.False(t, StateCreated.Terminal())
	assert.False(t, StateActive.Terminal())
	assert.False(t, StateIdle.Terminal())
	assert.True(t, StateExpired.Terminal())
	assert.True(t, StateClosed.Terminal())
}
