package models

import "time"

// SessionState represents the lifecycle state of a browser session.
type SessionState string

const (
	StateCreated SessionState = "CREATED"
	StateActive  SessionState = "ACTIVE"
	StateIdle    SessionState = "IDLE"
	StateExpired SessionState = "EXPIRED"
	StateClosed  SessionState = "CLOSED"
)

// Terminal reports whether the state admits no further commands.
func (s SessionState) Terminal() bool {
	return s == StateExpired || s == StateClosed
}

// Session is the client-facing view of a browsing context. Each session
// holds an exclusive lease on one browser worker and one page.
type Session struct {
	ID           string       `json:"id"`
	State        SessionState `json:"state"`
	WorkerID     string       `json:"workerId,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	LastActivity time.Time    `json:"lastActivity"`
}

// CreateSessionRequest is the payload for POST /v1/sessions. The session id
// is optional; the server issues one when absent.
type CreateSessionRequest struct {
	SessionID string `json:"sessionId,omitempty"`
}
