package models

import (
	"encoding/json"
	"time"
)

// CommandAction identifies one automation action against a session's page.
type CommandAction string

const (
	ActionNavigate     CommandAction = "navigate"
	ActionClick        CommandAction = "click"
	ActionExtract      CommandAction = "extract"
	ActionScreenshot   CommandAction = "screenshot"
	ActionEvaluate     CommandAction = "evaluate"
	ActionBack         CommandAction = "back"
	ActionForward      CommandAction = "forward"
	ActionSetViewport  CommandAction = "set_viewport"
	ActionSetUserAgent CommandAction = "set_user_agent"
	ActionSetCookies   CommandAction = "set_cookies"
	ActionSetContent   CommandAction = "set_content"
	ActionWaitForText  CommandAction = "wait_for_text"
)

// Command is one admitted automation request. Immutable once admitted.
type Command struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"sessionId"`
	Action      CommandAction   `json:"action"`
	Params      json.RawMessage `json:"params,omitempty"`
	SubmittedAt time.Time       `json:"submittedAt"`
	// Deadline bounds the browser-side execution of this command.
	// Zero means the configured default applies.
	Deadline time.Duration `json:"-"`
}

// SubmitCommandRequest is the payload for POST /v1/sessions/{id}/commands.
type SubmitCommandRequest struct {
	Action     CommandAction   `json:"action"`
	Params     json.RawMessage `json:"params,omitempty"`
	DeadlineMs int             `json:"deadlineMs,omitempty"`
}
