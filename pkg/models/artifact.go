package models

import "time"

// Artifact is the stored output of a completed command. Payload bytes are
// base64-encoded on the wire by encoding/json.
type Artifact struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	CommandID   string    `json:"commandId"`
	ContentType string    `json:"contentType"`
	Payload     []byte    `json:"payload"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Expired reports whether the artifact is past its expiry at the given time.
func (a *Artifact) Expired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}

// PageContent is the structured extraction of a page, returned by the
// extract action and by every mutating action as its result document.
type PageContent struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}
