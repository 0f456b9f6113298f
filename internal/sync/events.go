package sync

import "time"

// Welcome is the first line every TCP or websocket subscriber receives.
type Welcome struct {
	Type      string `json:"type"` // "welcome"
	Transport string `json:"transport"`
	SessionID string `json:"session_id,omitempty"`
	Clients   int    `json:"clients"`
}

// SessionClosed is sent to a session's websocket subscribers just before
// the hub drops them.
type SessionClosed struct {
	Type      string    `json:"type"` // "session.closed"
	SessionID string    `json:"session_id"`
	At        time.Time `json:"at"`
}

// ProjectEvent goes to the TCP feed when a project is archived or removed.
type ProjectEvent struct {
	Type      string    `json:"type"` // "project.saved" or "project.deleted"
	UserID    string    `json:"user_id"`
	ProjectID string    `json:"project_id"`
	At        time.Time `json:"at"`
}
