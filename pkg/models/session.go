package models

import "time"

// SessionView is what the API returns for a live session.
type SessionView struct {
	ID            string              `json:"id"`
	Description   string              `json:"description"`
	ImageReceived bool                `json:"image_received"`
	Confirmed     bool                `json:"confirmed"`
	Components    []DetectedComponent `json:"components"`
	Tasks         []TaskState         `json:"tasks"`
	CreatedAt     time.Time           `json:"created_at"`
}

// Results pairs the task states with the parsed connection guide, present
// once the guide section has succeeded.
type Results struct {
	SessionID string       `json:"session_id"`
	Tasks     []TaskState  `json:"tasks"`
	Guide     *ParsedGuide `json:"guide,omitempty"`
}

// DetectionView is the response to an image upload.
type DetectionView struct {
	Components []DetectedComponent `json:"components"`
	Summary    string              `json:"summary"`
}
