package models

import "time"

// Project is an archived, confirmed project with whatever generated
// content was available when it was saved.
type Project struct {
	ID          string              `json:"id"`
	UserID      string              `json:"user_id"`
	Description string              `json:"description"`
	Components  []DetectedComponent `json:"components"`
	Code        string              `json:"code,omitempty"`
	Principles  string              `json:"principles,omitempty"`
	Guide       string              `json:"guide,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}
