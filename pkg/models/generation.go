package models

import (
	"fmt"
	"strings"
)

// Section is one of the three generation targets. The set is fixed.
type Section string

const (
	SectionCode       Section = "code"
	SectionPrinciples Section = "principles"
	SectionGuide      Section = "guide"
)

// Sections lists every section in display order.
var Sections = []Section{SectionCode, SectionPrinciples, SectionGuide}

func ParseSection(s string) (Section, error) {
	switch Section(strings.ToLower(strings.TrimSpace(s))) {
	case SectionCode:
		return SectionCode, nil
	case SectionPrinciples:
		return SectionPrinciples, nil
	case SectionGuide:
		return SectionGuide, nil
	default:
		return "", fmt.Errorf("unknown section %q", s)
	}
}

type TaskStatus string

const (
	StatusIdle      TaskStatus = "idle"
	StatusRunning   TaskStatus = "running"
	StatusSucceeded TaskStatus = "succeeded"
	StatusFailed    TaskStatus = "failed"
)

// TaskState is the observable state of one section's generation task.
//
// Progress is an elapsed-time indicator while running, not a measure of
// how much of the answer has been produced.
type TaskState struct {
	Section  Section    `json:"section"`
	Status   TaskStatus `json:"status"`
	Progress int        `json:"progress"`
	Content  string     `json:"content,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// TaskEvent is published whenever a section's state changes.
type TaskEvent struct {
	Type      string `json:"type"` // "task.update"
	SessionID string `json:"session_id"`
	Attempt   uint64 `json:"attempt"`
	// Seq grows with every change in a session; a section's event with a
	// lower Seq than one already seen is stale. Zero means never changed.
	Seq   uint64    `json:"seq"`
	State TaskState `json:"state"`
}
