// Package domain contains core domain types for the Unplug application.
package domain

import (
	"time"
)

// SessionStatus is the lifecycle state of a challenge session.
type SessionStatus string

const (
	StatusPending    SessionStatus = "pending"
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
	StatusFailed     SessionStatus = "failed"
	StatusCanceled   SessionStatus = "canceled"
)

// Terminal reports whether the status permits no further transitions.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Session is one user's attempt at a ChallengeTemplate. Sessions are never
// physically deleted; terminal sessions are kept for history and analytics.
type Session struct {
	SessionID       string          `json:"session_id"`
	UserID          string          `json:"user_id"`
	TemplateID      string          `json:"template_id"`
	Status          SessionStatus   `json:"status"`
	DurationMinutes int             `json:"duration_minutes"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	FailedAt        *time.Time      `json:"failed_at,omitempty"`
	FailReason      string          `json:"fail_reason,omitempty"`
	Metadata        SessionMetadata `json:"metadata,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// TargetDuration returns the session's target duration as a time.Duration.
func (s *Session) TargetDuration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// Deadline returns the wall-clock instant by which an in-progress session
// must finish. The zero time is returned for sessions that never started.
func (s *Session) Deadline() time.Time {
	if s.StartedAt == nil {
		return time.Time{}
	}
	return s.StartedAt.Add(s.TargetDuration())
}
