// Package events defines the payloads published for downstream consumers.
package events

import "time"

// ActivityCreated is emitted when a new activity is registered.
type ActivityCreated struct {
	ActivityID       string    `json:"activity_id"`
	OwnerID          string    `json:"owner_id"`
	ClassificationID string    `json:"classification_id"`
	Title            string    `json:"title"`
	CreatedAt        time.Time `json:"created_at"`
}

// SessionStarted is emitted when a session opens on an activity.
type SessionStarted struct {
	SessionID  string    `json:"session_id"`
	ActivityID string    `json:"activity_id"`
	OwnerID    string    `json:"owner_id"`
	StartedAt  time.Time `json:"started_at"`
}

// SessionClosed is emitted when a session is paused, carrying the duration
// computed at close time. Keyed by owner so per-owner ordering is preserved.
type SessionClosed struct {
	SessionID       string    `json:"session_id"`
	ActivityID      string    `json:"activity_id"`
	OwnerID         string    `json:"owner_id"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	DurationSeconds int64     `json:"duration_seconds"`
}
