package api

import (
	"time"

	"example.com/timetrack/internal/domain"
)

// CreateActivityRequest is the payload for POST /v1/activities.
type CreateActivityRequest struct {
	ClassificationID string `json:"classification_id"`
	Code             string `json:"code,omitempty"`
	Title            string `json:"title"`
	Description      string `json:"description,omitempty"`
	Notes            string `json:"notes,omitempty"`
}

// CreateActivityResponse acknowledges a created activity.
type CreateActivityResponse struct {
	ActivityID string `json:"activity_id"`
}

// StartResponse acknowledges a start or resume command.
type StartResponse struct {
	State     string `json:"state"`
	SessionID string `json:"session_id"`
	Resumed   bool   `json:"resumed"`
}

// PauseResponse carries the closed session, if one existed.
type PauseResponse struct {
	SessionID       string `json:"session_id,omitempty"`
	DurationSeconds int64  `json:"duration_seconds,omitempty"`
}

// AnnotationUpsertRequest is the payload for the annotation command.
type AnnotationUpsertRequest struct {
	Text string `json:"text"`
}

// AnnotationUpsertResponse carries the stored annotation text.
type AnnotationUpsertResponse struct {
	Text string `json:"text"`
}

// CardView is the wire form of a dashboard card.
type CardView struct {
	ActivityID        string     `json:"activity_id"`
	OwnerID           string     `json:"owner_id"`
	Classification    string     `json:"classification,omitempty"`
	Code              string     `json:"code,omitempty"`
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	State             string     `json:"state"`
	Accumulated       string     `json:"accumulated"`
	OpenStartedAt     *time.Time `json:"open_started_at,omitempty"`
	LastActivity      string     `json:"last_activity"`
	LastSessionDetail string     `json:"last_session_detail,omitempty"`
}

// ListActivitiesResponse splits cards into the running one and the rest.
type ListActivitiesResponse struct {
	Running []CardView `json:"running"`
	Other   []CardView `json:"other"`
}

// SummaryResponse is the wire form of a period summary.
type SummaryResponse struct {
	State              string `json:"state"`
	AccumulatedSeconds int64  `json:"accumulated_seconds"`
	LastActivity       string `json:"last_activity"`
}

// AnnotationView is one entry in the annotation history.
type AnnotationView struct {
	SessionID    string    `json:"session_id"`
	EndedAt      time.Time `json:"ended_at"`
	DurationText string    `json:"duration_text"`
	Text         string    `json:"text"`
}

// AnnotationListResponse wraps the annotation history.
type AnnotationListResponse struct {
	Items []AnnotationView `json:"items"`
}

func toCardView(card domain.Card) CardView {
	return CardView{
		ActivityID:        card.ActivityID,
		OwnerID:           card.OwnerID,
		Classification:    card.Classification,
		Code:              card.Code,
		Title:             card.Title,
		Description:       card.Description,
		State:             string(card.State),
		Accumulated:       card.Accumulated,
		OpenStartedAt:     card.OpenStartedAt,
		LastActivity:      card.LastActivity,
		LastSessionDetail: card.LastSessionDetail,
	}
}

// ClassificationView is the wire form of a classification.
type ClassificationView struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// ClassificationListResponse wraps the classification catalog.
type ClassificationListResponse struct {
	Items []ClassificationView `json:"items"`
}
