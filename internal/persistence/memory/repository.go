// Package memory provides a mutex-guarded in-memory implementation of the
// domain repository for unit tests and local development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/timetrack/internal/domain"
)

// Repository stores activities, sessions, and annotations in maps. A single
// mutex serializes the close-then-open sequence, which stands in for the
// partial unique index the Postgres store relies on.
type Repository struct {
	mu              sync.RWMutex
	activities      map[string]domain.Activity
	sessions        map[string]domain.Session
	annotations     map[string]domain.Annotation
	classifications map[string]domain.Classification
}

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		activities:      make(map[string]domain.Activity),
		sessions:        make(map[string]domain.Session),
		annotations:     make(map[string]domain.Annotation),
		classifications: make(map[string]domain.Classification),
	}
}

// SeedClassification registers a classification for tests and local dev.
func (r *Repository) SeedClassification(c domain.Classification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classifications[c.ID] = c
}

// CreateActivity implements domain.Repository.
func (r *Repository) CreateActivity(ctx context.Context, activity domain.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activities[activity.ID] = activity
	return nil
}

// GetActivity implements domain.Repository.
func (r *Repository) GetActivity(ctx context.Context, activityID string) (*domain.Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	activity, ok := r.activities[activityID]
	if !ok {
		return nil, nil
	}
	return &activity, nil
}

// SetActivityStatus implements domain.Repository.
func (r *Repository) SetActivityStatus(ctx context.Context, activityID string, status domain.ActivityStatus, deletedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	activity, ok := r.activities[activityID]
	if !ok {
		return domain.ErrNotFound
	}
	activity.Status = status
	activity.DeletedAt = deletedAt
	r.activities[activityID] = activity
	return nil
}

// StartSession implements the atomic close-then-open sequence under the
// repository mutex.
func (r *Repository) StartSession(ctx context.Context, ownerID, activityID string, now time.Time) (*domain.StartResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := domain.StartResult{}
	for id, session := range r.sessions {
		if session.OwnerID != ownerID || session.EndedAt != nil {
			continue
		}
		if session.ActivityID == activityID {
			result.Opened = session
			result.Resumed = true
			return &result, nil
		}
		closed := closeSession(session, now)
		r.sessions[id] = closed
		result.Closed = &closed
	}

	opened := domain.Session{
		ID:         uuid.NewString(),
		ActivityID: activityID,
		OwnerID:    ownerID,
		StartedAt:  now,
	}
	r.sessions[opened.ID] = opened
	result.Opened = opened
	return &result, nil
}

// CloseOpenSession implements domain.Repository.
func (r *Repository) CloseOpenSession(ctx context.Context, activityID string, now time.Time) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, session := range r.sessions {
		if session.ActivityID != activityID || session.EndedAt != nil {
			continue
		}
		closed := closeSession(session, now)
		r.sessions[id] = closed
		return &closed, nil
	}
	return nil, nil
}

// GetSession implements domain.Repository.
func (r *Repository) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return &session, nil
}

// HideSessionFromSummary implements domain.Repository.
func (r *Repository) HideSessionFromSummary(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	session.HiddenFromSummary = true
	r.sessions[sessionID] = session
	return nil
}

// CurrentAnnotation implements domain.Repository.
func (r *Repository) CurrentAnnotation(ctx context.Context, sessionID string) (*domain.Annotation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var current *domain.Annotation
	for id := range r.annotations {
		note := r.annotations[id]
		if note.SessionID != sessionID || note.Hidden {
			continue
		}
		if current == nil || note.NotedAt.After(current.NotedAt) {
			current = &note
		}
	}
	return current, nil
}

// InsertAnnotation implements domain.Repository.
func (r *Repository) InsertAnnotation(ctx context.Context, annotation domain.Annotation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.annotations[annotation.ID] = annotation
	return nil
}

// UpdateAnnotation implements domain.Repository.
func (r *Repository) UpdateAnnotation(ctx context.Context, annotationID, text string, notedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	note, ok := r.annotations[annotationID]
	if !ok {
		return domain.ErrNotFound
	}
	note.Text = text
	note.NotedAt = notedAt
	r.annotations[annotationID] = note
	return nil
}

// GetSnapshot implements domain.Repository.
func (r *Repository) GetSnapshot(ctx context.Context, activityID string) (*domain.ActivitySnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	activity, ok := r.activities[activityID]
	if !ok {
		return nil, nil
	}
	snap := r.buildSnapshot(activity)
	return &snap, nil
}

// ListSnapshots implements domain.Repository with naive substring search.
func (r *Repository) ListSnapshots(ctx context.Context, query domain.ActivityQuery) ([]domain.ActivitySnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ActivitySnapshot, 0)
	for _, activity := range r.activities {
		if activity.Status != query.Status {
			continue
		}
		if query.OwnerID != "" && activity.OwnerID != query.OwnerID {
			continue
		}
		if query.ClassificationID != "" && activity.ClassificationID != query.ClassificationID {
			continue
		}
		snap := r.buildSnapshot(activity)
		if query.Text != "" && !matches(snap, query.Text) {
			continue
		}
		out = append(out, snap)
	}

	sort.Slice(out, func(i, j int) bool {
		if query.Order == domain.OrderAlphabetical {
			return out[i].Activity.Title < out[j].Activity.Title
		}
		return out[i].Activity.CreatedAt.After(out[j].Activity.CreatedAt)
	})
	return out, nil
}

// ListClassifications implements domain.Repository.
func (r *Repository) ListClassifications(ctx context.Context) ([]domain.Classification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Classification, 0, len(r.classifications))
	for _, c := range r.classifications {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

// OpenSessionCount reports the owner's open sessions; tests assert on it.
func (r *Repository) OpenSessionCount(ownerID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, session := range r.sessions {
		if session.OwnerID == ownerID && session.EndedAt == nil {
			count++
		}
	}
	return count
}

func (r *Repository) buildSnapshot(activity domain.Activity) domain.ActivitySnapshot {
	snap := domain.ActivitySnapshot{Activity: activity}
	if c, ok := r.classifications[activity.ClassificationID]; ok {
		snap.Classification = c.Label
	}

	sessions := make([]domain.Session, 0)
	for _, session := range r.sessions {
		if session.ActivityID == activity.ID {
			sessions = append(sessions, session)
		}
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].StartedAt.Before(sessions[j].StartedAt) })

	for _, session := range sessions {
		rec := domain.SessionRecord{Session: session}
		for _, note := range r.annotations {
			if note.SessionID == session.ID {
				rec.Annotations = append(rec.Annotations, note)
			}
		}
		sort.Slice(rec.Annotations, func(i, j int) bool { return rec.Annotations[i].NotedAt.Before(rec.Annotations[j].NotedAt) })
		snap.Sessions = append(snap.Sessions, rec)
	}
	return snap
}

func matches(snap domain.ActivitySnapshot, text string) bool {
	term := strings.ToLower(strings.TrimSpace(text))
	if term == "" {
		return true
	}
	if strings.Contains(strings.ToLower(snap.Activity.Title), term) ||
		strings.Contains(strings.ToLower(snap.Activity.Description), term) ||
		strings.Contains(strings.ToLower(snap.Activity.Code), term) ||
		strings.Contains(strings.ToLower(snap.Classification), term) {
		return true
	}
	for _, rec := range snap.Sessions {
		for _, note := range rec.Annotations {
			if strings.Contains(strings.ToLower(note.Text), term) {
				return true
			}
		}
	}
	return false
}

func closeSession(session domain.Session, now time.Time) domain.Session {
	ended := now
	duration := int64(now.Sub(session.StartedAt).Seconds())
	session.EndedAt = &ended
	session.DurationSeconds = &duration
	return session
}
