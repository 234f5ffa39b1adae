// Package domain holds the session state machine, aggregation engine, and
// ownership policy for the time tracker.
package domain

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StartResult reports what a start/resume command did.
type StartResult struct {
	Opened Session
	// Closed is the session on another activity that had to be paused to
	// keep at most one session open per owner, if there was one.
	Closed *Session
	// Resumed is true when the target activity already had an open session
	// and the command was a no-op.
	Resumed bool
}

// ListOrder selects the ordering of activity listings.
type ListOrder string

const (
	OrderRecent       ListOrder = "recent"
	OrderAlphabetical ListOrder = "alphabetical"
)

// ActivityQuery filters activity listings.
type ActivityQuery struct {
	// OwnerID scopes the listing to one owner; empty means all owners and
	// is only reachable for elevated actors.
	OwnerID          string
	Status           ActivityStatus
	Text             string
	ClassificationID string
	Order            ListOrder
}

// Repository captures the durable-storage contract. StartSession must run
// its close-then-open sequence in a single transaction and the store must
// reject a second open session per owner, surfacing ErrConflict to losers
// of that race.
type Repository interface {
	CreateActivity(ctx context.Context, activity Activity) error
	GetActivity(ctx context.Context, activityID string) (*Activity, error)
	SetActivityStatus(ctx context.Context, activityID string, status ActivityStatus, deletedAt *time.Time) error

	StartSession(ctx context.Context, ownerID, activityID string, now time.Time) (*StartResult, error)
	CloseOpenSession(ctx context.Context, activityID string, now time.Time) (*Session, error)
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	HideSessionFromSummary(ctx context.Context, sessionID string) error

	CurrentAnnotation(ctx context.Context, sessionID string) (*Annotation, error)
	InsertAnnotation(ctx context.Context, annotation Annotation) error
	UpdateAnnotation(ctx context.Context, annotationID, text string, notedAt time.Time) error

	GetSnapshot(ctx context.Context, activityID string) (*ActivitySnapshot, error)
	ListSnapshots(ctx context.Context, query ActivityQuery) ([]ActivitySnapshot, error)
	ListClassifications(ctx context.Context) ([]Classification, error)
}

// Service orchestrates commands and queries against the repository.
type Service struct {
	repo  Repository
	clock Clock
}

// NewService constructs a Service. A nil clock falls back to the system clock.
func NewService(repo Repository, clock Clock) *Service {
	if clock == nil {
		clock = SystemClock()
	}
	return &Service{repo: repo, clock: clock}
}

// CreateActivityInput captures the payload for a new activity.
type CreateActivityInput struct {
	ClassificationID string
	Code             string
	Title            string
	Description      string
	Notes            string
}

// CreateActivity registers a new activity owned by the acting user.
func (s *Service) CreateActivity(ctx context.Context, actor Actor, input CreateActivityInput) (*Activity, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, &ValidationError{Field: "title", Message: "title is required"}
	}
	if strings.TrimSpace(input.ClassificationID) == "" {
		return nil, &ValidationError{Field: "classification_id", Message: "classification_id is required"}
	}

	activity := Activity{
		ID:               uuid.NewString(),
		OwnerID:          actor.UserID,
		ClassificationID: strings.TrimSpace(input.ClassificationID),
		Code:             strings.TrimSpace(input.Code),
		Title:            title,
		Description:      strings.TrimSpace(input.Description),
		Notes:            strings.TrimSpace(input.Notes),
		Status:           ActivityStatusActive,
		CreatedAt:        s.clock.Now(),
	}

	if err := s.repo.CreateActivity(ctx, activity); err != nil {
		return nil, err
	}
	return &activity, nil
}

// StartOrResume opens a session on the activity, first closing whatever
// session its owner has open on a different activity. Starting an activity
// that is already running is an idempotent resume. The session always
// belongs to the activity's owner, even when an elevated actor triggers it.
func (s *Service) StartOrResume(ctx context.Context, actor Actor, activityID string) (*StartResult, error) {
	activity, err := s.accessibleActivity(ctx, actor, activityID)
	if err != nil {
		return nil, err
	}

	result, err := s.repo.StartSession(ctx, activity.OwnerID, activityID, s.clock.Now())
	if errors.Is(err, ErrConflict) {
		// Lost a race against a concurrent start for the same owner; the
		// close-then-open sequence is safe to replay once.
		result, err = s.repo.StartSession(ctx, activity.OwnerID, activityID, s.clock.Now())
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Pause closes the activity's open session and returns it with its computed
// duration. Pausing an activity with nothing running is a successful no-op
// returning nil.
func (s *Service) Pause(ctx context.Context, actor Actor, activityID string) (*Session, error) {
	if _, err := s.accessibleActivity(ctx, actor, activityID); err != nil {
		return nil, err
	}
	return s.repo.CloseOpenSession(ctx, activityID, s.clock.Now())
}

// UpsertAnnotation creates or overwrites the session's current note and
// returns the stored text. A blank text with no existing note is a no-op;
// blanking an existing note keeps the row but leaves the session without a
// note for display purposes.
func (s *Service) UpsertAnnotation(ctx context.Context, actor Actor, sessionID, text string) (string, error) {
	if _, err := s.accessibleSession(ctx, actor, sessionID); err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	current, err := s.repo.CurrentAnnotation(ctx, sessionID)
	if err != nil {
		return "", err
	}

	if current == nil {
		if text == "" {
			return "", nil
		}
		annotation := Annotation{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			NotedAt:   s.clock.Now(),
			Text:      text,
		}
		if err := s.repo.InsertAnnotation(ctx, annotation); err != nil {
			return "", err
		}
		return text, nil
	}

	if err := s.repo.UpdateAnnotation(ctx, current.ID, text, s.clock.Now()); err != nil {
		return "", err
	}
	return text, nil
}

// HideFromSummary removes the session from the annotation review listing.
// The session and its notes persist and keep counting toward durations.
func (s *Service) HideFromSummary(ctx context.Context, actor Actor, sessionID string) error {
	if _, err := s.accessibleSession(ctx, actor, sessionID); err != nil {
		return err
	}
	return s.repo.HideSessionFromSummary(ctx, sessionID)
}

// Archive moves the activity out of the active working set.
func (s *Service) Archive(ctx context.Context, actor Actor, activityID string) error {
	if _, err := s.accessibleActivity(ctx, actor, activityID); err != nil {
		return err
	}
	return s.repo.SetActivityStatus(ctx, activityID, ActivityStatusArchived, nil)
}

// Unarchive restores an archived activity to the active working set.
func (s *Service) Unarchive(ctx context.Context, actor Actor, activityID string) error {
	if _, err := s.accessibleActivity(ctx, actor, activityID); err != nil {
		return err
	}
	return s.repo.SetActivityStatus(ctx, activityID, ActivityStatusActive, nil)
}

// SoftDelete tags the activity deleted. The row and its history persist for
// audit, but no query surface will return it again, elevated actors included.
func (s *Service) SoftDelete(ctx context.Context, actor Actor, activityID string) error {
	if _, err := s.accessibleActivity(ctx, actor, activityID); err != nil {
		return err
	}
	now := s.clock.Now()
	return s.repo.SetActivityStatus(ctx, activityID, ActivityStatusDeleted, &now)
}

// ActivityList is the listing result, split so running activities can be
// surfaced separately.
type ActivityList struct {
	Running []Card
	Other   []Card
}

// ListActivities builds cards for the actor's visible activities. The
// accumulated column covers the current calendar month.
func (s *Service) ListActivities(ctx context.Context, actor Actor, query ActivityQuery) (*ActivityList, error) {
	if !actor.Elevated {
		query.OwnerID = actor.UserID
	}
	if query.Status == "" {
		query.Status = ActivityStatusActive
	}
	if query.Order == "" {
		query.Order = OrderRecent
	}

	snapshots, err := s.repo.ListSnapshots(ctx, query)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	periodStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	periodEnd := periodStart.AddDate(0, 1, 0)

	list := &ActivityList{Running: []Card{}, Other: []Card{}}
	for _, snap := range snapshots {
		card := BuildCard(snap, now, periodStart, periodEnd)
		// The archive view never promotes cards to the running bucket.
		if card.State == StateRunning && query.Status == ActivityStatusActive {
			list.Running = append(list.Running, card)
		} else {
			list.Other = append(list.Other, card)
		}
	}
	return list, nil
}

// Summary is the per-activity aggregation result for an explicit period.
type Summary struct {
	State              ActivityState
	AccumulatedSeconds int64
	LastActivity       string
}

// GetSummary derives state, accumulated seconds over [periodStart,
// periodEnd), and the last-activity line for one activity. The accumulated
// value is recomputed on every call while a session runs; it is never cached.
func (s *Service) GetSummary(ctx context.Context, actor Actor, activityID string, periodStart, periodEnd time.Time) (*Summary, error) {
	snap, err := s.accessibleSnapshot(ctx, actor, activityID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	summary := Summary{
		State:              DeriveState(snap.Sessions),
		AccumulatedSeconds: AccumulatedSeconds(snap.Sessions, periodStart, periodEnd, now),
		LastActivity:       LastActivityText(*snap, now),
	}
	return &summary, nil
}

// AnnotationItem is one row of the "review past notes" listing.
type AnnotationItem struct {
	SessionID    string
	EndedAt      time.Time
	DurationText string
	Text         string
}

// ListAnnotations returns the activity's closed, non-hidden sessions newest
// first, each with its current note and a short duration rendering.
func (s *Service) ListAnnotations(ctx context.Context, actor Actor, activityID string) ([]AnnotationItem, error) {
	snap, err := s.accessibleSnapshot(ctx, actor, activityID)
	if err != nil {
		return nil, err
	}

	items := make([]AnnotationItem, 0, len(snap.Sessions))
	for _, rec := range snap.Sessions {
		sess := rec.Session
		if sess.EndedAt == nil || sess.HiddenFromSummary {
			continue
		}
		text := "no note"
		if note := currentAnnotation(rec.Annotations); note != nil && strings.TrimSpace(note.Text) != "" {
			text = note.Text
		}
		items = append(items, AnnotationItem{
			SessionID:    sess.ID,
			EndedAt:      *sess.EndedAt,
			DurationText: FormatShortDuration(closedDurationSeconds(sess)),
			Text:         text,
		})
	}

	sort.Slice(items, func(i, j int) bool { return items[i].EndedAt.After(items[j].EndedAt) })
	return items, nil
}

// ListClassifications returns the taxonomy used to label activities.
func (s *Service) ListClassifications(ctx context.Context) ([]Classification, error) {
	return s.repo.ListClassifications(ctx)
}

// accessibleActivity resolves an activity the actor may touch. Missing and
// soft-deleted activities are indistinguishable to callers.
func (s *Service) accessibleActivity(ctx context.Context, actor Actor, activityID string) (*Activity, error) {
	activity, err := s.repo.GetActivity(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if activity == nil || activity.Status == ActivityStatusDeleted {
		return nil, ErrNotFound
	}
	if !actor.CanAccess(activity) {
		return nil, ErrForbidden
	}
	return activity, nil
}

func (s *Service) accessibleSession(ctx context.Context, actor Actor, sessionID string) (*Session, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrNotFound
	}
	if _, err := s.accessibleActivity(ctx, actor, session.ActivityID); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) accessibleSnapshot(ctx context.Context, actor Actor, activityID string) (*ActivitySnapshot, error) {
	snap, err := s.repo.GetSnapshot(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if snap == nil || snap.Activity.Status == ActivityStatusDeleted {
		return nil, ErrNotFound
	}
	if !actor.CanAccess(&snap.Activity) {
		return nil, ErrForbidden
	}
	return snap, nil
}
