package domain_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"example.com/timetrack/internal/domain"
	"example.com/timetrack/internal/persistence/memory"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newFixture(t *testing.T) (*domain.Service, *memory.Repository, *fakeClock) {
	t.Helper()
	repo := memory.NewRepository()
	repo.SeedClassification(domain.Classification{ID: "cls-1", Label: "Development"})
	clock := &fakeClock{now: time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)}
	return domain.NewService(repo, clock), repo, clock
}

func createActivity(t *testing.T, svc *domain.Service, actor domain.Actor, title string) *domain.Activity {
	t.Helper()
	activity, err := svc.CreateActivity(context.Background(), actor, domain.CreateActivityInput{
		ClassificationID: "cls-1",
		Title:            title,
	})
	if err != nil {
		t.Fatalf("create activity: %v", err)
	}
	return activity
}

func TestCreateActivityRequiresTitle(t *testing.T) {
	svc, _, _ := newFixture(t)
	actor := domain.Actor{UserID: "user-1"}

	_, err := svc.CreateActivity(context.Background(), actor, domain.CreateActivityInput{
		ClassificationID: "cls-1",
		Title:            "   ",
	})

	var validation *domain.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if validation.Field != "title" {
		t.Fatalf("expected field title, got %s", validation.Field)
	}
}

func TestStartClosesSessionOnOtherActivity(t *testing.T) {
	svc, repo, clock := newFixture(t)
	actor := domain.Actor{UserID: "user-1"}
	ctx := context.Background()

	first := createActivity(t, svc, actor, "Backend")
	second := createActivity(t, svc, actor, "Frontend")

	if _, err := svc.StartOrResume(ctx, actor, first.ID); err != nil {
		t.Fatalf("start first: %v", err)
	}

	clock.advance(25 * time.Minute)

	result, err := svc.StartOrResume(ctx, actor, second.ID)
	if err != nil {
		t.Fatalf("start second: %v", err)
	}

	if result.Closed == nil {
		t.Fatal("expected the first activity's session to be closed")
	}
	if result.Closed.ActivityID != first.ID {
		t.Fatalf("closed session belongs to %s, want %s", result.Closed.ActivityID, first.ID)
	}
	if result.Closed.DurationSeconds == nil || *result.Closed.DurationSeconds != 25*60 {
		t.Fatalf("unexpected closed duration: %v", result.Closed.DurationSeconds)
	}
	if result.Opened.ActivityID != second.ID {
		t.Fatalf("opened session belongs to %s, want %s", result.Opened.ActivityID, second.ID)
	}
	if count := repo.OpenSessionCount(actor.UserID); count != 1 {
		t.Fatalf("owner has %d open sessions, want 1", count)
	}
}

func TestStartIsIdempotentResume(t *testing.T) {
	svc, repo, clock := newFixture(t)
	actor := domain.Actor{UserID: "user-1"}
	ctx := context.Background()

	activity := createActivity(t, svc, actor, "Backend")

	first, err := svc.StartOrResume(ctx, actor, activity.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	clock.advance(time.Minute)

	again, err := svc.StartOrResume(ctx, actor, activity.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !again.Resumed {
		t.Fatal("expected resume to be flagged")
	}
	if again.Opened.ID != first.Opened.ID {
		t.Fatalf("resume opened a new session %s, want %s", again.Opened.ID, first.Opened.ID)
	}
	if count := repo.OpenSessionCount(actor.UserID); count != 1 {
		t.Fatalf("owner has %d open sessions, want 1", count)
	}
}

func TestPauseComputesDurationOnce(t *testing.T) {
	svc, _, clock := newFixture(t)
	actor := domain.Actor{UserID: "user-1"}
	ctx := context.Background()

	activity := createActivity(t, svc, actor, "Backend")
	if _, err := svc.StartOrResume(ctx, actor, activity.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	clock.advance(95*time.Second + 700*time.Millisecond)

	closed, err := svc.Pause(ctx, actor, activity.ID)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if closed == nil {
		t.Fatal("expected a closed session")
	}
	if closed.DurationSeconds == nil || *closed.DurationSeconds != 95 {
		t.Fatalf("unexpected duration: %v, want floored 95", closed.DurationSeconds)
	}
}

func TestPauseIdleActivityIsNoOp(t *testing.T) {
	svc, _, _ := newFixture(t)
	actor := domain.Actor{UserID: "user-1"}

	activity := createActivity(t, svc, actor, "Backend")

	closed, err := svc.Pause(context.Background(), actor, activity.ID)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if closed != nil {
		t.Fatalf("expected no closed session, got %+v", closed)
	}
}

func TestAnnotationUpsertOverwritesInPlace(t *testing.T) {
	svc, repo, clock := newFixture(t)
	actor := domain.Actor{UserID: "user-1"}
	ctx := context.Background()

	activity := createActivity(t, svc, actor, "Backend")
	started, err := svc.StartOrResume(ctx, actor, activity.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	sessionID := started.Opened.ID

	if _, err := svc.UpsertAnnotation(ctx, actor, sessionID, "first draft"); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	firstNote, err := repo.CurrentAnnotation(ctx, sessionID)
	if err != nil || firstNote == nil {
		t.Fatalf("current annotation: %v %v", firstNote, err)
	}

	clock.advance(5 * time.Minute)

	if _, err := svc.UpsertAnnotation(ctx, actor, sessionID, "final text"); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	secondNote, err := repo.CurrentAnnotation(ctx, sessionID)
	if err != nil || secondNote == nil {
		t.Fatalf("current annotation: %v %v", secondNote, err)
	}

	if secondNote.ID != firstNote.ID {
		t.Fatalf("upsert created a new annotation %s, want update of %s", secondNote.ID, firstNote.ID)
	}
	if secondNote.Text != "final text" {
		t.Fatalf("unexpected text %q", secondNote.Text)
	}
}

func TestAnnotationBlankWithoutExistingIsNoOp(t *testing.T) {
	svc, repo, _ := newFixture(t)
	actor := domain.Actor{UserID: "user-1"}
	ctx := context.Background()

	activity := createActivity(t, svc, actor, "Backend")
	started, err := svc.StartOrResume(ctx, actor, activity.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	text, err := svc.UpsertAnnotation(ctx, actor, started.Opened.ID, "   ")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if text != "" {
		t.Fatalf("expected empty text, got %q", text)
	}
	note, err := repo.CurrentAnnotation(ctx, started.Opened.ID)
	if err != nil {
		t.Fatalf("current annotation: %v", err)
	}
	if note != nil {
		t.Fatalf("expected no annotation, got %+v", note)
	}
}

func TestHiddenSessionStillCountsTowardSummary(t *testing.T) {
	svc, _, clock := newFixture(t)
	actor := domain.Actor{UserID: "user-1"}
	ctx := context.Background()

	activity := createActivity(t, svc, actor, "Backend")
	started, err := svc.StartOrResume(ctx, actor, activity.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	clock.advance(10 * time.Minute)
	if _, err := svc.Pause(ctx, actor, activity.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}

	if err := svc.HideFromSummary(ctx, actor, started.Opened.ID); err != nil {
		t.Fatalf("hide: %v", err)
	}

	periodStart := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := periodStart.AddDate(0, 1, 0)
	summary, err := svc.GetSummary(ctx, actor, activity.ID, periodStart, periodEnd)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.AccumulatedSeconds != 10*60 {
		t.Fatalf("hidden session dropped from totals: got %d", summary.AccumulatedSeconds)
	}

	items, err := svc.ListAnnotations(ctx, actor, activity.ID)
	if err != nil {
		t.Fatalf("list annotations: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("hidden session still listed: %+v", items)
	}
}

func TestSoftDeletedActivityIsInvisible(t *testing.T) {
	svc, _, _ := newFixture(t)
	owner := domain.Actor{UserID: "user-1"}
	admin := domain.Actor{UserID: "ops-1", Elevated: true}
	ctx := context.Background()

	activity := createActivity(t, svc, owner, "Backend")

	if err := svc.SoftDelete(ctx, owner, activity.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := svc.StartOrResume(ctx, owner, activity.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("owner start after delete: got %v, want ErrNotFound", err)
	}
	if _, err := svc.GetSummary(ctx, admin, activity.ID, time.Time{}, time.Time{}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("elevated summary after delete: got %v, want ErrNotFound", err)
	}
}

func TestNonOwnerIsForbidden(t *testing.T) {
	svc, _, _ := newFixture(t)
	owner := domain.Actor{UserID: "user-1"}
	stranger := domain.Actor{UserID: "user-2"}
	admin := domain.Actor{UserID: "ops-1", Elevated: true}
	ctx := context.Background()

	activity := createActivity(t, svc, owner, "Backend")

	if _, err := svc.StartOrResume(ctx, stranger, activity.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("stranger start: got %v, want ErrForbidden", err)
	}

	// Elevated actors act on the owner's behalf; the session still belongs
	// to the owner.
	result, err := svc.StartOrResume(ctx, admin, activity.ID)
	if err != nil {
		t.Fatalf("elevated start: %v", err)
	}
	if result.Opened.OwnerID != owner.UserID {
		t.Fatalf("session owner %s, want %s", result.Opened.OwnerID, owner.UserID)
	}
}

func TestListActivitiesSplitsRunning(t *testing.T) {
	svc, _, _ := newFixture(t)
	actor := domain.Actor{UserID: "user-1"}
	ctx := context.Background()

	running := createActivity(t, svc, actor, "Backend")
	createActivity(t, svc, actor, "Frontend")

	if _, err := svc.StartOrResume(ctx, actor, running.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	list, err := svc.ListActivities(ctx, actor, domain.ActivityQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list.Running) != 1 || list.Running[0].ActivityID != running.ID {
		t.Fatalf("unexpected running bucket: %+v", list.Running)
	}
	if len(list.Other) != 1 {
		t.Fatalf("unexpected other bucket: %+v", list.Other)
	}
	if list.Running[0].OpenStartedAt == nil {
		t.Fatal("running card missing open start timestamp")
	}
}

func TestListActivitiesScopesNonElevatedToOwner(t *testing.T) {
	svc, _, _ := newFixture(t)
	first := domain.Actor{UserID: "user-1"}
	second := domain.Actor{UserID: "user-2"}
	admin := domain.Actor{UserID: "ops-1", Elevated: true}
	ctx := context.Background()

	createActivity(t, svc, first, "Backend")
	createActivity(t, svc, second, "Frontend")

	mine, err := svc.ListActivities(ctx, first, domain.ActivityQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := len(mine.Running) + len(mine.Other); got != 1 {
		t.Fatalf("owner sees %d activities, want 1", got)
	}

	all, err := svc.ListActivities(ctx, admin, domain.ActivityQuery{})
	if err != nil {
		t.Fatalf("elevated list: %v", err)
	}
	if got := len(all.Running) + len(all.Other); got != 2 {
		t.Fatalf("elevated actor sees %d activities, want 2", got)
	}
}

func TestSummaryNotStartedFallsBackToCreationDate(t *testing.T) {
	svc, _, clock := newFixture(t)
	actor := domain.Actor{UserID: "user-1"}
	ctx := context.Background()

	activity := createActivity(t, svc, actor, "Backend")

	periodStart := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	summary, err := svc.GetSummary(ctx, actor, activity.ID, periodStart, periodStart.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.State != domain.StateNotStarted {
		t.Fatalf("state %s, want %s", summary.State, domain.StateNotStarted)
	}
	want := "Created on " + clock.Now().Format("02/01/2006")
	if summary.LastActivity != want {
		t.Fatalf("last activity %q, want %q", summary.LastActivity, want)
	}
}

func TestSwitchPauseAnnotateRoundTrip(t *testing.T) {
	svc, _, clock := newFixture(t)
	actor := domain.Actor{UserID: "user-1"}
	ctx := context.Background()

	a := createActivity(t, svc, actor, "Alpha")
	b := createActivity(t, svc, actor, "Beta")

	if _, err := svc.StartOrResume(ctx, actor, a.ID); err != nil {
		t.Fatalf("start A: %v", err)
	}
	clock.advance(20 * time.Minute)

	if _, err := svc.StartOrResume(ctx, actor, b.ID); err != nil {
		t.Fatalf("start B: %v", err)
	}
	clock.advance(12 * time.Minute)

	closed, err := svc.Pause(ctx, actor, b.ID)
	if err != nil {
		t.Fatalf("pause B: %v", err)
	}
	if closed == nil || *closed.DurationSeconds != 12*60 {
		t.Fatalf("unexpected pause result: %+v", closed)
	}

	if _, err := svc.UpsertAnnotation(ctx, actor, closed.ID, "reviewed spec"); err != nil {
		t.Fatalf("annotate: %v", err)
	}

	items, err := svc.ListAnnotations(ctx, actor, b.ID)
	if err != nil {
		t.Fatalf("list annotations: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected one annotation entry, got %d", len(items))
	}
	if items[0].Text != "reviewed spec" {
		t.Fatalf("unexpected note text %q", items[0].Text)
	}
	if items[0].DurationText != "12 min" {
		t.Fatalf("unexpected duration text %q", items[0].DurationText)
	}

	// Both activities are paused now.
	periodStart := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := periodStart.AddDate(0, 1, 0)
	summaryA, err := svc.GetSummary(ctx, actor, a.ID, periodStart, periodEnd)
	if err != nil {
		t.Fatalf("summary A: %v", err)
	}
	if summaryA.State != domain.StatePaused || summaryA.AccumulatedSeconds != 20*60 {
		t.Fatalf("unexpected summary for A: %+v", summaryA)
	}
}

// conflictRepo wraps the memory repository and forces one ErrConflict from
// StartSession, mimicking a lost race on the open-session constraint.
type conflictRepo struct {
	domain.Repository
	conflicts int
	calls     int
}

func (r *conflictRepo) StartSession(ctx context.Context, ownerID, activityID string, now time.Time) (*domain.StartResult, error) {
	r.calls++
	if r.conflicts > 0 {
		r.conflicts--
		return nil, domain.ErrConflict
	}
	return r.Repository.StartSession(ctx, ownerID, activityID, now)
}

func TestStartRetriesOnceOnConflict(t *testing.T) {
	repo := memory.NewRepository()
	repo.SeedClassification(domain.Classification{ID: "cls-1", Label: "Development"})
	clock := &fakeClock{now: time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)}
	wrapped := &conflictRepo{Repository: repo, conflicts: 1}
	svc := domain.NewService(wrapped, clock)
	actor := domain.Actor{UserID: "user-1"}
	ctx := context.Background()

	activity := createActivity(t, svc, actor, "Backend")

	result, err := svc.StartOrResume(ctx, actor, activity.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if result.Opened.ActivityID != activity.ID {
		t.Fatalf("opened session on %s, want %s", result.Opened.ActivityID, activity.ID)
	}
	if wrapped.calls != 2 {
		t.Fatalf("StartSession called %d times, want 2", wrapped.calls)
	}
}

func TestStartGivesUpAfterSecondConflict(t *testing.T) {
	repo := memory.NewRepository()
	repo.SeedClassification(domain.Classification{ID: "cls-1", Label: "Development"})
	clock := &fakeClock{now: time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)}
	wrapped := &conflictRepo{Repository: repo, conflicts: 2}
	svc := domain.NewService(wrapped, clock)
	actor := domain.Actor{UserID: "user-1"}
	ctx := context.Background()

	activity := createActivity(t, svc, actor, "Backend")

	if _, err := svc.StartOrResume(ctx, actor, activity.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}
	if wrapped.calls != 2 {
		t.Fatalf("StartSession called %d times, want 2", wrapped.calls)
	}
}
