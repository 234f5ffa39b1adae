package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"example.com/timetrack/internal/domain"
)

func seedActivity(t *testing.T, repo *Repository, id, owner string) {
	t.Helper()
	err := repo.CreateActivity(context.Background(), domain.Activity{
		ID:               id,
		OwnerID:          owner,
		ClassificationID: "cls-1",
		Title:            id,
		Status:           domain.ActivityStatusActive,
		CreatedAt:        time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed activity: %v", err)
	}
}

func TestConcurrentStartsKeepSingleOpenSession(t *testing.T) {
	repo := NewRepository()
	repo.SeedClassification(domain.Classification{ID: "cls-1", Label: "Development"})

	const workers = 16
	activities := make([]string, workers)
	for i := range activities {
		id := string(rune('a'+i)) + "-activity"
		activities[i] = id
		seedActivity(t, repo, id, "user-1")
	}

	start := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.StartSession(context.Background(), "user-1", activities[i], start.Add(time.Duration(i)*time.Second))
			if err != nil {
				t.Errorf("start %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if count := repo.OpenSessionCount("user-1"); count != 1 {
		t.Fatalf("owner has %d open sessions, want 1", count)
	}
}

func TestStartSessionClosesOnlyOwnersSessions(t *testing.T) {
	repo := NewRepository()
	repo.SeedClassification(domain.Classification{ID: "cls-1", Label: "Development"})
	seedActivity(t, repo, "act-1", "user-1")
	seedActivity(t, repo, "act-2", "user-2")

	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	ctx := context.Background()

	if _, err := repo.StartSession(ctx, "user-1", "act-1", now); err != nil {
		t.Fatalf("start user-1: %v", err)
	}
	result, err := repo.StartSession(ctx, "user-2", "act-2", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("start user-2: %v", err)
	}
	if result.Closed != nil {
		t.Fatalf("user-2's start closed another owner's session: %+v", result.Closed)
	}
	if repo.OpenSessionCount("user-1") != 1 || repo.OpenSessionCount("user-2") != 1 {
		t.Fatal("each owner should keep exactly one open session")
	}
}

func TestListSnapshotsTextSearchIncludesAnnotations(t *testing.T) {
	repo := NewRepository()
	repo.SeedClassification(domain.Classification{ID: "cls-1", Label: "Development"})
	seedActivity(t, repo, "act-1", "user-1")

	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	ctx := context.Background()

	result, err := repo.StartSession(ctx, "user-1", "act-1", now)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	err = repo.InsertAnnotation(ctx, domain.Annotation{
		ID:        "note-1",
		SessionID: result.Opened.ID,
		NotedAt:   now,
		Text:      "migrated billing tables",
	})
	if err != nil {
		t.Fatalf("insert annotation: %v", err)
	}

	matched, err := repo.ListSnapshots(ctx, domain.ActivityQuery{
		OwnerID: "user-1",
		Status:  domain.ActivityStatusActive,
		Text:    "billing",
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(matched) != 1 {
		t.Fatalf("text search on annotations matched %d snapshots, want 1", len(matched))
	}

	missed, err := repo.ListSnapshots(ctx, domain.ActivityQuery{
		OwnerID: "user-1",
		Status:  domain.ActivityStatusActive,
		Text:    "payroll",
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(missed) != 0 {
		t.Fatalf("unexpected match: %+v", missed)
	}
}
