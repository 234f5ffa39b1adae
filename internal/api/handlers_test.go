package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"example.com/timetrack/internal/auth"
	"example.com/timetrack/internal/domain"
	"example.com/timetrack/internal/persistence/memory"
)

func newTestHandler(t *testing.T) (*Handler, *http.ServeMux, *memory.Repository) {
	t.Helper()
	repo := memory.NewRepository()
	repo.SeedClassification(domain.Classification{ID: "cls-1", Label: "Development"})
	service := domain.NewService(repo, nil)
	handler := NewHandler(service)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	return handler, mux, repo
}

func withClaims(req *http.Request, subject string, scopes ...string) *http.Request {
	claims := &auth.Claims{
		Subject:   subject,
		Scopes:    make(map[string]struct{}, len(scopes)),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	for _, scope := range scopes {
		claims.Scopes[scope] = struct{}{}
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

func TestCreateActivitySuccess(t *testing.T) {
	_, mux, _ := newTestHandler(t)

	body := `{"classification_id":"cls-1","title":"Backend","description":"API work"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/activities", strings.NewReader(body))
	req = withClaims(req, "user-1", auth.ScopeTrackerWrite)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp CreateActivityResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ActivityID == "" {
		t.Fatal("expected an activity id")
	}
}

func TestCreateActivityValidation(t *testing.T) {
	_, mux, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/activities", strings.NewReader(`{"classification_id":"cls-1"}`))
	req = withClaims(req, "user-1", auth.ScopeTrackerWrite)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d: %s", rr.Code, rr.Body.String())
	}

	var payload map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload["type"] != "validation_failed" || payload["field"] != "title" {
		t.Fatalf("unexpected error payload: %v", payload)
	}
}

func TestStartThenPauseRoundTrip(t *testing.T) {
	_, mux, _ := newTestHandler(t)

	createReq := httptest.NewRequest(http.MethodPost, "/v1/activities", strings.NewReader(`{"classification_id":"cls-1","title":"Backend"}`))
	createReq = withClaims(createReq, "user-1", auth.ScopeTrackerWrite)
	createRR := httptest.NewRecorder()
	mux.ServeHTTP(createRR, createReq)
	if createRR.Code != http.StatusCreated {
		t.Fatalf("create failed: %d %s", createRR.Code, createRR.Body.String())
	}
	var created CreateActivityResponse
	if err := json.Unmarshal(createRR.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create: %v", err)
	}

	startReq := httptest.NewRequest(http.MethodPost, "/v1/activities/"+created.ActivityID+"/start", nil)
	startReq = withClaims(startReq, "user-1", auth.ScopeTrackerWrite)
	startRR := httptest.NewRecorder()
	mux.ServeHTTP(startRR, startReq)
	if startRR.Code != http.StatusOK {
		t.Fatalf("start failed: %d %s", startRR.Code, startRR.Body.String())
	}
	var started StartResponse
	if err := json.Unmarshal(startRR.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode start: %v", err)
	}
	if started.State != "running" || started.SessionID == "" {
		t.Fatalf("unexpected start response: %+v", started)
	}

	pauseReq := httptest.NewRequest(http.MethodPost, "/v1/activities/"+created.ActivityID+"/pause", nil)
	pauseReq = withClaims(pauseReq, "user-1", auth.ScopeTrackerWrite)
	pauseRR := httptest.NewRecorder()
	mux.ServeHTTP(pauseRR, pauseReq)
	if pauseRR.Code != http.StatusOK {
		t.Fatalf("pause failed: %d %s", pauseRR.Code, pauseRR.Body.String())
	}
	var paused PauseResponse
	if err := json.Unmarshal(pauseRR.Body.Bytes(), &paused); err != nil {
		t.Fatalf("decode pause: %v", err)
	}
	if paused.SessionID != started.SessionID {
		t.Fatalf("paused session %s, want %s", paused.SessionID, started.SessionID)
	}
}

func TestStartUnknownActivityReturns404(t *testing.T) {
	_, mux, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/activities/missing/start", nil)
	req = withClaims(req, "user-1", auth.ScopeTrackerWrite)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestMissingClaimsReturns401(t *testing.T) {
	_, mux, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/activities", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
}

func TestMissingScopeReturns403(t *testing.T) {
	_, mux, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/activities", strings.NewReader(`{}`))
	req = withClaims(req, "user-1", auth.ScopeTrackerRead)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestWriteScopeImpliesRead(t *testing.T) {
	_, mux, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/activities", nil)
	req = withClaims(req, "user-1", auth.ScopeTrackerWrite)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestListActivitiesRejectsUnknownScope(t *testing.T) {
	_, mux, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/activities?scope=trash", nil)
	req = withClaims(req, "user-1", auth.ScopeTrackerRead)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestSummaryRequiresPeriod(t *testing.T) {
	_, mux, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/activities/act-1/summary", nil)
	req = withClaims(req, "user-1", auth.ScopeTrackerRead)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestClassificationsListing(t *testing.T) {
	_, mux, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/classifications", nil)
	req = withClaims(req, "user-1", auth.ScopeTrackerRead)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var resp ClassificationListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Label != "Development" {
		t.Fatalf("unexpected classifications: %+v", resp.Items)
	}
}
