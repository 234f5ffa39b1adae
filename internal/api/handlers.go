// Package api exposes the HTTP command/query surface of the tracker.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"example.com/timetrack/internal/auth"
	"example.com/timetrack/internal/domain"
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/activities", h.activities)
	mux.HandleFunc("/v1/activities/", h.activityByID)
	mux.HandleFunc("/v1/sessions/", h.sessionByID)
	mux.HandleFunc("/v1/classifications", h.classifications)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) activities(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createActivity(w, r)
	case http.MethodGet:
		h.listActivities(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

// activityByID routes /v1/activities/{id} and its sub-resources.
func (h *Handler) activityByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/activities/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing activity id")
		return
	}

	switch {
	case action == "summary" && r.Method == http.MethodGet:
		h.getSummary(w, r, id)
	case action == "annotations" && r.Method == http.MethodGet:
		h.listAnnotations(w, r, id)
	case action == "start" && r.Method == http.MethodPost:
		h.startOrResume(w, r, id)
	case action == "pause" && r.Method == http.MethodPost:
		h.pause(w, r, id)
	case action == "archive" && r.Method == http.MethodPost:
		h.setLifecycle(w, r, id, h.service.Archive)
	case action == "unarchive" && r.Method == http.MethodPost:
		h.setLifecycle(w, r, id, h.service.Unarchive)
	case action == "delete" && r.Method == http.MethodPost:
		h.setLifecycle(w, r, id, h.service.SoftDelete)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

// sessionByID routes /v1/sessions/{id}/annotation and /v1/sessions/{id}/hide.
func (h *Handler) sessionByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing session id")
		return
	}

	switch {
	case action == "annotation" && r.Method == http.MethodPost:
		h.upsertAnnotation(w, r, id)
	case action == "hide" && r.Method == http.MethodPost:
		h.hideFromSummary(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) createActivity(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r, auth.ScopeTrackerWrite)
	if !ok {
		return
	}

	var req CreateActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	activity, err := h.service.CreateActivity(r.Context(), actor, domain.CreateActivityInput{
		ClassificationID: req.ClassificationID,
		Code:             req.Code,
		Title:            req.Title,
		Description:      req.Description,
		Notes:            req.Notes,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateActivityResponse{ActivityID: activity.ID})
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r, auth.ScopeTrackerRead)
	if !ok {
		return
	}

	query := domain.ActivityQuery{
		Text:             strings.TrimSpace(r.URL.Query().Get("q")),
		ClassificationID: r.URL.Query().Get("classification_id"),
	}

	switch r.URL.Query().Get("scope") {
	case "", "active":
		query.Status = domain.ActivityStatusActive
	case "archived":
		query.Status = domain.ActivityStatusArchived
	default:
		writeError(w, http.StatusBadRequest, "validation_failed", "scope must be active or archived")
		return
	}

	switch r.URL.Query().Get("order") {
	case "", "recent":
		query.Order = domain.OrderRecent
	case "alphabetical":
		query.Order = domain.OrderAlphabetical
	default:
		writeError(w, http.StatusBadRequest, "validation_failed", "order must be recent or alphabetical")
		return
	}

	list, err := h.service.ListActivities(r.Context(), actor, query)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := ListActivitiesResponse{
		Running: make([]CardView, 0, len(list.Running)),
		Other:   make([]CardView, 0, len(list.Other)),
	}
	for _, card := range list.Running {
		resp.Running = append(resp.Running, toCardView(card))
	}
	for _, card := range list.Other {
		resp.Other = append(resp.Other, toCardView(card))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getSummary(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := h.requireActor(w, r, auth.ScopeTrackerRead)
	if !ok {
		return
	}

	periodStart, err := time.Parse(time.RFC3339, r.URL.Query().Get("period_start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "period_start must be RFC3339")
		return
	}
	periodEnd, err := time.Parse(time.RFC3339, r.URL.Query().Get("period_end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "period_end must be RFC3339")
		return
	}

	summary, err := h.service.GetSummary(r.Context(), actor, id, periodStart, periodEnd)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SummaryResponse{
		State:              string(summary.State),
		AccumulatedSeconds: summary.AccumulatedSeconds,
		LastActivity:       summary.LastActivity,
	})
}

func (h *Handler) listAnnotations(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := h.requireActor(w, r, auth.ScopeTrackerRead)
	if !ok {
		return
	}

	items, err := h.service.ListAnnotations(r.Context(), actor, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := AnnotationListResponse{Items: make([]AnnotationView, 0, len(items))}
	for _, item := range items {
		resp.Items = append(resp.Items, AnnotationView{
			SessionID:    item.SessionID,
			EndedAt:      item.EndedAt,
			DurationText: item.DurationText,
			Text:         item.Text,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) startOrResume(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := h.requireActor(w, r, auth.ScopeTrackerWrite)
	if !ok {
		return
	}

	result, err := h.service.StartOrResume(r.Context(), actor, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, StartResponse{
		State:     string(domain.StateRunning),
		SessionID: result.Opened.ID,
		Resumed:   result.Resumed,
	})
}

func (h *Handler) pause(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := h.requireActor(w, r, auth.ScopeTrackerWrite)
	if !ok {
		return
	}

	closed, err := h.service.Pause(r.Context(), actor, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// Pausing an idle activity succeeds with an empty body.
	resp := PauseResponse{}
	if closed != nil {
		resp.SessionID = closed.ID
		if closed.DurationSeconds != nil {
			resp.DurationSeconds = *closed.DurationSeconds
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) setLifecycle(w http.ResponseWriter, r *http.Request, id string, op func(ctx context.Context, actor domain.Actor, activityID string) error) {
	actor, ok := h.requireActor(w, r, auth.ScopeTrackerWrite)
	if !ok {
		return
	}

	if err := op(r.Context(), actor, id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) upsertAnnotation(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := h.requireActor(w, r, auth.ScopeTrackerWrite)
	if !ok {
		return
	}

	var req AnnotationUpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	text, err := h.service.UpsertAnnotation(r.Context(), actor, id, req.Text)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AnnotationUpsertResponse{Text: text})
}

func (h *Handler) hideFromSummary(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := h.requireActor(w, r, auth.ScopeTrackerWrite)
	if !ok {
		return
	}

	if err := h.service.HideFromSummary(r.Context(), actor, id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) classifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := h.requireActor(w, r, auth.ScopeTrackerRead); !ok {
		return
	}

	classifications, err := h.service.ListClassifications(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := ClassificationListResponse{Items: make([]ClassificationView, 0, len(classifications))}
	for _, c := range classifications {
		resp.Items = append(resp.Items, ClassificationView{ID: c.ID, Label: c.Label})
	}
	writeJSON(w, http.StatusOK, resp)
}

// requireActor resolves claims into a domain actor, enforcing the scope.
// Read scope is implied by write scope.
func (h *Handler) requireActor(w http.ResponseWriter, r *http.Request, scope string) (domain.Actor, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return domain.Actor{}, false
	}
	if !claims.HasScope(scope) && !(scope == auth.ScopeTrackerRead && claims.HasScope(auth.ScopeTrackerWrite)) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
		return domain.Actor{}, false
	}
	return domain.Actor{UserID: claims.Subject, Elevated: claims.Elevated()}, true
}

func writeDomainError(w http.ResponseWriter, err error) {
	var validation *domain.ValidationError
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"type":   "validation_failed",
			"field":  validation.Field,
			"detail": validation.Message,
		})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "access denied")
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", "concurrent update, retry the command")
	case errors.Is(err, domain.ErrTransient):
		writeError(w, http.StatusServiceUnavailable, "transient", "storage unavailable, retry the command")
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
