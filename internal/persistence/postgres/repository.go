// Package postgres provides pgx-backed persistence for activities,
// sessions, annotations, and the transactional outbox.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/timetrack/internal/domain"
	"example.com/timetrack/internal/events"
	"example.com/timetrack/internal/observability"
)

// openSessionConstraint is the partial unique index that rejects a second
// open session per owner. Violations surface as domain.ErrConflict.
const openSessionConstraint = "uq_sessions_owner_open"

const sessionColumns = "session_id, activity_id, owner_id, started_at, ended_at, duration_seconds, hidden_from_summary"

const activityColumns = "activity_id, owner_id, classification_id, code, title, description, notes, status, created_at, deleted_at"

// Repository provides Postgres-backed persistence and records outbox events
// inside the same transaction as each mutation.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateActivity persists the activity and an activity.created outbox row.
func (r *Repository) CreateActivity(ctx context.Context, activity domain.Activity) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback(ctx)

	const stmt = `INSERT INTO activities (activity_id, owner_id, classification_id, code, title, description, notes, status, created_at, deleted_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

	_, err = tx.Exec(ctx, stmt,
		activity.ID,
		activity.OwnerID,
		activity.ClassificationID,
		nullIfEmpty(activity.Code),
		activity.Title,
		nullIfEmpty(activity.Description),
		nullIfEmpty(activity.Notes),
		activity.Status,
		activity.CreatedAt,
		activity.DeletedAt,
	)
	if err != nil {
		return mapError(err)
	}

	if err := insertOutbox(ctx, tx, "activity", activity.ID, "activity.created", activity.ID, events.ActivityCreated{
		ActivityID:       activity.ID,
		OwnerID:          activity.OwnerID,
		ClassificationID: activity.ClassificationID,
		Title:            activity.Title,
		CreatedAt:        activity.CreatedAt,
	}); err != nil {
		return mapError(err)
	}

	return mapError(tx.Commit(ctx))
}

// GetActivity fetches an activity row without status filtering; lifecycle
// visibility decisions belong to the domain layer.
func (r *Repository) GetActivity(ctx context.Context, activityID string) (*domain.Activity, error) {
	const query = `SELECT ` + activityColumns + ` FROM activities WHERE activity_id=$1`

	row := r.pool.QueryRow(ctx, query, activityID)
	activity, err := scanActivity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, mapError(err)
	}
	return activity, nil
}

// SetActivityStatus updates the lifecycle tag and deletion timestamp.
func (r *Repository) SetActivityStatus(ctx context.Context, activityID string, status domain.ActivityStatus, deletedAt *time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE activities SET status=$2, deleted_at=$3 WHERE activity_id=$1`,
		activityID, status, deletedAt,
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// StartSession runs the enforcer's close-then-open sequence in a single
// transaction: close the owner's open session on any other activity, then
// open one on the target unless it is already running. The partial unique
// index backs this up under concurrency.
func (r *Repository) StartSession(ctx context.Context, ownerID, activityID string, now time.Time) (*domain.StartResult, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, mapError(err)
	}
	defer tx.Rollback(ctx)

	const closeOther = `UPDATE sessions
        SET ended_at=$1, duration_seconds=FLOOR(EXTRACT(EPOCH FROM ($1::timestamptz - started_at)))::bigint
        WHERE owner_id=$2 AND ended_at IS NULL AND activity_id <> $3
        RETURNING ` + sessionColumns

	result := domain.StartResult{}
	closed, err := scanSession(tx.QueryRow(ctx, closeOther, now, ownerID, activityID))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, mapError(err)
	}
	if closed != nil {
		result.Closed = closed
		if err := insertSessionClosed(ctx, tx, *closed); err != nil {
			return nil, mapError(err)
		}
	}

	const findOpen = `SELECT ` + sessionColumns + ` FROM sessions WHERE activity_id=$1 AND ended_at IS NULL`
	open, err := scanSession(tx.QueryRow(ctx, findOpen, activityID))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, mapError(err)
	}

	if open != nil {
		result.Opened = *open
		result.Resumed = true
		if err := tx.Commit(ctx); err != nil {
			return nil, mapError(err)
		}
		return &result, nil
	}

	opened := domain.Session{
		ID:         uuid.NewString(),
		ActivityID: activityID,
		OwnerID:    ownerID,
		StartedAt:  now,
	}

	const insert = `INSERT INTO sessions (session_id, activity_id, owner_id, started_at, ended_at, duration_seconds, hidden_from_summary)
        VALUES ($1,$2,$3,$4,NULL,NULL,FALSE)`
	if _, err := tx.Exec(ctx, insert, opened.ID, opened.ActivityID, opened.OwnerID, opened.StartedAt); err != nil {
		return nil, mapError(err)
	}

	if err := insertOutbox(ctx, tx, "session", opened.ID, "session.started", ownerID, events.SessionStarted{
		SessionID:  opened.ID,
		ActivityID: opened.ActivityID,
		OwnerID:    opened.OwnerID,
		StartedAt:  opened.StartedAt,
	}); err != nil {
		return nil, mapError(err)
	}

	result.Opened = opened
	if err := tx.Commit(ctx); err != nil {
		return nil, mapError(err)
	}
	observability.RecordSessionStarted(opened.StartedAt)
	return &result, nil
}

// CloseOpenSession closes the activity's open session, storing its duration
// in whole seconds. Returns nil when nothing was open.
func (r *Repository) CloseOpenSession(ctx context.Context, activityID string, now time.Time) (*domain.Session, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, mapError(err)
	}
	defer tx.Rollback(ctx)

	const stmt = `UPDATE sessions
        SET ended_at=$1, duration_seconds=FLOOR(EXTRACT(EPOCH FROM ($1::timestamptz - started_at)))::bigint
        WHERE activity_id=$2 AND ended_at IS NULL
        RETURNING ` + sessionColumns

	closed, err := scanSession(tx.QueryRow(ctx, stmt, now, activityID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tx.Commit(ctx)
		}
		return nil, mapError(err)
	}

	if err := insertSessionClosed(ctx, tx, *closed); err != nil {
		return nil, mapError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapError(err)
	}
	observability.RecordSessionClosed(*closed.EndedAt)
	return closed, nil
}

// GetSession fetches one session row.
func (r *Repository) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM sessions WHERE session_id=$1`

	session, err := scanSession(r.pool.QueryRow(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, mapError(err)
	}
	return session, nil
}

// HideSessionFromSummary flags the session out of the notes listing.
func (r *Repository) HideSessionFromSummary(ctx context.Context, sessionID string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE sessions SET hidden_from_summary=TRUE WHERE session_id=$1`, sessionID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CurrentAnnotation returns the most recently noted non-hidden annotation.
func (r *Repository) CurrentAnnotation(ctx context.Context, sessionID string) (*domain.Annotation, error) {
	const query = `SELECT annotation_id, session_id, noted_at, body, hidden
        FROM annotations WHERE session_id=$1 AND NOT hidden
        ORDER BY noted_at DESC LIMIT 1`

	var note domain.Annotation
	err := r.pool.QueryRow(ctx, query, sessionID).Scan(&note.ID, &note.SessionID, &note.NotedAt, &note.Text, &note.Hidden)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, mapError(err)
	}
	return &note, nil
}

// InsertAnnotation stores a new annotation row.
func (r *Repository) InsertAnnotation(ctx context.Context, annotation domain.Annotation) error {
	const stmt = `INSERT INTO annotations (annotation_id, session_id, noted_at, body, hidden)
        VALUES ($1,$2,$3,$4,$5)`
	_, err := r.pool.Exec(ctx, stmt, annotation.ID, annotation.SessionID, annotation.NotedAt, annotation.Text, annotation.Hidden)
	return mapError(err)
}

// UpdateAnnotation overwrites the annotation text and bumps its timestamp.
func (r *Repository) UpdateAnnotation(ctx context.Context, annotationID, text string, notedAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE annotations SET body=$2, noted_at=$3 WHERE annotation_id=$1`,
		annotationID, text, notedAt,
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetSnapshot loads one activity with all its sessions and annotations.
func (r *Repository) GetSnapshot(ctx context.Context, activityID string) (*domain.ActivitySnapshot, error) {
	const query = `SELECT a.activity_id, a.owner_id, a.classification_id, a.code, a.title, a.description, a.notes, a.status, a.created_at, a.deleted_at, c.label
        FROM activities a
        LEFT JOIN classifications c ON c.classification_id = a.classification_id
        WHERE a.activity_id=$1`

	row := r.pool.QueryRow(ctx, query, activityID)
	var activity domain.Activity
	var code, description, notes, label *string
	err := row.Scan(&activity.ID, &activity.OwnerID, &activity.ClassificationID, &code, &activity.Title,
		&description, &notes, &activity.Status, &activity.CreatedAt, &activity.DeletedAt, &label)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, mapError(err)
	}
	activity.Code = deref(code)
	activity.Description = deref(description)
	activity.Notes = deref(notes)

	snap := domain.ActivitySnapshot{Activity: activity, Classification: deref(label)}

	sessions, err := r.loadSessions(ctx, []string{activityID})
	if err != nil {
		return nil, err
	}
	snap.Sessions = sessions[activityID]
	return &snap, nil
}

// ListSnapshots loads activities matching the query, each with its sessions
// and annotations. The text filter spans title, description, code,
// classification label, and annotation text.
func (r *Repository) ListSnapshots(ctx context.Context, query domain.ActivityQuery) ([]domain.ActivitySnapshot, error) {
	sql := `SELECT a.activity_id, a.owner_id, a.classification_id, a.code, a.title, a.description, a.notes, a.status, a.created_at, a.deleted_at, c.label
        FROM activities a
        LEFT JOIN classifications c ON c.classification_id = a.classification_id
        WHERE a.status=$1`
	args := []interface{}{query.Status}

	if query.OwnerID != "" {
		args = append(args, query.OwnerID)
		sql += fmt.Sprintf(" AND a.owner_id=$%d", len(args))
	}
	if query.ClassificationID != "" {
		args = append(args, query.ClassificationID)
		sql += fmt.Sprintf(" AND a.classification_id=$%d", len(args))
	}
	if query.Text != "" {
		args = append(args, "%"+query.Text+"%")
		n := len(args)
		sql += fmt.Sprintf(` AND (a.title ILIKE $%d OR a.description ILIKE $%d OR a.code ILIKE $%d OR c.label ILIKE $%d
            OR EXISTS (
                SELECT 1 FROM sessions s
                JOIN annotations n ON n.session_id = s.session_id
                WHERE s.activity_id = a.activity_id AND n.body ILIKE $%d
            ))`, n, n, n, n, n)
	}

	if query.Order == domain.OrderAlphabetical {
		sql += " ORDER BY a.title ASC"
	} else {
		sql += " ORDER BY a.created_at DESC"
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	snapshots := make([]domain.ActivitySnapshot, 0)
	ids := make([]string, 0)
	for rows.Next() {
		var activity domain.Activity
		var code, description, notes, label *string
		if err := rows.Scan(&activity.ID, &activity.OwnerID, &activity.ClassificationID, &code, &activity.Title,
			&description, &notes, &activity.Status, &activity.CreatedAt, &activity.DeletedAt, &label); err != nil {
			return nil, mapError(err)
		}
		activity.Code = deref(code)
		activity.Description = deref(description)
		activity.Notes = deref(notes)
		snapshots = append(snapshots, domain.ActivitySnapshot{Activity: activity, Classification: deref(label)})
		ids = append(ids, activity.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}

	if len(ids) == 0 {
		return snapshots, nil
	}

	sessions, err := r.loadSessions(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range snapshots {
		snapshots[i].Sessions = sessions[snapshots[i].Activity.ID]
	}
	return snapshots, nil
}

// ListClassifications returns the taxonomy ordered by label.
func (r *Repository) ListClassifications(ctx context.Context) ([]domain.Classification, error) {
	rows, err := r.pool.Query(ctx, `SELECT classification_id, label FROM classifications ORDER BY label`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make([]domain.Classification, 0)
	for rows.Next() {
		var c domain.Classification
		if err := rows.Scan(&c.ID, &c.Label); err != nil {
			return nil, mapError(err)
		}
		out = append(out, c)
	}
	return out, mapError(rows.Err())
}

// loadSessions fetches sessions and annotations for the given activities,
// grouped by activity id with sessions ordered by start.
func (r *Repository) loadSessions(ctx context.Context, activityIDs []string) (map[string][]domain.SessionRecord, error) {
	const sessionQuery = `SELECT ` + sessionColumns + ` FROM sessions WHERE activity_id = ANY($1) ORDER BY started_at`

	rows, err := r.pool.Query(ctx, sessionQuery, activityIDs)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	sessions := make([]domain.Session, 0)
	sessionIDs := make([]string, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, mapError(err)
		}
		sessions = append(sessions, *session)
		sessionIDs = append(sessionIDs, session.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}

	notes := make(map[string][]domain.Annotation)
	if len(sessionIDs) > 0 {
		const noteQuery = `SELECT annotation_id, session_id, noted_at, body, hidden
            FROM annotations WHERE session_id = ANY($1) ORDER BY noted_at`

		noteRows, err := r.pool.Query(ctx, noteQuery, sessionIDs)
		if err != nil {
			return nil, mapError(err)
		}
		defer noteRows.Close()

		for noteRows.Next() {
			var note domain.Annotation
			if err := noteRows.Scan(&note.ID, &note.SessionID, &note.NotedAt, &note.Text, &note.Hidden); err != nil {
				return nil, mapError(err)
			}
			notes[note.SessionID] = append(notes[note.SessionID], note)
		}
		if err := noteRows.Err(); err != nil {
			return nil, mapError(err)
		}
	}

	byActivity := make(map[string][]domain.SessionRecord)
	for _, session := range sessions {
		byActivity[session.ActivityID] = append(byActivity[session.ActivityID], domain.SessionRecord{
			Session:     session,
			Annotations: notes[session.ID],
		})
	}
	return byActivity, nil
}

func insertSessionClosed(ctx context.Context, tx pgx.Tx, closed domain.Session) error {
	var duration int64
	if closed.DurationSeconds != nil {
		duration = *closed.DurationSeconds
	}
	return insertOutbox(ctx, tx, "session", closed.ID, "session.closed", closed.OwnerID, events.SessionClosed{
		SessionID:       closed.ID,
		ActivityID:      closed.ActivityID,
		OwnerID:         closed.OwnerID,
		StartedAt:       closed.StartedAt,
		EndedAt:         *closed.EndedAt,
		DurationSeconds: duration,
	})
}

func insertOutbox(ctx context.Context, tx pgx.Tx, aggregateType, aggregateID, eventType, partitionKey string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}
	dedupeKey := fmt.Sprintf("%s:%s", aggregateID, eventType)

	const stmt = `INSERT INTO outbox (owner_key, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = tx.Exec(ctx, stmt,
		partitionKey,
		aggregateType,
		aggregateID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		partitionKey,
		body,
		dedupeKey,
	)
	return err
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
}

var eventCatalog = map[string]EventMetadata{
	"activity.created": {
		Topic:         "activity_events",
		SchemaSubject: "activity_events-value",
	},
	"session.started": {
		Topic:         "timer_events",
		SchemaSubject: "timer_events-value",
	},
	"session.closed": {
		Topic:         "timer_events",
		SchemaSubject: "timer_events-value",
	},
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var session domain.Session
	err := row.Scan(&session.ID, &session.ActivityID, &session.OwnerID, &session.StartedAt,
		&session.EndedAt, &session.DurationSeconds, &session.HiddenFromSummary)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func scanActivity(row rowScanner) (*domain.Activity, error) {
	var activity domain.Activity
	var code, description, notes *string
	err := row.Scan(&activity.ID, &activity.OwnerID, &activity.ClassificationID, &code, &activity.Title,
		&description, &notes, &activity.Status, &activity.CreatedAt, &activity.DeletedAt)
	if err != nil {
		return nil, err
	}
	activity.Code = deref(code)
	activity.Description = deref(description)
	activity.Notes = deref(notes)
	return &activity, nil
}

// mapError translates storage failures into the domain taxonomy: the
// open-session unique index becomes Conflict, connectivity problems become
// Transient, anything else passes through.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" && pgErr.ConstraintName == openSessionConstraint {
			return fmt.Errorf("%w: %v", domain.ErrConflict, err)
		}
		return err
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	return err
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
