package domain

import "time"

// Session is one contiguous start-to-pause interval of work on an activity.
// EndedAt nil means the session is still running. DurationSeconds is written
// exactly once, when the session closes, and never recomputed.
type Session struct {
	ID                string
	ActivityID        string
	OwnerID           string
	StartedAt         time.Time
	EndedAt           *time.Time
	DurationSeconds   *int64
	HiddenFromSummary bool
}

// Open reports whether the session is still running.
func (s Session) Open() bool { return s.EndedAt == nil }

// Annotation is a free-text note attached to a session. Only the most
// recently noted non-hidden row counts as "the note"; older rows are history.
type Annotation struct {
	ID        string
	SessionID string
	NotedAt   time.Time
	Text      string
	Hidden    bool
}

// SessionRecord pairs a session with its annotation history for read paths.
type SessionRecord struct {
	Session     Session
	Annotations []Annotation
}

// ActivitySnapshot is the read model the aggregation functions operate on:
// an activity plus every session and annotation belonging to it.
type ActivitySnapshot struct {
	Activity       Activity
	Classification string
	Sessions       []SessionRecord
}
