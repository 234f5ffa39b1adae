package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ActivityState is the display state derived from an activity's sessions.
type ActivityState string

const (
	StateRunning    ActivityState = "running"
	StatePaused     ActivityState = "paused"
	StateNotStarted ActivityState = "not_started"
)

const dateLayout = "02/01/2006"

// Card is the display projection of one activity.
type Card struct {
	ActivityID     string
	OwnerID        string
	Classification string
	Code           string
	Title          string
	Description    string
	State          ActivityState
	// Accumulated is the HH:MM:SS total for the requested period.
	Accumulated string
	// OpenStartedAt is set while a session runs, so clients can tick a live
	// counter from it.
	OpenStartedAt *time.Time
	LastActivity  string
	// LastSessionDetail is only rendered for paused activities.
	LastSessionDetail string
}

// DeriveState maps sessions to a display state: running if one is open,
// paused if any exist, not started otherwise.
func DeriveState(sessions []SessionRecord) ActivityState {
	for _, rec := range sessions {
		if rec.Session.Open() {
			return StateRunning
		}
	}
	if len(sessions) > 0 {
		return StatePaused
	}
	return StateNotStarted
}

// AccumulatedSeconds sums session durations for sessions whose start lies in
// [periodStart, periodEnd). The open session contributes its live elapsed
// time, so the result changes on every query until the session closes.
func AccumulatedSeconds(sessions []SessionRecord, periodStart, periodEnd, now time.Time) int64 {
	var total int64
	for _, rec := range sessions {
		sess := rec.Session
		if sess.StartedAt.Before(periodStart) || !sess.StartedAt.Before(periodEnd) {
			continue
		}
		switch {
		case sess.EndedAt != nil && sess.DurationSeconds != nil:
			total += *sess.DurationSeconds
		case sess.EndedAt != nil:
			// Closed session missing its stored duration; fall back to the
			// timestamps rather than reporting zero.
			total += int64(sess.EndedAt.Sub(sess.StartedAt).Seconds())
		default:
			total += int64(now.Sub(sess.StartedAt).Seconds())
		}
	}
	return total
}

// LastActivityText renders the one-line "last activity" summary. Priority:
// the most recent visible note on a closed, non-hidden session; else the
// most recent closed session; else the activity's creation date.
func LastActivityText(snap ActivitySnapshot, now time.Time) string {
	if note := latestVisibleNote(snap.Sessions); note != nil {
		return fmt.Sprintf("Note: %q", note.Text)
	}

	if last := latestClosedSession(snap.Sessions); last != nil {
		seconds := closedDurationSeconds(*last)
		return fmt.Sprintf("Session: %s (%s)", FormatShortDuration(seconds), RelativeTime(*last.EndedAt, now))
	}

	return "Created on " + snap.Activity.CreatedAt.Format(dateLayout)
}

// BuildCard assembles the display card for one activity snapshot.
func BuildCard(snap ActivitySnapshot, now, periodStart, periodEnd time.Time) Card {
	state := DeriveState(snap.Sessions)

	card := Card{
		ActivityID:     snap.Activity.ID,
		OwnerID:        snap.Activity.OwnerID,
		Classification: snap.Classification,
		Code:           snap.Activity.Code,
		Title:          snap.Activity.Title,
		Description:    snap.Activity.Description,
		State:          state,
		Accumulated:    FormatClock(AccumulatedSeconds(snap.Sessions, periodStart, periodEnd, now)),
		LastActivity:   LastActivityText(snap, now),
	}

	if state == StateRunning {
		for _, rec := range snap.Sessions {
			if rec.Session.Open() {
				started := rec.Session.StartedAt
				card.OpenStartedAt = &started
				break
			}
		}
	}

	if state == StatePaused {
		if last := latestClosedSession(snap.Sessions); last != nil {
			seconds := closedDurationSeconds(*last)
			card.LastSessionDetail = fmt.Sprintf("Last session: %s (%s)",
				FormatShortDuration(seconds), RelativeTime(*last.EndedAt, now))
		}
	}

	return card
}

// RelativeTime phrases how long ago t was relative to now. Cutoffs are
// exact: under a minute, under an hour, under a day, under 30 days, then
// the absolute date.
func RelativeTime(t, now time.Time) string {
	diff := now.Sub(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		minutes := int(diff.Minutes())
		if minutes < 1 {
			minutes = 1
		}
		return fmt.Sprintf("%d min ago", minutes)
	case diff < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(diff.Hours()))
	case diff < 30*24*time.Hour:
		return fmt.Sprintf("%d days ago", int(diff.Hours()/24))
	default:
		return t.Format(dateLayout)
	}
}

// FormatClock renders seconds as HH:MM:SS; hours grow past two digits.
func FormatClock(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}

// FormatShortDuration renders seconds as "Xh Ym" past an hour, "M min" below.
func FormatShortDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	if seconds >= 3600 {
		return fmt.Sprintf("%dh %dm", seconds/3600, (seconds%3600)/60)
	}
	return fmt.Sprintf("%d min", seconds/60)
}

// closedDurationSeconds returns the stored duration of a closed session,
// falling back to the timestamps when the stored value is absent.
func closedDurationSeconds(sess Session) int64 {
	if sess.DurationSeconds != nil {
		return *sess.DurationSeconds
	}
	if sess.EndedAt != nil {
		return int64(sess.EndedAt.Sub(sess.StartedAt).Seconds())
	}
	return 0
}

// currentAnnotation picks the most recently noted non-hidden annotation.
func currentAnnotation(annotations []Annotation) *Annotation {
	var current *Annotation
	for i := range annotations {
		note := &annotations[i]
		if note.Hidden {
			continue
		}
		if current == nil || note.NotedAt.After(current.NotedAt) {
			current = note
		}
	}
	return current
}

// latestClosedSession returns the closed session with the latest end.
func latestClosedSession(sessions []SessionRecord) *Session {
	var last *Session
	for i := range sessions {
		sess := &sessions[i].Session
		if sess.EndedAt == nil {
			continue
		}
		if last == nil || sess.EndedAt.After(*last.EndedAt) {
			last = sess
		}
	}
	return last
}

// latestVisibleNote scans closed, non-hidden sessions for the most recent
// non-blank note. Ordered by note timestamp, then by session end.
func latestVisibleNote(sessions []SessionRecord) *Annotation {
	type candidate struct {
		note  *Annotation
		ended time.Time
	}
	candidates := make([]candidate, 0)
	for i := range sessions {
		rec := &sessions[i]
		if rec.Session.EndedAt == nil || rec.Session.HiddenFromSummary {
			continue
		}
		note := currentAnnotation(rec.Annotations)
		if note == nil || strings.TrimSpace(note.Text) == "" {
			continue
		}
		candidates = append(candidates, candidate{note: note, ended: *rec.Session.EndedAt})
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].note.NotedAt.Equal(candidates[j].note.NotedAt) {
			return candidates[i].note.NotedAt.After(candidates[j].note.NotedAt)
		}
		return candidates[i].ended.After(candidates[j].ended)
	})
	return candidates[0].note
}
