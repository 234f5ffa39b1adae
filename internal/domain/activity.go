package domain

import "time"

// ActivityStatus is the lifecycle tag of an activity. A deleted activity is
// invisible on every query surface; an archived one only on the archive view.
type ActivityStatus string

const (
	ActivityStatusActive   ActivityStatus = "active"
	ActivityStatusArchived ActivityStatus = "archived"
	ActivityStatusDeleted  ActivityStatus = "deleted"
)

// Activity is a user-defined unit of work whose time gets tracked in sessions.
type Activity struct {
	ID               string
	OwnerID          string
	ClassificationID string
	Code             string
	Title            string
	Description      string
	Notes            string
	Status           ActivityStatus
	CreatedAt        time.Time
	DeletedAt        *time.Time
}

// Classification labels an activity (project, support, internal, ...).
// Taxonomy management lives outside this service; we only read it.
type Classification struct {
	ID    string
	Label string
}
