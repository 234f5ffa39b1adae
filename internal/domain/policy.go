package domain

// Actor identifies the caller of a command or query. Elevated actors (admin
// role) see and manage activities across all owners; everyone else only
// their own. Ownership is re-checked on every call, never cached.
type Actor struct {
	UserID   string
	Elevated bool
}

// CanAccess reports whether the actor may read or mutate the activity.
// Deleted activities are handled before this check; they are invisible to
// elevated actors too.
func (a Actor) CanAccess(activity *Activity) bool {
	if activity == nil {
		return false
	}
	return a.Elevated || activity.OwnerID == a.UserID
}
