package auth

// OAuth scopes understood by the tracker API.
const (
	ScopeTrackerWrite = "tracker:write"
	ScopeTrackerRead  = "tracker:read"
)
