package outbox

const activityCreatedSchema = `{
  "type": "object",
  "title": "ActivityCreated",
  "properties": {
    "activity_id": {"type": "string"},
    "owner_id": {"type": "string"},
    "classification_id": {"type": "string"},
    "title": {"type": "string"},
    "created_at": {"type": "string", "format": "date-time"}
  },
  "required": ["activity_id", "owner_id", "classification_id", "title", "created_at"],
  "additionalProperties": false
}`

const sessionStartedSchema = `{
  "type": "object",
  "title": "SessionStarted",
  "properties": {
    "session_id": {"type": "string"},
    "activity_id": {"type": "string"},
    "owner_id": {"type": "string"},
    "started_at": {"type": "string", "format": "date-time"}
  },
  "required": ["session_id", "activity_id", "owner_id", "started_at"],
  "additionalProperties": false
}`

const sessionClosedSchema = `{
  "type": "object",
  "title": "SessionClosed",
  "properties": {
    "session_id": {"type": "string"},
    "activity_id": {"type": "string"},
    "owner_id": {"type": "string"},
    "started_at": {"type": "string", "format": "date-time"},
    "ended_at": {"type": "string", "format": "date-time"},
    "duration_seconds": {"type": "integer"}
  },
  "required": ["session_id", "activity_id", "owner_id", "started_at", "ended_at", "duration_seconds"],
  "additionalProperties": false
}`
