package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, propagated through the call chain via context.
const (
	FieldRequestID = "request_id"
	FieldUserID    = "user_id"
	FieldJobID     = "job_id"
	FieldSearchID  = "search_id"
	FieldComponent = "component"
	FieldSource    = "source"
	FieldRecordID  = "record_id"
	FieldSpace     = "space"
	FieldBackend   = "backend"
)

// Metric fields, attached per entry for aggregation.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldSize       = "size"
	FieldStatus     = "status"
)
