package logger

// Fields is a set of structured log fields.
type Fields map[string]interface{}

// Standard field names carried on the context.
const (
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"
	FieldSourceID  = "source_id"
	FieldProvider  = "provider"
	FieldComponent = "component"
	FieldTaskID    = "task_id"
)

// Metric field names.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldStatus     = "status"
)
