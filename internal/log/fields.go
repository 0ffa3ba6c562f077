package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldJobID    = "job_id"
	FieldOrgID    = "org_id"
	FieldUserID   = "user_id"
	FieldMediaID  = "media_id"
	FieldActionID = "action_id"
	FieldWorkerID = "worker_id"

	// Process / pipeline fields
	FieldComponent = "component"
	FieldQueue     = "queue"
	FieldAttempt   = "attempt"
	FieldEvent     = "event"

	// State fields
	FieldOldStatus = "old_status"
	FieldNewStatus = "new_status"
	FieldErrorCode = "error_code"

	// Storage fields
	FieldPath      = "path"
	FieldSizeBytes = "size_bytes"
)
