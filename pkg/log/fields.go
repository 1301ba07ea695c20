package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Caller, set by pkg/middleware
	FieldUserID = "user_id"

	// Follow edge
	FieldActorID  = "actor_id"
	FieldTargetID = "target_id"
	FieldOutcome  = "outcome"
	FieldAttempt  = "attempt"
	FieldKind     = "kind"

	FieldService = "service"

	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
