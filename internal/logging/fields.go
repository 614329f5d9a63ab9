package logging

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor
	FieldUserID       = "user_id"
	FieldRole         = "role"
	FieldConnectionID = "connection_id"

	// Domain
	FieldLectureID = "lecture_id"
	FieldMessageID = "message_id"
	FieldEvent     = "event"

	FieldComponent = "component"
	FieldService   = "service"
)
