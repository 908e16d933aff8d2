package logging

const (
	FieldService   = "service"
	FieldComponent = "component"
	FieldUserID    = "user_id"
	FieldChatID    = "chat_id"
	FieldMessageID = "message_id"
	FieldTempID    = "temp_id"
	FieldEvent     = "event"
	FieldState     = "state"
	FieldAttempt   = "attempt"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldRequestID = "request_id"
)
