package log

// Field names shared across components so log lines stay greppable.
const (
	FieldComponent      = "component"
	FieldRequestID      = "request_id"
	FieldClientIP       = "client_ip"
	FieldMethod         = "method"
	FieldPath           = "path"
	FieldStatusCode     = "status"
	FieldDuration       = "duration_ms"
	FieldError          = "error"
	FieldExpenseID      = "id"
	FieldAmountMinor    = "amount_minor"
	FieldCategory       = "category"
	FieldUser           = "user"
	FieldIdempotencyKey = "idempotency_key"
)

// Standard component names.
const (
	ComponentApp    = "app"
	ComponentHTTP   = "http"
	ComponentWorker = "worker"
)
