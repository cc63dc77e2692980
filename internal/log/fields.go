package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldSuccess    = "success"
	FieldError      = "error"
	FieldOperation  = "operation"

	FieldMonth    = "month"
	FieldPolicy   = "policy"
	FieldRunID    = "run_id"
	FieldUploadID = "upload_id"
	FieldBatch    = "batch"
	FieldBatches  = "batches"
	FieldAttempt  = "attempt"
	FieldScore    = "score"
	FieldLine     = "line"
)

// Components defines standard component names
const (
	ComponentHTTP       = "http"
	ComponentParser     = "parser"
	ComponentClassifier = "classifier"
	ComponentReconciler = "reconciler"
	ComponentStorage    = "storage"
	ComponentStaging    = "staging"
	ComponentAMQP       = "amqp"
	ComponentWorker     = "worker"
)

// Operations defines standard operation names
const (
	OpUpload     = "upload"
	OpCategorize = "categorize"
	OpRescore    = "rescore"
	OpCorrect    = "correct"
	OpDelete     = "delete"
	OpStartup    = "startup"
	OpShutdown   = "shutdown"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithMonth adds the month key in its YYYY-MM form.
func (f LogFields) WithMonth(month string) LogFields {
	f[FieldMonth] = month
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = statusCode < 400
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
