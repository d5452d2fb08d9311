package log

import "bilancio/internal/core"

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldQuery         = "query"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldUserAgent     = "user_agent"
	FieldSuccess       = "success"
	FieldError         = "error"
	FieldOperation     = "operation"
	FieldRecurringID   = "recurring_id"
	FieldAccountID     = "account_id"
	FieldType          = "type"
	FieldFrequency     = "frequency"
	FieldOccurrence    = "occurrence_date"
	FieldAmount        = "amount"
	FieldNow           = "now"
	FieldChecked       = "checked"
	FieldDue           = "due"
	FieldMaterialized  = "materialized"
	FieldDuplicates    = "duplicates"
	FieldSkipped       = "skipped"
	FieldWarnings      = "warnings"
	FieldFailures      = "failures"
	FieldSchedule      = "schedule"
	FieldSheetsRef     = "sheets_ref"
	FieldMessageID     = "message_id"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentScheduler = "scheduler"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentSheets    = "sheets"
	ComponentBackend   = "backend"
)

// Operations defines standard operation names
const (
	OpList        = "list"
	OpSelect      = "select"
	OpMaterialize = "materialize"
	OpAdvance     = "advance"
	OpPublish     = "publish"
	OpAppend      = "append"
	OpPreview     = "preview"
	OpShutdown    = "shutdown"
	OpStartup     = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError adds error field; nil errors are ignored.
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

// WithOccurrence adds the fields identifying one materialized occurrence.
func (f LogFields) WithOccurrence(o core.Occurrence) LogFields {
	f[FieldRecurringID] = o.RecurringTransactionID
	f[FieldAccountID] = o.AccountID
	f[FieldType] = o.Type.String()
	f[FieldOccurrence] = core.FormatDate(o.Date)
	f[FieldAmount] = core.FormatAmount(o.Amount)
	return f
}

func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	f[FieldUserAgent] = userAgent
	return f
}

func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
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
