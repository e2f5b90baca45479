package log

import (
	"time"

	"github.com/shopspring/decimal"
)

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldOperation     = "operation"
	FieldError         = "error"
	FieldDuration      = "duration_ms"
	FieldCategoryID    = "category_id"
	FieldCategoryName  = "category_name"
	FieldRequisitionID = "requisition_id"
	FieldStatus        = "status"
	FieldAmount        = "amount"
	FieldCurrency      = "currency"
	FieldExclusion     = "exclusion"
	FieldWindowStart   = "window_start"
	FieldWindowEnd     = "window_end"
	FieldTotalSpent    = "total_spent"
	FieldRemaining     = "remaining"
	FieldActive        = "active"
	FieldActingUser    = "acting_user"
	FieldMessageID     = "message_id"
	FieldMessageType   = "message_type"
)

// Components defines standard component names
const (
	ComponentApp        = "app"
	ComponentLedger     = "ledger"
	ComponentRollover   = "rollover"
	ComponentCategory   = "category"
	ComponentProjection = "projection"
	ComponentStorage    = "storage"
	ComponentAMQP       = "amqp"
	ComponentWorker     = "worker"
	ComponentSheets     = "sheets"
	ComponentCache      = "cache"
	ComponentBackend    = "backend"
)

// Operations defines standard operation names
const (
	OpReconcile  = "reconcile"
	OpDeactivate = "deactivate"
	OpRollover   = "rollover"
	OpReset      = "reset"
	OpProject    = "project"
	OpExport     = "export"
	OpMigrate    = "migrate"
	OpStartup    = "startup"
	OpShutdown   = "shutdown"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithCategory(id int64, name string) LogFields {
	f[FieldCategoryID] = id
	if name != "" {
		f[FieldCategoryName] = name
	}
	return f
}

func (f LogFields) WithRequisition(id int64, status string) LogFields {
	f[FieldRequisitionID] = id
	if status != "" {
		f[FieldStatus] = status
	}
	return f
}

// WithWindow adds the period bounds in RFC 3339 with milliseconds.
func (f LogFields) WithWindow(start, end time.Time) LogFields {
	f[FieldWindowStart] = start.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	f[FieldWindowEnd] = end.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	return f
}

func (f LogFields) WithAmount(amount decimal.Decimal, currency string) LogFields {
	f[FieldAmount] = amount.String()
	if currency != "" {
		f[FieldCurrency] = currency
	}
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
