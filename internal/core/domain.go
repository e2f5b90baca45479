package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Currencies accepted for category budgets.
const (
	MXN Currency = "MXN"
	USD Currency = "USD"
	EUR Currency = "EUR"
)

// Requisition statuses as recorded by the requisition workflow.
const (
	StatusCreated               RequisitionStatus = "creada"
	StatusQuoting               RequisitionStatus = "cotizando"
	StatusApproved              RequisitionStatus = "aprobada"
	StatusAwaitingAuthorization RequisitionStatus = "esperando autorizacion"
	StatusAuthorized            RequisitionStatus = "autorizada"
	StatusRejected              RequisitionStatus = "rechazada"
	StatusCustomsRelease        RequisitionStatus = "liberacion aduanal"
	StatusInDelivery            RequisitionStatus = "proceso de entrega"
	StatusPartiallyDelivered    RequisitionStatus = "entregada parcial"
	StatusConcluded             RequisitionStatus = "concluida"
	StatusCancelled             RequisitionStatus = "cancelada"
)

// DefaultPeriodLengthDays is used when a category is created without a period length.
const DefaultPeriodLengthDays = 30

type (
	Currency string

	RequisitionStatus string

	// Category is a named recurring budget bucket.
	Category struct {
		ID               int64
		Name             string
		TotalBudget      decimal.Decimal
		Currency         Currency
		PeriodLengthDays int
		PeriodName       NamedPeriod // empty means day-count periods
		PeriodStart      time.Time
		PeriodEnd        time.Time
		NeedsReset       bool // advisory only
	}

	// Requisition is a purchase request. The engine only reads it.
	Requisition struct {
		ID              int64
		CategoryID      *int64
		Status          RequisitionStatus
		Amount          Amount
		StatusChangedAt *time.Time
		UpdatedAt       *time.Time
		CreatedAt       *time.Time
	}

	// LedgerEntry records one requisition's budget impact at its last reconciliation.
	LedgerEntry struct {
		ID               string
		RequisitionID    int64
		CategoryID       int64
		CategoryName     string
		TotalBudget      decimal.Decimal
		PeriodLengthDays int
		PeriodStart      time.Time
		PeriodEnd        time.Time
		AmountSpent      decimal.Decimal
		Remaining        decimal.Decimal
		Currency         Currency
		StatusSnapshot   RequisitionStatus
		Exclusion        Exclusion // why AmountSpent is zero, if it is
		Active           bool
		ActingUser       string
		SpentAt          time.Time
		CreatedAt        time.Time
		UpdatedAt        time.Time
	}

	// LedgerFilter narrows ledger listings. Zero values match everything.
	LedgerFilter struct {
		CategoryID *int64
		Active     *bool
	}
)

var (
	ErrInvalidPeriodLength = errors.New("period length must be at least one day")
	ErrInvalidCurrency     = errors.New("invalid currency")
	ErrInvalidDate         = errors.New("invalid date")
	ErrInvalidBudget       = errors.New("budget must be greater than zero")
	ErrEmptyName           = errors.New("empty category name")
	ErrUnknownPeriod       = errors.New("unknown named period")
	ErrCategoryNotFound    = errors.New("category not found")
	ErrRequisitionNotFound = errors.New("requisition not found")
	ErrLedgerNotFound      = errors.New("ledger entry not found")
	ErrWindowConflict      = errors.New("category window changed concurrently")
	ErrDuplicateCategory   = errors.New("category name already exists")
)

// ValidStatuses are the statuses that count toward spend.
var ValidStatuses = []RequisitionStatus{StatusApproved, StatusAuthorized}

func (c Currency) IsValid() bool {
	switch c {
	case MXN, USD, EUR:
		return true
	default:
		return false
	}
}

// ParseCurrency accepts a currency code in any case.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", ErrInvalidCurrency
	}
	return c, nil
}

// IsBudgetRelevant reports whether the status consumes category budget.
func (s RequisitionStatus) IsBudgetRelevant() bool {
	return s == StatusApproved || s == StatusAuthorized
}

// NewCategory builds a category whose window starts at the UTC day of start.
func NewCategory(name string, budget decimal.Decimal, currency Currency, periodLengthDays int, start time.Time) (Category, error) {
	if periodLengthDays == 0 {
		periodLengthDays = DefaultPeriodLengthDays
	}
	c := Category{
		Name:             strings.TrimSpace(name),
		TotalBudget:      budget,
		Currency:         currency,
		PeriodLengthDays: periodLengthDays,
	}
	if err := c.Validate(); err != nil {
		return Category{}, err
	}
	return c.WithPeriodStart(start)
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyName
	}
	if !c.TotalBudget.IsPositive() {
		return ErrInvalidBudget
	}
	if !c.Currency.IsValid() {
		return ErrInvalidCurrency
	}
	if c.PeriodLengthDays < 1 {
		return ErrInvalidPeriodLength
	}
	if c.PeriodName != "" {
		if _, err := GetPeriodStepper(c.PeriodName); err != nil {
			return err
		}
	}
	return nil
}

// WithPeriodStart moves the anchor and re-derives PeriodEnd.
func (c Category) WithPeriodStart(start time.Time) (Category, error) {
	if start.IsZero() {
		return c, ErrInvalidDate
	}
	w, err := c.windowAt(StartOfDay(start))
	if err != nil {
		return c, err
	}
	c.PeriodStart = w.Start
	c.PeriodEnd = w.End
	c.NeedsReset = false
	return c, nil
}

// WithPeriodLength changes the period length keeping the current anchor.
func (c Category) WithPeriodLength(days int) (Category, error) {
	if days < 1 {
		return c, ErrInvalidPeriodLength
	}
	c.PeriodLengthDays = days
	if c.PeriodStart.IsZero() {
		return c, nil
	}
	return c.WithPeriodStart(c.PeriodStart)
}

// Window returns the stored window without rolling it.
func (c Category) Window() Window {
	return Window{Start: c.PeriodStart, End: c.PeriodEnd}
}

// NeedsRollover reports whether now is past the stored PeriodEnd.
func (c Category) NeedsRollover(now time.Time) bool {
	if c.PeriodEnd.IsZero() {
		return false
	}
	return now.After(c.PeriodEnd)
}

func (c Category) windowAt(start time.Time) (Window, error) {
	if c.PeriodName != "" {
		stepper, err := GetPeriodStepper(c.PeriodName)
		if err != nil {
			return Window{}, err
		}
		return NamedWindowFrom(start, stepper), nil
	}
	return WindowFrom(start, c.PeriodLengthDays)
}

// BelongsTo reports whether the requisition is assigned to the category.
func (r Requisition) BelongsTo(categoryID int64) bool {
	return r.CategoryID != nil && *r.CategoryID == categoryID
}

// EffectiveTimestamp is the instant used for period membership:
// status change, then last update, then creation, then now.
func (r Requisition) EffectiveTimestamp(now time.Time) time.Time {
	for _, t := range []*time.Time{r.StatusChangedAt, r.UpdatedAt, r.CreatedAt} {
		if t != nil && !t.IsZero() {
			return *t
		}
	}
	return now
}

// SnapshotEqual compares the computed fields of two entries, ignoring
// identity, timestamps and the acting user.
func (e LedgerEntry) SnapshotEqual(o LedgerEntry) bool {
	return e.RequisitionID == o.RequisitionID &&
		e.CategoryID == o.CategoryID &&
		e.CategoryName == o.CategoryName &&
		e.TotalBudget.Equal(o.TotalBudget) &&
		e.PeriodLengthDays == o.PeriodLengthDays &&
		e.PeriodStart.Equal(o.PeriodStart) &&
		e.PeriodEnd.Equal(o.PeriodEnd) &&
		e.AmountSpent.Equal(o.AmountSpent) &&
		e.Remaining.Equal(o.Remaining) &&
		e.Currency == o.Currency &&
		e.StatusSnapshot == o.StatusSnapshot &&
		e.Exclusion == o.Exclusion &&
		e.Active == o.Active
}
