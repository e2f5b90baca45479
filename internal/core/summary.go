package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// BudgetSnapshot is the on-demand budget summary of a category's current window.
type BudgetSnapshot struct {
	CategoryID               int64
	CategoryName             string
	Currency                 Currency
	PeriodLengthDays         int
	Total                    decimal.Decimal
	Spent                    decimal.Decimal
	Remaining                decimal.Decimal // negative when over budget
	PercentUsed              decimal.Decimal
	PeriodStart              time.Time
	PeriodEnd                time.Time
	RequisitionCountInWindow int
	ExcludedCount            int // counted in the window but not summed
}

// Window returns the snapshot's period bounds.
func (s BudgetSnapshot) Window() Window {
	return Window{Start: s.PeriodStart, End: s.PeriodEnd}
}

// OverBudget reports whether spend exceeded the total.
func (s BudgetSnapshot) OverBudget() bool {
	return s.Remaining.IsNegative()
}
