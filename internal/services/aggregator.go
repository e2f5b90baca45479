package services

import (
	"time"

	"github.com/shopspring/decimal"

	"compras/internal/core"
)

// Aggregation is the category-wide spend of one window.
type Aggregation struct {
	Window        core.Window
	TotalSpent    decimal.Decimal
	Count         int // requisitions in the window, summed or not
	ExcludedCount int // in the window but NotApplicable
	// PerRequisition holds the resolution of every requisition in the
	// window. Requisitions outside it have no key.
	PerRequisition map[int64]core.Resolution
}

// Contribution returns what requisitionID adds to the window total. The
// second result is false when the requisition is not in the window.
func (a Aggregation) Contribution(requisitionID int64) (core.Resolution, bool) {
	r, ok := a.PerRequisition[requisitionID]
	return r, ok
}

// Aggregate sums the budget-relevant requisitions of c whose effective
// timestamp falls in the window containing now. It does not touch storage
// and is safe for concurrent use.
func Aggregate(c core.Category, requisitions []core.Requisition, now time.Time) (Aggregation, error) {
	w, err := core.CurrentWindowFor(c, now)
	if err != nil {
		return Aggregation{}, err
	}

	agg := Aggregation{
		Window:         w,
		TotalSpent:     decimal.Zero,
		PerRequisition: make(map[int64]core.Resolution),
	}
	for _, r := range requisitions {
		if !r.BelongsTo(c.ID) || !r.Status.IsBudgetRelevant() {
			continue
		}
		if !w.Contains(r.EffectiveTimestamp(now)) {
			continue
		}
		if _, seen := agg.PerRequisition[r.ID]; seen {
			continue
		}
		res := r.Amount.Resolve(c.Currency)
		agg.PerRequisition[r.ID] = res
		agg.Count++
		if !res.Applicable {
			agg.ExcludedCount++
			continue
		}
		agg.TotalSpent = agg.TotalSpent.Add(res.Amount)
	}
	return agg, nil
}
