package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"compras/internal/cache"
	"compras/internal/core"
	"compras/internal/log"
	"compras/internal/ports"
)

var hundred = decimal.NewFromInt(100)

// Projector computes on-demand budget snapshots through the same window and
// aggregation pipeline the ledger uses.
type Projector struct {
	requisitions ports.RequisitionReader
	cache        cache.Cache[core.BudgetSnapshot]
	logger       *log.Logger
}

type ProjectorOption func(*Projector)

// WithProjectionCache memoizes snapshots. Pass the same cache to the
// LedgerSynchronizer so ledger writes invalidate it.
func WithProjectionCache(c cache.Cache[core.BudgetSnapshot]) ProjectorOption {
	return func(p *Projector) { p.cache = c }
}

func WithProjectorLogger(l *log.Logger) ProjectorOption {
	return func(p *Projector) { p.logger = l.WithComponent(log.ComponentProjection) }
}

func NewProjector(requisitions ports.RequisitionReader, opts ...ProjectorOption) *Projector {
	p := &Projector{
		requisitions: requisitions,
		logger:       log.Default().WithComponent(log.ComponentProjection),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Project returns the snapshot of the window containing now. Over-budget
// categories get a negative Remaining.
func (p *Projector) Project(ctx context.Context, c core.Category, now time.Time) (core.BudgetSnapshot, error) {
	w, err := core.CurrentWindowFor(c, now)
	if err != nil {
		return core.BudgetSnapshot{}, err
	}
	key := snapshotKey(c, w)
	if p.cache != nil {
		if s, ok := p.cache.Get(key); ok {
			return s, nil
		}
	}

	reqs, err := p.requisitions.LoadRequisitionsByCategory(ctx, c.ID, core.ValidStatuses)
	if err != nil {
		return core.BudgetSnapshot{}, fmt.Errorf("load requisitions for category %d: %w", c.ID, err)
	}
	s, err := ProjectRequisitions(c, reqs, now)
	if err != nil {
		return core.BudgetSnapshot{}, err
	}
	if s.ExcludedCount > 0 {
		p.logger.DebugContext(ctx, "Requisitions excluded from spend",
			log.FieldCategoryID, c.ID,
			"excluded", s.ExcludedCount)
	}
	if p.cache != nil {
		p.cache.Set(key, s)
	}
	return s, nil
}

// ProjectRequisitions builds a snapshot from already loaded requisitions.
func ProjectRequisitions(c core.Category, requisitions []core.Requisition, now time.Time) (core.BudgetSnapshot, error) {
	agg, err := Aggregate(c, requisitions, now)
	if err != nil {
		return core.BudgetSnapshot{}, err
	}
	return Snapshot(c, agg), nil
}

// Snapshot derives the budget summary of an aggregation.
func Snapshot(c core.Category, agg Aggregation) core.BudgetSnapshot {
	return core.BudgetSnapshot{
		CategoryID:               c.ID,
		CategoryName:             c.Name,
		Currency:                 c.Currency,
		PeriodLengthDays:         agg.Window.Days(),
		Total:                    c.TotalBudget,
		Spent:                    agg.TotalSpent,
		Remaining:                c.TotalBudget.Sub(agg.TotalSpent),
		PercentUsed:              PercentUsed(agg.TotalSpent, c.TotalBudget),
		PeriodStart:              agg.Window.Start,
		PeriodEnd:                agg.Window.End,
		RequisitionCountInWindow: agg.Count,
		ExcludedCount:            agg.ExcludedCount,
	}
}

// PercentUsed is spent/total as a percentage rounded to two places, or zero
// when total is not positive.
func PercentUsed(spent, total decimal.Decimal) decimal.Decimal {
	if !total.IsPositive() {
		return decimal.Zero
	}
	return spent.Mul(hundred).DivRound(total, 2)
}

func snapshotKey(c core.Category, w core.Window) string {
	return fmt.Sprintf("%s%d|%d|%s|%s",
		categoryKeyPrefix(c.ID),
		w.Start.UnixMilli(), w.End.UnixMilli()-w.Start.UnixMilli(),
		c.TotalBudget.String(), c.Currency)
}

// categoryKeyPrefix ends in a separator so category 1 never matches 10.
func categoryKeyPrefix(id int64) string {
	return fmt.Sprintf("category:%d|", id)
}
