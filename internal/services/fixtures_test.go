package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"compras/internal/core"
	"compras/internal/ports/memory"
)

var (
	anchor = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	// inside the first 30-day window [2024-01-01, 2024-01-30 23:59:59.999]
	midJanuary = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
)

func at(year int, month time.Month, day, hour int) *time.Time {
	t := time.Date(year, month, day, hour, 0, 0, 0, time.UTC)
	return &t
}

func newCategory(t *testing.T, name string, budget int64, cur core.Currency) core.Category {
	t.Helper()
	c, err := core.NewCategory(name, decimal.NewFromInt(budget), cur, 30, anchor)
	if err != nil {
		t.Fatalf("new category: %v", err)
	}
	return c
}

func requisition(id, categoryID int64, status core.RequisitionStatus, amount core.Amount, changed *time.Time) core.Requisition {
	return core.Requisition{
		ID:              id,
		CategoryID:      &categoryID,
		Status:          status,
		Amount:          amount,
		StatusChangedAt: changed,
	}
}

func numeric(s string) core.Amount {
	return core.NumericAmount(decimal.RequireFromString(s))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// seededStore returns a memory store holding c and reqs.
func seededStore(t *testing.T, c core.Category, reqs ...core.Requisition) (*memory.Store, core.Category) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	saved, err := store.SaveCategory(ctx, c)
	if err != nil {
		t.Fatalf("save category: %v", err)
	}
	for _, r := range reqs {
		if r.CategoryID != nil && *r.CategoryID == 0 {
			id := saved.ID
			r.CategoryID = &id
		}
		if _, err := store.SaveRequisition(ctx, r); err != nil {
			t.Fatalf("save requisition: %v", err)
		}
	}
	return store, saved
}
