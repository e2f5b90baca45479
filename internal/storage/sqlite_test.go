package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"compras/internal/core"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "data", "compras.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testCategory(t *testing.T, name string) core.Category {
	t.Helper()
	c, err := core.NewCategory(name, decimal.RequireFromString("1500.75"), core.MXN, 30, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("new category: %v", err)
	}
	return c
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "compras.db")
	v1, err := RunMigrations(path)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	v2, err := RunMigrations(path)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if v1 != 1 || v2 != v1 {
		t.Fatalf("versions %d, %d", v1, v2)
	}
	if err := RollbackMigrations(path); err != nil {
		t.Fatalf("rollback: %v", err)
	}
}

func TestCategoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	c := testCategory(t, "Papeleria")
	c.PeriodName = core.PeriodMonth
	saved, err := s.SaveCategory(ctx, c)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.ID == 0 {
		t.Fatal("expected id")
	}

	got, err := s.LoadCategory(ctx, saved.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Name != "Papeleria" || !got.TotalBudget.Equal(c.TotalBudget) || got.Currency != core.MXN ||
		got.PeriodLengthDays != 30 || got.PeriodName != core.PeriodMonth || !got.Window().Equal(c.Window()) {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	if _, err := s.SaveCategory(ctx, testCategory(t, "papeleria")); !errors.Is(err, core.ErrDuplicateCategory) {
		t.Fatalf("expected ErrDuplicateCategory, got %v", err)
	}
	if _, err := s.LoadCategory(ctx, 404); !errors.Is(err, core.ErrCategoryNotFound) {
		t.Fatalf("expected ErrCategoryNotFound, got %v", err)
	}

	got.TotalBudget = decimal.NewFromInt(10)
	if _, err := s.SaveCategory(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	list, _ := s.ListCategories(ctx)
	if len(list) != 1 || !list[0].TotalBudget.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("list = %+v", list)
	}
}

func TestCompareAndSwapWindow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c, _ := s.SaveCategory(ctx, testCategory(t, "Viajes"))
	next := c.Window().Next()

	if err := s.CompareAndSwapWindow(ctx, c.ID, c.PeriodStart, next); err != nil {
		t.Fatalf("swap: %v", err)
	}
	if err := s.CompareAndSwapWindow(ctx, c.ID, c.PeriodStart, next.Next()); !errors.Is(err, core.ErrWindowConflict) {
		t.Fatalf("expected ErrWindowConflict, got %v", err)
	}
	if err := s.CompareAndSwapWindow(ctx, 404, c.PeriodStart, next); !errors.Is(err, core.ErrCategoryNotFound) {
		t.Fatalf("expected ErrCategoryNotFound, got %v", err)
	}
	got, _ := s.LoadCategory(ctx, c.ID)
	if !got.Window().Equal(next) {
		t.Fatalf("window = %v..%v", got.PeriodStart, got.PeriodEnd)
	}
}

func TestRequisitionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	cat := int64(3)
	changed := time.Date(2024, 1, 30, 23, 59, 59, int(999*time.Millisecond)+1000, time.UTC)

	tests := []struct {
		name   string
		amount core.Amount
	}{
		{"numeric", core.NumericAmount(decimal.RequireFromString("250.5"))},
		{"encoded", core.EncodedAmount("$1,000.00 USD")},
		{"missing", core.Amount{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saved, err := s.SaveRequisition(ctx, core.Requisition{
				CategoryID:      &cat,
				Status:          core.StatusApproved,
				Amount:          tt.amount,
				StatusChangedAt: &changed,
			})
			if err != nil {
				t.Fatalf("save: %v", err)
			}
			got, err := s.LoadRequisition(ctx, saved.ID)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if got.Amount.Kind() != tt.amount.Kind() || got.Amount.Raw() != tt.amount.Raw() {
				t.Errorf("amount = %v %q, want %v %q", got.Amount.Kind(), got.Amount.Raw(), tt.amount.Kind(), tt.amount.Raw())
			}
			if got.StatusChangedAt == nil || !got.StatusChangedAt.Equal(changed) {
				t.Errorf("sub-millisecond timestamp lost: %v", got.StatusChangedAt)
			}
			if got.UpdatedAt != nil || got.CreatedAt != nil {
				t.Errorf("nil timestamps should stay nil")
			}
		})
	}

	s.SaveRequisition(ctx, core.Requisition{CategoryID: &cat, Status: core.StatusRejected})
	s.SaveRequisition(ctx, core.Requisition{Status: core.StatusApproved})

	valid, err := s.LoadRequisitionsByCategory(ctx, cat, core.ValidStatuses)
	if err != nil || len(valid) != 3 {
		t.Fatalf("valid = %d, %v", len(valid), err)
	}
	all, _ := s.LoadRequisitionsByCategory(ctx, cat, nil)
	if len(all) != 4 {
		t.Fatalf("all = %d", len(all))
	}

	r := valid[0]
	r.Status = core.StatusCancelled
	if _, err := s.SaveRequisition(ctx, r); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got, _ := s.LoadRequisition(ctx, r.ID); got.Status != core.StatusCancelled {
		t.Fatalf("status = %q", got.Status)
	}
}

func TestLedgerUpsert(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	fixed := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	c := testCategory(t, "Eventos")
	entry := core.LedgerEntry{
		RequisitionID:    10,
		CategoryID:       1,
		CategoryName:     c.Name,
		TotalBudget:      c.TotalBudget,
		PeriodLengthDays: 30,
		PeriodStart:      c.PeriodStart,
		PeriodEnd:        c.PeriodEnd,
		AmountSpent:      decimal.RequireFromString("100.10"),
		Remaining:        decimal.RequireFromString("1400.65"),
		Currency:         core.MXN,
		StatusSnapshot:   core.StatusApproved,
		Active:           true,
		ActingUser:       "ana",
	}

	first, err := s.UpsertLedgerEntry(ctx, entry)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if first.ID == "" || !first.CreatedAt.Equal(fixed) || !first.SnapshotEqual(entry) {
		t.Fatalf("inserted entry = %+v", first)
	}
	if !first.PeriodEnd.Equal(c.PeriodEnd) {
		t.Fatalf("period end = %v, want %v", first.PeriodEnd, c.PeriodEnd)
	}

	s.now = func() time.Time { return fixed.Add(time.Hour) }
	entry.ID = "" // a second writer that never saw the row
	entry.Active = false
	entry.StatusSnapshot = core.StatusRejected
	entry.Exclusion = core.ExclusionCurrencyMismatch
	second, err := s.UpsertLedgerEntry(ctx, entry)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if second.ID != first.ID || !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("upsert changed identity: %+v", second)
	}
	if second.Active || second.Exclusion != core.ExclusionCurrencyMismatch || !second.UpdatedAt.Equal(fixed.Add(time.Hour)) {
		t.Fatalf("upsert did not update: %+v", second)
	}

	other := entry
	other.RequisitionID = 11
	other.CategoryID = 2
	other.Active = true
	s.UpsertLedgerEntry(ctx, other)

	cat := int64(1)
	byCat, _ := s.ListLedgerEntries(ctx, core.LedgerFilter{CategoryID: &cat})
	if len(byCat) != 1 {
		t.Fatalf("category filter = %d entries", len(byCat))
	}
	active := true
	act, _ := s.ListLedgerEntries(ctx, core.LedgerFilter{Active: &active})
	if len(act) != 1 || act[0].RequisitionID != 11 {
		t.Fatalf("active filter = %+v", act)
	}

	if err := s.DeleteLedgerEntry(ctx, 10); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetLedgerEntry(ctx, 10); !errors.Is(err, core.ErrLedgerNotFound) {
		t.Fatalf("expected ErrLedgerNotFound, got %v", err)
	}
}
