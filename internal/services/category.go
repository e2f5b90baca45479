package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"compras/internal/core"
	"compras/internal/log"
	"compras/internal/ports"
)

var errCategoryHasID = errors.New("new category must not carry an id")

// CategoryUpdate lists the fields to change. Nil fields are kept.
type CategoryUpdate struct {
	Name             *string
	TotalBudget      *decimal.Decimal
	Currency         *core.Currency
	PeriodName       *core.NamedPeriod // empty switches back to day-count periods
	PeriodLengthDays *int
	PeriodStart      *time.Time
}

// CategoryService manages categories and refreshes the ledger entries under
// a category whenever its budget or window changes.
type CategoryService struct {
	store  ports.Store
	ledger *LedgerSynchronizer
	roller *PeriodRoller
	logger *log.Logger
}

func NewCategoryService(store ports.Store, ledger *LedgerSynchronizer, roller *PeriodRoller, logger *log.Logger) *CategoryService {
	if logger == nil {
		logger = log.Default()
	}
	return &CategoryService{
		store:  store,
		ledger: ledger,
		roller: roller,
		logger: logger.WithComponent(log.ComponentCategory),
	}
}

// Create stores a category built with core.NewCategory.
func (s *CategoryService) Create(ctx context.Context, c core.Category) (core.Category, error) {
	if c.ID != 0 {
		return core.Category{}, errCategoryHasID
	}
	saved, err := s.store.SaveCategory(ctx, c)
	if err != nil {
		return core.Category{}, fmt.Errorf("create category: %w", err)
	}
	s.logger.InfoContext(ctx, "Category created",
		log.NewFields().
			WithCategory(saved.ID, saved.Name).
			WithWindow(saved.PeriodStart, saved.PeriodEnd).
			ToSlice()...)
	return saved, nil
}

// Update applies upd and re-derives PeriodEnd when the period or the start
// changes. The start is applied last.
func (s *CategoryService) Update(ctx context.Context, id int64, upd CategoryUpdate, now time.Time) (core.Category, error) {
	c, err := s.store.LoadCategory(ctx, id)
	if err != nil {
		return core.Category{}, err
	}
	if upd.Name != nil {
		c.Name = *upd.Name
	}
	if upd.TotalBudget != nil {
		c.TotalBudget = *upd.TotalBudget
	}
	if upd.Currency != nil {
		c.Currency = *upd.Currency
	}
	if upd.PeriodName != nil {
		c.PeriodName = *upd.PeriodName
		if c, err = c.WithPeriodStart(c.PeriodStart); err != nil {
			return core.Category{}, err
		}
	}
	if upd.PeriodLengthDays != nil {
		if c, err = c.WithPeriodLength(*upd.PeriodLengthDays); err != nil {
			return core.Category{}, err
		}
	}
	if upd.PeriodStart != nil {
		if c, err = c.WithPeriodStart(*upd.PeriodStart); err != nil {
			return core.Category{}, err
		}
	}

	saved, err := s.store.SaveCategory(ctx, c)
	if err != nil {
		return core.Category{}, fmt.Errorf("update category %d: %w", id, err)
	}
	s.roller.invalidate(saved.ID)
	s.logger.InfoContext(ctx, "Category updated",
		log.NewFields().
			WithCategory(saved.ID, saved.Name).
			WithWindow(saved.PeriodStart, saved.PeriodEnd).
			ToSlice()...)
	return saved, s.refresh(ctx, saved.ID, now)
}

// Reset starts a fresh window at the UTC day of now.
func (s *CategoryService) Reset(ctx context.Context, id int64, now time.Time) (core.Category, error) {
	c, err := s.roller.Reset(ctx, id, now)
	if err != nil {
		return core.Category{}, err
	}
	return c, s.refresh(ctx, id, now)
}

// Delete removes the category and deactivates the ledger entries that
// still point at it.
func (s *CategoryService) Delete(ctx context.Context, id int64, now time.Time) error {
	entries, err := s.ledger.ListLedgerByCategory(ctx, id)
	if err != nil {
		return fmt.Errorf("list ledger for category %d: %w", id, err)
	}
	if err := s.store.DeleteCategory(ctx, id); err != nil {
		return err
	}
	s.roller.invalidate(id)
	for _, e := range entries {
		if e.Active {
			s.ledger.ReconcileByID(ctx, e.RequisitionID, now, "")
		}
	}
	s.logger.InfoContext(ctx, "Category deleted",
		log.FieldCategoryID, id,
		"entries", len(entries))
	return nil
}

// Roll advances the category's window to the one containing now and, when
// it moved, refreshes the ledger entries under it.
func (s *CategoryService) Roll(ctx context.Context, id int64, now time.Time) (core.Category, bool, error) {
	c, rolled, err := s.roller.Roll(ctx, id, now)
	if err != nil || !rolled {
		return c, rolled, err
	}
	return c, true, s.refresh(ctx, id, now)
}

// RollAll rolls every category and returns how many moved. Per-category
// failures are returned joined.
func (s *CategoryService) RollAll(ctx context.Context, now time.Time) (int, error) {
	categories, err := s.store.ListCategories(ctx)
	if err != nil {
		return 0, fmt.Errorf("list categories: %w", err)
	}
	var (
		rolled int
		errs   []error
	)
	for _, c := range categories {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		_, moved, err := s.Roll(ctx, c.ID, now)
		if err != nil {
			s.logger.WarnContext(ctx, "Rollover failed",
				log.FieldCategoryID, c.ID,
				log.FieldError, err)
			errs = append(errs, fmt.Errorf("category %d: %w", c.ID, err))
		}
		if moved {
			rolled++
		}
	}
	return rolled, errors.Join(errs...)
}

func (s *CategoryService) refresh(ctx context.Context, id int64, now time.Time) error {
	n, err := s.ledger.ReconcileCategory(ctx, id, now)
	if err != nil {
		return fmt.Errorf("refresh ledger for category %d: %w", id, err)
	}
	s.logger.DebugContext(ctx, "Category ledger refreshed",
		log.FieldCategoryID, id,
		"entries", n)
	return nil
}
