package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"compras/internal/cache"
	"compras/internal/core"
	"compras/internal/log"
	"compras/internal/ports"
)

// PeriodRoller persists category window rollovers. At most one rollover per
// category runs at a time in this process, and every write is a
// compare-and-swap on the previous period start so concurrent writers in
// other processes cannot move a window backwards.
type PeriodRoller struct {
	store     ports.CategoryStore
	group     singleflight.Group
	snapshots cache.Cache[core.BudgetSnapshot]
	logger    *log.Logger
}

type RollerOption func(*PeriodRoller)

func WithRollerLogger(l *log.Logger) RollerOption {
	return func(r *PeriodRoller) { r.logger = l.WithComponent(log.ComponentRollover) }
}

// WithRollerSnapshotInvalidation drops cached snapshots of rolled categories.
func WithRollerSnapshotInvalidation(c cache.Cache[core.BudgetSnapshot]) RollerOption {
	return func(r *PeriodRoller) { r.snapshots = c }
}

func NewPeriodRoller(store ports.CategoryStore, opts ...RollerOption) *PeriodRoller {
	r := &PeriodRoller{
		store:  store,
		logger: log.Default().WithComponent(log.ComponentRollover),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type rollResult struct {
	category core.Category
	rolled   bool
}

// Roll advances the stored window of the category to the one containing now
// and reports whether it changed anything.
func (r *PeriodRoller) Roll(ctx context.Context, categoryID int64, now time.Time) (core.Category, bool, error) {
	// Joined callers must not fail because the first caller went away.
	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := r.group.Do(strconv.FormatInt(categoryID, 10), func() (any, error) {
		c, rolled, err := r.roll(flightCtx, categoryID, now)
		return rollResult{c, rolled}, err
	})
	if err != nil {
		return core.Category{}, false, err
	}
	res := v.(rollResult)
	// A shared flight may have been started with an earlier now.
	if res.category.NeedsRollover(now) {
		return r.roll(ctx, categoryID, now)
	}
	return res.category, res.rolled, nil
}

func (r *PeriodRoller) roll(ctx context.Context, categoryID int64, now time.Time) (core.Category, bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		c, err := r.store.LoadCategory(ctx, categoryID)
		if err != nil {
			return core.Category{}, false, err
		}
		w, err := core.CurrentWindowFor(c, now)
		if err != nil {
			return core.Category{}, false, fmt.Errorf("category %d: %w", categoryID, err)
		}
		if w.Start.Before(c.PeriodStart) || (w.Equal(c.Window()) && !c.NeedsReset) {
			return c, false, nil
		}

		err = r.store.CompareAndSwapWindow(ctx, categoryID, c.PeriodStart, w)
		if errors.Is(err, core.ErrWindowConflict) {
			r.logger.DebugContext(ctx, "Window changed concurrently, reloading",
				log.FieldCategoryID, categoryID)
			continue
		}
		if err != nil {
			return core.Category{}, false, fmt.Errorf("persist window for category %d: %w", categoryID, err)
		}

		r.logger.InfoContext(ctx, "Category window rolled over",
			log.NewFields().
				WithCategory(c.ID, c.Name).
				WithWindow(w.Start, w.End).
				WithOperation(log.OpRollover).
				ToSlice()...)
		c.PeriodStart, c.PeriodEnd, c.NeedsReset = w.Start, w.End, false
		r.invalidate(categoryID)
		return c, true, nil
	}

	// Lost the race twice; whatever is stored now came from a newer writer.
	c, err := r.store.LoadCategory(ctx, categoryID)
	return c, false, err
}

// Reset starts a fresh window at the UTC day of now, whatever the current
// window is.
func (r *PeriodRoller) Reset(ctx context.Context, categoryID int64, now time.Time) (core.Category, error) {
	c, err := r.store.LoadCategory(ctx, categoryID)
	if err != nil {
		return core.Category{}, err
	}
	next, err := c.WithPeriodStart(now)
	if err != nil {
		return core.Category{}, err
	}
	if err := r.store.CompareAndSwapWindow(ctx, categoryID, c.PeriodStart, next.Window()); err != nil {
		return core.Category{}, fmt.Errorf("reset window for category %d: %w", categoryID, err)
	}
	r.logger.InfoContext(ctx, "Category window reset",
		log.NewFields().
			WithCategory(c.ID, c.Name).
			WithWindow(next.PeriodStart, next.PeriodEnd).
			WithOperation(log.OpReset).
			ToSlice()...)
	r.invalidate(categoryID)
	return next, nil
}

func (r *PeriodRoller) invalidate(categoryID int64) {
	if r.snapshots != nil {
		r.snapshots.DeletePrefix(categoryKeyPrefix(categoryID))
	}
}
