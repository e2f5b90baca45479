package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"compras/internal/cache"
	"compras/internal/core"
	"compras/internal/log"
	"compras/internal/ports/memory"
)

func newRoller(store *memory.Store, opts ...RollerOption) *PeriodRoller {
	return NewPeriodRoller(store, append([]RollerOption{WithRollerLogger(log.Discard())}, opts...)...)
}

func TestRoll_AdvancesAcrossPeriods(t *testing.T) {
	ctx := context.Background()
	store, c := seededStore(t, newCategory(t, "Papeleria", 1000, core.MXN))
	now := time.Date(2024, 8, 15, 12, 0, 0, 0, time.UTC)

	got, rolled, err := newRoller(store).Roll(ctx, c.ID, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rolled {
		t.Fatal("expected rollover")
	}
	wantStart := time.Date(2024, 7, 29, 0, 0, 0, 0, time.UTC)
	if !got.PeriodStart.Equal(wantStart) || !got.PeriodEnd.Equal(core.EndOfDay(wantStart.AddDate(0, 0, 29))) {
		t.Fatalf("window = %v..%v", got.PeriodStart, got.PeriodEnd)
	}
	stored, _ := store.LoadCategory(ctx, c.ID)
	if !stored.Window().Equal(got.Window()) {
		t.Fatalf("stored window %v..%v not persisted", stored.PeriodStart, stored.PeriodEnd)
	}

	_, rolled, err = newRoller(store).Roll(ctx, c.ID, now)
	if err != nil || rolled {
		t.Fatalf("second roll should be a no-op, got rolled=%v err=%v", rolled, err)
	}
}

func TestRoll_NeverMovesBackwards(t *testing.T) {
	ctx := context.Background()
	store, c := seededStore(t, newCategory(t, "Viajes", 1000, core.MXN))
	roller := newRoller(store)
	late := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	moved, _, _ := roller.Roll(ctx, c.ID, late)
	got, rolled, err := roller.Roll(ctx, c.ID, midJanuary)
	if err != nil || rolled {
		t.Fatalf("stale roll moved the window: rolled=%v err=%v", rolled, err)
	}
	if !got.PeriodStart.Equal(moved.PeriodStart) {
		t.Fatalf("start = %v, want %v", got.PeriodStart, moved.PeriodStart)
	}
}

// racingStore simulates another process rolling the category between our
// load and our compare-and-swap.
type racingStore struct {
	*memory.Store
	races int
	ahead time.Time
}

func (r *racingStore) CompareAndSwapWindow(ctx context.Context, id int64, prev time.Time, next core.Window) error {
	if r.races > 0 {
		r.races--
		c, _ := r.Store.LoadCategory(ctx, id)
		w, _ := core.CurrentWindowFor(c, r.ahead)
		if err := r.Store.CompareAndSwapWindow(ctx, id, c.PeriodStart, w); err != nil {
			return err
		}
	}
	return r.Store.CompareAndSwapWindow(ctx, id, prev, next)
}

func TestRoll_ConflictReloads(t *testing.T) {
	ctx := context.Background()
	mem, c := seededStore(t, newCategory(t, "Eventos", 1000, core.MXN))
	ahead := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	store := &racingStore{Store: mem, races: 1, ahead: ahead}
	roller := NewPeriodRoller(store, WithRollerLogger(log.Discard()))

	// our now is older than the concurrent writer's
	got, rolled, err := roller.Roll(ctx, c.ID, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rolled {
		t.Fatal("the newer concurrent window must win")
	}
	want, _ := core.CurrentWindowFor(c, ahead)
	if !got.Window().Equal(want) {
		t.Fatalf("window = %v, want %v", got.PeriodStart, want.Start)
	}
}

func TestRoll_ConflictRetriesOnce(t *testing.T) {
	ctx := context.Background()
	mem, c := seededStore(t, newCategory(t, "Eventos", 1000, core.MXN))
	// the concurrent writer lands on the same window before us twice
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	store := &racingStore{Store: mem, races: 2, ahead: now}
	roller := NewPeriodRoller(store, WithRollerLogger(log.Discard()))

	got, _, err := roller.Roll(ctx, c.ID, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Window().Contains(now) {
		t.Fatalf("window %v..%v does not contain now", got.PeriodStart, got.PeriodEnd)
	}
}

func TestRoll_Concurrent(t *testing.T) {
	ctx := context.Background()
	store, c := seededStore(t, newCategory(t, "Software", 1000, core.USD))
	roller := newRoller(store)
	now := time.Date(2025, 2, 3, 4, 0, 0, 0, time.UTC)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		rolled int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, moved, err := roller.Roll(ctx, c.ID, now)
			if err != nil {
				t.Errorf("roll: %v", err)
			}
			if moved {
				mu.Lock()
				rolled++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	stored, _ := store.LoadCategory(ctx, c.ID)
	if !stored.Window().Contains(now) {
		t.Fatalf("stored window %v..%v does not contain now", stored.PeriodStart, stored.PeriodEnd)
	}
	// singleflight may share one result among many callers
	if rolled < 1 {
		t.Fatal("expected at least one caller to report the rollover")
	}
}

// gatedStore holds the first LoadCategory until released and fails loads
// whose context is already done.
type gatedStore struct {
	*memory.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) LoadCategory(ctx context.Context, id int64) (core.Category, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	if err := ctx.Err(); err != nil {
		return core.Category{}, err
	}
	return g.Store.LoadCategory(ctx, id)
}

func TestRoll_CancelledCallerDoesNotFailFlight(t *testing.T) {
	mem, c := seededStore(t, newCategory(t, "Software", 1000, core.USD))
	store := &gatedStore{Store: mem, entered: make(chan struct{}), release: make(chan struct{})}
	roller := NewPeriodRoller(store, WithRollerLogger(log.Discard()))
	now := time.Date(2025, 2, 3, 4, 0, 0, 0, time.UTC)

	first, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 2)
	go func() {
		_, _, err := roller.Roll(first, c.ID, now)
		errs <- err
	}()
	<-store.entered
	cancel()
	go func() {
		_, _, err := roller.Roll(context.Background(), c.ID, now)
		errs <- err
	}()
	close(store.release)

	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("roll failed after the first caller cancelled: %v", err)
		}
	}
	stored, _ := mem.LoadCategory(context.Background(), c.ID)
	if !stored.Window().Contains(now) {
		t.Fatalf("stored window %v..%v does not contain now", stored.PeriodStart, stored.PeriodEnd)
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	store, c := seededStore(t, newCategory(t, "Limpieza", 1000, core.MXN))
	snapshots := cache.NewLRUCache[core.BudgetSnapshot](8, time.Hour)
	snapshots.Set(categoryKeyPrefix(c.ID)+"x", core.BudgetSnapshot{})
	roller := newRoller(store, WithRollerSnapshotInvalidation(snapshots))

	now := time.Date(2024, 1, 20, 15, 30, 0, 0, time.UTC)
	got, err := roller.Reset(ctx, c.ID, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.PeriodStart.Equal(time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("start = %v", got.PeriodStart)
	}
	if snapshots.Size() != 0 {
		t.Fatal("reset should invalidate cached snapshots")
	}
	if _, err := roller.Reset(ctx, 404, now); !errors.Is(err, core.ErrCategoryNotFound) {
		t.Fatalf("expected ErrCategoryNotFound, got %v", err)
	}
}
