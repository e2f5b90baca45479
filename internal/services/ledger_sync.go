package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"compras/internal/cache"
	"compras/internal/core"
	"compras/internal/log"
	"compras/internal/ports"
)

// DefaultReconcileConcurrency bounds ReconcileCategory fan-out.
const DefaultReconcileConcurrency = 4

// LedgerSynchronizer keeps one ledger entry per budget-relevant requisition
// in step with the category's current window.
type LedgerSynchronizer struct {
	categories   ports.CategoryStore
	requisitions ports.RequisitionReader
	ledger       ports.LedgerStore
	exporter     ports.LedgerExporter
	snapshots    cache.Cache[core.BudgetSnapshot]
	logger       *log.Logger
	concurrency  int
	locks        keyedMutex
}

type LedgerOption func(*LedgerSynchronizer)

// WithLedgerExporter mirrors every written entry. Export failures are logged.
func WithLedgerExporter(e ports.LedgerExporter) LedgerOption {
	return func(s *LedgerSynchronizer) { s.exporter = e }
}

// WithSnapshotInvalidation drops a category's cached snapshots after each
// ledger write for it.
func WithSnapshotInvalidation(c cache.Cache[core.BudgetSnapshot]) LedgerOption {
	return func(s *LedgerSynchronizer) { s.snapshots = c }
}

func WithLedgerLogger(l *log.Logger) LedgerOption {
	return func(s *LedgerSynchronizer) { s.logger = l.WithComponent(log.ComponentLedger) }
}

func WithReconcileConcurrency(n int) LedgerOption {
	return func(s *LedgerSynchronizer) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func NewLedgerSynchronizer(store ports.Store, opts ...LedgerOption) *LedgerSynchronizer {
	s := &LedgerSynchronizer{
		categories:   store,
		requisitions: store,
		ledger:       store,
		logger:       log.Default().WithComponent(log.ComponentLedger),
		concurrency:  DefaultReconcileConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reconcile brings the ledger entry of req up to date and returns it.
//
// A budget-relevant requisition with a category and an amount gets an active
// entry, created on first sight and refreshed in place afterwards. Anything
// else deactivates an existing entry and never creates one, in which case
// nil is returned. Failures are logged, leave stored state untouched and
// yield nil.
func (s *LedgerSynchronizer) Reconcile(ctx context.Context, req core.Requisition, category *core.Category, now time.Time, actingUser string) *core.LedgerEntry {
	unlock := s.locks.Lock(req.ID)
	defer unlock()

	fields := log.NewFields().WithRequisition(req.ID, string(req.Status))
	logger := s.logger.WithFields(fields)

	existing, err := s.ledger.GetLedgerEntry(ctx, req.ID)
	found := err == nil
	if err != nil && !errors.Is(err, core.ErrLedgerNotFound) {
		logger.ErrorContext(ctx, "Failed to load ledger entry", log.FieldError, err)
		return nil
	}

	if reason := inactiveReason(req, category); reason != "" {
		if !found {
			logger.DebugContext(ctx, "Requisition not budget relevant, no entry", "reason", reason)
			return nil
		}
		return s.deactivate(ctx, logger, existing, req, now, actingUser, reason)
	}

	next, err := s.compute(ctx, req, *category, now)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to compute ledger snapshot",
			log.FieldCategoryID, category.ID,
			log.FieldError, err)
		return nil
	}
	if next.Exclusion == core.ExclusionCurrencyMismatch {
		logger.DebugContext(ctx, "Amount currency differs from category, excluded from spend",
			log.FieldCurrency, category.Currency,
			log.FieldAmount, req.Amount.Raw())
	}
	next.ActingUser = actingUser
	next.SpentAt = now
	if found {
		if existing.SnapshotEqual(next) {
			return &existing
		}
		next.ID = existing.ID
		next.CreatedAt = existing.CreatedAt
		if actingUser == "" {
			next.ActingUser = existing.ActingUser
		}
	} else {
		next.CreatedAt = now
	}
	next.UpdatedAt = now

	saved, err := s.ledger.UpsertLedgerEntry(ctx, next)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to write ledger entry", log.FieldError, err)
		return nil
	}
	s.afterWrite(ctx, logger, saved, existing, found)

	logger.InfoContext(ctx, "Ledger entry reconciled",
		log.FieldCategoryID, saved.CategoryID,
		log.FieldAmount, saved.AmountSpent.String(),
		log.FieldRemaining, saved.Remaining.String(),
		log.FieldWindowStart, saved.PeriodStart,
		log.FieldWindowEnd, saved.PeriodEnd)
	return &saved
}

// ReconcileByID loads the requisition and its category and reconciles it.
// A category that no longer exists deactivates the entry.
func (s *LedgerSynchronizer) ReconcileByID(ctx context.Context, requisitionID int64, now time.Time, actingUser string) *core.LedgerEntry {
	req, err := s.requisitions.LoadRequisition(ctx, requisitionID)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to load requisition",
			log.FieldRequisitionID, requisitionID,
			log.FieldError, err)
		return nil
	}

	var category *core.Category
	if req.CategoryID != nil {
		c, err := s.categories.LoadCategory(ctx, *req.CategoryID)
		switch {
		case err == nil:
			category = &c
		case errors.Is(err, core.ErrCategoryNotFound):
			// reconciled as unresolved, which deactivates
		default:
			s.logger.ErrorContext(ctx, "Failed to load category",
				log.FieldRequisitionID, requisitionID,
				log.FieldCategoryID, *req.CategoryID,
				log.FieldError, err)
			return nil
		}
	}
	return s.Reconcile(ctx, req, category, now, actingUser)
}

// ReconcileCategory re-reconciles every requisition of the category and every
// requisition that still has a ledger entry under it. It returns how many
// calls produced an entry.
func (s *LedgerSynchronizer) ReconcileCategory(ctx context.Context, categoryID int64, now time.Time) (int, error) {
	if _, err := s.categories.LoadCategory(ctx, categoryID); err != nil {
		return 0, fmt.Errorf("load category %d: %w", categoryID, err)
	}
	reqs, err := s.requisitions.LoadRequisitionsByCategory(ctx, categoryID, nil)
	if err != nil {
		return 0, fmt.Errorf("load requisitions for category %d: %w", categoryID, err)
	}
	entries, err := s.ledger.ListLedgerEntries(ctx, core.LedgerFilter{CategoryID: &categoryID})
	if err != nil {
		return 0, fmt.Errorf("list ledger for category %d: %w", categoryID, err)
	}

	ids := make([]int64, 0, len(reqs)+len(entries))
	seen := make(map[int64]bool, cap(ids))
	for _, r := range reqs {
		if !seen[r.ID] {
			seen[r.ID] = true
			ids = append(ids, r.ID)
		}
	}
	for _, e := range entries {
		if !seen[e.RequisitionID] {
			seen[e.RequisitionID] = true
			ids = append(ids, e.RequisitionID)
		}
	}

	var written atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if s.ReconcileByID(gctx, id, now, "") != nil {
				written.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	return int(written.Load()), err
}

// GetLedgerByRequisition returns the entry of one requisition.
func (s *LedgerSynchronizer) GetLedgerByRequisition(ctx context.Context, requisitionID int64) (core.LedgerEntry, error) {
	return s.ledger.GetLedgerEntry(ctx, requisitionID)
}

// ListLedgerByCategory returns the category's entries, newest first.
func (s *LedgerSynchronizer) ListLedgerByCategory(ctx context.Context, categoryID int64) ([]core.LedgerEntry, error) {
	return s.ledger.ListLedgerEntries(ctx, core.LedgerFilter{CategoryID: &categoryID})
}

func (s *LedgerSynchronizer) ListLedger(ctx context.Context, filter core.LedgerFilter) ([]core.LedgerEntry, error) {
	return s.ledger.ListLedgerEntries(ctx, filter)
}

// DeleteLedgerForRequisition removes the entry of a deleted requisition.
func (s *LedgerSynchronizer) DeleteLedgerForRequisition(ctx context.Context, requisitionID int64) error {
	unlock := s.locks.Lock(requisitionID)
	defer unlock()

	e, err := s.ledger.GetLedgerEntry(ctx, requisitionID)
	if err != nil {
		return err
	}
	if err := s.ledger.DeleteLedgerEntry(ctx, requisitionID); err != nil {
		return fmt.Errorf("delete ledger entry for requisition %d: %w", requisitionID, err)
	}
	s.invalidate(e.CategoryID)
	return nil
}

func (s *LedgerSynchronizer) compute(ctx context.Context, req core.Requisition, c core.Category, now time.Time) (core.LedgerEntry, error) {
	reqs, err := s.requisitions.LoadRequisitionsByCategory(ctx, c.ID, core.ValidStatuses)
	if err != nil {
		return core.LedgerEntry{}, fmt.Errorf("load requisitions: %w", err)
	}
	agg, err := Aggregate(c, withRequisition(reqs, req), now)
	if err != nil {
		return core.LedgerEntry{}, fmt.Errorf("aggregate: %w", err)
	}

	spent, exclusion := decimal.Zero, core.ExclusionOutsideWindow
	if res, ok := agg.Contribution(req.ID); ok {
		spent, exclusion = res.Amount, res.Reason
	}
	return core.LedgerEntry{
		RequisitionID:    req.ID,
		CategoryID:       c.ID,
		CategoryName:     c.Name,
		TotalBudget:      c.TotalBudget,
		PeriodLengthDays: agg.Window.Days(),
		PeriodStart:      agg.Window.Start,
		PeriodEnd:        agg.Window.End,
		AmountSpent:      spent,
		Remaining:        c.TotalBudget.Sub(agg.TotalSpent),
		Currency:         c.Currency,
		StatusSnapshot:   req.Status,
		Exclusion:        exclusion,
		Active:           true,
	}, nil
}

func (s *LedgerSynchronizer) deactivate(ctx context.Context, logger *log.Logger, existing core.LedgerEntry, req core.Requisition, now time.Time, actingUser, reason string) *core.LedgerEntry {
	next := existing
	next.Active = false
	next.StatusSnapshot = req.Status
	if existing.SnapshotEqual(next) {
		return &existing
	}
	if actingUser != "" {
		next.ActingUser = actingUser
	}
	next.UpdatedAt = now

	saved, err := s.ledger.UpsertLedgerEntry(ctx, next)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to deactivate ledger entry", log.FieldError, err)
		return nil
	}
	s.afterWrite(ctx, logger, saved, existing, true)
	logger.InfoContext(ctx, "Ledger entry deactivated",
		log.FieldCategoryID, saved.CategoryID,
		"reason", reason)
	return &saved
}

func (s *LedgerSynchronizer) afterWrite(ctx context.Context, logger *log.Logger, saved, previous core.LedgerEntry, hadPrevious bool) {
	s.invalidate(saved.CategoryID)
	if hadPrevious && previous.CategoryID != saved.CategoryID {
		s.invalidate(previous.CategoryID)
	}
	if s.exporter == nil {
		return
	}
	ref, err := s.exporter.ExportLedgerEntry(ctx, saved)
	if err != nil {
		logger.WarnContext(ctx, "Failed to mirror ledger entry", log.FieldError, err)
		return
	}
	logger.DebugContext(ctx, "Ledger entry mirrored", "ref", ref)
}

func (s *LedgerSynchronizer) invalidate(categoryID int64) {
	if s.snapshots != nil {
		s.snapshots.DeletePrefix(categoryKeyPrefix(categoryID))
	}
}

// inactiveReason names the first missing precondition for an active entry,
// or returns "" when every precondition holds.
func inactiveReason(req core.Requisition, category *core.Category) string {
	switch {
	case !req.Status.IsBudgetRelevant():
		return "status"
	case req.CategoryID == nil:
		return "no_category"
	case !req.Amount.IsPresent():
		return "no_amount"
	case category == nil:
		return "category_unresolved"
	case !req.BelongsTo(category.ID):
		return "category_mismatch"
	}
	return ""
}

// withRequisition returns reqs with req in place of any stored copy, so the
// aggregate reflects the version being reconciled.
func withRequisition(reqs []core.Requisition, req core.Requisition) []core.Requisition {
	out := make([]core.Requisition, 0, len(reqs)+1)
	for _, r := range reqs {
		if r.ID != req.ID {
			out = append(out, r)
		}
	}
	return append(out, req)
}

// keyedMutex serializes work per requisition id.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key int64) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[int64]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
