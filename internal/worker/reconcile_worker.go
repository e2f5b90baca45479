package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"compras/internal/amqp"
	"compras/internal/core"
	"compras/internal/log"
	"compras/internal/ports"
	"compras/internal/services"
)

// Source is what the worker reads before handing work to the engine.
type Source interface {
	ports.CategoryStore
	ports.RequisitionReader
}

// ReconcileWorker turns AMQP messages and timer ticks into ledger
// reconciliations and window rollovers.
type ReconcileWorker struct {
	source Source
	ledger *services.LedgerSynchronizer
	roller *services.PeriodRoller
	logger *log.Logger
	now    func() time.Time
}

func NewReconcileWorker(source Source, ledger *services.LedgerSynchronizer, roller *services.PeriodRoller, logger *log.Logger) *ReconcileWorker {
	if logger == nil {
		logger = log.Default()
	}
	return &ReconcileWorker{
		source: source,
		ledger: ledger,
		roller: roller,
		logger: logger.WithComponent(log.ComponentWorker),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// HandleMessage dispatches one delivery by message type. It satisfies
// amqp.Handler.
func (w *ReconcileWorker) HandleMessage(ctx context.Context, msgType string, body []byte) error {
	switch msgType {
	case amqp.TypeReconcile:
		msg, err := amqp.ReconcileMessageFromJSON(body)
		if err != nil {
			return err
		}
		return w.HandleReconcile(ctx, msg)
	case amqp.TypeRollover:
		msg, err := amqp.RolloverMessageFromJSON(body)
		if err != nil {
			return err
		}
		return w.HandleRollover(ctx, msg)
	default:
		return fmt.Errorf("%w: unknown message type %q", amqp.ErrMalformedMessage, msgType)
	}
}

// HandleReconcile loads the requisition and its category and reconciles the
// ledger entry. Store failures are returned so the message is retried. A
// requisition that no longer exists loses its ledger entry.
func (w *ReconcileWorker) HandleReconcile(ctx context.Context, msg *amqp.ReconcileMessage) error {
	logger := w.logger.With(log.FieldRequisitionID, msg.RequisitionID)

	req, err := w.source.LoadRequisition(ctx, msg.RequisitionID)
	if errors.Is(err, core.ErrRequisitionNotFound) {
		err := w.ledger.DeleteLedgerForRequisition(ctx, msg.RequisitionID)
		if err != nil && !errors.Is(err, core.ErrLedgerNotFound) {
			return fmt.Errorf("delete ledger entry: %w", err)
		}
		logger.InfoContext(ctx, "Requisition is gone, ledger entry removed")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load requisition %d: %w", msg.RequisitionID, err)
	}

	var category *core.Category
	if req.CategoryID != nil {
		c, err := w.source.LoadCategory(ctx, *req.CategoryID)
		switch {
		case err == nil:
			category = &c
		case errors.Is(err, core.ErrCategoryNotFound):
		default:
			return fmt.Errorf("load category %d: %w", *req.CategoryID, err)
		}
	}

	entry := w.ledger.Reconcile(ctx, req, category, w.now(), msg.ActingUser)
	logger.DebugContext(ctx, "Reconcile message processed",
		log.FieldStatus, req.Status,
		"has_entry", entry != nil)
	return nil
}

// HandleRollover rolls one category and, when its window moved, refreshes
// every ledger entry under it.
func (w *ReconcileWorker) HandleRollover(ctx context.Context, msg *amqp.RolloverMessage) error {
	err := w.rollover(ctx, msg.CategoryID, w.now())
	if errors.Is(err, core.ErrCategoryNotFound) {
		w.logger.WarnContext(ctx, "Rollover requested for unknown category", log.FieldCategoryID, msg.CategoryID)
		return nil
	}
	return err
}

func (w *ReconcileWorker) rollover(ctx context.Context, categoryID int64, now time.Time) error {
	_, rolled, err := w.roller.Roll(ctx, categoryID, now)
	if err != nil {
		return err
	}
	if !rolled {
		return nil
	}
	n, err := w.ledger.ReconcileCategory(ctx, categoryID, now)
	if err != nil {
		return fmt.Errorf("reconcile category %d after rollover: %w", categoryID, err)
	}
	w.logger.InfoContext(ctx, "Category ledger refreshed after rollover",
		log.FieldCategoryID, categoryID,
		"entries", n)
	return nil
}

// Sweep rolls every category whose window has passed. Failures of one
// category do not stop the others.
func (w *ReconcileWorker) Sweep(ctx context.Context) error {
	categories, err := w.source.ListCategories(ctx)
	if err != nil {
		return fmt.Errorf("list categories: %w", err)
	}
	now := w.now()
	var errs []error
	for _, c := range categories {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !c.NeedsRollover(now) {
			continue
		}
		if err := w.rollover(ctx, c.ID, now); err != nil {
			errs = append(errs, fmt.Errorf("category %d: %w", c.ID, err))
		}
	}
	return errors.Join(errs...)
}

// RunSweeps sweeps once immediately and then on every tick until ctx ends.
func (w *ReconcileWorker) RunSweeps(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
			w.logger.ErrorContext(ctx, "Rollover sweep failed",
				log.FieldOperation, log.OpRollover,
				log.FieldError, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
