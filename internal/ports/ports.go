package ports

import (
	"context"
	"time"

	"compras/internal/core"
)

// Ports for the persistence and export collaborators of the budget engine.
type (
	// CategoryStore loads and persists categories.
	CategoryStore interface {
		// LoadCategory returns core.ErrCategoryNotFound when the id is unknown.
		LoadCategory(ctx context.Context, id int64) (core.Category, error)
		ListCategories(ctx context.Context) ([]core.Category, error)
		// SaveCategory inserts when ID is zero and updates otherwise.
		SaveCategory(ctx context.Context, c core.Category) (core.Category, error)
		// CompareAndSwapWindow stores next only if the stored PeriodStart still
		// equals prevStart, otherwise it returns core.ErrWindowConflict.
		CompareAndSwapWindow(ctx context.Context, id int64, prevStart time.Time, next core.Window) error
		// DeleteCategory returns core.ErrCategoryNotFound when the id is unknown.
		// Ledger entries under the category are kept.
		DeleteCategory(ctx context.Context, id int64) error
	}

	// RequisitionReader reads requisitions owned by the requisition workflow.
	RequisitionReader interface {
		// LoadRequisition returns core.ErrRequisitionNotFound when the id is unknown.
		LoadRequisition(ctx context.Context, id int64) (core.Requisition, error)
		LoadRequisitionsByCategory(ctx context.Context, categoryID int64, statuses []core.RequisitionStatus) ([]core.Requisition, error)
	}

	// RequisitionWriter is used by the workflow side and by seeding tools.
	RequisitionWriter interface {
		SaveRequisition(ctx context.Context, r core.Requisition) (core.Requisition, error)
	}

	// LedgerStore keeps at most one entry per requisition.
	LedgerStore interface {
		// GetLedgerEntry returns core.ErrLedgerNotFound when no entry exists.
		GetLedgerEntry(ctx context.Context, requisitionID int64) (core.LedgerEntry, error)
		// UpsertLedgerEntry creates the entry for e.RequisitionID or updates the
		// existing one in place, keeping its ID and CreatedAt.
		UpsertLedgerEntry(ctx context.Context, e core.LedgerEntry) (core.LedgerEntry, error)
		ListLedgerEntries(ctx context.Context, filter core.LedgerFilter) ([]core.LedgerEntry, error)
		// DeleteLedgerEntry is reserved for requisition deletion.
		DeleteLedgerEntry(ctx context.Context, requisitionID int64) error
	}

	// LedgerExporter mirrors ledger entries to an external audit destination.
	LedgerExporter interface {
		ExportLedgerEntry(ctx context.Context, e core.LedgerEntry) (ref string, err error)
	}

	// Store is everything a backend provides.
	Store interface {
		CategoryStore
		RequisitionReader
		RequisitionWriter
		LedgerStore
		Close() error
	}
)
