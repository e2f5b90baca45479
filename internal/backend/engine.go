package backend

import (
	"compras/internal/cache"
	"compras/internal/config"
	"compras/internal/core"
	"compras/internal/log"
	"compras/internal/ports"
	"compras/internal/services"
)

// Engine bundles the services that share one store and one snapshot cache.
type Engine struct {
	Store      ports.Store
	Ledger     *services.LedgerSynchronizer
	Roller     *services.PeriodRoller
	Projector  *services.Projector
	Categories *services.CategoryService
	Snapshots  *cache.LRUCache[core.BudgetSnapshot] // nil when caching is disabled
}

// NewEngine wires the services over store. exporter may be nil.
func NewEngine(store ports.Store, cfg *config.Config, exporter ports.LedgerExporter, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	e := &Engine{Store: store}

	ledgerOpts := []services.LedgerOption{
		services.WithLedgerLogger(logger),
		services.WithReconcileConcurrency(cfg.ReconcileConcurrency),
	}
	rollerOpts := []services.RollerOption{services.WithRollerLogger(logger)}
	projectorOpts := []services.ProjectorOption{services.WithProjectorLogger(logger)}

	if cfg.SnapshotCacheSize > 0 {
		e.Snapshots = cache.NewLRUCache[core.BudgetSnapshot](cfg.SnapshotCacheSize, cfg.SnapshotCacheTTL)
		ledgerOpts = append(ledgerOpts, services.WithSnapshotInvalidation(e.Snapshots))
		rollerOpts = append(rollerOpts, services.WithRollerSnapshotInvalidation(e.Snapshots))
		projectorOpts = append(projectorOpts, services.WithProjectionCache(e.Snapshots))
	}
	if exporter != nil {
		ledgerOpts = append(ledgerOpts, services.WithLedgerExporter(exporter))
	}

	e.Ledger = services.NewLedgerSynchronizer(store, ledgerOpts...)
	e.Roller = services.NewPeriodRoller(store, rollerOpts...)
	e.Projector = services.NewProjector(store, projectorOpts...)
	e.Categories = services.NewCategoryService(store, e.Ledger, e.Roller, logger)
	return e
}

// Sweeper returns a sweeper for the snapshot cache, or nil without one.
func (e *Engine) Sweeper(cfg *config.Config, logger *log.Logger) *cache.Sweeper {
	if e.Snapshots == nil || cfg.SnapshotCacheTTL <= 0 {
		return nil
	}
	logger = logger.WithComponent(log.ComponentCache)
	return cache.NewSweeper(cfg.SnapshotCacheTTL, func(removed int) {
		if removed > 0 {
			logger.Debug("Expired snapshots removed", "removed", removed)
		}
	}, e.Snapshots)
}
