package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"compras/internal/core"
	"compras/internal/ports"
)

// Store keeps categories, requisitions and ledger entries in process memory.
type Store struct {
	mu           sync.Mutex
	nextCatID    int64
	nextReqID    int64
	categories   map[int64]core.Category
	requisitions map[int64]core.Requisition
	ledger       map[int64]core.LedgerEntry // keyed by requisition id
	now          func() time.Time
}

var _ ports.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		categories:   make(map[int64]core.Category),
		requisitions: make(map[int64]core.Requisition),
		ledger:       make(map[int64]core.LedgerEntry),
		now:          time.Now,
	}
}

func (s *Store) LoadCategory(_ context.Context, id int64) (core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.categories[id]
	if !ok {
		return core.Category{}, core.ErrCategoryNotFound
	}
	return c, nil
}

func (s *Store) ListCategories(_ context.Context) ([]core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SaveCategory(_ context.Context, c core.Category) (core.Category, error) {
	if err := c.Validate(); err != nil {
		return core.Category{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.categories {
		if id != c.ID && strings.EqualFold(existing.Name, c.Name) {
			return core.Category{}, core.ErrDuplicateCategory
		}
	}
	if c.ID == 0 {
		s.nextCatID++
		c.ID = s.nextCatID
	} else if _, ok := s.categories[c.ID]; !ok {
		return core.Category{}, core.ErrCategoryNotFound
	}
	s.categories[c.ID] = c
	return c, nil
}

func (s *Store) CompareAndSwapWindow(_ context.Context, id int64, prevStart time.Time, next core.Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.categories[id]
	if !ok {
		return core.ErrCategoryNotFound
	}
	if !c.PeriodStart.Equal(prevStart) {
		return core.ErrWindowConflict
	}
	c.PeriodStart = next.Start
	c.PeriodEnd = next.End
	c.NeedsReset = false
	s.categories[id] = c
	return nil
}

// DeleteCategory removes a category; ledger entries are left for the
// engine to deactivate on their next reconciliation.
func (s *Store) DeleteCategory(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.categories[id]; !ok {
		return core.ErrCategoryNotFound
	}
	delete(s.categories, id)
	return nil
}

func (s *Store) LoadRequisition(_ context.Context, id int64) (core.Requisition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requisitions[id]
	if !ok {
		return core.Requisition{}, core.ErrRequisitionNotFound
	}
	return copyRequisition(r), nil
}

func (s *Store) LoadRequisitionsByCategory(_ context.Context, categoryID int64, statuses []core.RequisitionStatus) ([]core.Requisition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Requisition
	for _, r := range s.requisitions {
		if !r.BelongsTo(categoryID) || !hasStatus(statuses, r.Status) {
			continue
		}
		out = append(out, copyRequisition(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SaveRequisition(_ context.Context, r core.Requisition) (core.Requisition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == 0 {
		s.nextReqID++
		r.ID = s.nextReqID
	} else if r.ID > s.nextReqID {
		s.nextReqID = r.ID
	}
	s.requisitions[r.ID] = copyRequisition(r)
	return copyRequisition(r), nil
}

func (s *Store) GetLedgerEntry(_ context.Context, requisitionID int64) (core.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.ledger[requisitionID]
	if !ok {
		return core.LedgerEntry{}, core.ErrLedgerNotFound
	}
	return e, nil
}

func (s *Store) UpsertLedgerEntry(_ context.Context, e core.LedgerEntry) (core.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	if existing, ok := s.ledger[e.RequisitionID]; ok {
		e.ID = existing.ID
		e.CreatedAt = existing.CreatedAt
	} else {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = now
	}
	s.ledger[e.RequisitionID] = e
	return e, nil
}

func (s *Store) ListLedgerEntries(_ context.Context, filter core.LedgerFilter) ([]core.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.LedgerEntry
	for _, e := range s.ledger {
		if filter.CategoryID != nil && e.CategoryID != *filter.CategoryID {
			continue
		}
		if filter.Active != nil && e.Active != *filter.Active {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].RequisitionID > out[j].RequisitionID
	})
	return out, nil
}

func (s *Store) DeleteLedgerEntry(_ context.Context, requisitionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ledger[requisitionID]; !ok {
		return core.ErrLedgerNotFound
	}
	delete(s.ledger, requisitionID)
	return nil
}

func (s *Store) Close() error { return nil }

func hasStatus(statuses []core.RequisitionStatus, status core.RequisitionStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, st := range statuses {
		if st == status {
			return true
		}
	}
	return false
}

func copyRequisition(r core.Requisition) core.Requisition {
	r.CategoryID = copyPtr(r.CategoryID)
	r.StatusChangedAt = copyPtr(r.StatusChangedAt)
	r.UpdatedAt = copyPtr(r.UpdatedAt)
	r.CreatedAt = copyPtr(r.CreatedAt)
	return r
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
