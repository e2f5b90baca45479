package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"compras/internal/core"
	"compras/internal/log"
	"compras/internal/ports"
)

// timestamps are stored as fixed-width UTC text so they sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements ports.Store on a single SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ ports.Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	version, err := RunMigrations(dbPath)
	if err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// one writer; CAS and upserts rely on statement atomicity only
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Default().WithComponent(log.ComponentStorage).Info("SQLite store ready",
		"path", dbPath,
		"schema_version", version)
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

const categoryColumns = `id, name, total_budget, currency, period_length_days, period_name, period_start, period_end, needs_reset`

func (s *SQLiteStore) LoadCategory(ctx context.Context, id int64) (core.Category, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = ?`, id)
	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, core.ErrCategoryNotFound
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("load category %d: %w", id, err)
	}
	return c, nil
}

func (s *SQLiteStore) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+categoryColumns+` FROM categories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveCategory(ctx context.Context, c core.Category) (core.Category, error) {
	if err := c.Validate(); err != nil {
		return core.Category{}, err
	}
	args := []any{
		c.Name, c.TotalBudget, string(c.Currency), c.PeriodLengthDays, string(c.PeriodName),
		formatTime(c.PeriodStart), formatTime(c.PeriodEnd), c.NeedsReset,
	}

	if c.ID == 0 {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO categories (name, total_budget, currency, period_length_days, period_name, period_start, period_end, needs_reset)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, args...)
		if err != nil {
			return core.Category{}, categoryWriteError(err)
		}
		if c.ID, err = res.LastInsertId(); err != nil {
			return core.Category{}, fmt.Errorf("read category id: %w", err)
		}
		return c, nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE categories
		SET name = ?, total_budget = ?, currency = ?, period_length_days = ?, period_name = ?,
		    period_start = ?, period_end = ?, needs_reset = ?
		WHERE id = ?`, append(args, c.ID)...)
	if err != nil {
		return core.Category{}, categoryWriteError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Category{}, core.ErrCategoryNotFound
	}
	return c, nil
}

func (s *SQLiteStore) CompareAndSwapWindow(ctx context.Context, id int64, prevStart time.Time, next core.Window) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE categories SET period_start = ?, period_end = ?, needs_reset = 0
		WHERE id = ? AND period_start = ?`,
		formatTime(next.Start), formatTime(next.End), id, formatTime(prevStart))
	if err != nil {
		return fmt.Errorf("swap window for category %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("swap window for category %d: %w", id, err)
	}
	if n == 1 {
		return nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM categories WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrCategoryNotFound
	}
	if err != nil {
		return fmt.Errorf("check category %d: %w", id, err)
	}
	return core.ErrWindowConflict
}

func (s *SQLiteStore) DeleteCategory(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete category %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrCategoryNotFound
	}
	return nil
}

const requisitionColumns = `id, category_id, status, amount_kind, amount_text, status_changed_at, updated_at, created_at`

func (s *SQLiteStore) LoadRequisition(ctx context.Context, id int64) (core.Requisition, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+requisitionColumns+` FROM requisitions WHERE id = ?`, id)
	r, err := scanRequisition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Requisition{}, core.ErrRequisitionNotFound
	}
	if err != nil {
		return core.Requisition{}, fmt.Errorf("load requisition %d: %w", id, err)
	}
	return r, nil
}

func (s *SQLiteStore) LoadRequisitionsByCategory(ctx context.Context, categoryID int64, statuses []core.RequisitionStatus) ([]core.Requisition, error) {
	query := `SELECT ` + requisitionColumns + ` FROM requisitions WHERE category_id = ?`
	args := []any{categoryID}
	if len(statuses) > 0 {
		query += ` AND status IN (?` + strings.Repeat(`, ?`, len(statuses)-1) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load requisitions for category %d: %w", categoryID, err)
	}
	defer rows.Close()

	var out []core.Requisition
	for rows.Next() {
		r, err := scanRequisition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan requisition: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveRequisition(ctx context.Context, r core.Requisition) (core.Requisition, error) {
	var id any
	if r.ID != 0 {
		id = r.ID
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO requisitions (id, category_id, status, amount_kind, amount_text, status_changed_at, updated_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			category_id = excluded.category_id,
			status = excluded.status,
			amount_kind = excluded.amount_kind,
			amount_text = excluded.amount_text,
			status_changed_at = excluded.status_changed_at,
			updated_at = excluded.updated_at,
			created_at = excluded.created_at`,
		id, nullInt(r.CategoryID), string(r.Status), int(r.Amount.Kind()), r.Amount.Raw(),
		nullTime(r.StatusChangedAt), nullTime(r.UpdatedAt), nullTime(r.CreatedAt))
	if err != nil {
		return core.Requisition{}, fmt.Errorf("save requisition: %w", err)
	}
	if r.ID == 0 {
		if r.ID, err = res.LastInsertId(); err != nil {
			return core.Requisition{}, fmt.Errorf("read requisition id: %w", err)
		}
	}
	return r, nil
}

const ledgerColumns = `id, requisition_id, category_id, category_name, total_budget, period_length_days,
	period_start, period_end, amount_spent, remaining, currency, status_snapshot, exclusion, active,
	acting_user, spent_at, created_at, updated_at`

func (s *SQLiteStore) GetLedgerEntry(ctx context.Context, requisitionID int64) (core.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ledgerColumns+` FROM ledger_entries WHERE requisition_id = ?`, requisitionID)
	e, err := scanLedgerEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.LedgerEntry{}, core.ErrLedgerNotFound
	}
	if err != nil {
		return core.LedgerEntry{}, fmt.Errorf("get ledger entry %d: %w", requisitionID, err)
	}
	return e, nil
}

// UpsertLedgerEntry relies on the unique requisition_id so two writers for
// the same requisition converge on one row.
func (s *SQLiteStore) UpsertLedgerEntry(ctx context.Context, e core.LedgerEntry) (core.LedgerEntry, error) {
	now := s.now().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = now
	}
	if e.SpentAt.IsZero() {
		e.SpentAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (`+ledgerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(requisition_id) DO UPDATE SET
			category_id = excluded.category_id,
			category_name = excluded.category_name,
			total_budget = excluded.total_budget,
			period_length_days = excluded.period_length_days,
			period_start = excluded.period_start,
			period_end = excluded.period_end,
			amount_spent = excluded.amount_spent,
			remaining = excluded.remaining,
			currency = excluded.currency,
			status_snapshot = excluded.status_snapshot,
			exclusion = excluded.exclusion,
			active = excluded.active,
			acting_user = excluded.acting_user,
			spent_at = excluded.spent_at,
			updated_at = excluded.updated_at`,
		e.ID, e.RequisitionID, e.CategoryID, e.CategoryName, e.TotalBudget, e.PeriodLengthDays,
		formatTime(e.PeriodStart), formatTime(e.PeriodEnd), e.AmountSpent, e.Remaining,
		string(e.Currency), string(e.StatusSnapshot), string(e.Exclusion), e.Active,
		e.ActingUser, formatTime(e.SpentAt), formatTime(e.CreatedAt), formatTime(e.UpdatedAt))
	if err != nil {
		return core.LedgerEntry{}, fmt.Errorf("upsert ledger entry %d: %w", e.RequisitionID, err)
	}
	return s.GetLedgerEntry(ctx, e.RequisitionID)
}

func (s *SQLiteStore) ListLedgerEntries(ctx context.Context, filter core.LedgerFilter) ([]core.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE 1 = 1`
	var args []any
	if filter.CategoryID != nil {
		query += ` AND category_id = ?`
		args = append(args, *filter.CategoryID)
	}
	if filter.Active != nil {
		query += ` AND active = ?`
		args = append(args, *filter.Active)
	}
	query += ` ORDER BY created_at DESC, requisition_id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var out []core.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteLedgerEntry(ctx context.Context, requisitionID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ledger_entries WHERE requisition_id = ?`, requisitionID)
	if err != nil {
		return fmt.Errorf("delete ledger entry %d: %w", requisitionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrLedgerNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCategory(row scanner) (core.Category, error) {
	var (
		c              core.Category
		currency, name string
		start, end     string
	)
	if err := row.Scan(&c.ID, &c.Name, &c.TotalBudget, &currency, &c.PeriodLengthDays, &name, &start, &end, &c.NeedsReset); err != nil {
		return core.Category{}, err
	}
	c.Currency = core.Currency(currency)
	c.PeriodName = core.NamedPeriod(name)
	var err error
	if c.PeriodStart, err = parseTime(start); err != nil {
		return core.Category{}, err
	}
	if c.PeriodEnd, err = parseTime(end); err != nil {
		return core.Category{}, err
	}
	return c, nil
}

func scanRequisition(row scanner) (core.Requisition, error) {
	var (
		r                         core.Requisition
		categoryID                sql.NullInt64
		status, amountText        string
		amountKind                int
		changed, updated, created sql.NullString
	)
	if err := row.Scan(&r.ID, &categoryID, &status, &amountKind, &amountText, &changed, &updated, &created); err != nil {
		return core.Requisition{}, err
	}
	if categoryID.Valid {
		r.CategoryID = &categoryID.Int64
	}
	r.Status = core.RequisitionStatus(status)

	amount, err := decodeAmount(core.AmountKind(amountKind), amountText)
	if err != nil {
		return core.Requisition{}, err
	}
	r.Amount = amount

	for _, f := range []struct {
		src sql.NullString
		dst **time.Time
	}{{changed, &r.StatusChangedAt}, {updated, &r.UpdatedAt}, {created, &r.CreatedAt}} {
		if !f.src.Valid {
			continue
		}
		t, err := parseTime(f.src.String)
		if err != nil {
			return core.Requisition{}, err
		}
		*f.dst = &t
	}
	return r, nil
}

func scanLedgerEntry(row scanner) (core.LedgerEntry, error) {
	var (
		e                                     core.LedgerEntry
		currency, status, exclusion           string
		start, end, spentAt, created, updated string
	)
	err := row.Scan(&e.ID, &e.RequisitionID, &e.CategoryID, &e.CategoryName, &e.TotalBudget, &e.PeriodLengthDays,
		&start, &end, &e.AmountSpent, &e.Remaining, &currency, &status, &exclusion, &e.Active,
		&e.ActingUser, &spentAt, &created, &updated)
	if err != nil {
		return core.LedgerEntry{}, err
	}
	e.Currency = core.Currency(currency)
	e.StatusSnapshot = core.RequisitionStatus(status)
	e.Exclusion = core.Exclusion(exclusion)

	for _, f := range []struct {
		src string
		dst *time.Time
	}{{start, &e.PeriodStart}, {end, &e.PeriodEnd}, {spentAt, &e.SpentAt}, {created, &e.CreatedAt}, {updated, &e.UpdatedAt}} {
		if *f.dst, err = parseTime(f.src); err != nil {
			return core.LedgerEntry{}, err
		}
	}
	return e, nil
}

func decodeAmount(kind core.AmountKind, text string) (core.Amount, error) {
	switch kind {
	case core.AmountNumeric:
		v, err := decimal.NewFromString(text)
		if err != nil {
			return core.Amount{}, fmt.Errorf("decode numeric amount %q: %w", text, err)
		}
		return core.NumericAmount(v), nil
	case core.AmountEncoded:
		return core.EncodedAmount(text), nil
	default:
		return core.Amount{}, nil
	}
}

func categoryWriteError(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) && (se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
		strings.Contains(se.Error(), "UNIQUE constraint failed")) {
		return core.ErrDuplicateCategory
	}
	return fmt.Errorf("save category: %w", err)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return formatTime(*t)
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
