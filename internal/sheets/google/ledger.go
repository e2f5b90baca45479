// Package google mirrors ledger entries to a Google Sheets tab for auditing.
package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"compras/internal/core"
	"compras/internal/log"
	"compras/internal/ports"
)

// ledgerColumns is the header row of the ledger tab, one column per row cell.
var ledgerColumns = []any{
	"Spent At", "Requisition", "Category ID", "Category", "Status", "Active",
	"Amount Spent", "Remaining", "Total Budget", "Currency",
	"Period Start", "Period End", "Period Days", "Exclusion", "Acting User", "Entry ID",
}

// Credentials selects the service account used for the Sheets API. JSON wins
// over File. With both empty GOOGLE_APPLICATION_CREDENTIALS is used.
type Credentials struct {
	JSON string
	File string
}

// LedgerMirror appends one row per ledger write. It never reads the rows back,
// the engine's own store stays the source of truth.
type LedgerMirror struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
	logger        *log.Logger
}

var _ ports.LedgerExporter = (*LedgerMirror)(nil)

// NewLedgerMirror creates a mirror authenticated with a service account.
func NewLedgerMirror(ctx context.Context, spreadsheetID, sheetName string, creds Credentials, logger *log.Logger) (*LedgerMirror, error) {
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.WithComponent(log.ComponentSheets)

	svc, err := newSheetsService(ctx, creds, logger)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return newLedgerMirror(svc, spreadsheetID, sheetName, logger)
}

func newLedgerMirror(svc *gsheet.Service, spreadsheetID, sheetName string, logger *log.Logger) (*LedgerMirror, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if strings.TrimSpace(sheetName) == "" {
		sheetName = "Ledger"
	}
	return &LedgerMirror{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		logger:        logger,
	}, nil
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
func newSheetsService(ctx context.Context, creds Credentials, logger *log.Logger) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(creds.JSON)
	serviceAccountFile := strings.TrimSpace(creds.File)
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case serviceAccountJSON != "":
		logger.DebugContext(ctx, "Using inline JSON credentials")
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		logger.DebugContext(ctx, "Reading credentials from file", "path", serviceAccountFile)
		b, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

func (m *LedgerMirror) columnRange() string {
	return fmt.Sprintf("%s!A:%s", m.sheetName, columnLetter(len(ledgerColumns)))
}

// EnsureHeader writes the header row when the tab is empty.
func (m *LedgerMirror) EnsureHeader(ctx context.Context) error {
	rng := fmt.Sprintf("%s!A1:%s1", m.sheetName, columnLetter(len(ledgerColumns)))
	resp, err := m.svc.Spreadsheets.Values.Get(m.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read header of %s: %w", m.sheetName, err)
	}
	if len(resp.Values) > 0 && len(resp.Values[0]) > 0 {
		return nil
	}
	vr := &gsheet.ValueRange{Values: [][]any{ledgerColumns}}
	_, err = m.svc.Spreadsheets.Values.Update(m.spreadsheetID, rng, vr).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write header of %s: %w", m.sheetName, err)
	}
	m.logger.InfoContext(ctx, "Ledger sheet header written", "sheet", m.sheetName)
	return nil
}

// ExportLedgerEntry appends e and returns the updated range.
func (m *LedgerMirror) ExportLedgerEntry(ctx context.Context, e core.LedgerEntry) (string, error) {
	if m.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	vr := &gsheet.ValueRange{Values: [][]any{ledgerRow(e)}}
	resp, err := m.svc.Spreadsheets.Values.Append(m.spreadsheetID, m.columnRange(), vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append ledger row to %s: %w", m.sheetName, err)
	}
	if resp.Updates == nil {
		return "", nil
	}
	return resp.Updates.UpdatedRange, nil
}

// ledgerRow renders e in ledgerColumns order. Decimals stay strings so the
// sheet never rounds them.
func ledgerRow(e core.LedgerEntry) []any {
	return []any{
		formatTime(e.SpentAt),
		e.RequisitionID,
		e.CategoryID,
		e.CategoryName,
		string(e.StatusSnapshot),
		e.Active,
		e.AmountSpent.StringFixed(2),
		e.Remaining.StringFixed(2),
		e.TotalBudget.StringFixed(2),
		string(e.Currency),
		formatTime(e.PeriodStart),
		formatTime(e.PeriodEnd),
		e.PeriodLengthDays,
		string(e.Exclusion),
		e.ActingUser,
		e.ID,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// columnLetter converts a 1-based column index to its A1 letter.
func columnLetter(n int) string {
	var b []byte
	for n > 0 {
		n--
		b = append([]byte{byte('A' + n%26)}, b...)
		n /= 26
	}
	return string(b)
}
