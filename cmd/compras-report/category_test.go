package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"compras/internal/core"
)

// run executes the command tree once, the way a shell invocation would.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	return out.String(), err
}

func useSQLite(t *testing.T) {
	t.Helper()
	t.Setenv("DATA_BACKEND", "sqlite")
	t.Setenv("SQLITE_DB_PATH", filepath.Join(t.TempDir(), "compras.db"))
	t.Setenv("GOOGLE_SPREADSHEET_ID", "")
	t.Setenv("LOG_LEVEL", "error")
}

func TestCategoryLifecycle(t *testing.T) {
	useSQLite(t)

	out, err := run(t, "category", "add", "--name", "Papeleria", "--budget", "1000", "--currency", "mxn", "--start", "2024-01-01")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !strings.Contains(out, "Papeleria") || !strings.Contains(out, "2024-01-01..2024-01-30") {
		t.Fatalf("add output = %q", out)
	}

	out, err = run(t, "category", "update", "1", "--budget", "500", "--days", "15")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !strings.Contains(out, "500.00 MXN") || !strings.Contains(out, "2024-01-01..2024-01-15") {
		t.Fatalf("update output = %q", out)
	}

	out, err = run(t, "category", "reset", "1", "--at", "2024-03-05T10:00:00Z")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !strings.Contains(out, "2024-03-05..2024-03-19") {
		t.Fatalf("reset output = %q", out)
	}

	out, err = run(t, "1", "--json", "--at", "2024-03-06T00:00:00Z")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	var snapshots []snapshotJSON
	if err := json.Unmarshal([]byte(out), &snapshots); err != nil {
		t.Fatalf("invalid json %q: %v", out, err)
	}
	if len(snapshots) != 1 || snapshots[0].Total != "500.00" || !strings.HasPrefix(snapshots[0].PeriodStart, "2024-03-05") {
		t.Fatalf("snapshots = %+v", snapshots)
	}

	if _, err := run(t, "category", "delete", "1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := run(t, "1"); !errors.Is(err, core.ErrCategoryNotFound) {
		t.Fatalf("expected ErrCategoryNotFound after delete, got %v", err)
	}
}

func TestCategoryAdd_RejectsBadFlags(t *testing.T) {
	useSQLite(t)

	tests := []struct {
		name string
		args []string
	}{
		{"missing budget", []string{"category", "add", "--name", "X"}},
		{"bad budget", []string{"category", "add", "--name", "X", "--budget", "mucho"}},
		{"bad currency", []string{"category", "add", "--name", "X", "--budget", "1", "--currency", "GBP"}},
		{"bad period", []string{"category", "add", "--name", "X", "--budget", "1", "--period", "decade"}},
		{"bad start", []string{"category", "add", "--name", "X", "--budget", "1", "--start", "01/02/2024"}},
		{"zero budget", []string{"category", "add", "--name", "X", "--budget", "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, tt.args...); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestCategoryFlags_NamedPeriod(t *testing.T) {
	f := categoryFlags{name: "Viajes", budget: "2000", currency: "USD", days: 30, period: "mes", start: "2024-02-10"}
	c, err := f.category(time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.PeriodName != core.PeriodMonth {
		t.Fatalf("period = %q", c.PeriodName)
	}
	if !c.PeriodEnd.Equal(core.EndOfDay(time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC))) {
		t.Fatalf("end = %v", c.PeriodEnd)
	}
}

func TestCategoryFlags_UpdateOnlyChangedFlags(t *testing.T) {
	cmd := categoryUpdateCmd()
	if err := cmd.ParseFlags([]string{"--budget", "750", "--period", "days"}); err != nil {
		t.Fatal(err)
	}
	var f categoryFlags
	f.budget, _ = cmd.Flags().GetString("budget")
	f.period, _ = cmd.Flags().GetString("period")

	upd, err := f.update(cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if upd.TotalBudget == nil || upd.TotalBudget.String() != "750" {
		t.Fatalf("budget = %v", upd.TotalBudget)
	}
	if upd.PeriodName == nil || *upd.PeriodName != "" {
		t.Fatalf("period = %v", upd.PeriodName)
	}
	if upd.Name != nil || upd.Currency != nil || upd.PeriodLengthDays != nil || upd.PeriodStart != nil {
		t.Fatalf("unset flags leaked into the update: %+v", upd)
	}
}

func TestParseStart(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"2024-01-31", time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), false},
		{"2024-01-31T20:00:00-06:00", time.Date(2024, 2, 1, 2, 0, 0, 0, time.UTC), false},
		{"31/01/2024", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseStart(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs([]string{"3", "7"})
	if err != nil || len(ids) != 2 || ids[0] != 3 || ids[1] != 7 {
		t.Fatalf("ids = %v err = %v", ids, err)
	}
	for _, bad := range []string{"0", "-1", "abc"} {
		if _, err := parseIDs([]string{bad}); err == nil {
			t.Fatalf("expected an error for %q", bad)
		}
	}
}

func TestPublishAll(t *testing.T) {
	var sent []int64
	boom := errors.New("channel closed")
	err := publishAll(context.Background(), []int64{1, 2, 3}, func(id int64) error {
		if id == 2 {
			return boom
		}
		sent = append(sent, id)
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the publish error, got %v", err)
	}
	if len(sent) != 1 || sent[0] != 1 {
		t.Fatalf("sent = %v, want [1]", sent)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := publishAll(ctx, []int64{1}, func(int64) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
