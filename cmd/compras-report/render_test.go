package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"compras/internal/core"
)

func snapshot(spent string) core.BudgetSnapshot {
	total := decimal.NewFromInt(1000)
	s := decimal.RequireFromString(spent)
	return core.BudgetSnapshot{
		CategoryID:       4,
		CategoryName:     "Viaticos",
		Currency:         core.MXN,
		PeriodLengthDays: 30,
		Total:            total,
		Spent:            s,
		Remaining:        total.Sub(s),
		PercentUsed:      s.Mul(decimal.NewFromInt(100)).DivRound(total, 2),
		PeriodStart:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:        time.Date(2024, 1, 30, 23, 59, 59, int(999*time.Millisecond), time.UTC),
	}
}

func TestWriteSnapshotsJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := writeSnapshotsJSON(&buf, []core.BudgetSnapshot{snapshot("1250.5")}); err != nil {
		t.Fatal(err)
	}
	var out []snapshotJSON
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("invalid json %s: %v", buf.String(), err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d snapshots", len(out))
	}
	got := out[0]
	if got.Remaining != "-250.50" || got.PercentUsed != "125.05" || !got.OverBudget {
		t.Errorf("snapshot = %+v", got)
	}
	if got.PeriodEnd != "2024-01-30T23:59:59.999Z" {
		t.Errorf("period end = %q", got.PeriodEnd)
	}
}

func TestWriteSnapshotsTable(t *testing.T) {
	var buf bytes.Buffer
	if err := writeSnapshotsTable(&buf, []core.BudgetSnapshot{snapshot("100"), snapshot("1200")}); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.Contains(lines[1], "2024-01-01..2024-01-30") || !strings.Contains(lines[1], "10.00%") {
		t.Errorf("row = %q", lines[1])
	}
	if strings.Contains(lines[1], "!") || !strings.Contains(lines[2], "-200.00 !") {
		t.Errorf("over budget marker wrong: %q / %q", lines[1], lines[2])
	}
}

func TestReportTime(t *testing.T) {
	if _, err := reportTime("yesterday"); err == nil {
		t.Fatal("expected parse error")
	}
	got, err := reportTime("2024-02-01T06:00:00-06:00")
	if err != nil || !got.Equal(time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)) || got.Location() != time.UTC {
		t.Fatalf("got %v, %v", got, err)
	}
}
