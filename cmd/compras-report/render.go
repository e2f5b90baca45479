package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"compras/internal/core"
)

const dateLayout = "2006-01-02"

type snapshotJSON struct {
	CategoryID   int64  `json:"categoryId"`
	Category     string `json:"category"`
	Currency     string `json:"currency"`
	PeriodStart  string `json:"periodStart"`
	PeriodEnd    string `json:"periodEnd"`
	PeriodDays   int    `json:"periodLengthDays"`
	Total        string `json:"total"`
	Spent        string `json:"spent"`
	Remaining    string `json:"remaining"`
	PercentUsed  string `json:"percentUsed"`
	Requisitions int    `json:"requisitionCountInWindow"`
	Excluded     int    `json:"excludedCount"`
	OverBudget   bool   `json:"overBudget"`
}

func toSnapshotJSON(s core.BudgetSnapshot) snapshotJSON {
	return snapshotJSON{
		CategoryID:   s.CategoryID,
		Category:     s.CategoryName,
		Currency:     string(s.Currency),
		PeriodStart:  s.PeriodStart.UTC().Format(time.RFC3339Nano),
		PeriodEnd:    s.PeriodEnd.UTC().Format(time.RFC3339Nano),
		PeriodDays:   s.PeriodLengthDays,
		Total:        s.Total.StringFixed(2),
		Spent:        s.Spent.StringFixed(2),
		Remaining:    s.Remaining.StringFixed(2),
		PercentUsed:  s.PercentUsed.StringFixed(2),
		Requisitions: s.RequisitionCountInWindow,
		Excluded:     s.ExcludedCount,
		OverBudget:   s.OverBudget(),
	}
}

func writeSnapshotsJSON(w io.Writer, snapshots []core.BudgetSnapshot) error {
	out := make([]snapshotJSON, len(snapshots))
	for i, s := range snapshots {
		out[i] = toSnapshotJSON(s)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeSnapshotsTable(w io.Writer, snapshots []core.BudgetSnapshot) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCATEGORY\tWINDOW\tTOTAL\tSPENT\tREMAINING\tUSED\tREQS\tEXCLUDED")
	for _, s := range snapshots {
		flag := ""
		if s.OverBudget() {
			flag = " !"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s..%s\t%s %s\t%s\t%s%s\t%s%%\t%d\t%d\n",
			s.CategoryID, s.CategoryName,
			s.PeriodStart.UTC().Format(dateLayout), s.PeriodEnd.UTC().Format(dateLayout),
			s.Total.StringFixed(2), s.Currency,
			s.Spent.StringFixed(2),
			s.Remaining.StringFixed(2), flag,
			s.PercentUsed.StringFixed(2),
			s.RequisitionCountInWindow, s.ExcludedCount)
	}
	return tw.Flush()
}

func writeLedgerTable(w io.Writer, entries []core.LedgerEntry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "REQUISITION\tSTATUS\tACTIVE\tSPENT\tREMAINING\tWINDOW\tEXCLUSION\tUPDATED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%t\t%s\t%s\t%s..%s\t%s\t%s\n",
			e.RequisitionID, e.StatusSnapshot, e.Active,
			e.AmountSpent.StringFixed(2), e.Remaining.StringFixed(2),
			e.PeriodStart.UTC().Format(dateLayout), e.PeriodEnd.UTC().Format(dateLayout),
			e.Exclusion, e.UpdatedAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}

func writeCategory(w io.Writer, c core.Category) error {
	period := fmt.Sprintf("%d days", c.PeriodLengthDays)
	if c.PeriodName != "" {
		period = string(c.PeriodName)
	}
	_, err := fmt.Fprintf(w, "%d\t%s\t%s %s\t%s\t%s..%s\n",
		c.ID, c.Name, c.TotalBudget.StringFixed(2), c.Currency, period,
		c.PeriodStart.UTC().Format(dateLayout), c.PeriodEnd.UTC().Format(dateLayout))
	return err
}
