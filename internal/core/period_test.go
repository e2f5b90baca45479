package core

import (
	"errors"
	"testing"
	"time"
)

func utc(year int, month time.Month, day, hour, min, sec, nsec int) time.Time {
	return time.Date(year, month, day, hour, min, sec, nsec, time.UTC)
}

func TestWindowFrom_Normalizes(t *testing.T) {
	w, err := WindowFrom(utc(2024, 3, 10, 17, 45, 12, 345), 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !w.Start.Equal(utc(2024, 3, 10, 0, 0, 0, 0)) {
		t.Errorf("start = %v, want 2024-03-10 00:00", w.Start)
	}
	if !w.End.Equal(utc(2024, 4, 8, 23, 59, 59, int(999*time.Millisecond))) {
		t.Errorf("end = %v, want 2024-04-08 23:59:59.999", w.End)
	}
}

func TestWindowFrom_NonUTCInput(t *testing.T) {
	loc := time.FixedZone("CST", -6*60*60)
	// 2024-03-10 21:00 CST is 2024-03-11 03:00 UTC
	w, err := WindowFrom(time.Date(2024, 3, 10, 21, 0, 0, 0, loc), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !w.Start.Equal(utc(2024, 3, 11, 0, 0, 0, 0)) {
		t.Errorf("start = %v, want 2024-03-11 UTC", w.Start)
	}
}

func TestCurrentWindow_LengthProperty(t *testing.T) {
	anchors := []time.Time{
		utc(2024, 1, 1, 0, 0, 0, 0),
		utc(2024, 2, 29, 13, 0, 0, 0),
		utc(2023, 12, 31, 23, 59, 59, 0),
	}
	now := utc(2026, 7, 4, 8, 30, 0, 0)
	for _, anchor := range anchors {
		for days := 1; days <= 400; days++ {
			w, err := CurrentWindow(anchor, days, now)
			if err != nil {
				t.Fatalf("anchor %v days %d: %v", anchor, days, err)
			}
			if got := w.End.Add(time.Millisecond).Sub(w.Start); got != time.Duration(days)*24*time.Hour {
				t.Fatalf("anchor %v days %d: window spans %v", anchor, days, got)
			}
			if w.Days() != days {
				t.Fatalf("anchor %v days %d: Days() = %d", anchor, days, w.Days())
			}
			if !w.Contains(now) {
				t.Fatalf("anchor %v days %d: window %v..%v does not contain now", anchor, days, w.Start, w.End)
			}
		}
	}
}

func TestCurrentWindow_MultiPeriodSkip(t *testing.T) {
	w, err := CurrentWindow(utc(2024, 1, 1, 0, 0, 0, 0), 30, utc(2024, 8, 15, 12, 0, 0, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 227 elapsed days -> 7 full periods skipped
	wantStart := utc(2024, 7, 29, 0, 0, 0, 0)
	wantEnd := utc(2024, 8, 27, 23, 59, 59, int(999*time.Millisecond))
	if !w.Start.Equal(wantStart) || !w.End.Equal(wantEnd) {
		t.Fatalf("window = %v..%v, want %v..%v", w.Start, w.End, wantStart, wantEnd)
	}
}

func TestCurrentWindow_FixedPoint(t *testing.T) {
	anchor := utc(2024, 1, 1, 0, 0, 0, 0)
	now := utc(2025, 5, 17, 9, 0, 0, 0)

	first, err := CurrentWindow(anchor, 45, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	again, _ := CurrentWindow(anchor, 45, now)
	if !first.Equal(again) {
		t.Fatalf("repeated call returned %v, want %v", again, first)
	}
	fed, _ := CurrentWindow(first.Start, 45, now)
	if !fed.Equal(first) {
		t.Fatalf("feeding the window back returned %v, want %v", fed, first)
	}
}

func TestCurrentWindow_NowBeforeAnchor(t *testing.T) {
	w, err := CurrentWindow(utc(2025, 1, 1, 0, 0, 0, 0), 10, utc(2024, 6, 1, 0, 0, 0, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !w.Start.Equal(utc(2025, 1, 1, 0, 0, 0, 0)) {
		t.Fatalf("expected anchor window, got start %v", w.Start)
	}
}

func TestCurrentWindow_InvalidInput(t *testing.T) {
	anchor := utc(2024, 1, 1, 0, 0, 0, 0)
	for _, days := range []int{0, -1, -30} {
		if _, err := CurrentWindow(anchor, days, anchor); !errors.Is(err, ErrInvalidPeriodLength) {
			t.Errorf("days %d: expected ErrInvalidPeriodLength, got %v", days, err)
		}
	}
	if _, err := CurrentWindow(time.Time{}, 30, anchor); !errors.Is(err, ErrInvalidDate) {
		t.Errorf("zero anchor: expected ErrInvalidDate, got %v", err)
	}
}

func TestWindowContains_Boundaries(t *testing.T) {
	w, _ := WindowFrom(utc(2024, 1, 1, 0, 0, 0, 0), 30)
	next := w.Next()

	tests := []struct {
		name     string
		at       time.Time
		inFirst  bool
		inSecond bool
	}{
		{"start", w.Start, true, false},
		{"exact end", w.End, true, false},
		{"one microsecond after end", w.End.Add(time.Microsecond), false, true},
		{"one millisecond after end", w.End.Add(time.Millisecond), false, true},
		{"one millisecond before start", w.Start.Add(-time.Millisecond), false, false},
		{"sub-millisecond before start rounds up", w.Start.Add(-time.Microsecond), true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := w.Contains(tt.at); got != tt.inFirst {
				t.Errorf("first.Contains(%v) = %v, want %v", tt.at, got, tt.inFirst)
			}
			if got := next.Contains(tt.at); got != tt.inSecond {
				t.Errorf("next.Contains(%v) = %v, want %v", tt.at, got, tt.inSecond)
			}
		})
	}
}

func TestCurrentWindow_RollsAtBoundary(t *testing.T) {
	anchor := utc(2024, 1, 1, 0, 0, 0, 0)
	w, _ := WindowFrom(anchor, 30)

	atEnd, _ := CurrentWindow(anchor, 30, w.End)
	if !atEnd.Equal(w) {
		t.Fatalf("now == end should stay in the anchor window, got %v", atEnd.Start)
	}
	after, _ := CurrentWindow(anchor, 30, w.End.Add(time.Microsecond))
	if !after.Equal(w.Next()) {
		t.Fatalf("now just past end should roll once, got %v", after.Start)
	}
}

func TestNamedWindows(t *testing.T) {
	anchor := utc(2024, 1, 15, 0, 0, 0, 0)
	ms999 := int(999 * time.Millisecond)

	tests := []struct {
		period  NamedPeriod
		wantEnd time.Time
	}{
		{PeriodWeek, utc(2024, 1, 21, 23, 59, 59, ms999)},
		{PeriodFortnight, utc(2024, 1, 29, 23, 59, 59, ms999)},
		{PeriodMonth, utc(2024, 2, 14, 23, 59, 59, ms999)},
		{PeriodSeveralMonths, utc(2024, 4, 14, 23, 59, 59, ms999)},
	}
	for _, tt := range tests {
		t.Run(string(tt.period), func(t *testing.T) {
			w, err := CurrentNamedWindow(anchor, tt.period, anchor)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !w.Start.Equal(anchor) || !w.End.Equal(tt.wantEnd) {
				t.Fatalf("window = %v..%v, want %v..%v", w.Start, w.End, anchor, tt.wantEnd)
			}
		})
	}
}

func TestCurrentNamedWindow_Rollover(t *testing.T) {
	w, err := CurrentNamedWindow(utc(2024, 1, 1, 0, 0, 0, 0), PeriodMonth, utc(2024, 5, 20, 10, 0, 0, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !w.Start.Equal(utc(2024, 5, 1, 0, 0, 0, 0)) {
		t.Errorf("start = %v, want 2024-05-01", w.Start)
	}
	if !w.End.Equal(utc(2024, 5, 31, 23, 59, 59, int(999*time.Millisecond))) {
		t.Errorf("end = %v, want 2024-05-31 23:59:59.999", w.End)
	}

	stepper, _ := GetPeriodStepper(PeriodMonth)
	next := NamedWindowFrom(w.End.Add(time.Millisecond), stepper)
	if !next.Start.Equal(w.End.Add(time.Millisecond)) {
		t.Errorf("next start %v is not the instant after end %v", next.Start, w.End)
	}
}

func TestParseNamedPeriod(t *testing.T) {
	tests := []struct {
		in   string
		want NamedPeriod
		ok   bool
	}{
		{"week", PeriodWeek, true},
		{"semana", PeriodWeek, true},
		{"Quincena", PeriodFortnight, true},
		{"mes", PeriodMonth, true},
		{"varios meses", PeriodSeveralMonths, true},
		{"several months", PeriodSeveralMonths, true},
		{"year", "", false},
	}
	for _, tt := range tests {
		got, err := ParseNamedPeriod(tt.in)
		if tt.ok && (err != nil || got != tt.want) {
			t.Errorf("%q: got %q, %v; want %q", tt.in, got, err, tt.want)
		}
		if !tt.ok && !errors.Is(err, ErrUnknownPeriod) {
			t.Errorf("%q: expected ErrUnknownPeriod, got %v", tt.in, err)
		}
	}
}
