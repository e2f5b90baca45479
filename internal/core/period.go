package core

import "time"

const (
	day = 24 * time.Hour
	// windows end on the last millisecond of their final day
	endOfDayOffset = day - time.Millisecond
)

// Window is the closed UTC interval [Start, End] a category budget covers.
type Window struct {
	Start time.Time
	End   time.Time
}

// StartOfDay returns 00:00:00.000 UTC of t's UTC calendar day.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// EndOfDay returns 23:59:59.999 UTC of t's UTC calendar day.
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).Add(endOfDayOffset)
}

// WindowFrom builds the window of days calendar days starting at start's UTC day.
func WindowFrom(start time.Time, days int) (Window, error) {
	if days < 1 {
		return Window{}, ErrInvalidPeriodLength
	}
	s := StartOfDay(start)
	return Window{Start: s, End: EndOfDay(s.AddDate(0, 0, days-1))}, nil
}

// CurrentWindow returns the window containing now, rolling the anchor window
// forward across however many periods have elapsed. A now before the anchor
// window yields the anchor window itself.
func CurrentWindow(anchorStart time.Time, periodLengthDays int, now time.Time) (Window, error) {
	if anchorStart.IsZero() {
		return Window{}, ErrInvalidDate
	}
	w, err := WindowFrom(anchorStart, periodLengthDays)
	if err != nil {
		return Window{}, err
	}
	at := onMillisecondGrid(now)
	if !at.After(w.End) {
		return w, nil
	}

	// Jump straight to the period containing now instead of stepping one at a time.
	elapsedDays := int(StartOfDay(at).Sub(w.Start) / day)
	skipped := elapsedDays / periodLengthDays
	w, _ = WindowFrom(w.Start.AddDate(0, 0, skipped*periodLengthDays), periodLengthDays)
	for at.After(w.End) {
		w, _ = WindowFrom(w.End.Add(time.Millisecond), periodLengthDays)
	}
	return w, nil
}

// CurrentWindowFor picks the day-count or named-period calculation configured on c.
func CurrentWindowFor(c Category, now time.Time) (Window, error) {
	if c.PeriodName != "" {
		return CurrentNamedWindow(c.PeriodStart, c.PeriodName, now)
	}
	return CurrentWindow(c.PeriodStart, c.PeriodLengthDays, now)
}

// Contains reports whether t falls in the window, both ends inclusive.
// Instants are compared on the millisecond grid, rounding up, so fractions of
// a millisecond past End belong to the next window.
func (w Window) Contains(t time.Time) bool {
	at := onMillisecondGrid(t)
	return !at.Before(w.Start) && !at.After(w.End)
}

// Next returns the day-count window immediately following w.
func (w Window) Next() Window {
	next, _ := WindowFrom(w.End.Add(time.Millisecond), w.Days())
	return next
}

// Days returns the number of calendar days covered.
func (w Window) Days() int {
	return int(w.End.Add(time.Millisecond).Sub(w.Start) / day)
}

func (w Window) Equal(o Window) bool {
	return w.Start.Equal(o.Start) && w.End.Equal(o.End)
}

func (w Window) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

func onMillisecondGrid(t time.Time) time.Time {
	tr := t.Truncate(time.Millisecond)
	if tr.Equal(t) {
		return t
	}
	return tr.Add(time.Millisecond)
}
