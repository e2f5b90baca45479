// This file implements the Strategy Pattern for named budget periods.
// Each named period has a stepper that computes the start of the next
// period; windows end on the last millisecond before that start.

package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	PeriodWeek          NamedPeriod = "week"
	PeriodFortnight     NamedPeriod = "fortnight"
	PeriodMonth         NamedPeriod = "month"
	PeriodSeveralMonths NamedPeriod = "several months"
)

// NamedPeriod identifies a semantic period length.
type NamedPeriod string

// PeriodStepper is the strategy interface for advancing a named period.
type PeriodStepper interface {
	// Next returns the start of the period following the one starting at start.
	Next(start time.Time) time.Time
}

// DayStepper advances by a fixed number of calendar days.
type DayStepper struct {
	Days int
}

func (s DayStepper) Next(start time.Time) time.Time {
	return start.AddDate(0, 0, s.Days)
}

// MonthStepper advances by calendar months using UTC month arithmetic,
// so Jan 31 + 1 month normalizes into March like time.AddDate does.
type MonthStepper struct {
	Months int
}

func (s MonthStepper) Next(start time.Time) time.Time {
	return start.UTC().AddDate(0, s.Months, 0)
}

var periodSteppers = map[NamedPeriod]PeriodStepper{
	PeriodWeek:          DayStepper{Days: 7},
	PeriodFortnight:     DayStepper{Days: 15},
	PeriodMonth:         MonthStepper{Months: 1},
	PeriodSeveralMonths: MonthStepper{Months: 3},
}

// Spanish names used by the requisition workflow.
var periodAliases = map[string]NamedPeriod{
	"semana":       PeriodWeek,
	"quincena":     PeriodFortnight,
	"mes":          PeriodMonth,
	"varios meses": PeriodSeveralMonths,
}

// ParseNamedPeriod accepts English or Spanish period names.
func ParseNamedPeriod(s string) (NamedPeriod, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if alias, ok := periodAliases[name]; ok {
		return alias, nil
	}
	if _, ok := periodSteppers[NamedPeriod(name)]; ok {
		return NamedPeriod(name), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPeriod, s)
}

// GetPeriodStepper returns the stepper registered for a named period.
func GetPeriodStepper(p NamedPeriod) (PeriodStepper, error) {
	stepper, ok := periodSteppers[p]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPeriod, p)
	}
	return stepper, nil
}

// RegisterPeriodStepper allows registering steppers for new period names.
// It is not safe to call concurrently with window calculations.
func RegisterPeriodStepper(p NamedPeriod, stepper PeriodStepper) {
	periodSteppers[p] = stepper
}

// NamedWindowFrom builds the named-period window starting at start's UTC day.
func NamedWindowFrom(start time.Time, stepper PeriodStepper) Window {
	s := StartOfDay(start)
	return Window{Start: s, End: StartOfDay(stepper.Next(s)).Add(-time.Millisecond)}
}

// CurrentNamedWindow is CurrentWindow for categories configured by named period.
func CurrentNamedWindow(anchorStart time.Time, period NamedPeriod, now time.Time) (Window, error) {
	if anchorStart.IsZero() {
		return Window{}, ErrInvalidDate
	}
	stepper, err := GetPeriodStepper(period)
	if err != nil {
		return Window{}, err
	}
	w := NamedWindowFrom(anchorStart, stepper)
	at := onMillisecondGrid(now)
	for at.After(w.End) {
		w = NamedWindowFrom(w.End.Add(time.Millisecond), stepper)
	}
	return w, nil
}
