package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Resolution is a chart period in widget notation: "1", "5", "60" are
// minutes, "1D", "1W", "1M" are calendar periods.
type Resolution string

// SupportedResolutions is the list injected into the widget config.
var SupportedResolutions = []Resolution{"1", "5", "15", "30", "60", "240", "1D", "1W", "1M"}

type periodUnit int

const (
	unitMinute periodUnit = iota
	unitDay
	unitWeek
	unitMonth
)

func (r Resolution) parse() (periodUnit, int, error) {
	s := strings.ToUpper(strings.TrimSpace(string(r)))
	if s == "" {
		return 0, 0, fmt.Errorf("empty resolution")
	}
	unit := unitMinute
	switch s[len(s)-1] {
	case 'D':
		unit = unitDay
		s = s[:len(s)-1]
	case 'W':
		unit = unitWeek
		s = s[:len(s)-1]
	case 'M':
		unit = unitMonth
		s = s[:len(s)-1]
	}
	n := 1
	if s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			return 0, 0, fmt.Errorf("invalid resolution %q", r)
		}
		n = v
	}
	return unit, n, nil
}

// Validate returns an error for unparseable resolutions.
func (r Resolution) Validate() error {
	_, _, err := r.parse()
	return err
}

// IsIntraday reports whether the resolution is measured in minutes.
func (r Resolution) IsIntraday() bool {
	u, _, err := r.parse()
	return err == nil && u == unitMinute
}

// PeriodStart aligns t (UTC) to the start of the period containing it.
// Weeks start on Monday, months on the 1st. Unparseable resolutions are
// treated as daily.
func (r Resolution) PeriodStart(t time.Time) time.Time {
	t = t.UTC()
	u, n, err := r.parse()
	if err != nil {
		u, n = unitDay, 1
	}
	switch u {
	case unitMinute:
		return t.Truncate(time.Duration(n) * time.Minute)
	case unitWeek:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case unitMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// NextPeriod returns the boundary at which the period starting at start ends.
func (r Resolution) NextPeriod(start time.Time) time.Time {
	start = start.UTC()
	u, n, err := r.parse()
	if err != nil {
		u, n = unitDay, 1
	}
	switch u {
	case unitMinute:
		return start.Add(time.Duration(n) * time.Minute)
	case unitWeek:
		return start.AddDate(0, 0, 7*n)
	case unitMonth:
		return start.AddDate(0, n, 0)
	default:
		return start.AddDate(0, 0, n)
	}
}

// Duration approximates the period length; months count as 30 days.
func (r Resolution) Duration() time.Duration {
	u, n, err := r.parse()
	if err != nil {
		return 24 * time.Hour
	}
	switch u {
	case unitMinute:
		return time.Duration(n) * time.Minute
	case unitWeek:
		return time.Duration(n) * 7 * 24 * time.Hour
	case unitMonth:
		return time.Duration(n) * 30 * 24 * time.Hour
	default:
		return time.Duration(n) * 24 * time.Hour
	}
}
