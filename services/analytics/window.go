package analytics

import (
	"strconv"
	"strings"
	"time"

	"clinic-engagement/pkg/errutil"
)

const (
	defaultDays = 30
	maxDays     = 3650
	day         = 24 * time.Hour
)

// Window is the half-open interval [From, To).
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// LastDays returns the window of days ending at end, with days clamped to 1..3650.
func LastDays(end time.Time, days int) Window {
	days = clampDays(days)
	end = end.UTC()
	return Window{From: end.Add(-time.Duration(days) * day), To: end}
}

// Days is the window length rounded up to whole days.
func (w Window) Days() int {
	secs := int64(w.To.Sub(w.From) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return clampDays(int((secs + 86399) / 86400))
}

func (w Window) Len() time.Duration { return w.To.Sub(w.From) }

// ParseWindow turns query parameters into a window ending at now unless to is
// given. days accepts "all", "max" and "0" for the widest window. A date-only
// to covers that whole day. When from is not before to, from becomes to minus
// one day.
func ParseWindow(days, from, to string, now time.Time) (Window, error) {
	n, err := parseDays(days)
	if err != nil {
		return Window{}, err
	}

	end := now.UTC()
	if strings.TrimSpace(to) != "" {
		t, err := parseBound(to, true)
		if err != nil {
			return Window{}, errutil.ValidationFailed("invalid window end", err,
				errutil.WithDetails(errutil.Detail{Field: "to", Message: to}))
		}
		end = t
	}
	if strings.TrimSpace(from) == "" {
		return LastDays(end, n), nil
	}

	start, err := parseBound(from, false)
	if err != nil {
		return Window{}, errutil.ValidationFailed("invalid window start", err,
			errutil.WithDetails(errutil.Detail{Field: "from", Message: from}))
	}
	if !start.Before(end) {
		start = end.Add(-day)
	}
	return Window{From: start, To: end}, nil
}

func parseDays(v string) (int, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	switch v {
	case "":
		return defaultDays, nil
	case "all", "max", "0":
		return maxDays, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errutil.ValidationFailed("days must be a number or all", err,
			errutil.WithDetails(errutil.Detail{Field: "days", Message: v}))
	}
	return clampDays(n), nil
}

func parseBound(v string, endOfDay bool) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		if endOfDay {
			t = t.Add(day)
		}
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func clampDays(n int) int {
	if n < 1 {
		return 1
	}
	if n > maxDays {
		return maxDays
	}
	return n
}
