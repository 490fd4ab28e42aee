// Package datetime normalizes granularity buckets, parses named and literal
// date ranges, and computes prior-period ranges for comparison queries.
package datetime

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Granularity is re-declared here (rather than imported from the root
// package) to keep this package import-cycle-free; its values match
// cubeengine.Granularity exactly.
type Granularity string

const (
	Second  Granularity = "second"
	Minute  Granularity = "minute"
	Hour    Granularity = "hour"
	Day     Granularity = "day"
	Week    Granularity = "week"
	Month   Granularity = "month"
	Quarter Granularity = "quarter"
	Year    Granularity = "year"
)

var validGranularities = map[Granularity]bool{
	Second: true, Minute: true, Hour: true, Day: true,
	Week: true, Month: true, Quarter: true, Year: true,
}

// ValidateGranularity reports whether g is one of the recognized units.
func ValidateGranularity(g Granularity) bool {
	return validGranularities[g]
}

// Range is an inclusive [Start, End] instant pair.
type Range struct {
	Start time.Time
	End   time.Time
}

// Duration reports the range's length.
func (r Range) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// PriorPeriod returns the range of equal duration ending exactly one
// instant before r.Start.
func (r Range) PriorPeriod() Range {
	d := r.Duration()
	return Range{
		Start: r.Start.Add(-d).Add(-time.Nanosecond),
		End:   r.Start.Add(-time.Nanosecond),
	}
}

// ParseNamedRange resolves a literal pair, an absolute [start,end] string
// pair, or a named range string ("today", "last 30 days", "this month",
// ...) against now. End dates are inclusive and expanded to the end of
// their unit for calendar-named ranges.
func ParseNamedRange(value any, now time.Time) (Range, error) {
	switch v := value.(type) {
	case []any:
		if len(v) != 2 {
			return Range{}, fmt.Errorf("datetime: literal date range must have exactly 2 elements")
		}
		start, err := parseInstant(v[0])
		if err != nil {
			return Range{}, fmt.Errorf("datetime: range start: %w", err)
		}
		end, err := parseInstant(v[1])
		if err != nil {
			return Range{}, fmt.Errorf("datetime: range end: %w", err)
		}
		return Range{Start: start, End: endOfDayIfDateOnly(v[1], end)}, nil

	case []string:
		if len(v) != 2 {
			return Range{}, fmt.Errorf("datetime: literal date range must have exactly 2 elements")
		}
		start, err := parseInstant(v[0])
		if err != nil {
			return Range{}, fmt.Errorf("datetime: range start: %w", err)
		}
		end, err := parseInstant(v[1])
		if err != nil {
			return Range{}, fmt.Errorf("datetime: range end: %w", err)
		}
		return Range{Start: start, End: endOfDayIfDateOnly(v[1], end)}, nil

	case string:
		return parseNamedString(v, now)

	default:
		return Range{}, fmt.Errorf("datetime: unsupported date range value of type %T", value)
	}
}

func parseInstant(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("expected a string timestamp, got %T", v)
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

func endOfDayIfDateOnly(raw any, t time.Time) time.Time {
	s, ok := raw.(string)
	if ok && len(s) == len("2006-01-02") {
		return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999_999_999, t.Location())
	}
	return t
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999_999_999, t.Location())
}

func startOfWeek(t time.Time) time.Time {
	d := startOfDay(t)
	offset := (int(d.Weekday()) + 6) % 7 // Monday = 0
	return d.AddDate(0, 0, -offset)
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func startOfQuarter(t time.Time) time.Time {
	q := (int(t.Month()) - 1) / 3
	return time.Date(t.Year(), time.Month(q*3+1), 1, 0, 0, 0, 0, t.Location())
}

func startOfYear(t time.Time) time.Time {
	return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, t.Location())
}

func parseNamedString(name string, now time.Time) (Range, error) {
	lower := strings.ToLower(strings.TrimSpace(name))

	switch lower {
	case "today":
		d := startOfDay(now)
		return Range{Start: d, End: endOfDay(d)}, nil
	case "yesterday":
		d := startOfDay(now).AddDate(0, 0, -1)
		return Range{Start: d, End: endOfDay(d)}, nil
	case "this week":
		start := startOfWeek(now)
		return Range{Start: start, End: endOfDay(start.AddDate(0, 0, 6))}, nil
	case "last week":
		start := startOfWeek(now).AddDate(0, 0, -7)
		return Range{Start: start, End: endOfDay(start.AddDate(0, 0, 6))}, nil
	case "this month":
		start := startOfMonth(now)
		return Range{Start: start, End: endOfDay(start.AddDate(0, 1, -1))}, nil
	case "last month":
		start := startOfMonth(now).AddDate(0, -1, 0)
		return Range{Start: start, End: endOfDay(start.AddDate(0, 1, -1))}, nil
	case "this quarter":
		start := startOfQuarter(now)
		return Range{Start: start, End: endOfDay(start.AddDate(0, 3, -1))}, nil
	case "last quarter":
		start := startOfQuarter(now).AddDate(0, -3, 0)
		return Range{Start: start, End: endOfDay(start.AddDate(0, 3, -1))}, nil
	case "this year":
		start := startOfYear(now)
		return Range{Start: start, End: endOfDay(start.AddDate(1, 0, -1))}, nil
	case "last year":
		start := startOfYear(now).AddDate(-1, 0, 0)
		return Range{Start: start, End: endOfDay(start.AddDate(1, 0, -1))}, nil
	}

	if r, ok, err := parseLastOrNextN(lower, now); ok {
		return r, err
	}

	return Range{}, fmt.Errorf("datetime: unrecognized named date range %q", name)
}

// parseLastOrNextN handles "last N days|weeks|months|quarters|years" and
// "next N days|weeks|months|quarters|years".
func parseLastOrNextN(lower string, now time.Time) (Range, bool, error) {
	fields := strings.Fields(lower)
	if len(fields) != 3 {
		return Range{}, false, nil
	}
	direction, nStr, unit := fields[0], fields[1], strings.TrimSuffix(fields[2], "s")
	if direction != "last" && direction != "next" {
		return Range{}, false, nil
	}
	n, err := strconv.Atoi(nStr)
	if err != nil || n <= 0 {
		return Range{}, true, fmt.Errorf("datetime: invalid count in named range %q", lower)
	}

	today := startOfDay(now)
	var start, end time.Time
	switch unit {
	case "day":
		if direction == "last" {
			start, end = today.AddDate(0, 0, -n), endOfDay(today.AddDate(0, 0, -1))
		} else {
			start, end = today.AddDate(0, 0, 1), endOfDay(today.AddDate(0, 0, n))
		}
	case "week":
		wkStart := startOfWeek(today)
		if direction == "last" {
			start, end = wkStart.AddDate(0, 0, -7*n), endOfDay(wkStart.AddDate(0, 0, -1))
		} else {
			start, end = wkStart.AddDate(0, 0, 7), endOfDay(wkStart.AddDate(0, 0, 7*n+6))
		}
	case "month":
		moStart := startOfMonth(today)
		if direction == "last" {
			start, end = moStart.AddDate(0, -n, 0), endOfDay(moStart.AddDate(0, 0, -1))
		} else {
			start, end = moStart.AddDate(0, 1, 0), endOfDay(moStart.AddDate(0, n+1, -1))
		}
	case "quarter":
		qStart := startOfQuarter(today)
		if direction == "last" {
			start, end = qStart.AddDate(0, -3*n, 0), endOfDay(qStart.AddDate(0, 0, -1))
		} else {
			start, end = qStart.AddDate(0, 3, 0), endOfDay(qStart.AddDate(0, 3*n+3, -1))
		}
	case "year":
		yStart := startOfYear(today)
		if direction == "last" {
			start, end = yStart.AddDate(-n, 0, 0), endOfDay(yStart.AddDate(0, 0, -1))
		} else {
			start, end = yStart.AddDate(1, 0, 0), endOfDay(yStart.AddDate(n+1, 0, -1))
		}
	default:
		return Range{}, true, fmt.Errorf("datetime: unrecognized unit %q in named range", unit)
	}

	return Range{Start: start, End: end}, true, nil
}
