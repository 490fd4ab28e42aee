package datetime

import (
	"testing"
	"time"
)

func fixedNow() time.Time {
	// Wednesday
	return time.Date(2026, time.July, 15, 12, 30, 0, 0, time.UTC)
}

func TestValidateGranularity(t *testing.T) {
	if !ValidateGranularity(Month) {
		t.Fatal("expected month to be valid")
	}
	if ValidateGranularity(Granularity("fortnight")) {
		t.Fatal("expected fortnight to be invalid")
	}
}

func TestRange_PriorPeriodIsAdjacentAndEqualLength(t *testing.T) {
	r := Range{
		Start: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC),
	}
	prior := r.PriorPeriod()
	if !prior.End.Add(time.Nanosecond).Equal(r.Start) {
		t.Fatalf("prior period should end exactly before range start, got %v vs %v", prior.End, r.Start)
	}
	if prior.Duration() != r.Duration() {
		t.Fatalf("prior period duration %v != range duration %v", prior.Duration(), r.Duration())
	}
}

func TestParseNamedRange_Today(t *testing.T) {
	r, err := ParseNamedRange("today", fixedNow())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)
	if !r.Start.Equal(want) {
		t.Fatalf("start = %v, want %v", r.Start, want)
	}
	if r.End.Hour() != 23 || r.End.Minute() != 59 {
		t.Fatalf("end = %v, want end of day", r.End)
	}
}

func TestParseNamedRange_ThisMonth(t *testing.T) {
	r, err := ParseNamedRange("this month", fixedNow())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	wantStart := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2026, 7, 31, 23, 59, 59, 999_999_999, time.UTC)
	if !r.Start.Equal(wantStart) {
		t.Fatalf("start = %v, want %v", r.Start, wantStart)
	}
	if !r.End.Equal(wantEnd) {
		t.Fatalf("end = %v, want %v", r.End, wantEnd)
	}
}

func TestParseNamedRange_LastNDays(t *testing.T) {
	r, err := ParseNamedRange("last 7 days", fixedNow())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	wantStart := time.Date(2026, 7, 8, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2026, 7, 14, 23, 59, 59, 999_999_999, time.UTC)
	if !r.Start.Equal(wantStart) {
		t.Fatalf("start = %v, want %v", r.Start, wantStart)
	}
	if !r.End.Equal(wantEnd) {
		t.Fatalf("end = %v, want %v", r.End, wantEnd)
	}
}

func TestParseNamedRange_NextNMonths(t *testing.T) {
	r, err := ParseNamedRange("next 2 months", fixedNow())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	wantStart := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	if !r.Start.Equal(wantStart) {
		t.Fatalf("start = %v, want %v", r.Start, wantStart)
	}
}

func TestParseNamedRange_LiteralStringPair(t *testing.T) {
	r, err := ParseNamedRange([]string{"2026-01-01", "2026-01-31"}, fixedNow())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if r.Start.Year() != 2026 || r.Start.Month() != 1 || r.Start.Day() != 1 {
		t.Fatalf("unexpected start %v", r.Start)
	}
	if r.End.Hour() != 23 {
		t.Fatalf("date-only end should expand to end of day, got %v", r.End)
	}
}

func TestParseNamedRange_LiteralAnyPair(t *testing.T) {
	r, err := ParseNamedRange([]any{"2026-01-01", "2026-01-31"}, fixedNow())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if r.Start.Month() != 1 {
		t.Fatalf("unexpected start %v", r.Start)
	}
}

func TestParseNamedRange_RejectsUnknownName(t *testing.T) {
	if _, err := ParseNamedRange("fortnight ago", fixedNow()); err == nil {
		t.Fatal("expected error for unrecognized named range")
	}
}

func TestParseNamedRange_RejectsWrongArity(t *testing.T) {
	if _, err := ParseNamedRange([]string{"2026-01-01"}, fixedNow()); err == nil {
		t.Fatal("expected error for single-element literal range")
	}
}

func TestParseNamedRange_RejectsUnsupportedType(t *testing.T) {
	if _, err := ParseNamedRange(42, fixedNow()); err == nil {
		t.Fatal("expected error for unsupported value type")
	}
}
