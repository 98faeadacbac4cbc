package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.UTC().Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Unix() != ts {
		t.Fatalf("unexpected unix %v", got.Unix())
	}
}

func TestParseDay(t *testing.T) {
	got, ok := ParseDay("2025-03-09")
	if !ok {
		t.Fatalf("expected ok")
	}
	if !got.Equal(time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected day %v", got)
	}
	got, ok = ParseDay("2025-03-09T23:10:00Z")
	if !ok || got.Day() != 9 || got.Hour() != 0 {
		t.Fatalf("expected truncation to the day, got %v", got)
	}
	if _, ok := ParseDay("not-a-date"); ok {
		t.Fatalf("expected failure")
	}
}

func TestDateRangeInclusive(t *testing.T) {
	start := time.Date(2024, 2, 27, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	days := DateRange(start, end)
	if len(days) != 5 {
		t.Fatalf("len = %d, want 5 (leap year)", len(days))
	}
	if DaysBetween(start, end) != 4 {
		t.Fatalf("DaysBetween = %d, want 4", DaysBetween(start, end))
	}
	if DateRange(end, start) != nil {
		t.Fatalf("expected nil for reversed range")
	}
}

func TestMondayIndex(t *testing.T) {
	// 2024-01-01 was a Monday.
	mon := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		if got := MondayIndex(mon.AddDate(0, 0, i)); got != i {
			t.Fatalf("MondayIndex(+%d) = %d", i, got)
		}
	}
}
