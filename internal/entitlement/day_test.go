package entitlement

import (
	"testing"
	"time"
)

func TestDayStart(t *testing.T) {
	cases := []struct {
		name      string
		input     time.Time
		resetHour int
		want      time.Time
	}{
		{
			name:      "midnight reset at noon",
			input:     time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
			resetHour: 0,
			want:      time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "midnight reset exactly at boundary",
			input:     time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
			resetHour: 0,
			want:      time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "early morning before reset hour rolls back",
			input:     time.Date(2026, 3, 10, 2, 30, 0, 0, time.UTC),
			resetHour: 4,
			want:      time.Date(2026, 3, 9, 4, 0, 0, 0, time.UTC),
		},
		{
			name:      "after reset hour stays on the same date",
			input:     time.Date(2026, 3, 10, 5, 0, 0, 0, time.UTC),
			resetHour: 4,
			want:      time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC),
		},
		{
			name:      "out-of-range reset hour treated as midnight",
			input:     time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
			resetHour: 99,
			want:      time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "non-UTC input normalized",
			input:     time.Date(2026, 3, 10, 1, 0, 0, 0, time.FixedZone("ahead", 3*3600)),
			resetHour: 0,
			want:      time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DayStart(tc.input, tc.resetHour)
			if !got.Equal(tc.want) {
				t.Fatalf("DayStart(%v, %d) = %v, want %v", tc.input, tc.resetHour, got, tc.want)
			}
		})
	}
}

func TestMonthStart(t *testing.T) {
	got := MonthStart(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), 0)
	want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("MonthStart = %v, want %v", got, want)
	}

	// The first hours of the month belong to the previous usage day, so they
	// still count toward the previous month.
	got = MonthStart(time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC), 4)
	want = time.Date(2026, 2, 1, 4, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("MonthStart before reset hour = %v, want %v", got, want)
	}
}

func TestSameUsageDay(t *testing.T) {
	a := time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC)
	b := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	if !SameUsageDay(a, b, 0) {
		t.Fatalf("expected same usage day with midnight reset")
	}
	if SameUsageDay(a, b, 4) {
		t.Fatalf("expected different usage days with 04:00 reset")
	}
	if SameUsageDay(a, a.AddDate(0, 0, 1), 0) {
		t.Fatalf("expected different calendar days to differ")
	}
}
