package engine

import (
	"testing"
	"time"
)

func TestComputeUpcomingConcrete(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	due := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	events := ComputeUpcoming(now, due, []int{30, 15, 7, 1}, nil)
	if len(events) != 4 {
		t.Fatalf("want 4 events, got %d", len(events))
	}
	want := []struct {
		lead int
		day  string
	}{
		{30, "2025-01-02"},
		{15, "2025-01-17"},
		{7, "2025-01-25"},
		{1, "2025-01-31"},
	}
	for i, w := range want {
		got := events[i]
		if got.LeadDays != w.lead {
			t.Errorf("event %d: lead = %d, want %d", i, got.LeadDays, w.lead)
		}
		if d := got.ScheduledAt.Format("2006-01-02"); d != w.day {
			t.Errorf("event %d: scheduled %s, want %s", i, d, w.day)
		}
	}
}

func TestComputeUpcomingOrdering(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
	due := time.Date(2025, 9, 15, 0, 0, 0, 0, time.UTC)

	// Deliberately unsorted input.
	events := ComputeUpcoming(now, due, []int{7, 180, 0, 60, 15, 90, 30, 1, 3}, nil)
	if len(events) == 0 {
		t.Fatal("no events")
	}
	for i := 1; i < len(events); i++ {
		if !events[i].ScheduledAt.After(events[i-1].ScheduledAt) {
			t.Fatalf("events not strictly ascending at %d: %v then %v",
				i, events[i-1].ScheduledAt, events[i].ScheduledAt)
		}
	}
}

func TestComputeUpcomingExclusions(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)
	due := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	events := ComputeUpcoming(now, due, []int{30, 15, 7, 1, 0}, map[int]bool{7: true})
	for _, ev := range events {
		if !ev.ScheduledAt.After(now) {
			t.Errorf("event at %v is not after now", ev.ScheduledAt)
		}
		if ev.LeadDays == 7 {
			t.Error("already-sent lead 7 must be excluded")
		}
		// Leads 30 and 15 land on Jan 2 and Jan 17, both past.
		if ev.LeadDays == 30 || ev.LeadDays == 15 {
			t.Errorf("past lead %d must be excluded", ev.LeadDays)
		}
	}
	if len(events) != 2 { // leads 1 and 0
		t.Fatalf("want events for leads 1 and 0, got %+v", events)
	}
}

func TestComputeUpcomingBoundary(t *testing.T) {
	t.Parallel()
	due := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	// An event exactly at now is excluded, one a minute ahead is not.
	atNow := due.AddDate(0, 0, -7)
	if got := ComputeUpcoming(atNow, due, []int{7}, nil); len(got) != 0 {
		t.Fatalf("event at now must be excluded, got %+v", got)
	}
	if got := ComputeUpcoming(atNow.Add(-time.Minute), due, []int{7}, nil); len(got) != 1 {
		t.Fatalf("event one minute ahead must be included, got %+v", got)
	}
}

func TestComputeUpcomingEmpty(t *testing.T) {
	t.Parallel()
	now := time.Now()
	if got := ComputeUpcoming(now, now.AddDate(0, 1, 0), nil, nil); got != nil {
		t.Fatalf("nil lead set must yield nil, got %+v", got)
	}
}

func TestFormatRemaining(t *testing.T) {
	t.Parallel()
	cases := []struct {
		d    time.Duration
		want string
	}{
		{31*24*time.Hour + 5*time.Hour + 42*time.Minute, "31d 5h 42m"},
		{24 * time.Hour, "1d 0h 0m"},
		{5*time.Hour + 9*time.Minute, "5h 9m"},
		{90 * time.Second, "0h 1m"},
		{0, "0h 0m"},
		{-time.Hour, "0h 0m"},
	}
	for _, tc := range cases {
		if got := formatRemaining(tc.d); got != tc.want {
			t.Errorf("formatRemaining(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}

func TestDaysUntil(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 15, 23, 50, 0, 0, time.UTC)
	cases := []struct {
		t    time.Time
		want int
	}{
		{time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), 0},
		{time.Date(2025, 6, 16, 0, 10, 0, 0, time.UTC), 1},
		{time.Date(2025, 6, 14, 23, 59, 0, 0, time.UTC), -1},
		{time.Date(2025, 7, 15, 12, 0, 0, 0, time.UTC), 30},
	}
	for _, tc := range cases {
		if got := daysUntil(now, tc.t); got != tc.want {
			t.Errorf("daysUntil(%v) = %d, want %d", tc.t, got, tc.want)
		}
	}
}

func TestDaysUntilAcrossDSTTransition(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	// Spring forward 2025-03-09: that local day is 23 hours long, so an
	// elapsed-time division would undercount every span crossing it.
	cases := []struct {
		name string
		now  time.Time
		t    time.Time
		want int
	}{
		{
			"next day over spring forward",
			time.Date(2025, 3, 9, 1, 30, 0, 0, loc),
			time.Date(2025, 3, 10, 0, 0, 0, 0, loc),
			1,
		},
		{
			"week over spring forward",
			time.Date(2025, 3, 7, 8, 0, 0, 0, loc),
			time.Date(2025, 3, 14, 8, 0, 0, 0, loc),
			7,
		},
		{
			"week over fall back",
			time.Date(2025, 10, 31, 8, 0, 0, 0, loc),
			time.Date(2025, 11, 7, 8, 0, 0, 0, loc),
			7,
		},
	}
	for _, tc := range cases {
		if got := daysUntil(tc.now, tc.t); got != tc.want {
			t.Errorf("%s: daysUntil = %d, want %d", tc.name, got, tc.want)
		}
	}
}
