package engine

import (
	"fmt"
	"sort"
	"time"
)

// ComputeUpcoming returns the reminder events still ahead of now for a
// due date and a lead-time set, ordered ascending by ScheduledAt.
//
// Lead-times already present in alreadySent are excluded, as is any
// event whose time is now or earlier: catching up on past-due events is
// the sweep's job, not the calculator's. A date-only due date (midnight
// exactly) stays at midnight, so "30 days before 2025-02-01" lands on
// 2025-01-02 00:00.
func ComputeUpcoming(now, dueAt time.Time, leadTimes []int, alreadySent map[int]bool) []Event {
	if len(leadTimes) == 0 {
		return nil
	}
	out := make([]Event, 0, len(leadTimes))
	for _, lead := range leadTimes {
		if lead < 0 || alreadySent[lead] {
			continue
		}
		at := dueAt.AddDate(0, 0, -lead)
		if !at.After(now) {
			continue
		}
		out = append(out, Event{
			LeadDays:    lead,
			ScheduledAt: at,
			Remaining:   formatRemaining(at.Sub(now)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out
}

// formatRemaining renders a duration as "Nd Hh Mm", dropping the day
// part when it is zero.
func formatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	minutes := int(d % time.Hour / time.Minute)
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// daysUntil counts whole calendar days from now's day to t's day,
// both taken in now's location. Negative when t is in the past.
func daysUntil(now, t time.Time) int {
	// Compare calendar dates, not elapsed time. Re-anchoring both days
	// in UTC keeps every day exactly 24h, so a 23-hour DST day cannot
	// truncate the count.
	tt := t.In(now.Location())
	a := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(tt.Year(), tt.Month(), tt.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a) / (24 * time.Hour))
}

// startOfDay truncates t to midnight in its own location.
func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
