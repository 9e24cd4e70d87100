package engine

import (
	"time"
)

// DefaultLeadTimes is the standard reminder ladder, in days before the
// due date. 0 means the due day itself.
var DefaultLeadTimes = []int{180, 90, 60, 30, 15, 7, 3, 1, 0}

// Event is one upcoming reminder computed by the schedule calculator.
type Event struct {
	LeadDays    int
	ScheduledAt time.Time
	Remaining   string // human-readable time until the event
}

// Config tunes the engine. Zero values fall back to the documented
// defaults via normalize.
type Config struct {
	LeadTimes     []int
	MaxAttempts   int           // retry ceiling per notification, default 3
	BatchSize     int           // dispatch batch size, default 10
	BatchPause    time.Duration // pause between dispatch batches, default 1s
	SendTimeout   time.Duration // per-delivery deadline, default 30s
	RetentionDays int           // default 90
	Lookback      time.Duration // how far past due a config still gets filled, default 168h
}

func (c Config) normalize() Config {
	if len(c.LeadTimes) == 0 {
		c.LeadTimes = DefaultLeadTimes
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.BatchPause <= 0 {
		c.BatchPause = time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 90
	}
	if c.Lookback <= 0 {
		c.Lookback = 7 * 24 * time.Hour
	}
	return c
}

// GapFillReport summarizes one gap-fill run.
type GapFillReport struct {
	Obligations int // obligations with an active config considered
	Created     int // new scheduled rows inserted
	Skipped     int // events already covered by a row or history
	Cancelled   int // rows deactivated for gone/inactive configs
	Errors      int // obligations that failed and were skipped
}

// SweepReport summarizes one pending-sweep run.
type SweepReport struct {
	Selected int // due rows picked up
	Claimed  int // rows this run actually claimed
	Sent     int
	Failed   int
}

// UrgentReport summarizes one urgent-escalation run.
type UrgentReport struct {
	Candidates int // obligations due today or tomorrow
	Escalated  int // urgent messages attempted (one history row each)
	Skipped    int // already messaged today, or no active config
	Failed     int // escalations whose delivery failed
}

// RetentionReport summarizes one purge run.
type RetentionReport struct {
	NotificationsRemoved int64
	HistoryRemoved       int64
}

// DocumentReport summarizes one document-sweep run.
type DocumentReport struct {
	Documents int
	Sent      int
	Skipped   int
	Failed    int
}
