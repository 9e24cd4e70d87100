package trigger

import "time"

// Config defines the trigger cadences. Schedule strings accept a cron
// expression, a Go duration, or a daily HH:MM time (see ParseSchedule).
type Config struct {
	Enabled     bool
	Timezone    string   // IANA name; empty means local time
	SweepEvery  string   // full cycle cadence, default "5m"
	DailyAt     []string // extra full-cycle runs, default 08:00/14:00/20:00
	RetentionAt string   // default "02:00"
	DocumentsAt string   // default "08:30"
}

func (c Config) withDefaults() Config {
	if c.SweepEvery == "" {
		c.SweepEvery = "5m"
	}
	if len(c.DailyAt) == 0 {
		c.DailyAt = []string{"08:00", "14:00", "20:00"}
	}
	if c.RetentionAt == "" {
		c.RetentionAt = "02:00"
	}
	if c.DocumentsAt == "" {
		c.DocumentsAt = "08:30"
	}
	return c
}

// jobTimeout bounds a single triggered run.
const jobTimeout = 10 * time.Minute
