package trigger

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// SpecKind describes the normalized kind of a schedule string.
type SpecKind int

const (
	SpecCron     SpecKind = iota // cron expression, handed to robfig/cron
	SpecInterval                 // fixed interval
	SpecDaily                    // once a day at a wall-clock time
)

// ParsedSpec represents a parsed schedule string.
//
// Supported forms:
//   - Cron (crontab.guru-style): "*/5 * * * *", "@hourly", "@every 55m"
//   - Interval duration: "55m", "2h30m"
//   - Daily HH:MM: "08:00" fires once a day at 08:00
type ParsedSpec struct {
	Kind   SpecKind
	Cron   string
	Every  time.Duration
	Hour   int
	Minute int
}

// cronExpr renders the spec as a robfig/cron schedule string.
func (p ParsedSpec) cronExpr() string {
	switch p.Kind {
	case SpecInterval:
		return "@every " + p.Every.String()
	case SpecDaily:
		return fmt.Sprintf("%d %d * * *", p.Minute, p.Hour)
	default:
		return p.Cron
	}
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*$`)

// ParseSchedule parses a schedule string into a cron expression, an
// interval, or a daily wall-clock time.
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, fmt.Errorf("schedule required")
	}

	// Any whitespace or a leading '@' means cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return ParsedSpec{Kind: SpecCron, Cron: s}, nil
	}

	if m := reHHMM.FindStringSubmatch(s); m != nil {
		hh := atoi2(m[1])
		mm := atoi2(m[2])
		if hh > 23 {
			return ParsedSpec{}, fmt.Errorf("invalid hour in %q", raw)
		}
		if mm > 59 {
			return ParsedSpec{}, fmt.Errorf("invalid minutes in %q", raw)
		}
		return ParsedSpec{Kind: SpecDaily, Hour: hh, Minute: mm}, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		if d <= 0 {
			return ParsedSpec{}, fmt.Errorf("interval must be > 0")
		}
		return ParsedSpec{Kind: SpecInterval, Every: d}, nil
	}

	return ParsedSpec{}, fmt.Errorf(
		"invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '08:00', or duration like '5m')",
		raw,
	)
}

func atoi2(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		n = n*10 + int(s[i]-'0')
	}
	return n
}
