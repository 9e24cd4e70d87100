// Package trigger drives the engine on configured cadences.
//
// Each cadence registers a named job on a robfig/cron runner. A job
// that is still running when its next tick arrives is skipped for that
// tick; ticks never pile up. Jobs run under a bounded context and
// recover panics, so a bad run costs one cycle, not the process.
package trigger

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"duewatch/internal/engine"
	logx "duewatch/pkg/logx"
)

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	eng *engine.Engine

	parser cron.Parser
	c      *cron.Cron
	loc    *time.Location

	running map[string]bool // overlap-skip guard per job name
}

func New(cfg Config, eng *engine.Engine, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg.withDefaults(),
		log: log,
		eng: eng,
		parser: cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		running: map[string]bool{},
	}
}

// Start registers the configured jobs and starts the cron runner.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	if !s.cfg.Enabled {
		s.log.Info("trigger disabled")
		return nil
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		var err error
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("timezone %q: %w", tz, err)
		}
	}
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	type entry struct {
		name string
		spec string
		run  func(context.Context)
	}
	entries := []entry{
		{"cycle", s.cfg.SweepEvery, s.runCycle},
		{"retention", s.cfg.RetentionAt, s.runRetention},
		{"documents", s.cfg.DocumentsAt, s.runDocuments},
	}
	for i, at := range s.cfg.DailyAt {
		entries = append(entries, entry{fmt.Sprintf("daily-%d", i), at, s.runCycle})
	}

	for _, e := range entries {
		spec, err := ParseSchedule(e.spec)
		if err != nil {
			s.stopLocked(ctx)
			return fmt.Errorf("job %s: %w", e.name, err)
		}
		name, run := e.name, e.run
		if _, err := s.c.AddFunc(spec.cronExpr(), func() { s.fire(ctx, name, run) }); err != nil {
			s.stopLocked(ctx)
			return fmt.Errorf("job %s: %w", e.name, err)
		}
		s.log.Debug("job registered", logx.String("job", name), logx.String("spec", e.spec))
	}

	s.c.Start()
	s.log.Info("trigger started",
		logx.String("tz", loc.String()),
		logx.String("cycle", s.cfg.SweepEvery),
		logx.Strings("daily_at", s.cfg.DailyAt))
	return nil
}

// Stop halts the cron runner and waits for in-flight jobs.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

func (s *Service) stopLocked(ctx context.Context) {
	if s.c == nil {
		return
	}
	c := s.c
	s.c = nil
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("trigger stopped")
}

// fire runs one job tick with the overlap guard and panic recovery.
func (s *Service) fire(ctx context.Context, name string, run func(context.Context)) {
	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		s.log.Warn("tick skipped, previous run still active", logx.String("job", name))
		return
	}
	s.running[name] = true
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panicked",
				logx.String("job", name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
		s.mu.Lock()
		s.running[name] = false
		s.mu.Unlock()
	}()

	jctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	start := time.Now()
	run(jctx)
	s.log.Debug("job tick done", logx.String("job", name), logx.Duration("took", time.Since(start)))
}

// runCycle is the main processing cycle: plan, dispatch, escalate.
func (s *Service) runCycle(ctx context.Context) {
	if _, err := s.eng.RunGapFill(ctx); err != nil {
		s.log.Error("gap fill failed", logx.Err(err))
	}
	if _, err := s.eng.RunPendingSweep(ctx); err != nil {
		s.log.Error("pending sweep failed", logx.Err(err))
	}
	if _, err := s.eng.RunUrgentEscalation(ctx); err != nil {
		s.log.Error("urgent escalation failed", logx.Err(err))
	}
}

func (s *Service) runRetention(ctx context.Context) {
	if _, err := s.eng.RunRetention(ctx, 0); err != nil {
		s.log.Error("retention failed", logx.Err(err))
	}
}

func (s *Service) runDocuments(ctx context.Context) {
	if _, err := s.eng.RunDocumentSweep(ctx); err != nil {
		s.log.Error("document sweep failed", logx.Err(err))
	}
}
