package engine

import (
	"context"
	"time"

	"duewatch/internal/eventbus"
	"duewatch/internal/storage"
	logx "duewatch/pkg/logx"
)

// RunGapFill materializes missing scheduled notifications for every
// obligation with an active configuration, and cancels leftovers of
// obligations whose configuration is gone.
//
// Idempotent: a second run with no elapsed time creates nothing. The
// store's uniqueness contract makes this hold even when two fills
// overlap. A failure on one obligation is logged and skipped; the run
// continues.
func (e *Engine) RunGapFill(ctx context.Context) (GapFillReport, error) {
	now := e.now()
	var rep GapFillReport

	// Cancellation first: deactivated configs take their pending rows
	// with them before new ones are planned.
	if n, err := e.store.DeactivateOrphaned(ctx); err != nil {
		e.log.Warn("gap fill: orphan cancellation failed", logx.Err(err))
	} else {
		rep.Cancelled += int(n)
	}

	obs, err := e.store.ObligationsWithActiveConfig(ctx, now.Add(-e.cfg.Lookback))
	if err != nil {
		return rep, err
	}
	rep.Obligations = len(obs)

	for _, ob := range obs {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		cfg, ok, err := e.store.GetActiveConfig(ctx, ob.ID)
		if err != nil {
			rep.Errors++
			e.log.Warn("gap fill: config lookup failed", logx.Int64("obligation_id", ob.ID), logx.Err(err))
			continue
		}
		if !ok || len(cfg.Recipients) == 0 {
			// Config vanished since selection. Cancel what is left.
			n, err := e.store.DeactivateScheduled(ctx, ob.ID)
			if err != nil {
				rep.Errors++
				e.log.Warn("gap fill: cancellation failed", logx.Int64("obligation_id", ob.ID), logx.Err(err))
				continue
			}
			rep.Cancelled += int(n)
			continue
		}
		created, skipped, err := e.fillObligation(ctx, ob, cfg.Recipients, now)
		if err != nil {
			rep.Errors++
			e.log.Warn("gap fill: obligation skipped", logx.Int64("obligation_id", ob.ID), logx.Err(err))
			continue
		}
		rep.Created += created
		rep.Skipped += skipped
	}

	if rep.Created > 0 {
		e.publish(eventbus.TypeSchedulePlanned, map[string]any{
			"created": rep.Created, "obligations": rep.Obligations,
		})
	}
	e.log.Debug("gap fill done",
		logx.Int("obligations", rep.Obligations),
		logx.Int("created", rep.Created),
		logx.Int("cancelled", rep.Cancelled),
		logx.Int("errors", rep.Errors))
	return rep, nil
}

// fillObligation inserts the scheduled rows an obligation is missing.
// Covered lead-times are the union of active rows and successful
// history, so a purged row whose send is on record is not recreated.
func (e *Engine) fillObligation(ctx context.Context, ob storage.Obligation, recipients []string, now time.Time) (created, skipped int, err error) {
	existing, err := e.store.ActiveLeadDays(ctx, ob.ID)
	if err != nil {
		return 0, 0, err
	}
	recorded, err := e.store.HistoryLeadDays(ctx, ob.ID)
	if err != nil {
		return 0, 0, err
	}
	covered := make(map[int]bool, len(existing)+len(recorded))
	for d := range existing {
		covered[d] = true
	}
	for d := range recorded {
		covered[d] = true
	}

	for _, ev := range ComputeUpcoming(now, ob.DueAt, e.cfg.LeadTimes, covered) {
		ok, err := e.store.InsertScheduled(ctx, storage.ScheduledNotification{
			ID:           e.newID(),
			ObligationID: ob.ID,
			LeadDays:     ev.LeadDays,
			ScheduledAt:  ev.ScheduledAt,
			Recipients:   recipients,
			CreatedAt:    now,
		})
		if err != nil {
			return created, skipped, err
		}
		if ok {
			created++
		} else {
			// Lost the race to a concurrent fill. Fine either way.
			skipped++
		}
	}
	skipped += len(covered)
	return created, skipped, nil
}
