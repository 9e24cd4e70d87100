package engine

import (
	"context"

	"duewatch/internal/eventbus"
	"duewatch/internal/storage"
	logx "duewatch/pkg/logx"
)

// RunUrgentEscalation is the daily safety net. It finds obligations due
// today or tomorrow that got no message at all today and sends them an
// urgent reminder, independent of the scheduled rows and their attempt
// counters.
//
// Exactly one history entry is written per escalated obligation,
// whether the send worked or not. The "zero history today" guard reads
// that entry, so a second run the same day is a no-op.
func (e *Engine) RunUrgentEscalation(ctx context.Context) (UrgentReport, error) {
	now := e.now()
	var rep UrgentReport

	today := startOfDay(now)
	windowEnd := today.AddDate(0, 0, 2) // through end of tomorrow
	obs, err := e.store.ObligationsDueBetween(ctx, today, windowEnd)
	if err != nil {
		return rep, err
	}
	rep.Candidates = len(obs)

	for _, ob := range obs {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		n, err := e.store.CountHistorySince(ctx, storage.EntityObligation, ob.ID, today)
		if err != nil {
			e.log.Warn("urgent: history check failed", logx.Int64("obligation_id", ob.ID), logx.Err(err))
			continue
		}
		if n > 0 {
			rep.Skipped++
			continue
		}
		cfg, ok, err := e.store.GetActiveConfig(ctx, ob.ID)
		if err != nil {
			e.log.Warn("urgent: config lookup failed", logx.Int64("obligation_id", ob.ID), logx.Err(err))
			continue
		}
		if !ok || len(cfg.Recipients) == 0 {
			rep.Skipped++
			continue
		}

		msg := renderUrgent(ob, now)
		sctx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
		sendErr := e.mail.Send(sctx, cfg.Recipients, msg)
		cancel()

		entry := storage.HistoryEntry{
			ID:         e.newID(),
			EntityKind: storage.EntityObligation,
			EntityID:   ob.ID,
			LeadDays:   daysUntil(now, ob.DueAt),
			Urgent:     true,
			Recipients: cfg.Recipients,
			Success:    sendErr == nil,
			SentAt:     now,
		}
		if sendErr != nil {
			entry.Error = sendErr.Error()
		}
		// The entry is the dedup record. Write it regardless of outcome;
		// a delivery that failed still counts as today's escalation.
		if err := e.store.AppendHistory(ctx, entry); err != nil {
			e.log.Error("urgent: history write failed", logx.Int64("obligation_id", ob.ID), logx.Err(err))
			continue
		}
		rep.Escalated++
		if sendErr != nil {
			rep.Failed++
			e.log.Warn("urgent reminder failed",
				logx.Int64("obligation_id", ob.ID),
				logx.Err(sendErr))
			continue
		}
		e.log.Info("urgent reminder sent",
			logx.Int64("obligation_id", ob.ID),
			logx.Int("due_in_days", entry.LeadDays))
		e.publish(eventbus.TypeReminderUrgent, map[string]any{
			"obligation_id": ob.ID, "due_in_days": entry.LeadDays,
		})
	}

	e.log.Debug("urgent escalation done",
		logx.Int("candidates", rep.Candidates),
		logx.Int("escalated", rep.Escalated),
		logx.Int("skipped", rep.Skipped),
		logx.Int("failed", rep.Failed))
	return rep, nil
}
