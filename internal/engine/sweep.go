package engine

import (
	"context"
	"errors"

	"duewatch/internal/eventbus"
	"duewatch/internal/storage"
	logx "duewatch/pkg/logx"
)

// RunPendingSweep claims due notifications and dispatches them.
//
// A notification is a candidate when it is active, unsent, due, and
// under the retry ceiling. Each is claimed atomically before dispatch,
// so overlapping sweep runs never double-send; a claim that fails means
// some other run holds the row, and it is skipped without error.
// Dispatch proceeds in fixed-size batches with a pause in between to
// bound load on the transport. A failed item parks until the next run;
// one that exhausts its attempts parks until an operator resets it.
func (e *Engine) RunPendingSweep(ctx context.Context) (SweepReport, error) {
	now := e.now()
	var rep SweepReport

	due, err := e.store.SelectDue(ctx, now, e.cfg.MaxAttempts, 1000)
	if err != nil {
		return rep, err
	}
	rep.Selected = len(due)

	for i, n := range due {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if i > 0 && i%e.cfg.BatchSize == 0 {
			if err := e.limiter.Wait(ctx); err != nil {
				return rep, err
			}
		}

		claimed, err := e.store.Claim(ctx, n.ID)
		if err != nil {
			e.log.Warn("sweep: claim failed", logx.String("id", n.ID), logx.Err(err))
			continue
		}
		if !claimed {
			continue
		}
		rep.Claimed++

		if e.dispatchOne(ctx, n) {
			rep.Sent++
		} else {
			rep.Failed++
		}
	}

	e.log.Debug("pending sweep done",
		logx.Int("selected", rep.Selected),
		logx.Int("claimed", rep.Claimed),
		logx.Int("sent", rep.Sent),
		logx.Int("failed", rep.Failed))
	return rep, nil
}

// dispatchOne delivers a single claimed notification and settles its
// state. The claim is always released, through MarkSent or MarkFailed.
func (e *Engine) dispatchOne(ctx context.Context, n storage.ScheduledNotification) bool {
	now := e.now()

	ob, ok, err := e.store.GetObligation(ctx, n.ObligationID)
	if err == nil && !ok {
		err = ErrObligationGone
	}

	if err == nil {
		msg := renderReminder(ob, n.LeadDays, now)
		sctx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
		err = e.mail.Send(sctx, n.Recipients, msg)
		cancel()
		if err != nil {
			err = errors.Join(ErrDeliveryFailed, err)
		}
	}

	entry := storage.HistoryEntry{
		ID:             e.newID(),
		EntityKind:     storage.EntityObligation,
		EntityID:       n.ObligationID,
		NotificationID: n.ID,
		LeadDays:       n.LeadDays,
		Recipients:     n.Recipients,
		SentAt:         now,
	}

	if err != nil {
		entry.Success = false
		entry.Error = err.Error()
		if herr := e.store.AppendHistory(ctx, entry); herr != nil {
			e.log.Warn("sweep: history write failed", logx.String("id", n.ID), logx.Err(herr))
		}
		if merr := e.store.MarkFailed(ctx, n.ID, err.Error()); merr != nil {
			e.log.Warn("sweep: mark failed failed", logx.String("id", n.ID), logx.Err(merr))
		}
		e.log.Warn("reminder delivery failed",
			logx.String("id", n.ID),
			logx.Int64("obligation_id", n.ObligationID),
			logx.Int("lead_days", n.LeadDays),
			logx.Int("attempt", n.Attempts+1),
			logx.Err(err))
		e.publish(eventbus.TypeReminderFailed, map[string]any{
			"id": n.ID, "obligation_id": n.ObligationID, "lead_days": n.LeadDays,
		})
		return false
	}

	entry.Success = true
	if herr := e.store.AppendHistory(ctx, entry); herr != nil {
		e.log.Warn("sweep: history write failed", logx.String("id", n.ID), logx.Err(herr))
	}
	if merr := e.store.MarkSent(ctx, n.ID, now); merr != nil {
		// The message went out but the row did not settle. The next run
		// may send again; at-least-once is the accepted trade-off here.
		e.log.Error("sweep: mark sent failed", logx.String("id", n.ID), logx.Err(merr))
	}
	e.log.Info("reminder sent",
		logx.String("id", n.ID),
		logx.Int64("obligation_id", n.ObligationID),
		logx.Int("lead_days", n.LeadDays),
		logx.Int("recipients", len(n.Recipients)))
	e.publish(eventbus.TypeReminderSent, map[string]any{
		"id": n.ID, "obligation_id": n.ObligationID, "lead_days": n.LeadDays,
	})
	return true
}

// ResetAttempts clears the retry counter of a parked notification so
// the next sweep picks it up again. Operator surface.
func (e *Engine) ResetAttempts(ctx context.Context, id string) error {
	return e.store.ResetAttempts(ctx, id)
}
