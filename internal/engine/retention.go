package engine

import (
	"context"

	"duewatch/internal/eventbus"
	logx "duewatch/pkg/logx"
)

// retentionBatch bounds one delete statement so retention never holds
// the writer for long while sweeps run alongside it.
const retentionBatch = 1000

// RunRetention purges sent notifications and history older than the
// retention window. days <= 0 uses the configured default. Claimed
// rows are left alone; the store's delete predicate excludes them.
func (e *Engine) RunRetention(ctx context.Context, days int) (RetentionReport, error) {
	if days <= 0 {
		days = e.cfg.RetentionDays
	}
	cutoff := e.now().AddDate(0, 0, -days)
	var rep RetentionReport

	for {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		n, err := e.store.PurgeSentBefore(ctx, cutoff, retentionBatch)
		if err != nil {
			return rep, err
		}
		rep.NotificationsRemoved += n
		if n < retentionBatch {
			break
		}
	}
	for {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		n, err := e.store.PurgeHistoryBefore(ctx, cutoff, retentionBatch)
		if err != nil {
			return rep, err
		}
		rep.HistoryRemoved += n
		if n < retentionBatch {
			break
		}
	}

	if rep.NotificationsRemoved > 0 || rep.HistoryRemoved > 0 {
		e.publish(eventbus.TypeRetentionPurged, map[string]any{
			"notifications": rep.NotificationsRemoved,
			"history":       rep.HistoryRemoved,
		})
	}
	e.log.Info("retention purge done",
		logx.Int("days", days),
		logx.Int64("notifications", rep.NotificationsRemoved),
		logx.Int64("history", rep.HistoryRemoved))
	return rep, nil
}
