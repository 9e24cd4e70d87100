package engine

import (
	"context"

	"duewatch/internal/storage"
	logx "duewatch/pkg/logx"
)

// Default lead-time ladders per document kind. A document may override
// these with its own set.
var documentLeadDefaults = map[string][]int{
	"license":       {180, 120, 90, 60, 30, 15, 7},
	"environmental": {180, 120, 90, 60, 30, 15, 7},
	"contract":      {90, 60, 30, 15, 7},
	"certificate":   {60, 30, 15, 7, 3},
	"permit":        {30, 15, 7, 3, 1},
}

// documentLeadFallback covers kinds with no entry above so an
// unrecognized kind still gets the standard reminder ladder.
var documentLeadFallback = []int{90, 60, 30, 15, 7, 3, 1}

// documentOverdueHorizon bounds how long after expiry overdue notices
// keep going out.
const documentOverdueHorizonDays = 90

// RunDocumentSweep sends expiry reminders for active documents.
//
// Documents carry no persisted schedule. Instead each send is recorded
// in history keyed by lead-day and looked up per calendar day, so the
// sweep can run any number of times a day without double-sending. A
// document fires when the whole days remaining match one of its
// lead-times, and after expiry on the first overdue day and every
// seventh day following.
func (e *Engine) RunDocumentSweep(ctx context.Context) (DocumentReport, error) {
	now := e.now()
	var rep DocumentReport

	today := startOfDay(now)
	maxLead := documentLeadFallback[0]
	for _, set := range documentLeadDefaults {
		if set[0] > maxLead {
			maxLead = set[0]
		}
	}
	docs, err := e.store.ActiveDocumentsDueBetween(ctx,
		today.AddDate(0, 0, -documentOverdueHorizonDays),
		today.AddDate(0, 0, maxLead+1))
	if err != nil {
		return rep, err
	}
	rep.Documents = len(docs)

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if len(doc.Recipients) == 0 {
			rep.Skipped++
			continue
		}
		days := daysUntil(now, doc.DueAt)
		if !documentShouldFire(doc, days) {
			rep.Skipped++
			continue
		}

		seen, err := e.store.HistoryExistsForLead(ctx, storage.EntityDocument, doc.ID, days, today)
		if err != nil {
			e.log.Warn("document sweep: history check failed", logx.Int64("document_id", doc.ID), logx.Err(err))
			continue
		}
		if seen {
			rep.Skipped++
			continue
		}

		msg := renderDocument(doc, days)
		sctx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
		sendErr := e.mail.Send(sctx, doc.Recipients, msg)
		cancel()

		entry := storage.HistoryEntry{
			ID:         e.newID(),
			EntityKind: storage.EntityDocument,
			EntityID:   doc.ID,
			LeadDays:   days,
			Recipients: doc.Recipients,
			Success:    sendErr == nil,
			SentAt:     now,
		}
		if sendErr != nil {
			entry.Error = sendErr.Error()
		}
		// One attempt per document per day. The entry is the dedup
		// record either way; tomorrow's sweep tries again if needed.
		if err := e.store.AppendHistory(ctx, entry); err != nil {
			e.log.Error("document sweep: history write failed", logx.Int64("document_id", doc.ID), logx.Err(err))
			continue
		}
		if sendErr != nil {
			rep.Failed++
			e.log.Warn("document reminder failed",
				logx.Int64("document_id", doc.ID),
				logx.String("kind", doc.Kind),
				logx.Err(sendErr))
			continue
		}
		rep.Sent++
		e.log.Info("document reminder sent",
			logx.Int64("document_id", doc.ID),
			logx.String("kind", doc.Kind),
			logx.Int("days_remaining", days))
	}

	e.log.Debug("document sweep done",
		logx.Int("documents", rep.Documents),
		logx.Int("sent", rep.Sent),
		logx.Int("skipped", rep.Skipped),
		logx.Int("failed", rep.Failed))
	return rep, nil
}

// documentShouldFire reports whether a document is due for a notice at
// the given whole-days-remaining count.
func documentShouldFire(doc storage.Document, days int) bool {
	if days < 0 {
		overdue := -days
		return overdue == 1 || overdue%7 == 0
	}
	leads := doc.LeadTimes
	if len(leads) == 0 {
		var ok bool
		if leads, ok = documentLeadDefaults[doc.Kind]; !ok {
			leads = documentLeadFallback
		}
	}
	for _, l := range leads {
		if days == l {
			return true
		}
	}
	return false
}
