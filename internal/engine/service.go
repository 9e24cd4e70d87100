package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"duewatch/internal/eventbus"
	"duewatch/internal/messenger"
	"duewatch/internal/storage"
	logx "duewatch/pkg/logx"
)

// Engine is the notification engine. Construct it with New; the zero
// value is not usable.
type Engine struct {
	cfg   Config
	store storage.Store
	mail  messenger.Messenger
	log   logx.Logger
	bus   eventbus.Bus

	now     func() time.Time
	newID   func() string
	limiter *rate.Limiter // paces dispatch batches
}

// Option adjusts an Engine at construction time.
type Option func(*Engine)

// WithClock replaces the time source. Tests use this to pin "now".
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDs replaces the record ID generator.
func WithIDs(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

func New(cfg Config, store storage.Store, mail messenger.Messenger, log logx.Logger, bus eventbus.Bus, opts ...Option) *Engine {
	cfg = cfg.normalize()
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{
		cfg:     cfg,
		store:   store,
		mail:    mail,
		log:     log,
		bus:     bus,
		now:     time.Now,
		newID:   newUUID,
		limiter: rate.NewLimiter(rate.Every(cfg.BatchPause), 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	// A fresh limiter holds one token; spend it now so the first batch
	// boundary pauses like every later one.
	e.limiter.Allow()
	return e
}

// Configure installs or removes the notification configuration for an
// obligation. With active=true the recipients are upserted and the
// obligation's schedule is filled immediately. With active=false the
// config and every pending scheduled row are deactivated.
func (e *Engine) Configure(ctx context.Context, obligationID int64, recipients []string, active bool) error {
	now := e.now()
	if !active {
		if err := e.store.DeactivateConfig(ctx, obligationID, now); err != nil {
			return fmt.Errorf("deactivate config: %w", err)
		}
		n, err := e.store.DeactivateScheduled(ctx, obligationID)
		if err != nil {
			return fmt.Errorf("deactivate scheduled: %w", err)
		}
		e.log.Info("notification config removed",
			logx.Int64("obligation_id", obligationID),
			logx.Int64("cancelled", n))
		return nil
	}
	if len(recipients) == 0 {
		return messenger.ErrNoRecipients
	}
	if err := e.store.UpsertConfig(ctx, obligationID, recipients, now); err != nil {
		return fmt.Errorf("upsert config: %w", err)
	}
	ob, ok, err := e.store.GetObligation(ctx, obligationID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrObligationGone
	}
	created, _, err := e.fillObligation(ctx, ob, recipients, now)
	if err != nil {
		return err
	}
	e.log.Info("notification config installed",
		logx.Int64("obligation_id", obligationID),
		logx.Int("recipients", len(recipients)),
		logx.Int("scheduled", created))
	return nil
}

// ListPending returns unsent active notifications ordered by due time.
// With obligationID zero the whole backlog is returned.
func (e *Engine) ListPending(ctx context.Context, obligationID int64) ([]storage.ScheduledNotification, error) {
	return e.store.ListPending(ctx, obligationID)
}

// ListHistory returns recent delivery history for an obligation, or for
// everything when obligationID is zero.
func (e *Engine) ListHistory(ctx context.Context, obligationID int64, limit int) ([]storage.HistoryEntry, error) {
	return e.store.ListHistory(ctx, obligationID, limit)
}

// Stats returns an operational snapshot for dashboards.
func (e *Engine) Stats(ctx context.Context) (storage.Stats, error) {
	return e.store.QueryStats(ctx, e.now())
}

func (e *Engine) publish(typ string, data map[string]any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Time: e.now(), Data: data})
}
