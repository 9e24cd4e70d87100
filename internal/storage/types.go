package storage

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("storage: not found")

// Config configures the store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// EntityKind discriminates what a history entry refers to.
type EntityKind string

const (
	EntityObligation EntityKind = "obligation"
	EntityDocument   EntityKind = "document"
)

// Obligation is the read model of a tracked financial commitment.
// The engine only ever reads these; ownership stays with the admin surface.
type Obligation struct {
	ID    int64
	Name  string // creditor / counterparty label used in message subjects
	Ref   string // external reference (proposal/contract number), may be empty
	DueAt time.Time
}

// Document is the read model of a tracked document with an expiry date.
type Document struct {
	ID         int64
	Name       string
	Kind       string // "license", "contract", "certificate", "permit", ...
	DueAt      time.Time
	Recipients []string
	LeadTimes  []int // custom lead-day set; empty means kind defaults apply
	Active     bool
}

// NotificationConfig stores who gets reminded about an obligation.
// At most one active config exists per obligation (unique index).
type NotificationConfig struct {
	ObligationID int64
	Recipients   []string
	Active       bool
	UpdatedAt    time.Time
}

// ScheduledNotification is one materialized reminder event.
//
// Invariants:
//   - at most one active row per (ObligationID, LeadDays)
//   - once Sent, ScheduledAt and LeadDays never change
//   - InFlight marks a claimed row; claims are released by MarkSent/MarkFailed
type ScheduledNotification struct {
	ID           string // uuid
	ObligationID int64
	LeadDays     int
	ScheduledAt  time.Time
	Sent         bool
	SentAt       time.Time // zero until sent
	Attempts     int
	LastError    string
	InFlight     bool
	Active       bool
	Recipients   []string
	CreatedAt    time.Time
}

// HistoryEntry is one append-only delivery record.
// NotificationID is empty for urgent escalations and document reminders,
// which are recorded straight into history without a scheduled row.
type HistoryEntry struct {
	ID             string // uuid
	EntityKind     EntityKind
	EntityID       int64
	NotificationID string
	LeadDays       int
	Urgent         bool
	Recipients     []string
	Success        bool
	Error          string
	SentAt         time.Time
}

// Stats is an operational snapshot for dashboards.
type Stats struct {
	TotalScheduled int
	Pending        int
	DueToday       int
	SentToday      int
	SentThisMonth  int
}

// Store is the persistence API used by the engine.
type Store interface {
	// Configurations.
	UpsertConfig(ctx context.Context, obligationID int64, recipients []string, now time.Time) error
	DeactivateConfig(ctx context.Context, obligationID int64, now time.Time) error
	GetActiveConfig(ctx context.Context, obligationID int64) (NotificationConfig, bool, error)
	ListActiveConfigs(ctx context.Context) ([]NotificationConfig, error)

	// Scheduled notifications.
	//
	// InsertScheduled returns created=false (and no error) when an active row
	// for the same (obligation, lead) pair already exists: two overlapping
	// gap-fill runs must not both insert.
	InsertScheduled(ctx context.Context, n ScheduledNotification) (created bool, err error)
	ActiveLeadDays(ctx context.Context, obligationID int64) (map[int]bool, error)
	SelectDue(ctx context.Context, now time.Time, maxAttempts, limit int) ([]ScheduledNotification, error)
	Claim(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, lastError string) error
	ResetAttempts(ctx context.Context, id string) error
	DeactivateScheduled(ctx context.Context, obligationID int64) (int64, error)
	// DeactivateOrphaned cancels unsent rows whose obligation no longer
	// carries an active config.
	DeactivateOrphaned(ctx context.Context) (int64, error)
	ListPending(ctx context.Context, obligationID int64) ([]ScheduledNotification, error)
	PurgeSentBefore(ctx context.Context, cutoff time.Time, batch int) (int64, error)

	// History.
	AppendHistory(ctx context.Context, e HistoryEntry) error
	HistoryLeadDays(ctx context.Context, obligationID int64) (map[int]bool, error)
	CountHistorySince(ctx context.Context, kind EntityKind, entityID int64, since time.Time) (int, error)
	HistoryExistsForLead(ctx context.Context, kind EntityKind, entityID int64, leadDays int, since time.Time) (bool, error)
	ListHistory(ctx context.Context, obligationID int64, limit int) ([]HistoryEntry, error)
	PurgeHistoryBefore(ctx context.Context, cutoff time.Time, batch int) (int64, error)

	// Obligation/document read model.
	PutObligation(ctx context.Context, o Obligation) (int64, error)
	GetObligation(ctx context.Context, id int64) (Obligation, bool, error)
	ObligationsDueBetween(ctx context.Context, from, to time.Time) ([]Obligation, error)
	ObligationsWithActiveConfig(ctx context.Context, dueAfter time.Time) ([]Obligation, error)
	PutDocument(ctx context.Context, d Document) (int64, error)
	ActiveDocumentsDueBetween(ctx context.Context, from, to time.Time) ([]Document, error)

	QueryStats(ctx context.Context, now time.Time) (Stats, error)

	Close() error
}
