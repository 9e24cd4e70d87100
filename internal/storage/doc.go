package storage

// Package storage is the notification store backing the reminder engine.
//
// It persists:
//   - Recipient configurations (one active per obligation)
//   - Scheduled notifications (one active row per obligation+lead pair)
//   - An append-only delivery history
//   - The obligation/document read model the sweeps select from
//
// Configurations and scheduled notifications live in separate tables on
// purpose: the sweep queries physically cannot pick up a config row, and
// the active-pair uniqueness is a storage constraint rather than an
// application-level pre-check.
//
// The claim primitive (Claim/Release) is a hard contract: overlapping
// sweep instances rely on it to guarantee at most one concurrent delivery
// attempt per scheduled notification.
