// Package engine implements the deadline notification engine.
//
// The engine turns obligations with due dates into reminder deliveries.
// It is built from small processors sharing one store:
//
//   - the schedule calculator computes which reminder events are still
//     ahead for a due date and a lead-time set (pure, no I/O)
//   - the gap filler materializes missing scheduled notifications,
//     exactly once per (obligation, lead) pair
//   - the pending sweep claims due notifications and dispatches them
//     with bounded retries
//   - the urgent escalation is a daily safety net for obligations due
//     today or tomorrow that got no message today
//   - the retention processor purges old sent rows and history
//   - the document sweep handles expiring documents on the same
//     history-deduped model
//
// An Engine holds its collaborators explicitly; there is no package
// state. All entry points are safe to invoke concurrently and from
// overlapping trigger cadences: dispatch is guarded by the store's
// atomic claim and materialization by its uniqueness contract.
package engine
