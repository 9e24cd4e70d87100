package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "duewatch/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "duewatch.db"),
		BusyTimeout: 2 * time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func mustPutObligation(t *testing.T, st Store, name string, due time.Time) int64 {
	t.Helper()
	id, err := st.PutObligation(context.Background(), Obligation{Name: name, DueAt: due})
	if err != nil {
		t.Fatalf("put obligation: %v", err)
	}
	return id
}

func TestInsertScheduledIdempotent(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	obID := mustPutObligation(t, st, "acme", now.AddDate(0, 1, 0))

	n := ScheduledNotification{
		ID:           "n1",
		ObligationID: obID,
		LeadDays:     30,
		ScheduledAt:  now,
		Recipients:   []string{"ops@example.com"},
		CreatedAt:    now,
	}
	created, err := st.InsertScheduled(ctx, n)
	if err != nil || !created {
		t.Fatalf("first insert: created=%v err=%v", created, err)
	}

	n.ID = "n2"
	created, err = st.InsertScheduled(ctx, n)
	if err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}
	if created {
		t.Fatal("duplicate (obligation, lead) pair must not create a second active row")
	}

	leads, err := st.ActiveLeadDays(ctx, obID)
	if err != nil {
		t.Fatalf("active lead days: %v", err)
	}
	if len(leads) != 1 || !leads[30] {
		t.Fatalf("want {30}, got %v", leads)
	}
}

func TestClaimExactlyOnce(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	obID := mustPutObligation(t, st, "acme", now.AddDate(0, 1, 0))

	if _, err := st.InsertScheduled(ctx, ScheduledNotification{
		ID: "n1", ObligationID: obID, LeadDays: 7, ScheduledAt: now, CreatedAt: now,
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	ok, err := st.Claim(ctx, "n1")
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	ok, err = st.Claim(ctx, "n1")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if ok {
		t.Fatal("second claim on an in-flight row must fail")
	}

	if err := st.Release(ctx, "n1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = st.Claim(ctx, "n1")
	if err != nil || !ok {
		t.Fatalf("claim after release: ok=%v err=%v", ok, err)
	}

	if err := st.MarkSent(ctx, "n1", now); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	ok, err = st.Claim(ctx, "n1")
	if err != nil {
		t.Fatalf("claim after sent: %v", err)
	}
	if ok {
		t.Fatal("sent rows must not be claimable")
	}
}

func TestReopenReleasesStaleClaims(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "duewatch.db")
	cfg := Config{Path: path, BusyTimeout: 2 * time.Second}
	ctx := context.Background()
	now := time.Now()

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	obID, err := st.PutObligation(ctx, Obligation{Name: "acme", DueAt: now.AddDate(0, 1, 0)})
	if err != nil {
		t.Fatalf("put obligation: %v", err)
	}
	if _, err := st.InsertScheduled(ctx, ScheduledNotification{
		ID: "n1", ObligationID: obID, LeadDays: 7, ScheduledAt: now.Add(-time.Hour), CreatedAt: now,
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if ok, err := st.Claim(ctx, "n1"); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	// Close with the claim still held, as a crashed run would.
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	st, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	due, err := st.SelectDue(ctx, now, 3, 100)
	if err != nil {
		t.Fatalf("select due: %v", err)
	}
	if len(due) != 1 || due[0].ID != "n1" {
		t.Fatalf("row left in flight from previous run must be due again, got %+v", due)
	}
	if ok, err := st.Claim(ctx, "n1"); err != nil || !ok {
		t.Fatalf("claim after reopen: ok=%v err=%v", ok, err)
	}
}

func TestSelectDueRespectsAttemptCap(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	obID := mustPutObligation(t, st, "acme", now.AddDate(0, 1, 0))

	rows := []ScheduledNotification{
		{ID: "due", ObligationID: obID, LeadDays: 7, ScheduledAt: now.Add(-time.Hour)},
		{ID: "future", ObligationID: obID, LeadDays: 3, ScheduledAt: now.Add(time.Hour)},
		{ID: "exhausted", ObligationID: obID, LeadDays: 1, ScheduledAt: now.Add(-time.Hour)},
	}
	for _, n := range rows {
		n.CreatedAt = now
		if _, err := st.InsertScheduled(ctx, n); err != nil {
			t.Fatalf("insert %s: %v", n.ID, err)
		}
	}
	for i := 0; i < 3; i++ {
		if err := st.MarkFailed(ctx, "exhausted", "smtp timeout"); err != nil {
			t.Fatalf("mark failed: %v", err)
		}
	}

	due, err := st.SelectDue(ctx, now, 3, 100)
	if err != nil {
		t.Fatalf("select due: %v", err)
	}
	if len(due) != 1 || due[0].ID != "due" {
		t.Fatalf("want exactly [due], got %+v", due)
	}

	// Resetting attempts puts the row back in rotation.
	if err := st.ResetAttempts(ctx, "exhausted"); err != nil {
		t.Fatalf("reset attempts: %v", err)
	}
	due, err = st.SelectDue(ctx, now, 3, 100)
	if err != nil {
		t.Fatalf("select due: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("want 2 due rows after reset, got %d", len(due))
	}
}

func TestMarkFailedIncrementsAttempts(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	obID := mustPutObligation(t, st, "acme", now.AddDate(0, 1, 0))

	if _, err := st.InsertScheduled(ctx, ScheduledNotification{
		ID: "n1", ObligationID: obID, LeadDays: 15, ScheduledAt: now.Add(-time.Minute), CreatedAt: now,
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if ok, _ := st.Claim(ctx, "n1"); !ok {
		t.Fatal("claim failed")
	}
	if err := st.MarkFailed(ctx, "n1", "connection refused"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	pending, err := st.ListPending(ctx, obID)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("want 1 pending, got %d", len(pending))
	}
	got := pending[0]
	if got.Attempts != 1 || got.LastError != "connection refused" || got.InFlight {
		t.Fatalf("unexpected row after failure: %+v", got)
	}
}

func TestUpsertConfigKeepsOneActive(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	obID := mustPutObligation(t, st, "acme", now.AddDate(0, 1, 0))

	if err := st.UpsertConfig(ctx, obID, []string{"a@example.com"}, now); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := st.UpsertConfig(ctx, obID, []string{"b@example.com", "c@example.com"}, now.Add(time.Minute)); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	cfg, ok, err := st.GetActiveConfig(ctx, obID)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if len(cfg.Recipients) != 2 || cfg.Recipients[0] != "b@example.com" {
		t.Fatalf("want latest recipients, got %v", cfg.Recipients)
	}

	all, err := st.ListActiveConfigs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("want one active config, got %d", len(all))
	}

	if err := st.DeactivateConfig(ctx, obID, now.Add(2*time.Minute)); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, ok, _ := st.GetActiveConfig(ctx, obID); ok {
		t.Fatal("config must be gone after deactivation")
	}
}

func TestDeactivateScheduledSkipsSent(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	obID := mustPutObligation(t, st, "acme", now.AddDate(0, 1, 0))

	for _, id := range []string{"a", "b", "c"} {
		if _, err := st.InsertScheduled(ctx, ScheduledNotification{
			ID: id, ObligationID: obID, LeadDays: map[string]int{"a": 30, "b": 15, "c": 7}[id],
			ScheduledAt: now, CreatedAt: now,
		}); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	if err := st.MarkSent(ctx, "a", now); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	n, err := st.DeactivateScheduled(ctx, obID)
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if n != 2 {
		t.Fatalf("want 2 deactivated, got %d", n)
	}
	pending, err := st.ListPending(ctx, obID)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("want no pending rows, got %d", len(pending))
	}
}

func TestHistoryQueries(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	obID := mustPutObligation(t, st, "acme", now.AddDate(0, 0, 10))

	entries := []HistoryEntry{
		{ID: "h1", EntityKind: EntityObligation, EntityID: obID, LeadDays: 30, Success: true, SentAt: now.AddDate(0, 0, -20)},
		{ID: "h2", EntityKind: EntityObligation, EntityID: obID, LeadDays: 15, Success: false, Error: "smtp timeout", SentAt: now.AddDate(0, 0, -5)},
		{ID: "h3", EntityKind: EntityObligation, EntityID: obID, LeadDays: 0, Urgent: true, Success: true, SentAt: now.Add(-time.Hour)},
		{ID: "h4", EntityKind: EntityDocument, EntityID: 99, LeadDays: 7, Success: true, SentAt: now.Add(-time.Hour)},
	}
	for _, e := range entries {
		if err := st.AppendHistory(ctx, e); err != nil {
			t.Fatalf("append %s: %v", e.ID, err)
		}
	}

	leads, err := st.HistoryLeadDays(ctx, obID)
	if err != nil {
		t.Fatalf("history lead days: %v", err)
	}
	if !leads[30] || !leads[0] || leads[15] {
		t.Fatalf("failed sends must not count as covered leads, got %v", leads)
	}

	dayStart := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	n, err := st.CountHistorySince(ctx, EntityObligation, obID, dayStart)
	if err != nil {
		t.Fatalf("count since: %v", err)
	}
	if n != 1 {
		t.Fatalf("want 1 entry today, got %d", n)
	}

	ok, err := st.HistoryExistsForLead(ctx, EntityDocument, 99, 7, dayStart)
	if err != nil || !ok {
		t.Fatalf("document lead must be recorded: ok=%v err=%v", ok, err)
	}
	ok, _ = st.HistoryExistsForLead(ctx, EntityDocument, 99, 3, dayStart)
	if ok {
		t.Fatal("unrecorded lead must report false")
	}

	list, err := st.ListHistory(ctx, obID, 10)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("want 3 obligation entries, got %d", len(list))
	}
	if list[0].ID != "h3" {
		t.Fatalf("want newest first, got %s", list[0].ID)
	}
	if list[1].Error != "smtp timeout" {
		t.Fatalf("error text lost: %+v", list[1])
	}
}

func TestPurgeBatches(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	old := now.AddDate(0, 0, -120)
	obID := mustPutObligation(t, st, "acme", now)

	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		if _, err := st.InsertScheduled(ctx, ScheduledNotification{
			ID: id, ObligationID: obID, LeadDays: i + 1, ScheduledAt: old, CreatedAt: old,
		}); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := st.MarkSent(ctx, id, old); err != nil {
			t.Fatalf("mark sent: %v", err)
		}
		if err := st.AppendHistory(ctx, HistoryEntry{
			ID: "h" + id, EntityKind: EntityObligation, EntityID: obID, LeadDays: i + 1, Success: true, SentAt: old,
		}); err != nil {
			t.Fatalf("append history: %v", err)
		}
	}

	cutoff := now.AddDate(0, 0, -90)
	n, err := st.PurgeSentBefore(ctx, cutoff, 2)
	if err != nil {
		t.Fatalf("purge sent: %v", err)
	}
	if n != 2 {
		t.Fatalf("batch limit not honored: purged %d", n)
	}
	total := n
	for {
		n, err = st.PurgeSentBefore(ctx, cutoff, 2)
		if err != nil {
			t.Fatalf("purge sent: %v", err)
		}
		if n == 0 {
			break
		}
		total += n
	}
	if total != 5 {
		t.Fatalf("want 5 purged in total, got %d", total)
	}

	hn, err := st.PurgeHistoryBefore(ctx, cutoff, 100)
	if err != nil {
		t.Fatalf("purge history: %v", err)
	}
	if hn != 5 {
		t.Fatalf("want 5 history rows purged, got %d", hn)
	}
}

func TestObligationQueries(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	near := mustPutObligation(t, st, "near", now.AddDate(0, 0, 1))
	far := mustPutObligation(t, st, "far", now.AddDate(0, 2, 0))
	mustPutObligation(t, st, "past", now.AddDate(0, 0, -3))

	due, err := st.ObligationsDueBetween(ctx, now, now.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("due between: %v", err)
	}
	if len(due) != 1 || due[0].ID != near {
		t.Fatalf("want [near], got %+v", due)
	}

	if err := st.UpsertConfig(ctx, far, []string{"ops@example.com"}, now); err != nil {
		t.Fatalf("upsert config: %v", err)
	}
	withCfg, err := st.ObligationsWithActiveConfig(ctx, now)
	if err != nil {
		t.Fatalf("with config: %v", err)
	}
	if len(withCfg) != 1 || withCfg[0].ID != far {
		t.Fatalf("want [far], got %+v", withCfg)
	}

	got, ok, err := st.GetObligation(ctx, near)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Name != "near" || !got.DueAt.Equal(now.AddDate(0, 0, 1)) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if _, ok, _ := st.GetObligation(ctx, 9999); ok {
		t.Fatal("missing obligation must report ok=false")
	}
}

func TestQueryStats(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	obID := mustPutObligation(t, st, "acme", now.AddDate(0, 1, 0))

	ins := func(id string, lead int, at time.Time) {
		t.Helper()
		if _, err := st.InsertScheduled(ctx, ScheduledNotification{
			ID: id, ObligationID: obID, LeadDays: lead, ScheduledAt: at, CreatedAt: now,
		}); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	ins("today", 7, now.Add(time.Hour))
	ins("tomorrow", 3, now.AddDate(0, 0, 1))
	ins("done", 30, now.AddDate(0, 0, -10))
	if err := st.MarkSent(ctx, "done", now.AddDate(0, 0, -10)); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	for _, e := range []HistoryEntry{
		{ID: "h1", EntityKind: EntityObligation, EntityID: obID, LeadDays: 30, Success: true, SentAt: now.Add(-time.Hour)},
		{ID: "h2", EntityKind: EntityObligation, EntityID: obID, LeadDays: 15, Success: true, SentAt: now.AddDate(0, 0, -10)},
		{ID: "h3", EntityKind: EntityObligation, EntityID: obID, LeadDays: 7, Success: false, SentAt: now.Add(-time.Hour)},
	} {
		if err := st.AppendHistory(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	stats, err := st.QueryStats(ctx, now)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := Stats{TotalScheduled: 3, Pending: 2, DueToday: 1, SentToday: 1, SentThisMonth: 2}
	if stats != want {
		t.Fatalf("stats mismatch:\n got %+v\nwant %+v", stats, want)
	}
}
