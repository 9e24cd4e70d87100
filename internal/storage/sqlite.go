package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "duewatch/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	// Claims do not survive a restart. The single-writer daemon owns
	// them, so any in_flight row left behind is from a crashed run and
	// must come back into the sweep.
	if _, err := db.Exec("UPDATE scheduled_notifications SET in_flight = 0 WHERE in_flight = 1"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- configurations ----

func (s *sqliteStore) UpsertConfig(ctx context.Context, obligationID int64, recipients []string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE notification_configs SET active = 0, updated_at = ? WHERE obligation_id = ? AND active = 1`,
		now.UnixMilli(), obligationID,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO notification_configs(obligation_id, recipients, active, updated_at) VALUES(?,?,1,?)`,
		obligationID, jsonStrings(recipients), now.UnixMilli(),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) DeactivateConfig(ctx context.Context, obligationID int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notification_configs SET active = 0, updated_at = ? WHERE obligation_id = ? AND active = 1`,
		now.UnixMilli(), obligationID,
	)
	return err
}

func (s *sqliteStore) GetActiveConfig(ctx context.Context, obligationID int64) (NotificationConfig, bool, error) {
	var c NotificationConfig
	var recipients string
	var updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT obligation_id, recipients, updated_at FROM notification_configs
		 WHERE obligation_id = ? AND active = 1`,
		obligationID,
	).Scan(&c.ObligationID, &recipients, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return NotificationConfig{}, false, nil
	}
	if err != nil {
		return NotificationConfig{}, false, err
	}
	c.Active = true
	c.UpdatedAt = time.UnixMilli(updated)
	c.Recipients = parseStrings(recipients)
	return c, true, nil
}

func (s *sqliteStore) ListActiveConfigs(ctx context.Context) ([]NotificationConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT obligation_id, recipients, updated_at FROM notification_configs
		 WHERE active = 1 ORDER BY obligation_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []NotificationConfig
	for rows.Next() {
		var c NotificationConfig
		var recipients string
		var updated int64
		if err := rows.Scan(&c.ObligationID, &recipients, &updated); err != nil {
			return nil, err
		}
		c.Active = true
		c.UpdatedAt = time.UnixMilli(updated)
		c.Recipients = parseStrings(recipients)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ---- scheduled notifications ----

func (s *sqliteStore) InsertScheduled(ctx context.Context, n ScheduledNotification) (bool, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_notifications
		 (id, obligation_id, lead_days, scheduled_at, sent, attempts, in_flight, active, recipients, created_at)
		 VALUES(?,?,?,?,0,0,0,1,?,?)`,
		n.ID, n.ObligationID, n.LeadDays, n.ScheduledAt.UnixMilli(),
		jsonStrings(n.Recipients), n.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) ActiveLeadDays(ctx context.Context, obligationID int64) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT lead_days FROM scheduled_notifications WHERE obligation_id = ? AND active = 1`,
		obligationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int]bool)
	for rows.Next() {
		var d int
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out[d] = true
	}
	return out, rows.Err()
}

func (s *sqliteStore) SelectDue(ctx context.Context, now time.Time, maxAttempts, limit int) ([]ScheduledNotification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, obligation_id, lead_days, scheduled_at, sent, sent_at, attempts, last_error, in_flight, active, recipients, created_at
		 FROM scheduled_notifications
		 WHERE active = 1 AND sent = 0 AND in_flight = 0 AND scheduled_at <= ? AND attempts < ?
		 ORDER BY scheduled_at
		 LIMIT ?`,
		now.UnixMilli(), maxAttempts, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanScheduled(rows)
}

// Claim marks a row in flight. It succeeds for at most one caller:
// the guarded UPDATE only matches rows nobody else holds.
func (s *sqliteStore) Claim(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_notifications SET in_flight = 1
		 WHERE id = ? AND in_flight = 0 AND sent = 0 AND active = 1`,
		id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqliteStore) Release(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_notifications SET in_flight = 0 WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) MarkSent(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_notifications SET sent = 1, sent_at = ?, in_flight = 0, last_error = NULL
		 WHERE id = ?`,
		at.UnixMilli(), id,
	)
	if err != nil {
		return err
	}
	return oneRow(res)
}

func (s *sqliteStore) MarkFailed(ctx context.Context, id string, lastError string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_notifications SET attempts = attempts + 1, last_error = ?, in_flight = 0
		 WHERE id = ?`,
		lastError, id,
	)
	if err != nil {
		return err
	}
	return oneRow(res)
}

func (s *sqliteStore) ResetAttempts(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_notifications SET attempts = 0, last_error = NULL
		 WHERE id = ? AND sent = 0`,
		id,
	)
	if err != nil {
		return err
	}
	return oneRow(res)
}

func (s *sqliteStore) DeactivateScheduled(ctx context.Context, obligationID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_notifications SET active = 0
		 WHERE obligation_id = ? AND active = 1 AND sent = 0`,
		obligationID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqliteStore) DeactivateOrphaned(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_notifications SET active = 0
		 WHERE active = 1 AND sent = 0 AND in_flight = 0
		   AND obligation_id NOT IN (SELECT obligation_id FROM notification_configs WHERE active = 1)`,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqliteStore) ListPending(ctx context.Context, obligationID int64) ([]ScheduledNotification, error) {
	q := `SELECT id, obligation_id, lead_days, scheduled_at, sent, sent_at, attempts, last_error, in_flight, active, recipients, created_at
	      FROM scheduled_notifications
	      WHERE active = 1 AND sent = 0`
	args := []any{}
	if obligationID > 0 {
		q += ` AND obligation_id = ?`
		args = append(args, obligationID)
	}
	q += ` ORDER BY scheduled_at`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanScheduled(rows)
}

func (s *sqliteStore) PurgeSentBefore(ctx context.Context, cutoff time.Time, batch int) (int64, error) {
	if batch <= 0 {
		batch = 1000
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM scheduled_notifications WHERE id IN (
		   SELECT id FROM scheduled_notifications
		   WHERE sent = 1 AND in_flight = 0 AND scheduled_at < ?
		   LIMIT ?)`,
		cutoff.UnixMilli(), batch,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---- history ----

func (s *sqliteStore) AppendHistory(ctx context.Context, e HistoryEntry) error {
	if e.SentAt.IsZero() {
		e.SentAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_history
		 (id, entity_kind, entity_id, notification_id, lead_days, urgent, recipients, success, err, sent_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		e.ID, string(e.EntityKind), e.EntityID, nullStr(e.NotificationID), e.LeadDays,
		e.Urgent, jsonStrings(e.Recipients), e.Success, nullStr(e.Error), e.SentAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) HistoryLeadDays(ctx context.Context, obligationID int64) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT lead_days FROM notification_history
		 WHERE entity_kind = ? AND entity_id = ? AND success = 1`,
		string(EntityObligation), obligationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int]bool)
	for rows.Next() {
		var d int
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out[d] = true
	}
	return out, rows.Err()
}

func (s *sqliteStore) CountHistorySince(ctx context.Context, kind EntityKind, entityID int64, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notification_history
		 WHERE entity_kind = ? AND entity_id = ? AND sent_at >= ?`,
		string(kind), entityID, since.UnixMilli(),
	).Scan(&n)
	return n, err
}

func (s *sqliteStore) HistoryExistsForLead(ctx context.Context, kind EntityKind, entityID int64, leadDays int, since time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notification_history
		 WHERE entity_kind = ? AND entity_id = ? AND lead_days = ? AND sent_at >= ?`,
		string(kind), entityID, leadDays, since.UnixMilli(),
	).Scan(&n)
	return n > 0, err
}

func (s *sqliteStore) ListHistory(ctx context.Context, obligationID int64, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, entity_kind, entity_id, notification_id, lead_days, urgent, recipients, success, err, sent_at
	      FROM notification_history`
	args := []any{}
	if obligationID > 0 {
		q += ` WHERE entity_kind = ? AND entity_id = ?`
		args = append(args, string(EntityObligation), obligationID)
	}
	q += ` ORDER BY sent_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var kind, recipients string
		var notifID, errStr sql.NullString
		var sentAt int64
		if err := rows.Scan(&e.ID, &kind, &e.EntityID, &notifID, &e.LeadDays, &e.Urgent, &recipients, &e.Success, &errStr, &sentAt); err != nil {
			return nil, err
		}
		e.EntityKind = EntityKind(kind)
		e.NotificationID = notifID.String
		e.Error = errStr.String
		e.Recipients = parseStrings(recipients)
		e.SentAt = time.UnixMilli(sentAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PurgeHistoryBefore(ctx context.Context, cutoff time.Time, batch int) (int64, error) {
	if batch <= 0 {
		batch = 1000
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notification_history WHERE id IN (
		   SELECT id FROM notification_history
		   WHERE sent_at < ?
		   LIMIT ?)`,
		cutoff.UnixMilli(), batch,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---- obligations and documents ----

func (s *sqliteStore) PutObligation(ctx context.Context, o Obligation) (int64, error) {
	if o.ID > 0 {
		res, err := s.db.ExecContext(ctx,
			`UPDATE obligations SET name = ?, ref = ?, due_at = ? WHERE id = ?`,
			o.Name, o.Ref, o.DueAt.UnixMilli(), o.ID,
		)
		if err != nil {
			return 0, err
		}
		if err := oneRow(res); err != nil {
			return 0, err
		}
		return o.ID, nil
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO obligations(name, ref, due_at) VALUES(?,?,?)`,
		o.Name, o.Ref, o.DueAt.UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) GetObligation(ctx context.Context, id int64) (Obligation, bool, error) {
	var o Obligation
	var due int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, ref, due_at FROM obligations WHERE id = ?`, id,
	).Scan(&o.ID, &o.Name, &o.Ref, &due)
	if errors.Is(err, sql.ErrNoRows) {
		return Obligation{}, false, nil
	}
	if err != nil {
		return Obligation{}, false, err
	}
	o.DueAt = time.UnixMilli(due)
	return o, true, nil
}

func (s *sqliteStore) ObligationsDueBetween(ctx context.Context, from, to time.Time) ([]Obligation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, ref, due_at FROM obligations
		 WHERE due_at >= ? AND due_at < ? ORDER BY due_at`,
		from.UnixMilli(), to.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanObligations(rows)
}

func (s *sqliteStore) ObligationsWithActiveConfig(ctx context.Context, dueAfter time.Time) ([]Obligation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT o.id, o.name, o.ref, o.due_at
		 FROM obligations o
		 JOIN notification_configs c ON c.obligation_id = o.id AND c.active = 1
		 WHERE o.due_at > ?
		 ORDER BY o.due_at`,
		dueAfter.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanObligations(rows)
}

func (s *sqliteStore) PutDocument(ctx context.Context, d Document) (int64, error) {
	if d.ID > 0 {
		res, err := s.db.ExecContext(ctx,
			`UPDATE documents SET name = ?, kind = ?, due_at = ?, recipients = ?, lead_times = ?, active = ?
			 WHERE id = ?`,
			d.Name, d.Kind, d.DueAt.UnixMilli(), jsonStrings(d.Recipients), jsonInts(d.LeadTimes), d.Active, d.ID,
		)
		if err != nil {
			return 0, err
		}
		if err := oneRow(res); err != nil {
			return 0, err
		}
		return d.ID, nil
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents(name, kind, due_at, recipients, lead_times, active) VALUES(?,?,?,?,?,?)`,
		d.Name, d.Kind, d.DueAt.UnixMilli(), jsonStrings(d.Recipients), jsonInts(d.LeadTimes), d.Active,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) ActiveDocumentsDueBetween(ctx context.Context, from, to time.Time) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, kind, due_at, recipients, lead_times FROM documents
		 WHERE active = 1 AND due_at >= ? AND due_at < ? ORDER BY due_at`,
		from.UnixMilli(), to.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var d Document
		var due int64
		var recipients, leads string
		if err := rows.Scan(&d.ID, &d.Name, &d.Kind, &due, &recipients, &leads); err != nil {
			return nil, err
		}
		d.Active = true
		d.DueAt = time.UnixMilli(due)
		d.Recipients = parseStrings(recipients)
		d.LeadTimes = parseInts(leads)
		out = append(out, d)
	}
	return out, rows.Err()
}

// ---- stats ----

func (s *sqliteStore) QueryStats(ctx context.Context, now time.Time) (Stats, error) {
	var st Stats
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	err := s.db.QueryRowContext(ctx, `
		SELECT
		  (SELECT COUNT(*) FROM scheduled_notifications WHERE active = 1),
		  (SELECT COUNT(*) FROM scheduled_notifications WHERE active = 1 AND sent = 0),
		  (SELECT COUNT(*) FROM scheduled_notifications WHERE active = 1 AND sent = 0 AND scheduled_at >= ? AND scheduled_at < ?),
		  (SELECT COUNT(*) FROM notification_history WHERE success = 1 AND sent_at >= ? AND sent_at < ?),
		  (SELECT COUNT(*) FROM notification_history WHERE success = 1 AND sent_at >= ?)`,
		dayStart.UnixMilli(), dayEnd.UnixMilli(),
		dayStart.UnixMilli(), dayEnd.UnixMilli(),
		monthStart.UnixMilli(),
	).Scan(&st.TotalScheduled, &st.Pending, &st.DueToday, &st.SentToday, &st.SentThisMonth)
	return st, err
}

// ---- helpers ----

func scanScheduled(rows *sql.Rows) ([]ScheduledNotification, error) {
	var out []ScheduledNotification
	for rows.Next() {
		var n ScheduledNotification
		var schedAt, createdAt int64
		var sentAt sql.NullInt64
		var lastErr sql.NullString
		var recipients string
		if err := rows.Scan(&n.ID, &n.ObligationID, &n.LeadDays, &schedAt, &n.Sent, &sentAt,
			&n.Attempts, &lastErr, &n.InFlight, &n.Active, &recipients, &createdAt); err != nil {
			return nil, err
		}
		n.ScheduledAt = time.UnixMilli(schedAt)
		n.CreatedAt = time.UnixMilli(createdAt)
		if sentAt.Valid {
			n.SentAt = time.UnixMilli(sentAt.Int64)
		}
		n.LastError = lastErr.String
		n.Recipients = parseStrings(recipients)
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanObligations(rows *sql.Rows) ([]Obligation, error) {
	var out []Obligation
	for rows.Next() {
		var o Obligation
		var due int64
		if err := rows.Scan(&o.ID, &o.Name, &o.Ref, &due); err != nil {
			return nil, err
		}
		o.DueAt = time.UnixMilli(due)
		out = append(out, o)
	}
	return out, rows.Err()
}

func oneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func jsonStrings(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func parseStrings(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func jsonInts(v []int) string {
	if len(v) == 0 {
		return "[]"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func parseInts(raw string) []int {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []int
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
