package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/h1v3-io/fabsync/pkg/protocol"
)

// timeFormat sorts lexically in time order, unlike RFC3339Nano.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	retention time.Duration
	now       func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
// With a positive retention, each RecordPoll also prunes older polls.
func NewSQLiteStore(path string, retention time.Duration) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}

	// Enable WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: wal: %w", err)
	}

	s := &SQLiteStore{db: db, retention: retention, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS polls (
			id           TEXT PRIMARY KEY,
			started_at   TEXT NOT NULL,
			finished_at  TEXT NOT NULL,
			tickets      INTEGER NOT NULL DEFAULT 0,
			empty_streak INTEGER NOT NULL DEFAULT 0,
			wiped        INTEGER NOT NULL DEFAULT 0,
			aborted      TEXT NOT NULL DEFAULT '',
			notable      INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS poll_actions (
			poll_id TEXT NOT NULL REFERENCES polls(id) ON DELETE CASCADE,
			seq     INTEGER NOT NULL,
			ticket  TEXT NOT NULL DEFAULT '',
			kind    TEXT NOT NULL DEFAULT '',
			op      TEXT NOT NULL,
			detail  TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (poll_id, seq)
		);

		CREATE INDEX IF NOT EXISTS idx_polls_started ON polls(started_at);
		CREATE INDEX IF NOT EXISTS idx_actions_ticket ON poll_actions(ticket);
	`)
	if err != nil {
		return fmt.Errorf("journal: migrate: %w", err)
	}
	return nil
}

// RecordPoll saves a poll and its actions in one transaction.
func (s *SQLiteStore) RecordPoll(r *protocol.PollReport) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("journal: record poll: %w", err)
	}
	defer tx.Rollback()

	notable := r.Notable() || r.Count(protocol.OpFailed) > 0
	_, err = tx.Exec(`
		INSERT INTO polls (id, started_at, finished_at, tickets, empty_streak, wiped, aborted, notable)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at=excluded.finished_at, tickets=excluded.tickets, empty_streak=excluded.empty_streak,
			wiped=excluded.wiped, aborted=excluded.aborted, notable=excluded.notable
	`, r.ID, formatTime(r.StartedAt), formatTime(r.FinishedAt), r.Tickets, r.EmptyStreak,
		boolInt(r.Wiped), r.Aborted, boolInt(notable))
	if err != nil {
		return fmt.Errorf("journal: record poll: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM poll_actions WHERE poll_id = ?`, r.ID); err != nil {
		return fmt.Errorf("journal: record poll: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO poll_actions (poll_id, seq, ticket, kind, op, detail) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("journal: record poll: %w", err)
	}
	defer stmt.Close()
	for i, a := range r.Actions {
		if _, err := stmt.Exec(r.ID, i, a.Ticket, string(a.Kind), string(a.Op), a.Detail); err != nil {
			return fmt.Errorf("journal: record action: %w", err)
		}
	}

	if s.retention > 0 {
		if _, err := pruneTx(tx, s.now().Add(-s.retention)); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("journal: record poll: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetPoll(id string) (*protocol.PollReport, error) {
	row := s.db.QueryRow(`SELECT id, started_at, finished_at, tickets, empty_streak, wiped, aborted FROM polls WHERE id = ?`, id)

	r, err := scanPoll(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("poll %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("journal: get poll: %w", err)
	}

	actions, err := s.loadActions(id)
	if err != nil {
		return nil, err
	}
	r.Actions = actions
	return r, nil
}

func (s *SQLiteStore) ListPolls(filter Filter) ([]*protocol.PollReport, error) {
	where, args := filter.where()
	query := "SELECT id, started_at, finished_at, tickets, empty_streak, wiped, aborted FROM polls" + where +
		" ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: list polls: %w", err)
	}
	defer rows.Close()

	polls := []*protocol.PollReport{}
	for rows.Next() {
		r, err := scanPoll(rows)
		if err != nil {
			return nil, fmt.Errorf("journal: list scan: %w", err)
		}
		polls = append(polls, r)
	}
	return polls, rows.Err()
}

func (s *SQLiteStore) CountPolls(filter Filter) (int, error) {
	where, args := filter.where()
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM polls"+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("journal: count polls: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) TicketActions(ticket string, limit int) ([]TicketAction, error) {
	query := `
		SELECT a.poll_id, p.started_at, a.ticket, a.kind, a.op, a.detail
		FROM poll_actions a JOIN polls p ON p.id = a.poll_id
		WHERE a.ticket = ?
		ORDER BY p.started_at DESC, a.seq DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.Query(query, ticket)
	if err != nil {
		return nil, fmt.Errorf("journal: ticket actions: %w", err)
	}
	defer rows.Close()

	out := []TicketAction{}
	for rows.Next() {
		var ta TicketAction
		var at, kind, op string
		if err := rows.Scan(&ta.PollID, &at, &ta.Ticket, &kind, &op, &ta.Detail); err != nil {
			return nil, fmt.Errorf("journal: scan action: %w", err)
		}
		ta.At = parseTime(at)
		ta.Kind = protocol.RecordKind(kind)
		ta.Op = protocol.ActionOp(op)
		out = append(out, ta)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Prune(before time.Time) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	defer tx.Rollback()

	n, err := pruneTx(tx, before)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection (for testing or direct access).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// --- helpers ---

func pruneTx(tx *sql.Tx, before time.Time) (int64, error) {
	cutoff := formatTime(before)
	if _, err := tx.Exec(`DELETE FROM poll_actions WHERE poll_id IN (SELECT id FROM polls WHERE started_at < ?)`, cutoff); err != nil {
		return 0, fmt.Errorf("journal: prune actions: %w", err)
	}
	res, err := tx.Exec(`DELETE FROM polls WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("journal: prune polls: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (f Filter) where() (string, []any) {
	clause := " WHERE 1=1"
	var args []any
	if !f.Since.IsZero() {
		clause += " AND started_at >= ?"
		args = append(args, formatTime(f.Since))
	}
	if f.OnlyNotable {
		clause += " AND notable = 1"
	}
	return clause, args
}

func (s *SQLiteStore) loadActions(pollID string) ([]protocol.Action, error) {
	rows, err := s.db.Query(`SELECT ticket, kind, op, detail FROM poll_actions WHERE poll_id = ? ORDER BY seq`, pollID)
	if err != nil {
		return nil, fmt.Errorf("journal: load actions: %w", err)
	}
	defer rows.Close()

	actions := []protocol.Action{}
	for rows.Next() {
		var a protocol.Action
		var kind, op string
		if err := rows.Scan(&a.Ticket, &kind, &op, &a.Detail); err != nil {
			return nil, fmt.Errorf("journal: scan action: %w", err)
		}
		a.Kind = protocol.RecordKind(kind)
		a.Op = protocol.ActionOp(op)
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanPoll(s scannable) (*protocol.PollReport, error) {
	var r protocol.PollReport
	var startedAt, finishedAt string
	var wiped int

	if err := s.Scan(&r.ID, &startedAt, &finishedAt, &r.Tickets, &r.EmptyStreak, &wiped, &r.Aborted); err != nil {
		return nil, err
	}
	r.StartedAt = parseTime(startedAt)
	r.FinishedAt = parseTime(finishedAt)
	r.Wiped = wiped != 0
	return &r, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
