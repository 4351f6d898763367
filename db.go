package main

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type TriageDispatch struct {
	ID           int64
	TicketID     string
	DispatchID   string
	ChannelID    string
	MessageTS    string
	DispatchedAt time.Time
}

type DigestPost struct {
	ID          int64
	Trigger     string // "morning", "evening", or "command"
	TicketCount int
	ChannelID   string
	PostedAt    time.Time
}

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS triage_dispatches (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		ticket_id     TEXT NOT NULL UNIQUE,
		dispatch_id   TEXT NOT NULL,
		channel_id    TEXT NOT NULL,
		message_ts    TEXT DEFAULT '',
		dispatched_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_td_dispatched_at ON triage_dispatches(dispatched_at);

	CREATE TABLE IF NOT EXISTS digest_posts (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		trigger_kind TEXT NOT NULL,
		ticket_count INTEGER NOT NULL,
		channel_id   TEXT DEFAULT '',
		posted_at    DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_dp_posted_at ON digest_posts(posted_at);
	`
	_, err = db.Exec(schema)
	if err != nil {
		return nil, err
	}

	return db, nil
}

// DispatchExists reports whether a ticket has already been sent to triage.
// Webhook redeliveries for a known ticket are acked but not re-dispatched.
func DispatchExists(db *sql.DB, ticketID string) (bool, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM triage_dispatches WHERE ticket_id = ?", ticketID).Scan(&count)
	return count > 0, err
}

func RecordDispatch(db *sql.DB, d TriageDispatch) error {
	_, err := db.Exec(
		`INSERT INTO triage_dispatches (ticket_id, dispatch_id, channel_id, message_ts)
		 VALUES (?, ?, ?, ?)`,
		d.TicketID, d.DispatchID, d.ChannelID, d.MessageTS,
	)
	return err
}

func RecordDigestPost(db *sql.DB, p DigestPost) error {
	_, err := db.Exec(
		`INSERT INTO digest_posts (trigger_kind, ticket_count, channel_id)
		 VALUES (?, ?, ?)`,
		p.Trigger, p.TicketCount, p.ChannelID,
	)
	return err
}

// LastDigestPost returns the most recent digest run, or nil when none has
// been recorded yet.
func LastDigestPost(db *sql.DB) (*DigestPost, error) {
	row := db.QueryRow(
		`SELECT id, trigger_kind, ticket_count, channel_id, posted_at
		 FROM digest_posts ORDER BY posted_at DESC, id DESC LIMIT 1`)

	var p DigestPost
	err := row.Scan(&p.ID, &p.Trigger, &p.TicketCount, &p.ChannelID, &p.PostedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
