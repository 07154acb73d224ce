// Package cursor persists scan cursors between requests. The scan core never
// persists anything itself; this store sits on the caller side of that
// boundary so HTTP clients can resume interrupted scans without keeping
// state of their own.
package cursor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Cursor is the minimal state needed to resume a scan for one account.
type Cursor struct {
	Account      string    `db:"account" json:"account"`
	Mailbox      string    `db:"mailbox" json:"mailbox"`
	LastUID      uint32    `db:"last_uid" json:"last_uid"`
	ScannedCount int       `db:"scanned_count" json:"scanned_count"`
	WithPdfCount int       `db:"with_pdf_count" json:"with_pdf_count"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS scan_cursors (
	account        TEXT PRIMARY KEY,
	mailbox        TEXT NOT NULL DEFAULT 'INBOX',
	last_uid       INTEGER NOT NULL DEFAULT 0,
	scanned_count  INTEGER NOT NULL DEFAULT 0,
	with_pdf_count INTEGER NOT NULL DEFAULT 0,
	updated_at     TIMESTAMP NOT NULL
)`

// Store is a SQLite-backed cursor store.
type Store struct {
	db *sqlx.DB
}

// Open opens (or creates) the cursor database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cursor db: %w", err)
	}
	// Enable WAL mode for concurrent readers.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying cursor schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Get returns the cursor for an account, or nil when none is stored.
func (s *Store) Get(ctx context.Context, account string) (*Cursor, error) {
	var c Cursor
	err := s.db.GetContext(ctx, &c,
		`SELECT account, mailbox, last_uid, scanned_count, with_pdf_count, updated_at
		 FROM scan_cursors WHERE account = ?`, account)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cursor for %s: %w", account, err)
	}
	return &c, nil
}

// Put inserts or replaces the cursor for an account.
func (s *Store) Put(ctx context.Context, c Cursor) error {
	if c.Mailbox == "" {
		c.Mailbox = "INBOX"
	}
	c.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scan_cursors (account, mailbox, last_uid, scanned_count, with_pdf_count, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(account) DO UPDATE SET
			mailbox = excluded.mailbox,
			last_uid = excluded.last_uid,
			scanned_count = excluded.scanned_count,
			with_pdf_count = excluded.with_pdf_count,
			updated_at = excluded.updated_at`,
		c.Account, c.Mailbox, c.LastUID, c.ScannedCount, c.WithPdfCount, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storing cursor for %s: %w", c.Account, err)
	}
	return nil
}

// Delete removes the cursor for an account.
func (s *Store) Delete(ctx context.Context, account string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scan_cursors WHERE account = ?`, account)
	if err != nil {
		return fmt.Errorf("deleting cursor for %s: %w", account, err)
	}
	return nil
}

// Stats exposes connection pool statistics for metrics collection.
func (s *Store) Stats() sql.DBStats {
	return s.db.Stats()
}

// Ping checks database liveness for health probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
