package idem

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rogersnm/griddle/internal/fault"
)

const schemaSQL = `CREATE TABLE IF NOT EXISTS idempotency (
    token TEXT PRIMARY KEY,
    payload_hash TEXT NOT NULL,
    entry_id TEXT NOT NULL DEFAULT '',
    revision TEXT NOT NULL DEFAULT '',
    err_code TEXT NOT NULL DEFAULT '',
    err_msg TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    expires_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_idempotency_expires ON idempotency(expires_at);`

// Fixed-width UTC layout so timestamp strings compare correctly inside SQL.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Record is one durable idempotency entry: pending (no outcome yet), a
// recorded success (entry id + revision), or a recorded terminal error.
type Record struct {
	Token       string
	PayloadHash string
	EntryID     string
	Revision    string
	ErrCode     string
	ErrMsg      string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// RecordStore keeps idempotency records in a SQLite database separate from
// the document tree, so retry-safety survives process restarts without the
// records ever appearing in the revision history.
type RecordStore struct {
	db *sql.DB
}

func OpenRecordStore(path string) (*RecordStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fault.Wrap(fault.StorageIO, err, "opening idempotency store %s", path)
	}
	// One writer at a time keeps modernc/sqlite happy under concurrency.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fault.Wrap(fault.StorageIO, err, "initializing idempotency schema")
	}
	s := &RecordStore{db: db}
	if _, err := s.Purge(time.Now()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *RecordStore) Close() error {
	return s.db.Close()
}

// Get returns the live record for token, or nil when the token is unseen.
// An expired record is deleted on sight and reported as unseen.
func (s *RecordStore) Get(token string, now time.Time) (*Record, error) {
	row := s.db.QueryRow(
		`SELECT token, payload_hash, entry_id, revision, err_code, err_msg, created_at, expires_at
		 FROM idempotency WHERE token = ?`, token)

	var rec Record
	var createdAt, expiresAt string
	err := row.Scan(&rec.Token, &rec.PayloadHash, &rec.EntryID, &rec.Revision,
		&rec.ErrCode, &rec.ErrMsg, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fault.Wrap(fault.StorageIO, err, "reading idempotency record")
	}
	if rec.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fault.Wrap(fault.StorageIO, err, "corrupt idempotency record %q", token)
	}
	if rec.ExpiresAt, err = time.Parse(timeLayout, expiresAt); err != nil {
		return nil, fault.Wrap(fault.StorageIO, err, "corrupt idempotency record %q", token)
	}
	if !rec.ExpiresAt.After(now) {
		if _, err := s.db.Exec(`DELETE FROM idempotency WHERE token = ?`, token); err != nil {
			return nil, fault.Wrap(fault.StorageIO, err, "deleting expired idempotency record")
		}
		return nil, nil
	}
	return &rec, nil
}

func (s *RecordStore) Put(rec Record) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO idempotency
		 (token, payload_hash, entry_id, revision, err_code, err_msg, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Token, rec.PayloadHash, rec.EntryID, rec.Revision,
		rec.ErrCode, rec.ErrMsg,
		rec.CreatedAt.UTC().Format(timeLayout),
		rec.ExpiresAt.UTC().Format(timeLayout))
	if err != nil {
		return fault.Wrap(fault.StorageIO, err, "writing idempotency record")
	}
	return nil
}

// Delete removes the record for token, if any.
func (s *RecordStore) Delete(token string) error {
	if _, err := s.db.Exec(`DELETE FROM idempotency WHERE token = ?`, token); err != nil {
		return fault.Wrap(fault.StorageIO, err, "deleting idempotency record")
	}
	return nil
}

// Purge drops every record that expired at or before now.
func (s *RecordStore) Purge(now time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM idempotency WHERE expires_at <= ?`,
		now.UTC().Format(timeLayout))
	if err != nil {
		return 0, fault.Wrap(fault.StorageIO, err, "purging idempotency records")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge row count: %w", err)
	}
	return n, nil
}
