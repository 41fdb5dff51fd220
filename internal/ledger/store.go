package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Skryensya/logdr.io-sub000/internal/database"
)

// Document is a raw store record: a namespaced id, a revision managed by the
// store, and the JSON body. The body never contains revision metadata; _rev
// lives in the store only.
type Document struct {
	ID   string
	Rev  int64
	Body json.RawMessage
}

// Store is the document store backing one identity's ledger. All documents
// live in a single table keyed by namespaced id; secondary indexes and the
// monthly aggregate view tables are provisioned idempotently on open.
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

// NewStore wraps an open database handle as a document store.
func NewStore(db *database.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("component", "store").Str("store", db.Name()).Logger(),
	}
}

// storeSchema provisions the documents table, the secondary indexes used for
// line lookups, and the three monthly aggregate views. Everything is
// IF NOT EXISTS so repeated initialization tolerates "already exists".
var storeSchema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		id         TEXT PRIMARY KEY,
		rev        INTEGER NOT NULL,
		body       TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_line_txn
		ON documents (json_extract(body, '$.transactionId'))
		WHERE id LIKE 'line::%'`,
	`CREATE INDEX IF NOT EXISTS idx_line_account
		ON documents (json_extract(body, '$.accountId'))
		WHERE id LIKE 'line::%'`,
	`CREATE INDEX IF NOT EXISTS idx_line_month
		ON documents (json_extract(body, '$.yearMonth'))
		WHERE id LIKE 'line::%'`,
	`CREATE TABLE IF NOT EXISTS monthly_balance (
		year_month TEXT NOT NULL,
		account_id TEXT NOT NULL,
		currency   TEXT NOT NULL,
		total      INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (year_month, account_id, currency)
	)`,
	`CREATE TABLE IF NOT EXISTS monthly_category (
		year_month  TEXT NOT NULL,
		category_id TEXT NOT NULL,
		currency    TEXT NOT NULL,
		total       INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (year_month, category_id, currency)
	)`,
	`CREATE TABLE IF NOT EXISTS monthly_cashflow (
		year_month TEXT NOT NULL,
		currency   TEXT NOT NULL,
		direction  TEXT NOT NULL,
		total      INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (year_month, currency, direction)
	)`,
}

// Migrate applies the document-store schema. Safe to call repeatedly.
func (s *Store) Migrate() error {
	for _, stmt := range storeSchema {
		if _, err := s.db.Exec(stmt); err != nil {
			// IF NOT EXISTS covers the normal case; tolerate racing creators.
			if strings.Contains(err.Error(), "already exists") {
				continue
			}
			return fmt.Errorf("failed to provision store schema for %s: %w", s.db.Name(), err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *database.DB {
	return s.db
}

// Put inserts a new document with rev 1. Inserting an existing id is a
// conflict.
func (s *Store) Put(id string, body json.RawMessage) (int64, error) {
	return putIn(s.db.Conn(), id, body)
}

// Get fetches a document by id.
func (s *Store) Get(id string) (*Document, error) {
	var doc Document
	var body string
	err := s.db.QueryRow(
		"SELECT id, rev, body FROM documents WHERE id = ?", id,
	).Scan(&doc.ID, &doc.Rev, &body)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	doc.Body = json.RawMessage(body)
	return &doc, nil
}

// Update replaces a document body, guarded by the expected revision. A
// mismatch means a concurrent writer won; the caller re-fetches and retries.
func (s *Store) Update(id string, expectedRev int64, body json.RawMessage) (int64, error) {
	now := time.Now().Unix()
	res, err := s.db.Exec(
		"UPDATE documents SET body = ?, rev = rev + 1, updated_at = ? WHERE id = ? AND rev = ?",
		string(body), now, id, expectedRev,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update document %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read update result for %s: %w", id, err)
	}
	if affected == 0 {
		return 0, s.conflictOrMissing(id, expectedRev)
	}
	return expectedRev + 1, nil
}

// Delete removes a document, guarded by the expected revision.
func (s *Store) Delete(id string, expectedRev int64) error {
	res, err := s.db.Exec("DELETE FROM documents WHERE id = ? AND rev = ?", id, expectedRev)
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result for %s: %w", id, err)
	}
	if affected == 0 {
		return s.conflictOrMissing(id, expectedRev)
	}
	return nil
}

// conflictOrMissing distinguishes a revision mismatch from an absent id.
func (s *Store) conflictOrMissing(id string, expectedRev int64) error {
	var actual int64
	err := s.db.QueryRow("SELECT rev FROM documents WHERE id = ?", id).Scan(&actual)
	if err == sql.ErrNoRows {
		return &NotFoundError{ID: id}
	}
	if err != nil {
		return fmt.Errorf("failed to inspect document %s: %w", id, err)
	}
	return &ConflictError{ID: id, ExpectedRev: expectedRev, ActualRev: actual}
}

// ListByPrefix returns all documents in an id namespace, ordered by id
// ascending (creation order for UUIDv7 ids).
func (s *Store) ListByPrefix(prefix string) ([]Document, error) {
	rows, err := s.db.Query(
		"SELECT id, rev, body FROM documents WHERE id LIKE ? || '%' ORDER BY id ASC", prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents with prefix %s: %w", prefix, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		var body string
		if err := rows.Scan(&doc.ID, &doc.Rev, &body); err != nil {
			s.log.Warn().Err(err).Str("prefix", prefix).Msg("Failed to scan document row")
			continue
		}
		doc.Body = json.RawMessage(body)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents with prefix %s: %w", prefix, err)
	}
	return docs, nil
}

// CountByPrefix counts documents in an id namespace.
func (s *Store) CountByPrefix(prefix string) (int, error) {
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM documents WHERE id LIKE ? || '%'", prefix,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents with prefix %s: %w", prefix, err)
	}
	return n, nil
}

// WithTransaction runs fn inside one sql transaction; the atomic bulk-write
// primitive the transaction writer relies on.
func (s *Store) WithTransaction(fn func(tx *sql.Tx) error) error {
	return database.WithTransaction(s.db.Conn(), fn)
}

// execer covers both *sql.DB and *sql.Tx so puts can participate in the
// atomic bulk write.
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// putIn inserts a new document using the given executor.
func putIn(e execer, id string, body json.RawMessage) (int64, error) {
	now := time.Now().Unix()
	_, err := e.Exec(
		"INSERT INTO documents (id, rev, body, created_at, updated_at) VALUES (?, 1, ?, ?, ?)",
		id, string(body), now, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, &ConflictError{ID: id, ExpectedRev: 0, ActualRev: 1}
		}
		return 0, fmt.Errorf("failed to put document %s: %w", id, err)
	}
	return 1, nil
}
