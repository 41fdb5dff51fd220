// Package gate implements the secondary unlock factors layered on top of
// token identity: a PBKDF2-hashed secret, platform key credentials, and the
// in-memory session that remembers a successful unlock. Gate configuration
// lives in its own database, outside any identity's ledger store, so it
// survives a store destroy and never travels with an export.
package gate

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Skryensya/logdr.io-sub000/internal/database"
)

// ConfigStore persists gate configuration per identity.
type ConfigStore struct {
	db  *database.DB
	log zerolog.Logger
}

var gateSchema = []string{
	`CREATE TABLE IF NOT EXISTS gate_secrets (
		identity   TEXT PRIMARY KEY,
		hash       BLOB NOT NULL,
		salt       BLOB NOT NULL,
		iterations INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS platform_credentials (
		id             TEXT PRIMARY KEY,
		identity       TEXT NOT NULL,
		public_key_pem TEXT NOT NULL,
		created_at     INTEGER NOT NULL,
		last_used_at   INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_platform_identity
		ON platform_credentials (identity)`,
}

// NewConfigStore opens (or creates) the gate database under dataDir.
func NewConfigStore(dataDir string, log zerolog.Logger) (*ConfigStore, error) {
	db, err := database.New(database.Config{
		Path:    filepath.Join(dataDir, "auth.db"),
		Profile: database.ProfileStandard,
		Name:    "auth",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open gate database: %w", err)
	}

	s := &ConfigStore{
		db:  db,
		log: log.With().Str("component", "gate_store").Logger(),
	}
	for _, stmt := range gateSchema {
		if _, err := db.Exec(stmt); err != nil {
			if strings.Contains(err.Error(), "already exists") {
				continue
			}
			db.Close()
			return nil, fmt.Errorf("failed to provision gate schema: %w", err)
		}
	}
	return s, nil
}

// Close closes the gate database.
func (s *ConfigStore) Close() error {
	return s.db.Close()
}

func (s *ConfigStore) saveSecret(identity string, rec SecretRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO gate_secrets (identity, hash, salt, iterations, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (identity) DO UPDATE SET
			hash = excluded.hash,
			salt = excluded.salt,
			iterations = excluded.iterations,
			created_at = excluded.created_at`,
		identity, rec.Hash, rec.Salt, rec.Iterations, rec.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save gate secret: %w", err)
	}
	return nil
}

func (s *ConfigStore) loadSecret(identity string) (*SecretRecord, error) {
	var rec SecretRecord
	var createdAt int64
	err := s.db.QueryRow(
		"SELECT hash, salt, iterations, created_at FROM gate_secrets WHERE identity = ?",
		identity,
	).Scan(&rec.Hash, &rec.Salt, &rec.Iterations, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load gate secret: %w", err)
	}
	rec.CreatedAt = time.Unix(createdAt, 0)
	return &rec, nil
}

func (s *ConfigStore) deleteSecret(identity string) error {
	if _, err := s.db.Exec("DELETE FROM gate_secrets WHERE identity = ?", identity); err != nil {
		return fmt.Errorf("failed to remove gate secret: %w", err)
	}
	return nil
}

func (s *ConfigStore) saveCredential(identity string, cred Credential) error {
	_, err := s.db.Exec(
		`INSERT INTO platform_credentials (id, identity, public_key_pem, created_at)
		 VALUES (?, ?, ?, ?)`,
		cred.ID, identity, cred.PublicKeyPEM, cred.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save platform credential: %w", err)
	}
	return nil
}

func (s *ConfigStore) loadCredentials(identity string) ([]Credential, error) {
	rows, err := s.db.Query(
		`SELECT id, public_key_pem, created_at, last_used_at
		 FROM platform_credentials WHERE identity = ? ORDER BY created_at ASC`,
		identity,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load platform credentials: %w", err)
	}
	defer rows.Close()

	var creds []Credential
	for rows.Next() {
		var c Credential
		var createdAt int64
		var lastUsed sql.NullInt64
		if err := rows.Scan(&c.ID, &c.PublicKeyPEM, &createdAt, &lastUsed); err != nil {
			return nil, fmt.Errorf("failed to scan credential row: %w", err)
		}
		c.CreatedAt = time.Unix(createdAt, 0)
		if lastUsed.Valid {
			t := time.Unix(lastUsed.Int64, 0)
			c.LastUsedAt = &t
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

func (s *ConfigStore) touchCredential(id string, at time.Time) error {
	_, err := s.db.Exec(
		"UPDATE platform_credentials SET last_used_at = ? WHERE id = ?", at.Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to touch credential: %w", err)
	}
	return nil
}

func (s *ConfigStore) deleteCredential(identity, id string) (bool, error) {
	res, err := s.db.Exec(
		"DELETE FROM platform_credentials WHERE identity = ? AND id = ?", identity, id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to remove credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *ConfigStore) deleteCredentials(identity string) error {
	if _, err := s.db.Exec(
		"DELETE FROM platform_credentials WHERE identity = ?", identity,
	); err != nil {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	return nil
}
