// Package store owns the encrypted embedded ledger database: opening and
// keying it, schema creation, and all row access. The handle is held
// exclusively by the ledger worker; nothing here is safe for concurrent use
// and nothing needs to be.
package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	sqlite3 "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/tildecoin/rtcoin/internal/apperrors"
	"github.com/tildecoin/rtcoin/internal/utils"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps the SQLCipher-encrypted SQLite handle.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the encrypted database at path, keyed from
// passphrase. The passphrase bytes are scrubbed before Open returns, on
// every path.
//
// Opening an already-initialized file with the wrong key surfaces as
// apperrors.ErrWrongPassphrase: the key is probed against sqlite_master
// before anything else runs, so a bad key can never masquerade as a fresh
// empty store.
func Open(path string, passphrase []byte, logger *slog.Logger) (*Store, error) {
	defer utils.Scrub(passphrase)

	dsn := fmt.Sprintf("file:%s?_pragma_key=%s&_pragma_cipher_page_size=4096",
		path, url.QueryEscape(string(passphrase)))

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	// The worker is the only writer and the only reader. A single
	// connection also keeps the keying pragma bound to every statement.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Key check. With the wrong key the file does not decrypt to a SQLite
	// database at all, which SQLCipher reports as SQLITE_NOTADB.
	var n int
	if err := db.QueryRow("SELECT count(*) FROM sqlite_master").Scan(&n); err != nil {
		db.Close()
		var serr sqlite3.Error
		if errors.As(err, &serr) && serr.Code == sqlite3.ErrNotADB {
			return nil, apperrors.ErrWrongPassphrase
		}
		return nil, fmt.Errorf("failed to probe ledger database: %w", err)
	}

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

// EnsureSchema idempotently creates the ledger tables. Safe to run on every
// startup; a second run against the same store is a no-op.
func (s *Store) EnsureSchema() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to apply ledger schema: %w", err)
	}
	return nil
}

// Close flushes and closes the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
