package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tildecoin/rtcoin/internal/apperrors"
	"github.com/tildecoin/rtcoin/internal/models"
)

// timeLayout round-trips timestamps at full precision; the chain digest
// binds nanoseconds, so nothing may be lost in storage.
const timeLayout = time.RFC3339Nano

// CreateAccount inserts a new account row.
func (s *Store) CreateAccount(ctx context.Context, a models.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (account_id, name, password_hash, public_key, created_at, last_login)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.AccountID, a.Name, a.PasswordHash, a.PublicKey,
		a.CreatedAt.UTC().Format(timeLayout), a.LastLogin.UTC().Format(timeLayout),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: account %q", apperrors.ErrDuplicate, a.Name)
		}
		return fmt.Errorf("failed to insert account %q: %w", a.Name, err)
	}
	return nil
}

// AccountByName fetches an account by its current display name.
func (s *Store) AccountByName(ctx context.Context, name string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT account_id, name, password_hash, public_key, created_at, last_login
		FROM accounts WHERE name = ?`, name)

	var a models.Account
	var created, lastLogin string
	err := row.Scan(&a.AccountID, &a.Name, &a.PasswordHash, &a.PublicKey, &created, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %q", apperrors.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query account %q: %w", name, err)
	}
	if a.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, fmt.Errorf("corrupt created_at for account %q: %w", name, err)
	}
	if a.LastLogin, err = time.Parse(timeLayout, lastLogin); err != nil {
		return nil, fmt.Errorf("corrupt last_login for account %q: %w", name, err)
	}
	return &a, nil
}

// RenameAccount updates the display name only. Ledger rows keep their
// name snapshots; joins run on account_id.
func (s *Store) RenameAccount(ctx context.Context, accountID, newName string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET name = ? WHERE account_id = ?`, newName, accountID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: account %q", apperrors.ErrDuplicate, newName)
		}
		return fmt.Errorf("failed to rename account %s: %w", accountID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: account id %s", apperrors.ErrNotFound, accountID)
	}
	return nil
}

// TouchLastLogin records a successful authentication.
func (s *Store) TouchLastLogin(ctx context.Context, accountID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET last_login = ? WHERE account_id = ?`,
		at.UTC().Format(timeLayout), accountID)
	if err != nil {
		return fmt.Errorf("failed to touch last_login for %s: %w", accountID, err)
	}
	return nil
}

// Messages returns an account's inbox in append order.
func (s *Store) Messages(ctx context.Context, accountID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM messages WHERE account_id = ? ORDER BY seq`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages for %s: %w", accountID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, body)
	}
	return out, rows.Err()
}

// CountAccounts returns the number of registered accounts.
func (s *Store) CountAccounts(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count accounts: %w", err)
	}
	return n, nil
}

// appendMessage inserts one inbox row inside an existing transaction.
func appendMessage(ctx context.Context, tx *sql.Tx, accountID, body string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO messages (account_id, seq, body)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE account_id = ?), ?)`,
		accountID, accountID, body)
	if err != nil {
		return fmt.Errorf("failed to append message for %s: %w", accountID, err)
	}
	return nil
}
