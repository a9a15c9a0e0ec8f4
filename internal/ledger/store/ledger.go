package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tildecoin/rtcoin/internal/apperrors"
	"github.com/tildecoin/rtcoin/internal/models"
)

// AppendTransfer appends one chained ledger entry and, when message is
// non-empty, the destination inbox row, in a single transaction. The entry's
// chain digest is computed inside the transaction so it is always bound to
// the true chain head. Returns the assigned entry id.
func (s *Store) AppendTransfer(ctx context.Context, e *models.LedgerEntry, message string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transfer transaction: %w", err)
	}
	defer tx.Rollback()

	id, err := insertEntry(ctx, tx, e)
	if err != nil {
		return 0, err
	}
	if message != "" {
		if err := appendMessage(ctx, tx, e.DestinationID, message); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transfer: %w", err)
	}
	return id, nil
}

// EntryByID fetches one live ledger entry.
func (s *Store) EntryByID(ctx context.Context, id int64) (*models.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, transaction_type, timestamp, source_id, destination_id,
		       source, destination, amount, entry_hash, receipt_id, receipt_hash,
		       status, dispute_reason, seconds, verdict, reverses
		FROM ledger WHERE id = ?`, id)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		// An archived id is reported distinctly: the entry existed but has
		// left the contestable window.
		var n int
		if aerr := s.db.QueryRowContext(ctx,
			`SELECT count(*) FROM archive WHERE id = ?`, id).Scan(&n); aerr == nil && n > 0 {
			return nil, fmt.Errorf("%w: entry %d", apperrors.ErrArchived, id)
		}
		return nil, fmt.Errorf("%w: entry %d", apperrors.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query entry %d: %w", id, err)
	}
	return e, nil
}

// SetDispute applies a dispute transition. Only the dispute columns move;
// economic fields stay immutable.
func (s *Store) SetDispute(ctx context.Context, id int64, status models.DisputeStatus, reason string, verdict models.Verdict) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ledger SET status = ?,
		       dispute_reason = CASE WHEN ? != '' THEN ? ELSE dispute_reason END,
		       verdict = CASE WHEN ? != '' THEN ? ELSE verdict END
		WHERE id = ?`,
		string(status), reason, reason, string(verdict), string(verdict), id)
	if err != nil {
		return fmt.Errorf("failed to update dispute state of entry %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: entry %d", apperrors.ErrNotFound, id)
	}
	return nil
}

// AddSecond increments an entry's endorsement count.
func (s *Store) AddSecond(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ledger SET seconds = seconds + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to second entry %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: entry %d", apperrors.ErrNotFound, id)
	}
	return nil
}

// ResolveEntry marks a contested entry resolved with the verdict and, for a
// reversed verdict, appends the compensating entry in the same transaction.
// Crash-safety: an entry can never be observed reversed-without-compensation.
func (s *Store) ResolveEntry(ctx context.Context, id int64, verdict models.Verdict, comp *models.LedgerEntry) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin resolve transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE ledger SET status = ?, verdict = ? WHERE id = ?`,
		string(models.StatusResolved), string(verdict), id)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve entry %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("%w: entry %d", apperrors.ErrNotFound, id)
	}

	var compID int64
	if comp != nil {
		if compID, err = insertEntry(ctx, tx, comp); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit resolve of entry %d: %w", id, err)
	}
	return compID, nil
}

// DeriveBalance folds the full history for one account: the initial grant,
// plus credits and minus debits over live ledger rows, plus the archive rows
// that still count. Settled and dispute-resolved archive rows count; reversed
// rows do not, and since a reversed entry and its compensation always retire
// together, archival never moves a balance. Deterministic because the single
// writer serializes every append against this fold.
func (s *Store) DeriveBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	balance := models.InitialGrant

	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, destination_id, amount FROM ledger
		WHERE source_id = ? OR destination_id = ?
		UNION ALL
		SELECT source_id, destination_id, amount FROM archive
		WHERE state IN (?, ?) AND (source_id = ? OR destination_id = ?)`,
		accountID, accountID,
		string(models.ArchiveSettled), string(models.ArchiveDisputeResolved),
		accountID, accountID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query balance rows for %s: %w", accountID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var srcID, dstID, amountStr string
		if err := rows.Scan(&srcID, &dstID, &amountStr); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan balance row: %w", err)
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return decimal.Zero, fmt.Errorf("corrupt amount %q in ledger: %w", amountStr, err)
		}
		if dstID == accountID {
			balance = balance.Add(amount)
		}
		if srcID == accountID {
			balance = balance.Sub(amount)
		}
	}
	return balance, rows.Err()
}

// ChainHead returns the digest of the newest entry across the live ledger
// and the archive, or "" when the chain is empty.
func (s *Store) ChainHead(ctx context.Context) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin chain-head read: %w", err)
	}
	defer tx.Rollback()
	return chainHead(ctx, tx)
}

// ChainViolation describes the first broken link found by VerifyChain.
type ChainViolation struct {
	EntryID  int64
	Stored   string
	Computed string
}

func (v *ChainViolation) Error() string {
	return fmt.Sprintf("chain violation at entry %d: stored %s, computed %s",
		v.EntryID, v.Stored, v.Computed)
}

// VerifyChain recomputes the hash chain from the start through entry id,
// returning the entry's digest when intact. Live rows are fully recomputed
// from their fields; archived rows anchor the chain with their stored hash.
func (s *Store) VerifyChain(ctx context.Context, throughID int64) (string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_type, timestamp, source_id, destination_id,
		       source, destination, amount, entry_hash, receipt_id, 0 AS archived
		FROM ledger WHERE id <= ?
		UNION ALL
		SELECT id, transaction_type, timestamp, source_id, destination_id,
		       '', '', amount, hash, '', 1 AS archived
		FROM archive WHERE id <= ?
		ORDER BY id`, throughID, throughID)
	if err != nil {
		return "", fmt.Errorf("failed to query chain rows: %w", err)
	}
	defer rows.Close()

	prev := ""
	seen := false
	for rows.Next() {
		var e models.LedgerEntry
		var ts, amountStr string
		var archived int
		if err := rows.Scan(&e.ID, &e.TransactionType, &ts, &e.SourceID, &e.DestinationID,
			&e.Source, &e.Destination, &amountStr, &e.EntryHash, &e.ReceiptID, &archived); err != nil {
			return "", fmt.Errorf("failed to scan chain row: %w", err)
		}
		if archived == 1 {
			// Cannot recompute an archived row's digest (its name snapshots
			// and receipt are gone); its stored hash anchors the chain.
			prev = e.EntryHash
			seen = e.ID == throughID || seen
			continue
		}
		if e.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return "", fmt.Errorf("corrupt timestamp on entry %d: %w", e.ID, err)
		}
		if e.Amount, err = decimal.NewFromString(amountStr); err != nil {
			return "", fmt.Errorf("corrupt amount on entry %d: %w", e.ID, err)
		}
		computed := e.ChainHash(prev)
		if computed != e.EntryHash {
			return "", &ChainViolation{EntryID: e.ID, Stored: e.EntryHash, Computed: computed}
		}
		prev = computed
		seen = e.ID == throughID || seen
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if !seen {
		return "", fmt.Errorf("%w: entry %d", apperrors.ErrNotFound, throughID)
	}
	return prev, nil
}

// ArchiveClosed moves closed entries into the archive: resolved entries, and
// signed entries older than the cutoff. When accountID is non-empty only
// that account's entries are considered. Aged-out signed entries archive as
// settled and upheld ones as dispute-resolved, both of which keep feeding
// the fold; a reversed entry retires together with its compensating entry,
// both as reversed and excluded, so no sweep ever changes a balance.
// Insert-then-delete runs in one transaction per sweep; the archive primary
// key makes a double archive impossible. Returns the archived ids.
func (s *Store) ArchiveClosed(ctx context.Context, cutoff time.Time, accountID, reference string) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	defer tx.Rollback()

	head, err := chainHead(ctx, tx)
	if err != nil {
		return nil, err
	}

	q := `
		SELECT id, transaction_type, timestamp, source_id, destination_id,
		       source, destination, amount, entry_hash, receipt_id, receipt_hash,
		       status, dispute_reason, seconds, verdict, reverses
		FROM ledger WHERE status IN (?, ?)`
	args := []any{string(models.StatusResolved), string(models.StatusSigned)}
	if accountID != "" {
		q += ` AND (source_id = ? OR destination_id = ?)`
		args = append(args, accountID, accountID)
	}
	q += ` ORDER BY id`

	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query archivable entries: %w", err)
	}
	var candidates []models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan archivable entry: %w", err)
		}
		candidates = append(candidates, *e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	var archived []int64
	for _, e := range candidates {
		if e.Reverses != 0 {
			continue // retires together with the entry it reverses
		}
		if e.Status == models.StatusSigned && !e.Timestamp.Before(cutoff) {
			continue // dispute window still open
		}
		state := models.ArchiveSettled
		if e.Status == models.StatusResolved {
			if e.Verdict == models.VerdictReversed {
				state = models.ArchiveReversed
			} else {
				state = models.ArchiveDisputeResolved
			}
		}
		if err := archiveEntry(ctx, tx, &e, state, head, reference); err != nil {
			return nil, err
		}
		archived = append(archived, e.ID)

		if state == models.ArchiveReversed {
			comp, err := compensationOf(ctx, tx, e.ID)
			if err != nil {
				return nil, err
			}
			if err := archiveEntry(ctx, tx, comp, models.ArchiveReversed, head, reference); err != nil {
				return nil, err
			}
			archived = append(archived, comp.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit archive sweep: %w", err)
	}
	return archived, nil
}

// Counts returns live ledger and archive row counts, for diagnostics.
func (s *Store) Counts(ctx context.Context) (ledger, archive int64, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT count(*) FROM ledger`).Scan(&ledger); err != nil {
		return 0, 0, fmt.Errorf("failed to count ledger rows: %w", err)
	}
	if err = s.db.QueryRowContext(ctx, `SELECT count(*) FROM archive`).Scan(&archive); err != nil {
		return 0, 0, fmt.Errorf("failed to count archive rows: %w", err)
	}
	return ledger, archive, nil
}

// archiveEntry moves one live row into the archive inside the caller's
// transaction.
func archiveEntry(ctx context.Context, tx *sql.Tx, e *models.LedgerEntry, state models.ArchiveState, head, reference string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO archive (id, transaction_type, timestamp, state, merkle_hash,
		                     hash, reference, source_id, destination_id, amount)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.TransactionType), e.Timestamp.UTC().Format(timeLayout),
		string(state), head, e.EntryHash, reference,
		e.SourceID, e.DestinationID, e.Amount.String())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: entry %d", apperrors.ErrArchived, e.ID)
		}
		return fmt.Errorf("failed to archive entry %d: %w", e.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM ledger WHERE id = ?`, e.ID); err != nil {
		return fmt.Errorf("failed to retire entry %d: %w", e.ID, err)
	}
	return nil
}

// compensationOf fetches the live entry that reverses id.
func compensationOf(ctx context.Context, tx *sql.Tx, id int64) (*models.LedgerEntry, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, transaction_type, timestamp, source_id, destination_id,
		       source, destination, amount, entry_hash, receipt_id, receipt_hash,
		       status, dispute_reason, seconds, verdict, reverses
		FROM ledger WHERE reverses = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entry %d has no compensating entry", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query compensation of entry %d: %w", id, err)
	}
	return e, nil
}

// insertEntry computes the chain digest against the current head and inserts
// the row, all inside the caller's transaction.
func insertEntry(ctx context.Context, tx *sql.Tx, e *models.LedgerEntry) (int64, error) {
	prev, err := chainHead(ctx, tx)
	if err != nil {
		return 0, err
	}
	e.EntryHash = e.ChainHash(prev)
	e.ReceiptHash = e.ReceiptDigest()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO ledger (transaction_type, timestamp, source_id, destination_id,
		                    source, destination, amount, entry_hash, receipt_id,
		                    receipt_hash, status, dispute_reason, seconds, verdict, reverses)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.TransactionType), e.Timestamp.UTC().Format(timeLayout),
		e.SourceID, e.DestinationID, e.Source, e.Destination,
		e.Amount.String(), e.EntryHash, e.ReceiptID, e.ReceiptHash,
		string(e.Status), e.DisputeReason, e.Seconds, string(e.Verdict), e.Reverses)
	if err != nil {
		return 0, fmt.Errorf("failed to append ledger entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read new entry id: %w", err)
	}
	e.ID = id
	return id, nil
}

func chainHead(ctx context.Context, tx *sql.Tx) (string, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT entry_hash FROM (
			SELECT id, entry_hash FROM ledger
			UNION ALL
			SELECT id, hash AS entry_hash FROM archive
		) ORDER BY id DESC LIMIT 1`)
	var head string
	err := row.Scan(&head)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read chain head: %w", err)
	}
	return head, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	var ts, amountStr string
	err := row.Scan(&e.ID, &e.TransactionType, &ts, &e.SourceID, &e.DestinationID,
		&e.Source, &e.Destination, &amountStr, &e.EntryHash, &e.ReceiptID,
		&e.ReceiptHash, &e.Status, &e.DisputeReason, &e.Seconds, &e.Verdict,
		&e.Reverses)
	if err != nil {
		return nil, err
	}
	if e.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
		return nil, fmt.Errorf("corrupt timestamp on entry %d: %w", e.ID, err)
	}
	if e.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return nil, fmt.Errorf("corrupt amount on entry %d: %w", e.ID, err)
	}
	return &e, nil
}
