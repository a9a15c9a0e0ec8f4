package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	// TypeSend is an ordinary transfer between two accounts.
	TypeSend TransactionType = "send"
	// TypeReversal compensates a reversed entry. Corrections are always new
	// rows; ledger rows are never edited in place.
	TypeReversal TransactionType = "reversal"
)

// DisputeStatus tracks an entry through its contest lifecycle before archival.
type DisputeStatus string

const (
	StatusPending   DisputeStatus = "pending"
	StatusSigned    DisputeStatus = "signed"
	StatusContested DisputeStatus = "contested"
	StatusResolved  DisputeStatus = "resolved"
)

// Verdict is the outcome of a resolved dispute.
type Verdict string

const (
	VerdictUpheld   Verdict = "upheld"
	VerdictReversed Verdict = "reversed"
)

// LedgerEntry is one append-only row of the transaction log, the sole source
// of truth for balances. Source/Destination are display-name snapshots taken
// at entry time and never rewritten; balance joins use the stable ids.
type LedgerEntry struct {
	ID              int64           `db:"id"`
	TransactionType TransactionType `db:"transaction_type"`
	Timestamp       time.Time       `db:"timestamp"`
	SourceID        string          `db:"source_id"`
	DestinationID   string          `db:"destination_id"`
	Source          string          `db:"source"`
	Destination     string          `db:"destination"`
	Amount          decimal.Decimal `db:"amount"`
	EntryHash       string          `db:"entry_hash"`
	ReceiptID       string          `db:"receipt_id"`
	ReceiptHash     string          `db:"receipt_hash"`
	Status          DisputeStatus   `db:"status"`
	DisputeReason   string          `db:"dispute_reason"`
	Seconds         int64           `db:"seconds"`
	Verdict         Verdict         `db:"verdict"`
	// Reverses is the id of the entry this row compensates, zero for
	// ordinary entries. A reversed entry and its compensation are archived
	// together so the pair always nets to zero in the fold.
	Reverses int64 `db:"reverses"`
}

// ChainHash computes the entry's chain digest from the previous entry's
// digest and this entry's immutable fields. Any retroactive edit to a
// historical row invalidates every digest after it.
func (e *LedgerEntry) ChainHash(prevHash string) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write([]byte(e.canonical()))
	return hex.EncodeToString(h.Sum(nil))
}

// canonical serializes the fields bound by the chain digest. Mutable dispute
// state is excluded: the chain protects economic history, not worker state.
func (e *LedgerEntry) canonical() string {
	return fmt.Sprintf("%s|%d|%s|%s|%s|%s|%s|%s",
		e.TransactionType,
		e.Timestamp.UTC().UnixNano(),
		e.SourceID,
		e.DestinationID,
		e.Source,
		e.Destination,
		e.Amount.String(),
		e.ReceiptID,
	)
}

// ReceiptDigest derives the receipt hash handed back to clients as proof of
// inclusion, binding the receipt id to the chain digest.
func (e *LedgerEntry) ReceiptDigest() string {
	h := sha256.Sum256([]byte(e.ReceiptID + "|" + e.EntryHash))
	return hex.EncodeToString(h[:])
}
