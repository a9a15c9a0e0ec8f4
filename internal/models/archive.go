package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ArchiveState is the terminal disposition of an archived entry.
type ArchiveState string

const (
	ArchiveSettled         ArchiveState = "settled"
	ArchiveReversed        ArchiveState = "reversed"
	ArchiveDisputeResolved ArchiveState = "dispute-resolved"
)

// ArchiveEntry is the one-way terminal record for a ledger entry whose
// dispute window has closed. ID is the original ledger id; an id is archived
// at most once. Settled and dispute-resolved rows still participate in
// balance derivation, so the economic fields ride along; reversed rows are
// archived in compensating pairs and excluded.
type ArchiveEntry struct {
	ID              int64           `db:"id"`
	TransactionType TransactionType `db:"transaction_type"`
	Timestamp       time.Time       `db:"timestamp"`
	State           ArchiveState    `db:"state"`
	MerkleHash      string          `db:"merkle_hash"` // chain digest at time of archival
	Hash            string          `db:"hash"`        // the entry's own chain digest
	Reference       string          `db:"reference"`
	SourceID        string          `db:"source_id"`
	DestinationID   string          `db:"destination_id"`
	Amount          decimal.Decimal `db:"amount"`
}
