package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InitialGrant is credited to every account at registration time. It is not a
// stored field: balance derivation starts the fold from this value.
var InitialGrant = decimal.NewFromInt(1000)

// Account represents a ledger account.
//
// AccountID is the stable internal identity; ledger rows reference it so that
// a Rename never has to rewrite history. Name is the mutable display name.
// Balance is deliberately absent: it is always derived from the ledger.
type Account struct {
	AccountID    string    `db:"account_id"`
	Name         string    `db:"name"`
	PasswordHash string    `db:"password_hash"` // bcrypt; never logged or sent over the wire
	PublicKey    string    `db:"public_key"`
	CreatedAt    time.Time `db:"created_at"`
	LastLogin    time.Time `db:"last_login"`
}

// Message is one entry in an account's append-only inbox.
type Message struct {
	AccountID string `db:"account_id"`
	Seq       int64  `db:"seq"`
	Body      string `db:"body"`
}
