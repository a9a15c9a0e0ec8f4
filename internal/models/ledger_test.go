package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func chainFixture() LedgerEntry {
	return LedgerEntry{
		TransactionType: TypeSend,
		Timestamp:       time.Date(2025, 6, 1, 12, 0, 0, 123456789, time.UTC),
		SourceID:        "src-id",
		DestinationID:   "dst-id",
		Source:          "bob",
		Destination:     "alice",
		Amount:          decimal.RequireFromString("250.50"),
		ReceiptID:       "receipt-1",
	}
}

func TestChainHash_Deterministic(t *testing.T) {
	a, b := chainFixture(), chainFixture()
	assert.Equal(t, a.ChainHash("prev"), b.ChainHash("prev"))
	assert.NotEqual(t, a.ChainHash("prev"), a.ChainHash("other"))
}

func TestChainHash_SensitiveToEveryBoundField(t *testing.T) {
	base := chainFixture()
	baseHash := base.ChainHash("prev")

	mutations := map[string]func(*LedgerEntry){
		"type":        func(e *LedgerEntry) { e.TransactionType = TypeReversal },
		"timestamp":   func(e *LedgerEntry) { e.Timestamp = e.Timestamp.Add(time.Nanosecond) },
		"source id":   func(e *LedgerEntry) { e.SourceID = "x" },
		"dest id":     func(e *LedgerEntry) { e.DestinationID = "x" },
		"source":      func(e *LedgerEntry) { e.Source = "mallory" },
		"destination": func(e *LedgerEntry) { e.Destination = "mallory" },
		"amount":      func(e *LedgerEntry) { e.Amount = decimal.RequireFromString("999") },
		"receipt":     func(e *LedgerEntry) { e.ReceiptID = "receipt-2" },
	}
	for name, mutate := range mutations {
		e := chainFixture()
		mutate(&e)
		assert.NotEqual(t, baseHash, e.ChainHash("prev"), "mutating %s did not change the digest", name)
	}
}

func TestChainHash_IgnoresDisputeState(t *testing.T) {
	// The chain binds economic history only; dispute columns move after the
	// fact without invalidating the chain.
	a := chainFixture()
	b := chainFixture()
	b.Status = StatusContested
	b.DisputeReason = "fraud"
	b.Seconds = 3
	b.Reverses = 9
	assert.Equal(t, a.ChainHash("prev"), b.ChainHash("prev"))
}
