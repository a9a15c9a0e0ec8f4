package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tildecoin/rtcoin/internal/apperrors"
	"github.com/tildecoin/rtcoin/internal/models"
)

func transferEntry(src, dst *models.Account, amount string, at time.Time) *models.LedgerEntry {
	return &models.LedgerEntry{
		TransactionType: models.TypeSend,
		Timestamp:       at,
		SourceID:        src.AccountID,
		DestinationID:   dst.AccountID,
		Source:          src.Name,
		Destination:     dst.Name,
		Amount:          decimal.RequireFromString(amount),
		ReceiptID:       uuid.NewString(),
		Status:          models.StatusPending,
	}
}

func seedAccounts(t *testing.T, s *Store, names ...string) map[string]*models.Account {
	t.Helper()
	ctx := context.Background()
	out := make(map[string]*models.Account, len(names))
	for _, name := range names {
		a := testAccount(name)
		require.NoError(t, s.CreateAccount(ctx, a))
		out[name] = &a
	}
	return out
}

func TestAppendTransfer_ChainsEntries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	accts := seedAccounts(t, s, "bob", "alice")
	at := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	e1 := transferEntry(accts["bob"], accts["alice"], "250", at)
	id1, err := s.AppendTransfer(ctx, e1, "hi")
	require.NoError(t, err)

	e2 := transferEntry(accts["alice"], accts["bob"], "10", at.Add(time.Minute))
	id2, err := s.AppendTransfer(ctx, e2, "")
	require.NoError(t, err)
	assert.Greater(t, id2, id1, "entry ids must be monotonic")

	// The second entry's digest is a function of the first's.
	got2, err := s.EntryByID(ctx, id2)
	require.NoError(t, err)
	assert.Equal(t, got2.ChainHash(e1.EntryHash), got2.EntryHash)
	assert.NotEmpty(t, got2.ReceiptHash)

	// The message landed in alice's inbox.
	inbox, err := s.Messages(ctx, accts["alice"].AccountID)
	require.NoError(t, err)
	assert.Equal(t, []string{"hi"}, inbox)
}

func TestDeriveBalance_Fold(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	accts := seedAccounts(t, s, "bob", "alice")
	at := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	_, err := s.AppendTransfer(ctx, transferEntry(accts["bob"], accts["alice"], "250", at), "")
	require.NoError(t, err)

	bob, err := s.DeriveBalance(ctx, accts["bob"].AccountID)
	require.NoError(t, err)
	alice, err := s.DeriveBalance(ctx, accts["alice"].AccountID)
	require.NoError(t, err)

	assert.True(t, bob.Equal(decimal.RequireFromString("750")), "bob has %s", bob)
	assert.True(t, alice.Equal(decimal.RequireFromString("1250")), "alice has %s", alice)
}

func TestVerifyChain_DetectsTampering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	accts := seedAccounts(t, s, "bob", "alice")
	at := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	id1, err := s.AppendTransfer(ctx, transferEntry(accts["bob"], accts["alice"], "100", at), "")
	require.NoError(t, err)
	id2, err := s.AppendTransfer(ctx, transferEntry(accts["bob"], accts["alice"], "50", at.Add(time.Minute)), "")
	require.NoError(t, err)

	// Intact chain verifies through the head.
	hash, err := s.VerifyChain(ctx, id2)
	require.NoError(t, err)
	got2, err := s.EntryByID(ctx, id2)
	require.NoError(t, err)
	assert.Equal(t, got2.EntryHash, hash)

	// Simulate a retroactive edit directly against the store. The tampered
	// entry's own digest no longer matches its fields.
	_, err = s.db.Exec(`UPDATE ledger SET amount = '999' WHERE id = ?`, id1)
	require.NoError(t, err)

	_, err = s.VerifyChain(ctx, id2)
	require.Error(t, err)
	var violation *ChainViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, id1, violation.EntryID)
}

func TestVerifyChain_MissingEntry(t *testing.T) {
	s := openTestStore(t)
	_, err := s.VerifyChain(context.Background(), 42)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestResolveEntry_ReversalCompensates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	accts := seedAccounts(t, s, "bob", "alice")
	at := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	orig := transferEntry(accts["bob"], accts["alice"], "300", at)
	id, err := s.AppendTransfer(ctx, orig, "")
	require.NoError(t, err)
	require.NoError(t, s.SetDispute(ctx, id, models.StatusContested, "fraud", ""))

	comp := transferEntry(accts["alice"], accts["bob"], "300", at.Add(time.Hour))
	comp.TransactionType = models.TypeReversal
	comp.Status = models.StatusSigned
	comp.Reverses = id
	compID, err := s.ResolveEntry(ctx, id, models.VerdictReversed, comp)
	require.NoError(t, err)
	assert.Greater(t, compID, id)

	// The pair nets to zero: both balances are back at the initial grant.
	bob, err := s.DeriveBalance(ctx, accts["bob"].AccountID)
	require.NoError(t, err)
	assert.True(t, bob.Equal(models.InitialGrant), "bob has %s", bob)

	got, err := s.EntryByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, got.Status)
	assert.Equal(t, models.VerdictReversed, got.Verdict)
}

func TestArchiveClosed_SweepAndOneWay(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	accts := seedAccounts(t, s, "bob", "alice")
	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	cutoff := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	// Old signed entry: archivable as settled.
	e1 := transferEntry(accts["bob"], accts["alice"], "100", old)
	e1.Status = models.StatusSigned
	id1, err := s.AppendTransfer(ctx, e1, "")
	require.NoError(t, err)

	// Recent signed entry: window still open, must survive the sweep.
	e2 := transferEntry(accts["bob"], accts["alice"], "25", recent)
	e2.Status = models.StatusSigned
	id2, err := s.AppendTransfer(ctx, e2, "")
	require.NoError(t, err)

	// Pending entry: never archivable.
	_, err = s.AppendTransfer(ctx, transferEntry(accts["bob"], accts["alice"], "5", recent), "")
	require.NoError(t, err)

	ids, err := s.ArchiveClosed(ctx, cutoff, "", "audit-test")
	require.NoError(t, err)
	assert.Equal(t, []int64{id1}, ids)

	// The archived entry has left the live table but keeps feeding the fold.
	_, err = s.EntryByID(ctx, id1)
	assert.ErrorIs(t, err, apperrors.ErrArchived)
	bob, err := s.DeriveBalance(ctx, accts["bob"].AccountID)
	require.NoError(t, err)
	assert.True(t, bob.Equal(decimal.RequireFromString("870")), "bob has %s", bob)

	// Archival is one-way: the id cannot be archived again even if a row
	// with the same id were somehow re-inserted.
	_, err = s.db.Exec(`
		INSERT INTO ledger (id, transaction_type, timestamp, source_id, destination_id,
		                    source, destination, amount, entry_hash, receipt_id,
		                    receipt_hash, status)
		VALUES (?, 'send', ?, ?, ?, 'bob', 'alice', '1', 'h', 'r', 'rh', 'resolved')`,
		id1, old.Format(timeLayout), accts["bob"].AccountID, accts["alice"].AccountID)
	require.NoError(t, err)
	_, err = s.ArchiveClosed(ctx, cutoff, "", "audit-test")
	assert.ErrorIs(t, err, apperrors.ErrArchived)

	// The recent entry is still live.
	_, err = s.EntryByID(ctx, id2)
	assert.NoError(t, err)
}

func TestArchiveClosed_PreservesBalances(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	accts := seedAccounts(t, s, "bob", "alice")
	at := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	// Upheld dispute: the transfer stood, so its archived form must keep
	// feeding the fold.
	upheld := transferEntry(accts["bob"], accts["alice"], "100", at)
	upheldID, err := s.AppendTransfer(ctx, upheld, "")
	require.NoError(t, err)
	require.NoError(t, s.SetDispute(ctx, upheldID, models.StatusContested, "odd", ""))
	_, err = s.ResolveEntry(ctx, upheldID, models.VerdictUpheld, nil)
	require.NoError(t, err)

	// Reversed dispute: original and compensation retire as a pair.
	rev := transferEntry(accts["bob"], accts["alice"], "300", at.Add(time.Minute))
	revID, err := s.AppendTransfer(ctx, rev, "")
	require.NoError(t, err)
	require.NoError(t, s.SetDispute(ctx, revID, models.StatusContested, "fraud", ""))
	comp := transferEntry(accts["alice"], accts["bob"], "300", at.Add(time.Hour))
	comp.TransactionType = models.TypeReversal
	comp.Status = models.StatusSigned
	comp.Reverses = revID
	compID, err := s.ResolveEntry(ctx, revID, models.VerdictReversed, comp)
	require.NoError(t, err)

	before, err := s.DeriveBalance(ctx, accts["bob"].AccountID)
	require.NoError(t, err)

	ids, err := s.ArchiveClosed(ctx, at.Add(48*time.Hour), "", "audit-test")
	require.NoError(t, err)
	assert.Equal(t, []int64{upheldID, revID, compID}, ids)

	after, err := s.DeriveBalance(ctx, accts["bob"].AccountID)
	require.NoError(t, err)
	assert.True(t, before.Equal(after), "balance moved across archival: %s -> %s", before, after)
	assert.True(t, after.Equal(decimal.RequireFromString("900")), "bob has %s", after)

	var state string
	require.NoError(t, s.db.QueryRow(`SELECT state FROM archive WHERE id = ?`, upheldID).Scan(&state))
	assert.Equal(t, string(models.ArchiveDisputeResolved), state)
	require.NoError(t, s.db.QueryRow(`SELECT state FROM archive WHERE id = ?`, compID).Scan(&state))
	assert.Equal(t, string(models.ArchiveReversed), state)

	live, archivedCount, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, live)
	assert.EqualValues(t, 3, archivedCount)
}

func TestChainHead_SpansArchive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	accts := seedAccounts(t, s, "bob", "alice")
	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	e1 := transferEntry(accts["bob"], accts["alice"], "100", old)
	e1.Status = models.StatusSigned
	_, err := s.AppendTransfer(ctx, e1, "")
	require.NoError(t, err)

	_, err = s.ArchiveClosed(ctx, old.Add(24*time.Hour), "", "audit-test")
	require.NoError(t, err)

	// The next append still chains from the archived entry's digest.
	e2 := transferEntry(accts["alice"], accts["bob"], "10", old.Add(48*time.Hour))
	id2, err := s.AppendTransfer(ctx, e2, "")
	require.NoError(t, err)

	got, err := s.EntryByID(ctx, id2)
	require.NoError(t, err)
	assert.Equal(t, got.ChainHash(e1.EntryHash), got.EntryHash)
}
