package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/tildecoin/rtcoin/internal/apperrors"
	"github.com/tildecoin/rtcoin/internal/ledger/store"
	"github.com/tildecoin/rtcoin/internal/models"
	"github.com/tildecoin/rtcoin/internal/protocol"
	"github.com/tildecoin/rtcoin/internal/utils"
)

// handle applies one command and produces exactly one reply. Store failures
// are logged and converted to Error replies; nothing may escape this method,
// because the drain loop has to survive any single command's failure.
func (w *Worker) handle(cmd protocol.Command) protocol.Reply {
	ctx := context.Background()
	switch c := cmd.(type) {
	case protocol.Register:
		return w.register(ctx, c)
	case protocol.Whoami:
		return w.whoami(ctx, c)
	case protocol.Rename:
		return w.rename(ctx, c)
	case protocol.Send:
		return w.send(ctx, c)
	case protocol.Sign:
		return w.sign(ctx, c)
	case protocol.Balance:
		return w.balance(ctx, c)
	case protocol.Verify:
		return w.verify(ctx, c)
	case protocol.Contest:
		return w.contest(ctx, c)
	case protocol.Second:
		return w.second(ctx, c)
	case protocol.Resolve:
		return w.resolve(ctx, c)
	case protocol.Audit:
		return w.audit(ctx, c)
	case protocol.Query:
		return w.query(ctx, c)
	}
	return protocol.ErrorReply(protocol.CodeInvalid,
		fmt.Sprintf("unhandled command kind %q", cmd.Kind()))
}

func (w *Worker) register(ctx context.Context, c protocol.Register) protocol.Reply {
	if len(c.Password) < utils.MinPasswordLength {
		return w.reject(apperrors.ErrWeakPassword)
	}

	pw := []byte(c.Password)
	defer utils.Scrub(pw)
	hash, err := utils.HashPassword(pw)
	if err != nil {
		return w.failure(err, "hash password")
	}

	now := w.now()
	acct := models.Account{
		AccountID:    uuid.NewString(),
		Name:         c.Name,
		PasswordHash: hash,
		PublicKey:    c.PublicKey,
		CreatedAt:    now,
		LastLogin:    now,
	}
	if err := w.store.CreateAccount(ctx, acct); err != nil {
		if errors.Is(err, apperrors.ErrDuplicate) {
			return protocol.ErrorReply(protocol.CodeQuery, "duplicate account")
		}
		return w.failure(err, "create account")
	}
	w.logger.Info("account registered", slog.String("name", c.Name))
	return protocol.InfoReply("Registration Successful")
}

func (w *Worker) whoami(ctx context.Context, c protocol.Whoami) protocol.Reply {
	acct, err := w.store.AccountByName(ctx, c.Name)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return protocol.ErrorReply(protocol.CodeQuery,
				fmt.Sprintf("no such account %q", c.Name))
		}
		return w.failure(err, "whoami lookup")
	}
	return protocol.DataReply(acct.PublicKey)
}

func (w *Worker) rename(ctx context.Context, c protocol.Rename) protocol.Reply {
	acct, reply := w.auth(ctx, c.Old, c.Password)
	if reply != nil {
		return *reply
	}
	if err := w.store.RenameAccount(ctx, acct.AccountID, c.New); err != nil {
		if errors.Is(err, apperrors.ErrDuplicate) {
			return protocol.ErrorReply(protocol.CodeQuery, "duplicate account")
		}
		return w.failure(err, "rename account")
	}
	w.logger.Info("account renamed",
		slog.String("old", c.Old), slog.String("new", c.New))
	return protocol.InfoReply("Rename Successful")
}

func (w *Worker) send(ctx context.Context, c protocol.Send) protocol.Reply {
	if !c.Amount.IsPositive() {
		return w.reject(fmt.Errorf("%w: amount must be positive", apperrors.ErrValidation))
	}
	src, err := w.store.AccountByName(ctx, c.Source)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return protocol.ErrorReply(protocol.CodeQuery,
				fmt.Sprintf("no such account %q", c.Source))
		}
		return w.failure(err, "send source lookup")
	}
	dst, err := w.store.AccountByName(ctx, c.Destination)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return protocol.ErrorReply(protocol.CodeQuery,
				fmt.Sprintf("no such account %q", c.Destination))
		}
		return w.failure(err, "send destination lookup")
	}

	balance, err := w.store.DeriveBalance(ctx, src.AccountID)
	if err != nil {
		return w.failure(err, "derive source balance")
	}
	if balance.LessThan(c.Amount) {
		return w.reject(apperrors.ErrInsufficientFunds)
	}

	entry := models.LedgerEntry{
		TransactionType: models.TypeSend,
		Timestamp:       w.now(),
		SourceID:        src.AccountID,
		DestinationID:   dst.AccountID,
		Source:          src.Name,
		Destination:     dst.Name,
		Amount:          c.Amount,
		ReceiptID:       uuid.NewString(),
		Status:          models.StatusPending,
	}
	id, err := w.store.AppendTransfer(ctx, &entry, c.Message)
	if err != nil {
		return w.failure(err, "append transfer")
	}
	w.logger.Info("transfer appended",
		slog.Int64("entry", id),
		slog.String("source", src.Name),
		slog.String("destination", dst.Name),
		slog.String("amount", c.Amount.String()))
	return protocol.InfoReply(fmt.Sprintf("Transfer accepted: entry %d receipt %s", id, entry.ReceiptID))
}

func (w *Worker) sign(ctx context.Context, c protocol.Sign) protocol.Reply {
	acct, reply := w.auth(ctx, c.Name, c.Password)
	if reply != nil {
		return *reply
	}
	entry, err := w.store.EntryByID(ctx, c.EntryID)
	if err != nil {
		return w.entryFailure(err, c.EntryID)
	}
	if entry.SourceID != acct.AccountID {
		return protocol.ErrorReply(protocol.CodeQuery, "only the entry's source may sign it")
	}
	if entry.Status != models.StatusPending {
		return w.reject(fmt.Errorf("%w: entry %d is %s, not pending",
			apperrors.ErrDisputeState, c.EntryID, entry.Status))
	}
	if err := w.store.SetDispute(ctx, c.EntryID, models.StatusSigned, "", ""); err != nil {
		return w.failure(err, "sign entry")
	}
	return protocol.InfoReply(fmt.Sprintf("Entry %d signed", c.EntryID))
}

func (w *Worker) balance(ctx context.Context, c protocol.Balance) protocol.Reply {
	acct, err := w.store.AccountByName(ctx, c.Name)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return protocol.ErrorReply(protocol.CodeQuery,
				fmt.Sprintf("no such account %q", c.Name))
		}
		return w.failure(err, "balance lookup")
	}
	balance, err := w.store.DeriveBalance(ctx, acct.AccountID)
	if err != nil {
		return w.failure(err, "derive balance")
	}
	return protocol.BalanceReply(balance)
}

func (w *Worker) verify(ctx context.Context, c protocol.Verify) protocol.Reply {
	hash, err := w.store.VerifyChain(ctx, c.EntryID)
	if err != nil {
		var violation *store.ChainViolation
		if errors.As(err, &violation) {
			return protocol.ErrorReply(protocol.CodeQuery, violation.Error())
		}
		return w.entryFailure(err, c.EntryID)
	}
	return protocol.DataReply("OK " + hash)
}

func (w *Worker) contest(ctx context.Context, c protocol.Contest) protocol.Reply {
	entry, err := w.store.EntryByID(ctx, c.EntryID)
	if err != nil {
		return w.entryFailure(err, c.EntryID)
	}
	if entry.Status != models.StatusPending && entry.Status != models.StatusSigned {
		return w.reject(fmt.Errorf("%w: entry %d is %s and cannot be contested",
			apperrors.ErrDisputeState, c.EntryID, entry.Status))
	}
	if err := w.store.SetDispute(ctx, c.EntryID, models.StatusContested, c.Reason, ""); err != nil {
		return w.failure(err, "contest entry")
	}
	w.logger.Info("entry contested",
		slog.Int64("entry", c.EntryID), slog.String("reason", c.Reason))
	return protocol.InfoReply(fmt.Sprintf("Entry %d contested", c.EntryID))
}

func (w *Worker) second(ctx context.Context, c protocol.Second) protocol.Reply {
	entry, err := w.store.EntryByID(ctx, c.EntryID)
	if err != nil {
		return w.entryFailure(err, c.EntryID)
	}
	if entry.Status != models.StatusContested {
		return w.reject(fmt.Errorf("%w: entry %d is not under contest",
			apperrors.ErrDisputeState, c.EntryID))
	}
	acct, err := w.store.AccountByName(ctx, c.Name)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return protocol.ErrorReply(protocol.CodeQuery,
				fmt.Sprintf("no such account %q", c.Name))
		}
		return w.failure(err, "second lookup")
	}
	if acct.AccountID == entry.SourceID || acct.AccountID == entry.DestinationID {
		return protocol.ErrorReply(protocol.CodeQuery, "entry parties cannot second their own dispute")
	}
	if err := w.store.AddSecond(ctx, c.EntryID); err != nil {
		return w.failure(err, "second entry")
	}
	return protocol.InfoReply(fmt.Sprintf("Contest of entry %d seconded", c.EntryID))
}

func (w *Worker) resolve(ctx context.Context, c protocol.Resolve) protocol.Reply {
	entry, err := w.store.EntryByID(ctx, c.EntryID)
	if err != nil {
		return w.entryFailure(err, c.EntryID)
	}
	if entry.Status != models.StatusContested {
		return w.reject(fmt.Errorf("%w: entry %d is not under contest",
			apperrors.ErrDisputeState, c.EntryID))
	}

	verdict := models.Verdict(c.Verdict)
	var comp *models.LedgerEntry
	if verdict == models.VerdictReversed {
		// Reversal is a new compensating row, never an edit: the original
		// entry stays in the chain and the pair nets to zero.
		comp = &models.LedgerEntry{
			TransactionType: models.TypeReversal,
			Timestamp:       w.now(),
			SourceID:        entry.DestinationID,
			DestinationID:   entry.SourceID,
			Source:          entry.Destination,
			Destination:     entry.Source,
			Amount:          entry.Amount,
			ReceiptID:       uuid.NewString(),
			Status:          models.StatusSigned,
			Reverses:        entry.ID,
		}
	}
	compID, err := w.store.ResolveEntry(ctx, c.EntryID, verdict, comp)
	if err != nil {
		return w.failure(err, "resolve entry")
	}
	w.logger.Info("entry resolved",
		slog.Int64("entry", c.EntryID), slog.String("verdict", c.Verdict))
	if comp != nil {
		return protocol.InfoReply(fmt.Sprintf("Entry %d reversed by entry %d", c.EntryID, compID))
	}
	return protocol.InfoReply(fmt.Sprintf("Entry %d upheld", c.EntryID))
}

func (w *Worker) audit(ctx context.Context, c protocol.Audit) protocol.Reply {
	accountID := ""
	if c.Name != "" {
		acct, err := w.store.AccountByName(ctx, c.Name)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return protocol.ErrorReply(protocol.CodeQuery,
					fmt.Sprintf("no such account %q", c.Name))
			}
			return w.failure(err, "audit lookup")
		}
		accountID = acct.AccountID
	}

	cutoff := w.now().Add(-w.disputeWindow)
	reference := fmt.Sprintf("audit-%s", w.now().UTC().Format("2006-01-02"))
	ids, err := w.store.ArchiveClosed(ctx, cutoff, accountID, reference)
	if err != nil {
		return w.failure(err, "archive sweep")
	}
	rows := make([]string, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, strconv.FormatInt(id, 10))
	}
	w.logger.Info("audit sweep complete", slog.Int("archived", len(rows)))
	return protocol.RowsReply(rows)
}

// query answers internal diagnostic probes. Never reachable from a client
// connection; the router rejects the kind at the boundary.
func (w *Worker) query(ctx context.Context, c protocol.Query) protocol.Reply {
	switch c.What {
	case "accounts":
		n, err := w.store.CountAccounts(ctx)
		if err != nil {
			return w.failure(err, "count accounts")
		}
		return protocol.DataReply(strconv.FormatInt(n, 10))
	case "ledger":
		live, archived, err := w.store.Counts(ctx)
		if err != nil {
			return w.failure(err, "count ledger")
		}
		return protocol.RowsReply([]string{
			fmt.Sprintf("ledger %d", live),
			fmt.Sprintf("archive %d", archived),
		})
	case "chain":
		head, err := w.store.ChainHead(ctx)
		if err != nil {
			return w.failure(err, "chain head")
		}
		return protocol.DataReply(head)
	}
	return protocol.ErrorReply(protocol.CodeQuery,
		fmt.Sprintf("unknown query subject %q", c.What))
}

// auth verifies name+password and touches last_login. On failure the second
// return carries the reply to send; the store stays untouched.
func (w *Worker) auth(ctx context.Context, name, password string) (*models.Account, *protocol.Reply) {
	acct, err := w.store.AccountByName(ctx, name)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			r := protocol.ErrorReply(protocol.CodeQuery, fmt.Sprintf("no such account %q", name))
			return nil, &r
		}
		r := w.failure(err, "auth lookup")
		return nil, &r
	}

	pw := []byte(password)
	defer utils.Scrub(pw)
	if !utils.CheckPasswordHash(pw, acct.PasswordHash) {
		r := w.reject(apperrors.ErrAuth)
		return nil, &r
	}
	if err := w.store.TouchLastLogin(ctx, acct.AccountID, w.now()); err != nil {
		w.logger.Warn("failed to record login",
			slog.String("name", name), slog.String("error", err.Error()))
	}
	return acct, nil
}

// reject converts a business-rule failure into a Query Error reply carrying
// the error's message as the canonical detail string.
func (w *Worker) reject(err error) protocol.Reply {
	return protocol.ErrorReply(protocol.CodeQuery, err.Error())
}

// entryFailure maps entry-lookup errors onto replies.
func (w *Worker) entryFailure(err error, id int64) protocol.Reply {
	switch {
	case errors.Is(err, apperrors.ErrArchived):
		return protocol.ErrorReply(protocol.CodeQuery,
			fmt.Sprintf("entry %d is archived", id))
	case errors.Is(err, apperrors.ErrNotFound):
		return protocol.ErrorReply(protocol.CodeQuery,
			fmt.Sprintf("no such entry %d", id))
	}
	return w.failure(err, "entry lookup")
}

// failure logs a store-level error with context and converts it to a Worker
// Error reply. The caller remains blocked on its one-shot channel until a
// reply arrives, so no path may return without one.
func (w *Worker) failure(err error, op string) protocol.Reply {
	w.logger.Error("command failed",
		slog.String("op", op), slog.String("error", err.Error()))
	return protocol.ErrorReply(protocol.CodeWorker, err.Error())
}
