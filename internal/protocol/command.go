package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// UnknownUser is substituted when a Whoami arrives with no argument. It
// contains a space, which no registered name can, so the lookup misses
// deterministically and degrades to a Query Error instead of panicking.
const UnknownUser = "UNKNOWN USER"

// Command is the closed set of typed requests the ledger worker accepts. The
// wire decoder's only job is to validate loose frames into this set; untyped
// argument bags never travel deeper into the system.
type Command interface {
	Kind() Kind
	// args renders the command back into its positional wire form.
	args() string
}

// Register creates an account.
type Register struct {
	Name      string `validate:"required"`
	Password  string `validate:"required"`
	PublicKey string `validate:"required"`
}

// Whoami looks up an account's public key.
type Whoami struct {
	Name string `validate:"required"`
}

// Rename changes an account's display name. Historical ledger rows keep the
// old name; balance joins use the stable account id.
type Rename struct {
	Old      string `validate:"required"`
	New      string `validate:"required"`
	Password string `validate:"required"`
}

// Send transfers an amount between two accounts, optionally delivering a
// message to the destination's inbox.
type Send struct {
	Source      string `validate:"required"`
	Destination string `validate:"required"`
	Amount      decimal.Decimal
	Message     string
}

// Sign is the source's acknowledgement of a pending entry.
type Sign struct {
	Name     string `validate:"required"`
	Password string `validate:"required"`
	EntryID  int64  `validate:"gt=0"`
}

// Balance asks for an account's derived balance.
type Balance struct {
	Name string `validate:"required"`
}

// Verify recomputes the hash chain through an entry.
type Verify struct {
	EntryID int64 `validate:"gt=0"`
}

// Contest opens a dispute on an entry.
type Contest struct {
	EntryID int64  `validate:"gt=0"`
	Reason  string `validate:"required"`
}

// Second endorses an open contest.
type Second struct {
	EntryID int64  `validate:"gt=0"`
	Name    string `validate:"required"`
}

// Resolve closes a contest with a verdict.
type Resolve struct {
	EntryID int64  `validate:"gt=0"`
	Verdict string `validate:"required,oneof=upheld reversed"`
}

// Audit archives entries whose dispute window has closed, optionally only
// those touching one account.
type Audit struct {
	Name string
}

// Query is an internal diagnostic probe.
type Query struct {
	What string `validate:"required"`
}

// Disconnect is the terminal shutdown signal for the ledger worker.
type Disconnect struct{}

func (Register) Kind() Kind   { return KindRegister }
func (Whoami) Kind() Kind     { return KindWhoami }
func (Rename) Kind() Kind     { return KindRename }
func (Send) Kind() Kind       { return KindSend }
func (Sign) Kind() Kind       { return KindSign }
func (Balance) Kind() Kind    { return KindBalance }
func (Verify) Kind() Kind     { return KindVerify }
func (Contest) Kind() Kind    { return KindContest }
func (Second) Kind() Kind     { return KindSecond }
func (Resolve) Kind() Kind    { return KindResolve }
func (Audit) Kind() Kind      { return KindAudit }
func (Query) Kind() Kind      { return KindQuery }
func (Disconnect) Kind() Kind { return KindDisconnect }

func (c Register) args() string { return join(c.Name, c.Password, c.PublicKey) }
func (c Whoami) args() string   { return c.Name }
func (c Rename) args() string   { return join(c.Old, c.New, c.Password) }
func (c Send) args() string {
	s := join(c.Source, c.Destination, c.Amount.String())
	if c.Message != "" {
		s = join(s, c.Message)
	}
	return s
}
func (c Sign) args() string    { return join(c.Name, c.Password, strconv.FormatInt(c.EntryID, 10)) }
func (c Balance) args() string { return c.Name }
func (c Verify) args() string  { return strconv.FormatInt(c.EntryID, 10) }
func (c Contest) args() string { return join(strconv.FormatInt(c.EntryID, 10), c.Reason) }
func (c Second) args() string  { return join(strconv.FormatInt(c.EntryID, 10), c.Name) }
func (c Resolve) args() string { return join(strconv.FormatInt(c.EntryID, 10), c.Verdict) }
func (c Audit) args() string   { return c.Name }
func (c Query) args() string   { return c.What }
func (Disconnect) args() string { return "" }

func join(parts ...string) string {
	return strings.Join(parts, " ")
}

// parseEntryID converts a positional entry-id argument.
func parseEntryID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("entry id %q is not numeric", s)
	}
	return id, nil
}
