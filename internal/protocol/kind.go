package protocol

import "strings"

// Kind identifies a command. The wire value is matched case-insensitively.
type Kind string

const (
	KindRegister Kind = "register"
	KindWhoami   Kind = "whoami"
	KindRename   Kind = "rename"
	KindSend     Kind = "send"
	KindSign     Kind = "sign"
	KindBalance  Kind = "balance"
	KindVerify   Kind = "verify"
	KindContest  Kind = "contest"
	KindAudit    Kind = "audit"
	KindResolve  Kind = "resolve"
	KindSecond   Kind = "second"

	// Internal kinds. The router refuses these from client connections; they
	// exist for diagnostics (Query) and cooperative shutdown (Disconnect).
	KindQuery      Kind = "query"
	KindDisconnect Kind = "disconnect"
)

// ParseKind maps a wire string onto the closed kind set.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindRegister, KindWhoami, KindRename, KindSend, KindSign,
		KindBalance, KindVerify, KindContest, KindAudit, KindResolve,
		KindSecond, KindQuery, KindDisconnect:
		return k, true
	}
	return "", false
}

// Internal reports whether the kind is reserved for in-process use and must
// never be accepted from a client connection.
func (k Kind) Internal() bool {
	return k == KindQuery || k == KindDisconnect
}
