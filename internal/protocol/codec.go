package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Request is the raw wire frame: one JSON object per line. Args is a single
// string of whitespace-separated positional arguments; the decoder converts
// it into a typed Command and nothing downstream ever sees it again.
type Request struct {
	Kind string `json:"kind"`
	Args string `json:"args"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodeLine parses one request frame into a typed Command. On failure it
// returns the Error reply to write back; the frame never reaches the worker.
func DecodeLine(line []byte) (Command, *Reply) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		r := ErrorReply(CodeJSON, err.Error())
		return nil, &r
	}
	return DecodeRequest(req)
}

// DecodeRequest converts a parsed frame into a typed Command.
func DecodeRequest(req Request) (Command, *Reply) {
	kind, ok := ParseKind(req.Kind)
	if !ok {
		r := ErrorReply(CodeInvalid, fmt.Sprintf("unknown command kind %q", req.Kind))
		return nil, &r
	}

	cmd, err := buildCommand(kind, strings.Fields(req.Args))
	if err != nil {
		r := ErrorReply(CodeInvalid, err.Error())
		return nil, &r
	}
	if err := validate.Struct(cmd); err != nil {
		r := ErrorReply(CodeInvalid, fmt.Sprintf("%s: %s", kind, err))
		return nil, &r
	}
	return cmd, nil
}

// EncodeRequest renders a Command back into its wire frame. Decoding the
// result yields an equivalent Command for every kind.
func EncodeRequest(cmd Command) Request {
	return Request{Kind: string(cmd.Kind()), Args: cmd.args()}
}

// EncodeLine serializes a Command as one newline-terminated request frame.
func EncodeLine(cmd Command) ([]byte, error) {
	b, err := json.Marshal(EncodeRequest(cmd))
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func buildCommand(kind Kind, args []string) (Command, error) {
	switch kind {
	case KindRegister:
		if len(args) != 3 {
			return nil, fmt.Errorf("register expects <name> <password> <pubkey>, got %d args", len(args))
		}
		return Register{Name: args[0], Password: args[1], PublicKey: args[2]}, nil

	case KindWhoami:
		// A missing name degrades to a sentinel that deterministically
		// misses, so the worker answers with a Query Error instead of the
		// router rejecting the frame.
		if len(args) == 0 {
			return Whoami{Name: UnknownUser}, nil
		}
		return Whoami{Name: args[0]}, nil

	case KindRename:
		if len(args) != 3 {
			return nil, fmt.Errorf("rename expects <old> <new> <password>, got %d args", len(args))
		}
		return Rename{Old: args[0], New: args[1], Password: args[2]}, nil

	case KindSend:
		if len(args) < 3 {
			return nil, fmt.Errorf("send expects <source> <destination> <amount> [message], got %d args", len(args))
		}
		amount, err := decimal.NewFromString(args[2])
		if err != nil {
			return nil, fmt.Errorf("amount %q is not a decimal", args[2])
		}
		return Send{
			Source:      args[0],
			Destination: args[1],
			Amount:      amount,
			Message:     strings.Join(args[3:], " "),
		}, nil

	case KindSign:
		if len(args) != 3 {
			return nil, fmt.Errorf("sign expects <name> <password> <entry-id>, got %d args", len(args))
		}
		id, err := parseEntryID(args[2])
		if err != nil {
			return nil, err
		}
		return Sign{Name: args[0], Password: args[1], EntryID: id}, nil

	case KindBalance:
		if len(args) != 1 {
			return nil, fmt.Errorf("balance expects <name>, got %d args", len(args))
		}
		return Balance{Name: args[0]}, nil

	case KindVerify:
		if len(args) != 1 {
			return nil, fmt.Errorf("verify expects <entry-id>, got %d args", len(args))
		}
		id, err := parseEntryID(args[0])
		if err != nil {
			return nil, err
		}
		return Verify{EntryID: id}, nil

	case KindContest:
		if len(args) < 2 {
			return nil, fmt.Errorf("contest expects <entry-id> <reason>, got %d args", len(args))
		}
		id, err := parseEntryID(args[0])
		if err != nil {
			return nil, err
		}
		return Contest{EntryID: id, Reason: strings.Join(args[1:], " ")}, nil

	case KindSecond:
		if len(args) != 2 {
			return nil, fmt.Errorf("second expects <entry-id> <name>, got %d args", len(args))
		}
		id, err := parseEntryID(args[0])
		if err != nil {
			return nil, err
		}
		return Second{EntryID: id, Name: args[1]}, nil

	case KindResolve:
		if len(args) != 2 {
			return nil, fmt.Errorf("resolve expects <entry-id> <upheld|reversed>, got %d args", len(args))
		}
		id, err := parseEntryID(args[0])
		if err != nil {
			return nil, err
		}
		return Resolve{EntryID: id, Verdict: strings.ToLower(args[1])}, nil

	case KindAudit:
		if len(args) > 1 {
			return nil, fmt.Errorf("audit expects at most one <name>, got %d args", len(args))
		}
		var name string
		if len(args) == 1 {
			name = args[0]
		}
		return Audit{Name: name}, nil

	case KindQuery:
		if len(args) == 0 {
			return nil, fmt.Errorf("query expects a subject")
		}
		return Query{What: strings.Join(args, " ")}, nil

	case KindDisconnect:
		return Disconnect{}, nil
	}
	return nil, fmt.Errorf("unknown command kind %q", kind)
}
