package protocol

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// ErrCode is a stable numeric error class for programmatic matching.
type ErrCode string

const (
	CodeWorker  ErrCode = "01" // worker unavailable or store failure
	CodeJSON    ErrCode = "02" // frame could not be parsed as JSON
	CodeInvalid ErrCode = "03" // unknown, malformed or internally-reserved request
	CodeQuery   ErrCode = "04" // lookup missed or query failed
	CodeChannel ErrCode = "05" // reply channel failure
)

// Class returns the human-readable error class for a code.
func (c ErrCode) Class() string {
	switch c {
	case CodeWorker:
		return "Worker Error"
	case CodeJSON:
		return "JSON Error"
	case CodeInvalid:
		return "Invalid Request"
	case CodeQuery:
		return "Query Error"
	case CodeChannel:
		return "Channel Send Error"
	}
	return "Unknown Error"
}

// ReplyTag discriminates reply payloads. Clients treat unrecognized tags as
// soft failures, so the set may grow.
type ReplyTag string

const (
	TagData    ReplyTag = "Data"
	TagRows    ReplyTag = "Rows"
	TagInfo    ReplyTag = "Info"
	TagBalance ReplyTag = "Balance"
	TagError   ReplyTag = "Error"
)

// Reply is one structured reply frame, serialized as a single JSON line.
// Balance rides in its own field so numeric results stay distinct from
// textual ones.
type Reply struct {
	Tag     ReplyTag `json:"tag"`
	Data    string   `json:"data,omitempty"`
	Rows    []string `json:"rows,omitempty"`
	Info    string   `json:"info,omitempty"`
	Balance string   `json:"balance,omitempty"`
	Code    ErrCode  `json:"code,omitempty"`
	Kind    string   `json:"kind,omitempty"`
	Details string   `json:"details,omitempty"`
}

func DataReply(s string) Reply { return Reply{Tag: TagData, Data: s} }

func RowsReply(rows []string) Reply { return Reply{Tag: TagRows, Rows: rows} }

func InfoReply(s string) Reply { return Reply{Tag: TagInfo, Info: s} }

func BalanceReply(d decimal.Decimal) Reply {
	return Reply{Tag: TagBalance, Balance: d.String()}
}

func ErrorReply(code ErrCode, details string) Reply {
	return Reply{Tag: TagError, Code: code, Kind: code.Class(), Details: details}
}

// MarshalLine serializes the reply as one newline-terminated JSON frame.
func (r Reply) MarshalLine() []byte {
	// Reply contains only marshalable fields; a marshal failure here would
	// be a programming error, and the client must still get a frame.
	b, err := json.Marshal(r)
	if err != nil {
		b = []byte(`{"tag":"Error","code":"01","kind":"Worker Error","details":"reply serialization failed"}`)
	}
	return append(b, '\n')
}
