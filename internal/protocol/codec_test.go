package protocol_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tildecoin/rtcoin/internal/protocol"
)

func TestDecodeLine_RoundTripAllKinds(t *testing.T) {
	amount, err := decimal.NewFromString("250.75")
	require.NoError(t, err)

	cmds := []protocol.Command{
		protocol.Register{Name: "alice", Password: "longenoughpassword", PublicKey: "pk1"},
		protocol.Whoami{Name: "alice"},
		protocol.Rename{Old: "alice", New: "alicia", Password: "longenoughpassword"},
		protocol.Send{Source: "bob", Destination: "alice", Amount: amount, Message: "hi there fren"},
		protocol.Send{Source: "bob", Destination: "alice", Amount: amount},
		protocol.Sign{Name: "bob", Password: "longenoughpassword", EntryID: 7},
		protocol.Balance{Name: "bob"},
		protocol.Verify{EntryID: 12},
		protocol.Contest{EntryID: 3, Reason: "unauthorized transfer"},
		protocol.Second{EntryID: 3, Name: "carol"},
		protocol.Resolve{EntryID: 3, Verdict: "reversed"},
		protocol.Audit{},
		protocol.Audit{Name: "bob"},
		protocol.Query{What: "ledger"},
		protocol.Disconnect{},
	}

	for _, cmd := range cmds {
		line, err := protocol.EncodeLine(cmd)
		require.NoError(t, err)

		decoded, errReply := protocol.DecodeLine(line)
		require.Nil(t, errReply, "kind %s: %+v", cmd.Kind(), errReply)
		assert.Equal(t, cmd, decoded, "kind %s did not round-trip", cmd.Kind())
	}
}

func TestDecodeLine_KindIsCaseInsensitive(t *testing.T) {
	cmd, errReply := protocol.DecodeLine([]byte(`{"kind":"BaLaNcE","args":"bob"}`))
	require.Nil(t, errReply)
	assert.Equal(t, protocol.Balance{Name: "bob"}, cmd)
}

func TestDecodeLine_MalformedJSON(t *testing.T) {
	cmd, errReply := protocol.DecodeLine([]byte(`{"kind": "balance",`))
	assert.Nil(t, cmd)
	require.NotNil(t, errReply)
	assert.Equal(t, protocol.TagError, errReply.Tag)
	assert.Equal(t, protocol.CodeJSON, errReply.Code)
	assert.Equal(t, "JSON Error", errReply.Kind)
}

func TestDecodeLine_UnknownKind(t *testing.T) {
	cmd, errReply := protocol.DecodeLine([]byte(`{"kind":"teleport","args":"bob"}`))
	assert.Nil(t, cmd)
	require.NotNil(t, errReply)
	assert.Equal(t, protocol.CodeInvalid, errReply.Code)
	assert.Equal(t, "Invalid Request", errReply.Kind)
}

func TestDecodeLine_MissingArgs(t *testing.T) {
	cases := []string{
		`{"kind":"register","args":"alice"}`,
		`{"kind":"rename","args":"alice alicia"}`,
		`{"kind":"send","args":"bob alice"}`,
		`{"kind":"send","args":"bob alice notanumber"}`,
		`{"kind":"balance","args":""}`,
		`{"kind":"verify","args":"xyz"}`,
		`{"kind":"contest","args":"9"}`,
		`{"kind":"resolve","args":"9 maybe"}`,
	}
	for _, raw := range cases {
		cmd, errReply := protocol.DecodeLine([]byte(raw))
		assert.Nil(t, cmd, "frame %s decoded unexpectedly", raw)
		require.NotNil(t, errReply, "frame %s produced no error", raw)
		assert.Equal(t, protocol.CodeInvalid, errReply.Code, "frame %s", raw)
	}
}

func TestDecodeLine_WhoamiWithoutArgsDegrades(t *testing.T) {
	// A nameless whoami becomes a sentinel lookup that deterministically
	// misses, instead of a rejected frame.
	cmd, errReply := protocol.DecodeLine([]byte(`{"kind":"whoami","args":""}`))
	require.Nil(t, errReply)
	assert.Equal(t, protocol.Whoami{Name: protocol.UnknownUser}, cmd)
}

func TestInternalKinds(t *testing.T) {
	assert.True(t, protocol.KindQuery.Internal())
	assert.True(t, protocol.KindDisconnect.Internal())
	assert.False(t, protocol.KindRegister.Internal())
	assert.False(t, protocol.KindSend.Internal())
}

func TestReply_MarshalLine(t *testing.T) {
	line := protocol.ErrorReply(protocol.CodeWorker, "boom").MarshalLine()
	assert.Equal(t, byte('\n'), line[len(line)-1])
	assert.JSONEq(t,
		`{"tag":"Error","code":"01","kind":"Worker Error","details":"boom"}`,
		string(line[:len(line)-1]))

	bal := protocol.BalanceReply(decimal.RequireFromString("750"))
	assert.JSONEq(t, `{"tag":"Balance","balance":"750"}`,
		string(bal.MarshalLine()[:len(bal.MarshalLine())-1]))
}

func TestErrCodeClasses(t *testing.T) {
	assert.Equal(t, "Worker Error", protocol.CodeWorker.Class())
	assert.Equal(t, "JSON Error", protocol.CodeJSON.Class())
	assert.Equal(t, "Invalid Request", protocol.CodeInvalid.Class())
	assert.Equal(t, "Query Error", protocol.CodeQuery.Class())
	assert.Equal(t, "Channel Send Error", protocol.CodeChannel.Class())
}
