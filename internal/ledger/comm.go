// Package ledger implements the single-writer ledger worker: the only
// component permitted to mutate the ledger store. Connection handlers talk
// to it exclusively through a command queue and one-shot reply channels,
// which turns database concurrency control into message ordering.
package ledger

import (
	"github.com/tildecoin/rtcoin/internal/protocol"
)

// Comm bundles a typed command with its one-shot reply destination. Reply is
// buffered (capacity 1) so a vanished client can never block the worker; it
// may be nil only for Disconnect sent without a supervisor waiting.
type Comm struct {
	Cmd   protocol.Command
	Reply chan protocol.Reply
}

// NewComm wraps a command with a fresh one-shot reply channel.
func NewComm(cmd protocol.Command) Comm {
	return Comm{Cmd: cmd, Reply: make(chan protocol.Reply, 1)}
}
