package server

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/tildecoin/rtcoin/internal/ledger"
	"github.com/tildecoin/rtcoin/internal/protocol"
)

// maxLineBytes bounds one request frame. An oversized line is a protocol
// error and is answered before the connection closes, like any other.
const maxLineBytes = 1 << 20

// router mediates request/reply cycles for one client connection. It decodes
// frames, refuses internally-reserved kinds, forwards everything else to the
// ledger worker with a fresh one-shot reply channel, and writes replies
// back. The client is never left hanging: every error path produces an Error
// frame before the connection closes.
type router struct {
	conn       net.Conn
	queue      chan<- ledger.Comm
	workerDone <-chan struct{}
	cfg        Config
	logger     *slog.Logger
}

func (r *router) run() {
	defer r.conn.Close()
	r.logger.Info("client connected")

	scanner := bufio.NewScanner(r.conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	for {
		if err := r.conn.SetReadDeadline(time.Now().Add(r.cfg.ReadTimeout)); err != nil {
			return
		}
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				if errors.Is(err, bufio.ErrTooLong) {
					r.write(protocol.ErrorReply(protocol.CodeInvalid,
						"request line exceeds maximum length"))
				}
				r.logger.Info("client read ended", slog.String("reason", err.Error()))
			} else {
				r.logger.Info("client disconnected")
			}
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		// Bare quit/exit lines are a clean close, not a protocol error.
		if line == "quit" || line == "exit" {
			r.logger.Info("client quit")
			return
		}

		cmd, errReply := protocol.DecodeLine([]byte(line))
		if errReply != nil {
			// Protocol errors reply and then close; they never touch the
			// worker.
			r.write(*errReply)
			return
		}
		if cmd.Kind().Internal() {
			r.write(protocol.ErrorReply(protocol.CodeInvalid,
				string(cmd.Kind())+" is reserved for internal use"))
			return
		}

		reply, ok := r.dispatch(cmd)
		if !ok {
			r.write(protocol.ErrorReply(protocol.CodeWorker, "ledger worker unavailable"))
			return
		}
		if !r.write(reply) {
			return
		}
	}
}

// dispatch forwards the command and blocks, without holding any lock, until
// the reply arrives, the worker dies, or the wait times out.
func (r *router) dispatch(cmd protocol.Command) (protocol.Reply, bool) {
	comm := ledger.NewComm(cmd)

	wait := time.NewTimer(r.cfg.ReplyTimeout)
	defer wait.Stop()

	select {
	case r.queue <- comm:
	case <-r.workerDone:
		return protocol.Reply{}, false
	case <-wait.C:
		return protocol.Reply{}, false
	}

	select {
	case reply := <-comm.Reply:
		return reply, true
	case <-r.workerDone:
		// The command may still be applied during drain; only the reply is
		// lost, and the worker logs the drop on its side.
		return protocol.Reply{}, false
	case <-wait.C:
		return protocol.Reply{}, false
	}
}

func (r *router) write(reply protocol.Reply) bool {
	if err := r.conn.SetWriteDeadline(time.Now().Add(r.cfg.WriteTimeout)); err != nil {
		return false
	}
	if _, err := r.conn.Write(reply.MarshalLine()); err != nil {
		r.logger.Warn("failed to write reply", slog.String("error", err.Error()))
		return false
	}
	return true
}
