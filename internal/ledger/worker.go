package ledger

import (
	"log/slog"
	"time"

	"github.com/tildecoin/rtcoin/internal/ledger/store"
	"github.com/tildecoin/rtcoin/internal/protocol"
)

// DefaultDisputeWindow is how long a signed entry remains contestable before
// an audit may archive it.
const DefaultDisputeWindow = 30 * 24 * time.Hour

// Options tune a Worker. Zero values select defaults.
type Options struct {
	QueueSize     int
	DisputeWindow time.Duration
	Now           func() time.Time // injectable clock
}

// Worker is the single-threaded actor that owns the store handle. Commands
// are applied strictly in arrival order: one command's store effects are
// committed and its reply produced before the next command begins. That
// total order is what makes balance derivation and hash chaining
// well-defined.
type Worker struct {
	store         *store.Store
	queue         chan Comm
	done          chan struct{}
	logger        *slog.Logger
	now           func() time.Time
	disputeWindow time.Duration
}

// NewWorker wires a worker to its store. The store handle must not be used
// by anyone else from this point on.
func NewWorker(st *store.Store, logger *slog.Logger, opts Options) *Worker {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.DisputeWindow <= 0 {
		opts.DisputeWindow = DefaultDisputeWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Worker{
		store:         st,
		queue:         make(chan Comm, opts.QueueSize),
		done:          make(chan struct{}),
		logger:        logger.With(slog.String("component", "ledger-worker")),
		now:           opts.Now,
		disputeWindow: opts.DisputeWindow,
	}
}

// Queue is the multi-producer endpoint routers send Comms to.
func (w *Worker) Queue() chan<- Comm {
	return w.queue
}

// Done is closed after the worker has stopped and the store is closed.
// Routers use it to detect a dead worker instead of blocking forever.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Run drains the queue until a Disconnect arrives. It is the worker
// goroutine's body; exactly one Run per Worker.
func (w *Worker) Run() {
	defer close(w.done)
	for comm := range w.queue {
		if _, ok := comm.Cmd.(protocol.Disconnect); ok {
			w.logger.Info("disconnect received, closing ledger store")
			if err := w.store.Close(); err != nil {
				w.logger.Error("failed to close ledger store", slog.String("error", err.Error()))
			}
			// Signal the supervisor that the store is down so shutdown can
			// proceed.
			w.deliver(comm, protocol.InfoReply("ledger closed"))
			return
		}

		reply := w.handle(comm.Cmd)
		w.deliver(comm, reply)
	}
}

// deliver sends the reply without ever blocking. The channel is buffered, so
// the only way a send can fail is a nil or already-used channel; both mean
// the client is gone, which is logged and swallowed, never fatal.
func (w *Worker) deliver(comm Comm, reply protocol.Reply) {
	if comm.Reply == nil {
		w.logger.Warn("no reply channel on comm, dropping reply",
			slog.String("kind", string(comm.Cmd.Kind())))
		return
	}
	select {
	case comm.Reply <- reply:
	default:
		w.logger.Warn("reply channel unavailable, dropping reply",
			slog.String("kind", string(comm.Cmd.Kind())))
	}
}
