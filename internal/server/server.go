// Package server accepts client connections on the local socket and runs one
// request router per connection, bounded by a fixed-size pool. It enforces
// the client/internal boundary: reserved command kinds never reach the
// ledger worker.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tildecoin/rtcoin/internal/ledger"
)

// Config tunes the acceptor and its routers.
type Config struct {
	SocketPath   string
	PoolSize     int           // connection slots; DefaultPoolSize() if zero
	ReadTimeout  time.Duration // per-request read deadline on client sockets
	WriteTimeout time.Duration // per-reply write deadline
	ReplyTimeout time.Duration // how long a router waits on the worker
}

// DefaultPoolSize is 4x the available cores with a floor of 4. Client
// connections are cheap; the bound exists so connection volume cannot starve
// the process.
func DefaultPoolSize() int {
	n := runtime.GOMAXPROCS(0) * 4
	if n < 4 {
		n = 4
	}
	return n
}

// Server owns the unix listener and the connection pool.
type Server struct {
	cfg        Config
	queue      chan<- ledger.Comm
	workerDone <-chan struct{}
	logger     *slog.Logger

	listener net.Listener
	slots    chan struct{}
	wg       sync.WaitGroup
}

// New wires a server to the ledger worker's queue. workerDone lets routers
// detect a dead worker instead of waiting forever.
func New(cfg Config, queue chan<- ledger.Comm, workerDone <-chan struct{}, logger *slog.Logger) *Server {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Minute
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = 30 * time.Second
	}
	return &Server{
		cfg:        cfg,
		queue:      queue,
		workerDone: workerDone,
		logger:     logger.With(slog.String("component", "server")),
		slots:      make(chan struct{}, cfg.PoolSize),
	}
}

// Listen binds the unix socket, removing a stale socket file left over from
// a previous run first.
func (s *Server) Listen() error {
	if _, err := os.Stat(s.cfg.SocketPath); err == nil {
		s.logger.Warn("removing stale socket file", slog.String("path", s.cfg.SocketPath))
		if err := os.Remove(s.cfg.SocketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket %s: %w", s.cfg.SocketPath, err)
		}
	}
	l, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("failed to bind socket %s: %w", s.cfg.SocketPath, err)
	}
	s.listener = l
	s.logger.Info("listening",
		slog.String("socket", s.cfg.SocketPath),
		slog.Int("pool_size", s.cfg.PoolSize))
	return nil
}

// Serve accepts connections until the listener closes. Each connection takes
// one pool slot for its whole router loop; when the pool is saturated the
// accept loop waits for a slot to free.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		s.slots <- struct{}{}
		s.wg.Add(1)
		go func(conn net.Conn) {
			defer func() {
				<-s.slots
				s.wg.Done()
			}()
			r := &router{
				conn:       conn,
				queue:      s.queue,
				workerDone: s.workerDone,
				cfg:        s.cfg,
				logger:     s.logger.With(slog.String("conn_id", uuid.NewString())),
			}
			r.run()
		}(conn)
	}
}

// Close stops accepting, waits for in-flight routers, and removes the socket
// file.
func (s *Server) Close() error {
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
