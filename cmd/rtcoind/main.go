package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/tildecoin/rtcoin/internal/ledger"
	"github.com/tildecoin/rtcoin/internal/ledger/store"
	"github.com/tildecoin/rtcoin/internal/platform/config"
	"github.com/tildecoin/rtcoin/internal/protocol"
	"github.com/tildecoin/rtcoin/internal/server"
	"github.com/tildecoin/rtcoin/internal/utils"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	logger.Info("rtcoind initializing")

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	passphrase, err := readPassphrase(cfg)
	if err != nil {
		logger.Error("failed to read ledger passphrase", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Open and verify the encrypted store. Open scrubs the passphrase bytes
	// on every path; a wrong key on an initialized file is fatal here, never
	// a silently-created empty store.
	st, err := store.Open(cfg.DatabasePath, passphrase, logger)
	if err != nil {
		logger.Error("failed to open ledger store",
			slog.String("path", cfg.DatabasePath), slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := st.EnsureSchema(); err != nil {
		logger.Error("failed to ensure ledger schema", slog.String("error", err.Error()))
		st.Close()
		os.Exit(1)
	}
	logger.Info("ledger store opened", slog.String("path", cfg.DatabasePath))

	worker := ledger.NewWorker(st, logger, ledger.Options{
		QueueSize:     cfg.QueueSize,
		DisputeWindow: cfg.DisputeWindow,
	})
	go worker.Run()

	srv := server.New(server.Config{
		SocketPath:   cfg.SocketPath,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		ReplyTimeout: cfg.ReplyTimeout,
	}, worker.Queue(), worker.Done(), logger)

	if err := srv.Listen(); err != nil {
		logger.Error("failed to bind socket", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Graceful drain: shutdown is itself a command, queued behind every
	// in-flight mutation, so nothing accepted is lost on exit. Closing the
	// server unblocks Serve; main then waits for the drain to finish before
	// returning.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		sig := <-sigs
		logger.Warn("signal caught, draining ledger worker", slog.String("signal", sig.String()))

		comm := ledger.NewComm(protocol.Disconnect{})
		worker.Queue() <- comm
		<-comm.Reply

		srv.Close()
	}()

	if err := srv.Serve(); err != nil {
		logger.Error("accept loop failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	<-drained
	logger.Info("shutdown complete")
}

// readPassphrase takes the ledger passphrase from the environment when set
// (non-interactive deployments) and prompts on the terminal otherwise. The
// returned bytes are owned by the caller; store.Open scrubs them.
func readPassphrase(cfg *config.Config) ([]byte, error) {
	if cfg.Passphrase != "" {
		p := []byte(cfg.Passphrase)
		cfg.Passphrase = ""
		return p, nil
	}
	fmt.Fprint(os.Stderr, "Ledger passphrase: ")
	p, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	if len(p) == 0 {
		utils.Scrub(p)
		return nil, fmt.Errorf("empty passphrase")
	}
	return p, nil
}
