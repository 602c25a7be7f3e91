package server

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"ferrisshare/config"
	"ferrisshare/storage"
)

// Server wires a store into a command service, the command service into a
// network service, and runs the listener and handler tasks.
type Server struct {
	cfg     config.Config
	store   *storage.FSStore
	network *NetworkService
}

// NewServer builds the full service stack from a configuration.
func NewServer(cfg config.Config) *Server {
	store := storage.NewFSStore(cfg.BasePath)
	commands := NewCommandService(store)
	return &Server{
		cfg:     cfg,
		store:   store,
		network: NewNetworkService(commands),
	}
}

// Network exposes the network service, mainly for tests.
func (s *Server) Network() *NetworkService {
	return s.network
}

// Run sweeps stale staging files, starts the handler task, and blocks in
// the listener until it fails. SIGINT/SIGTERM exit cleanly.
func (s *Server) Run() error {
	if err := s.store.SweepStaging(); err != nil {
		logrus.WithField("error", err).Warn("Staging sweep failed")
	}

	go s.handleSignals()
	go s.network.Handler()

	return s.network.Listener(s.cfg.Addr())
}

func (s *Server) handleSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logrus.WithField("signal", sig.String()).Info("Shutting down")
	os.Exit(0)
}
