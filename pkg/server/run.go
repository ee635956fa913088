package server

import (
	"crypto/tls"
	"fmt"
	"os/signal"
	"syscall"
)

// Run opens the TLS listener and serves until SIGINT, SIGTERM or Shutdown.
// Failing to load TLS material or bind the port is returned before any
// client is served.
func (s *Server) Run() error {
	if s.store == nil {
		return fmt.Errorf("server: missing store dependency")
	}
	defer func() {
		if err := s.store.Close(); err != nil {
			s.log.Error("close credential store", "err", err)
		}
	}()

	tlsCfg, err := s.TLSConfig()
	if err != nil {
		return err
	}
	ln, err := tls.Listen("tcp", s.cfg.Addr(), tlsCfg)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}

	ctx, stop := signal.NotifyContext(s.ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s.StartMetricsHTTP(ctx)
	s.metrics.StartPeriodicLog(ctx, s.cfg.MetricsLogInterval, s.log)

	if err := s.Serve(ctx, ln); err != nil {
		return err
	}
	s.log.Info("shutting down...")
	return nil
}

// Shutdown stops a running server. Serve closes the listener and every live
// connection before Run returns.
func (s *Server) Shutdown() {
	s.cancel()
}
