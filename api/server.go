// Package api exposes the pipeline's HTTP surface: health, invoice and
// payment queries, and the delivery callback the ServiceProcessor posts to
// when a job completes.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Uuuuu77/agentpay-sub000/store"
)

// HealthReporter reports per-chain client health.
type HealthReporter interface {
	ChainHealth() map[string]bool
}

// Server provides HTTP endpoints
type Server struct {
	logger zerolog.Logger
	store  *store.InvoiceStore
	health HealthReporter
	server *http.Server
}

// NewServer creates a new Server instance
func NewServer(logger zerolog.Logger, port int, invoiceStore *store.InvoiceStore, health HealthReporter) *Server {
	s := &Server{
		logger: logger.With().Str("component", "api").Logger(),
		store:  invoiceStore,
		health: health,
	}

	mux := s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	if s.server == nil {
		return fmt.Errorf("query server is nil")
	}

	startupChan := make(chan error, 1)

	go func() {
		// Verify the port is available before handing off to ListenAndServe.
		ln, err := net.Listen("tcp", s.server.Addr)
		if err != nil {
			startupChan <- fmt.Errorf("failed to bind to address %s: %w", s.server.Addr, err)
			return
		}
		ln.Close()

		startupChan <- nil

		err = s.server.ListenAndServe()
		switch err {
		case nil:
			s.logger.Info().Msg("query server stopped normally")
		case http.ErrServerClosed:
			s.logger.Info().Msg("query server closed gracefully")
		default:
			s.logger.Error().Err(err).Msg("query server error")
		}
	}()

	select {
	case err := <-startupChan:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("server startup timeout")
	}
}

// Stop gracefully shuts down the HTTP server, letting in-flight requests
// (delivery callbacks included) finish within a short deadline.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("graceful shutdown timed out, closing")
		return s.server.Close()
	}
	return nil
}
