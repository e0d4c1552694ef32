// Package api is the HTTP façade over the upstream-integration core.
// Handlers resolve the session, delegate to the fetcher/normalizer/
// aggregation layers and translate every failure into one of two
// outcomes: a typed payload or the uniform auth-error sentinel. All
// cookie I/O happens here; the core packages only see plain values.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openregistro/registro/pkg/config"
	"github.com/openregistro/registro/pkg/scrape"
	"github.com/openregistro/registro/pkg/session"
	"github.com/openregistro/registro/pkg/store"
	"github.com/openregistro/registro/pkg/transport"
	"github.com/openregistro/registro/pkg/upstream"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.Config
	store      store.Store
	sessions   *session.Manager
	auth       *upstream.Authenticator
	fetcher    *upstream.Fetcher
	httpServer *http.Server
	wg         sync.WaitGroup

	refreshInFlight *inFlightSet
}

// NewServer creates a new API server.
func NewServer(log logrus.FieldLogger, cfg *config.Config) Server {
	return &server{
		log:             log.WithField("component", "api"),
		cfg:             cfg,
		refreshInFlight: newInFlightSet(),
	}
}

// initComponents wires the core subsystems: persistence, the retrying
// transport, the login chain, the fetcher and the session manager.
func (s *server) initComponents(ctx context.Context) error {
	s.store = store.NewStore(s.log, &s.cfg.Database)
	if err := s.store.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	httpClient := transport.New(s.log, transport.Config{
		MaxAttempts: s.cfg.Upstream.Transport.MaxAttempts,
		BaseDelay:   s.cfg.Upstream.Transport.ParsedBaseDelay(),
		Timeout:     s.cfg.Upstream.Transport.ParsedTimeout(),
	})

	auth, err := upstream.NewAuthenticator(s.log, httpClient, &s.cfg.Upstream)
	if err != nil {
		return fmt.Errorf("building authenticator: %w", err)
	}

	s.auth = auth
	s.fetcher = upstream.NewFetcher(s.log, httpClient, &s.cfg.Upstream, scrape.New(s.log))
	s.sessions = session.NewManager(s.log, s.cfg.Session.Secret, s.cfg.SessionTTL())

	return nil
}

// Start wires the core components and starts the HTTP server.
func (s *server) Start(ctx context.Context) error {
	if err := s.initComponents(ctx); err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Server.Listen).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server and closes the store.
func (s *server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	if s.store != nil {
		if err := s.store.Stop(); err != nil {
			return fmt.Errorf("stopping store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}
