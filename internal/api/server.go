// Package api exposes the detection core over an HTTP JSON interface.
package api

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Veraticus/the-spice-must-recur/internal/certs"
	"github.com/Veraticus/the-spice-must-recur/internal/common"
	"github.com/Veraticus/the-spice-must-recur/internal/dedup"
	"github.com/Veraticus/the-spice-must-recur/internal/engine"
	"github.com/Veraticus/the-spice-must-recur/internal/lifecycle"
	"github.com/Veraticus/the-spice-must-recur/internal/renewal"
	"github.com/Veraticus/the-spice-must-recur/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// maxBatchBytes caps the body of a record upload.
const maxBatchBytes = 16 << 20

// Server routes HTTP requests to the engine, the candidate lifecycle and the
// renewal tracker.
type Server struct {
	router  *chi.Mux
	engine  *engine.Engine
	manager *lifecycle.Manager
	tracker *renewal.Tracker
	dedup   *dedup.Store
	certs   certs.Manager
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithClock overrides the time used for sweeps triggered over HTTP.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithTLS serves HTTPS using the certificate from m.
func WithTLS(m certs.Manager) Option {
	return func(s *Server) { s.certs = m }
}

// NewServer wires the routes.
func NewServer(store service.Store, eng *engine.Engine, manager *lifecycle.Manager, tracker *renewal.Tracker, opts ...Option) *Server {
	s := &Server{
		engine:  eng,
		manager: manager,
		tracker: tracker,
		dedup:   dedup.NewStore(store),
		now:     time.Now,
		logger:  slog.Default().With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/api/v1/sweep", s.handleSweep)

	r.Route("/api/v1/users/{userID}", func(r chi.Router) {
		r.Post("/records", s.handleRecords)
		r.Get("/duplicates", s.handleDuplicates)
		r.Get("/audit", s.handleAudit)
		r.Get("/savings", s.handleSavings)

		r.Route("/candidates", func(r chi.Router) {
			r.Get("/", s.handleListCandidates)
			r.Post("/{candidateID}/accept", s.handleAccept)
			r.Post("/{candidateID}/dismiss", s.handleDismiss)
		})

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/", s.handleListSubscriptions)
			r.Get("/needs-confirmation", s.handleNeedsConfirmation)
			r.Post("/{subscriptionID}/confirm", s.handleConfirm)
			r.Get("/{subscriptionID}/price-history", s.handlePriceHistory)
		})
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	tlsConfig, err := s.tlsConfig()
	if err != nil {
		return err
	}
	srv.TLSConfig = tlsConfig

	errCh := make(chan error, 1)
	go func() {
		if tlsConfig != nil {
			s.logger.Info("Server started", "addr", addr, "scheme", "https")
			errCh <- srv.ListenAndServeTLS("", "")
			return
		}
		s.logger.Info("Server started", "addr", addr, "scheme", "http")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		s.logger.Info("Stopping server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down server: %w", err)
		}
		return nil
	}
}

// tlsConfig returns nil when the server runs without TLS.
func (s *Server) tlsConfig() (*tls.Config, error) {
	if s.certs == nil {
		return nil, nil
	}
	cert, err := s.certs.GetOrCreateCertificate()
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, common.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, common.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, common.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, lifecycle.ErrInvalidOverride),
		errors.Is(err, renewal.ErrInvalidAction),
		errors.Is(err, common.ErrMalformedRecord),
		errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}
