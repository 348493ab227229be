package receipt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/smartflow/smartflow/internal/middleware"
)

// Server handles HTTP requests for receipts
type Server struct {
	service *Service
	mux     *http.ServeMux
	handler http.Handler
	log     zerolog.Logger
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, log zerolog.Logger) *Server {
	return NewServerWithMux(service, log, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, log zerolog.Logger, mux *http.ServeMux) *Server {
	s := &Server{
		service: service,
		mux:     mux,
		log:     log,
	}
	s.registerRoutes()
	s.handler = middleware.Chain(log, s.mux)
	return s
}

// registerRoutes registers all routes on the server's mux. The read/write
// API over users and receipts only exists when uploads are processed.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("POST /upload-receipt/{$}", s.handleUploadReceipt)
	s.mux.HandleFunc("POST /upload-receipt", s.handleUploadReceipt)

	if !s.service.Processing() {
		return
	}

	s.mux.HandleFunc("POST /users", s.handleCreateUser)
	s.mux.HandleFunc("GET /users/{id}/receipts", s.handleListUserReceipts)
	s.mux.HandleFunc("GET /users/{id}", s.handleGetUser)
	s.mux.HandleFunc("GET /receipts/{id}", s.handleGetReceipt)
}

// Run serves on addr until ctx is cancelled, then drains in-flight requests
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 3 * time.Minute, // covers the slowest text detector
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().
			Str("address", addr).
			Bool("processing", s.service.Processing()).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info().Msg("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}

	s.log.Info().Msg("Server stopped")
	return nil
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
