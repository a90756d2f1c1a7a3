// Package server is the HTTP surface of the Kotoba proxy.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pario-ai/kotoba/pkg/config"
	"github.com/pario-ai/kotoba/pkg/models"
)

// Analyzer is the resilient call layer behind the API routes.
type Analyzer interface {
	Identify(ctx context.Context, image []byte, maxPhrases int) (*models.IdentifyResult, error)
	Analyze(ctx context.Context, req models.AnalyzeRequest) (json.RawMessage, error)
	ExtractText(ctx context.Context, image []byte) (*models.ExtractResult, error)
	CacheStats() models.CacheStats
	ClearCache()
}

// Server is the Kotoba HTTP API.
type Server struct {
	cfg      *config.Config
	svc      Analyzer
	logger   *zap.Logger
	validate *validator.Validate
	router   *mux.Router
}

// New creates a Server wired with all dependencies.
func New(cfg *config.Config, svc Analyzer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:      cfg,
		svc:      svc,
		logger:   logger,
		validate: validator.New(),
	}
	s.router = s.createRouter()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) createRouter() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.requestID, s.accessLog, s.recovery)

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/cache/stats", s.handleCacheStats).Methods(http.MethodGet)

	protected := api.NewRoute().Subrouter()
	protected.Use(s.auth)
	protected.HandleFunc("/identify", s.handleIdentify).Methods(http.MethodPost)
	protected.HandleFunc("/analyze", s.handleAnalyze).Methods(http.MethodPost)
	protected.HandleFunc("/extract", s.handleExtract).Methods(http.MethodPost)
	protected.HandleFunc("/cache", s.handleCacheClear).Methods(http.MethodDelete)

	return router
}

// ListenAndServe starts the server and shuts it down gracefully when ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("kotoba listening", zap.String("addr", s.cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		timeout := s.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		s.logger.Info("shutting down", zap.Duration("timeout", timeout))
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
