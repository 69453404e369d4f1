package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BadgerOps/sharezip/internal/config"
	"github.com/BadgerOps/sharezip/internal/engine"
	"github.com/BadgerOps/sharezip/internal/store"
)

// Materializer turns a share folder into a ZIP archive.
type Materializer interface {
	Materialize(ctx context.Context, folder string) (*engine.Archive, error)
	Active() []engine.Progress
}

// HistoryLister reads past folder downloads.
type HistoryLister interface {
	ListFolderDownloads(status string, limit int) ([]store.FolderDownload, error)
	GetFolderDownload(requestID string) (*store.FolderDownload, error)
}

// Server is the HTTP front end for folder downloads.
type Server struct {
	materializer Materializer
	history      HistoryLister
	metrics      http.Handler
	config       *config.Config
	logger       *slog.Logger
	version      string
	httpServer   *http.Server
}

// NewServer creates a new Server instance. history may be nil.
func NewServer(
	m Materializer,
	history HistoryLister,
	cfg *config.Config,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Server{
		materializer: m,
		history:      history,
		config:       cfg,
		logger:       logger,
		version:      "dev",
	}
}

// SetMetricsHandler exposes h on GET /metrics.
func (s *Server) SetMetricsHandler(h http.Handler) {
	s.metrics = h
}

// SetVersion sets the version reported by /healthz.
func (s *Server) SetVersion(v string) {
	s.version = v
}

// Handler builds the router with all middleware and routes.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(securityHeaders)
	router.Use(s.accessLog)
	router.Use(s.recoverer)

	router.NotFound(s.handleNotFound)
	router.MethodNotAllowed(s.handleMethodNotAllowed)

	router.Post("/file/download-folder", s.handleDownloadFolder)

	router.Get("/healthz", s.handleHealth)
	router.Get("/api/downloads", s.handleAPIDownloads)
	router.Get("/api/downloads/active", s.handleAPIActive)
	router.Get("/api/downloads/{requestID}", s.handleAPIDownload)
	if s.metrics != nil {
		router.Method(http.MethodGet, "/metrics", s.metrics)
	}

	return router
}

// Start starts the HTTP server on the given listen address.
func (s *Server) Start(listenAddr string) error {
	s.httpServer = &http.Server{
		Addr:              listenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       s.config.Server.ReadTimeout,
		WriteTimeout:      s.config.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", listenAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
