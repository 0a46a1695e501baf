// Package web exposes the resolve/override/apply workflow and indexing
// job control as a JSON API for an external UI.
package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"immich-deduper/internal/dedupe"
	"immich-deduper/internal/immich"
	"immich-deduper/internal/index"
	"immich-deduper/internal/indexer"
)

// DuplicateSource supplies server-computed duplicate groups.
type DuplicateSource interface {
	GetDuplicateGroups() ([]immich.DuplicateGroup, error)
}

// Deps are the collaborators the API serves. The immich client satisfies
// both interface fields.
type Deps struct {
	Duplicates DuplicateSource
	Catalog    dedupe.Catalog
	Indexer    *indexer.Indexer
	Index      *index.Store
	IndexPath  string
}

// Server represents the web server
type Server struct {
	deps       Deps
	router     *chi.Mux
	httpServer *http.Server
	jobs       *JobManager
	applier    *dedupe.Applier

	decisionsMu sync.Mutex
	decisions   map[string]*dedupe.MergeDecision
}

// NewServer creates a new web server
func NewServer(deps Deps, host string, port int) *Server {
	r := chi.NewRouter()

	s := &Server{
		deps:      deps,
		router:    r,
		jobs:      NewJobManager(),
		applier:   dedupe.NewApplier(deps.Catalog),
		decisions: make(map[string]*dedupe.MergeDecision),
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(5 * time.Minute))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // Indexing runs can be slow
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Printf("Starting web server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down web server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
