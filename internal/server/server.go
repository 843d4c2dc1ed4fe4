// Package server exposes Portico's REST surface.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/porticolabs/portico/internal/app"
	"github.com/porticolabs/portico/internal/common"
)

// Server wraps the HTTP server and application reference.
type Server struct {
	app    *app.App
	server *http.Server
	logger *common.Logger
}

// NewServer creates a new HTTP REST API server.
func NewServer(a *app.App) *Server {
	s := &Server{
		app:    a,
		logger: a.Logger,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	handler := applyMiddleware(mux, a.Logger, a.Verifier)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", a.Config.Server.Host, a.Config.Server.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server (blocking).
func (s *Server) Start() error {
	s.logger.Info().
		Str("addr", s.server.Addr).
		Msg("Starting REST API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// registerRoutes sets up all REST API routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// System
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/cache/stats", s.handleCacheStats)

	// Portfolio aggregate + derived views
	mux.HandleFunc("/api/portfolio/complete", s.handleComplete)
	mux.HandleFunc("/api/portfolio/summary", s.handleSummary)
	mux.HandleFunc("/api/portfolio/holdings", s.handleHoldings)
	mux.HandleFunc("/api/portfolio/allocation", s.handleAllocation)
	mux.HandleFunc("/api/portfolio/performance", s.handlePerformance)
	mux.HandleFunc("/api/portfolio/dividends", s.handleDividends)
	mux.HandleFunc("/api/portfolio/transactions", s.handleTransactions)
	mux.HandleFunc("/api/portfolio/movers", s.handleMovers)

	// Cache lifecycle
	mux.HandleFunc("/api/portfolio/refresh", s.handleRefresh)
	mux.HandleFunc("/api/portfolio/prefetch", s.handlePrefetch)
	mux.HandleFunc("/api/portfolio/invalidate", s.handleInvalidate)
}
