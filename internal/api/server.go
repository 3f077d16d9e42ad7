// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/portfolio-ledger/internal/logging"
	"github.com/portfolio-ledger/internal/service"
	"github.com/portfolio-ledger/internal/types"
)

// Service interfaces for dependency injection and testing

// SyncServiceInterface defines the sync operations the server exposes.
type SyncServiceInterface interface {
	SyncAccount(ctx context.Context, accountID uuid.UUID) (*service.SyncReport, error)
}

// PortfolioServiceInterface defines the read operations the server exposes.
type PortfolioServiceInterface interface {
	GetOverview(ctx context.Context, accountID uuid.UUID) (*service.Overview, error)
	ListAssets(ctx context.Context, accountID uuid.UUID) ([]service.AssetMetrics, error)
	GetPerformance(ctx context.Context, accountID uuid.UUID, from, to time.Time) (*service.Performance, error)
	GetDCAAnalysis(ctx context.Context, accountID uuid.UUID, asset string) (*service.DCAAnalysis, error)
	GetFiscalReport(ctx context.Context, accountID uuid.UUID, year int, method types.CostBasisMethod) (*service.FiscalReport, error)
	GetSyncState(ctx context.Context, accountID uuid.UUID) (*service.SyncState, error)
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	syncs      SyncServiceInterface
	portfolio  PortfolioServiceInterface
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerSecond int
	Burst             int
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, syncs SyncServiceInterface, portfolio PortfolioServiceInterface) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		syncs:     syncs,
		portfolio: portfolio,
		config:    config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)

	// Middleware order matters: logging first, rate limiting after CORS.
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/accounts/{id}/sync", s.handleTriggerSync).Methods("POST")
	api.HandleFunc("/accounts/{id}/sync/status", s.handleSyncStatus).Methods("GET")

	api.HandleFunc("/accounts/{id}/overview", s.handleOverview).Methods("GET")
	api.HandleFunc("/accounts/{id}/assets", s.handleListAssets).Methods("GET")
	api.HandleFunc("/accounts/{id}/performance", s.handlePerformance).Methods("GET")
	api.HandleFunc("/accounts/{id}/dca/{asset}", s.handleDCA).Methods("GET")
	api.HandleFunc("/accounts/{id}/fiscal/{year}", s.handleFiscalReport).Methods("GET")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "portfolio-ledger",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.GetGlobalLogger().WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.GetGlobalLogger().Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
