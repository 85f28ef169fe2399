// Package server exposes the operator API: starting, watching and cancelling
// migration runs, repairing single records and reading engine statistics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/justiceops/recordsync/internal/history"
	"github.com/justiceops/recordsync/internal/migrate"
	"github.com/justiceops/recordsync/internal/telemetry"
)

// Server is the operator-facing HTTP API.
type Server struct {
	engine    *migrate.Engine
	ledger    history.Ledger
	collector *telemetry.Collector
	recorder  *telemetry.Recorder
	jwtSecret []byte
	logger    *slog.Logger
	version   string
}

// New wires the operator API. recorder may be nil; the event stream endpoint
// then reports unavailable.
func New(
	engine *migrate.Engine,
	ledger history.Ledger,
	collector *telemetry.Collector,
	recorder *telemetry.Recorder,
	jwtSecret string,
	version string,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:    engine,
		ledger:    ledger,
		collector: collector,
		recorder:  recorder,
		jwtSecret: []byte(jwtSecret),
		logger:    logger,
		version:   version,
	}
}

// Router builds the gin engine with all routes and middleware installed.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(s.logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", s.health)

	api := r.Group("/api/v1")
	api.Use(Auth(s.jwtSecret))
	{
		api.POST("/migrations", RequireScope(ScopeWrite), s.startMigration)
		api.GET("/migrations", RequireScope(ScopeRead), s.listMigrations)
		api.GET("/migrations/active", RequireScope(ScopeRead), s.activeMigrations)
		api.GET("/migrations/:id", RequireScope(ScopeRead), s.getMigration)
		api.POST("/migrations/:id/cancel", RequireScope(ScopeWrite), s.cancelMigration)
		api.GET("/migrations/:id/events", RequireScope(ScopeRead), s.streamEvents)
		api.POST("/records/:type/:sourceId/refresh", RequireScope(ScopeAdmin), s.refreshRecord)
		api.GET("/stats", RequireScope(ScopeRead), s.stats)
	}
	return r
}

// Run serves the API until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("operator api listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.version})
}
