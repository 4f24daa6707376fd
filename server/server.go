// Package server exposes the watcher status over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mercari-watcher/metrics"
	"mercari-watcher/services"
	"mercari-watcher/utils"
)

const shutdownTimeout = 5 * time.Second

// CycleReporter reports the last completed cycle.
type CycleReporter interface {
	LastCycle() (services.CycleStatus, bool)
}

// SeenCounter reports the seen store size.
type SeenCounter interface {
	Len() int
}

// DailyCounts reports the counts since the last summary without clearing them.
type DailyCounts interface {
	Snapshot() map[string]int
}

// Deps are the read-only views the status endpoints serve.
type Deps struct {
	Cycles  CycleReporter
	Seen    SeenCounter
	Daily   DailyCounts
	Metrics *metrics.Metrics
}

// Server is the optional status endpoint.
type Server struct {
	router *gin.Engine
	server *http.Server
	logger *utils.Logger
}

// New builds the router and the HTTP server listening on addr.
func New(addr string, deps Deps, logger *utils.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		body := gin.H{
			"status":     "ok",
			"seen_items": deps.Seen.Len(),
		}
		if last, ok := deps.Cycles.LastCycle(); ok {
			body["last_cycle"] = gin.H{
				"finished_at":      last.FinishedAt.Format(time.RFC3339),
				"duration_seconds": last.Duration.Seconds(),
				"items":            last.Items,
				"rate":             last.Rate.Value,
				"rate_source":      last.Rate.Source,
			}
		}
		c.JSON(http.StatusOK, body)
	})

	router.GET("/daily", func(c *gin.Context) {
		counts := deps.Daily.Snapshot()
		total := 0
		for _, n := range counts {
			total += n
		}
		c.JSON(http.StatusOK, gin.H{"counts": counts, "total": total})
	})

	router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	return &Server{
		router: router,
		server: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("[server] Status server listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	s.logger.Info("[server] Status server stopped")
	return nil
}
