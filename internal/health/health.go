// Package health serves the HTTP health endpoint required by the app
// platform's readiness probing.
package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Server exposes the health endpoint on the configured port.
type Server struct {
	engine  *gin.Engine
	port    int
	started time.Time
}

// New creates a health Server listening on the given port.
func New(port int) (*Server, error) {
	if port <= 0 {
		return nil, fmt.Errorf("health: port is required")
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine:  gin.New(),
		port:    port,
		started: time.Now(),
	}
	s.engine.Use(gin.Recovery())
	s.engine.GET("/healthz", s.healthz)
	return s, nil
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

// Handler returns the underlying HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves the health endpoint until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("health: shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("health: serve: %w", err)
		}
		return nil
	}
}
