// Package statusapi exposes the state of a held lock over HTTP.
package statusapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/kneutral-org/deadbolt/internal/logging"
	"github.com/kneutral-org/deadbolt/internal/metrics"
)

// Source is the read-only view of a lock session the API reports on.
type Source interface {
	LockID() int64
	Host() string
	Port() uint16
	Database() string
	User() (string, bool)
	IsLocked() bool
}

// StatusResponse is the body of GET /status. It never carries the password.
type StatusResponse struct {
	LockID   int64  `json:"lockId"`
	Host     string `json:"host"`
	Port     uint16 `json:"port"`
	Database string `json:"database"`
	User     string `json:"user,omitempty"`
	IsLocked bool   `json:"isLocked"`
}

// NewRouter builds the status router: /health, /ready, /status and /metrics.
// /ready answers 200 only while the lock is held.
func NewRouter(logger zerolog.Logger, src Source) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.RequestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	router.GET("/ready", func(c *gin.Context) {
		if !src.IsLocked() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "waiting"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "locked"})
	})

	router.GET("/status", func(c *gin.Context) {
		user, _ := src.User()
		c.JSON(http.StatusOK, StatusResponse{
			LockID:   src.LockID(),
			Host:     src.Host(),
			Port:     src.Port(),
			Database: src.Database(),
			User:     user,
			IsLocked: src.IsLocked(),
		})
	})

	metrics.RegisterMetricsEndpoint(router)

	return router
}

// Server runs the status router.
type Server struct {
	srv    *http.Server
	logger zerolog.Logger
}

// NewServer creates a server for handler on addr.
func NewServer(addr string, handler http.Handler, logger zerolog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}

	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("starting status server")
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("status server failed")
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
