// Package metrics exposes the engine's counters over a small local HTTP
// endpoint. It is entirely optional and off by default.
package metrics

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"logstream-server/config"
	"logstream-server/internal/storage"
)

type Server struct {
	http *http.Server
}

// NewServer builds the metrics endpoint. Returns nil when metrics are
// disabled; callers skip registration in that case.
func NewServer(cfg *config.Config, engine *storage.Engine) *Server {
	if !cfg.Metrics.Enabled {
		return nil
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET(cfg.Metrics.Path, func(c *gin.Context) {
		c.JSON(http.StatusOK, engine.Stats())
	})

	return &Server{
		http: &http.Server{
			Addr:    ":" + cfg.Metrics.Port,
			Handler: r,
		},
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) Start() {
	log.Info().Str("addr", s.http.Addr).Msg("Starting metrics HTTP server")
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics HTTP server error")
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down metrics HTTP server...")
	return s.http.Shutdown(ctx)
}
