// Package server wires the storage engine, rotation scan and unix-socket
// listener together under one shutdown signal.
package server

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"logstream-server/config"
	"logstream-server/internal/storage"
)

// Server is the ingestion coordinator. It owns the listener and the rotation
// scan and broadcasts a single cancellation to both.
type Server struct {
	cfg      *config.Config
	engine   *storage.Engine
	rotator  *storage.Rotator
	listener *Listener
}

// New validates the configuration and prepares the output directory before
// any producer can connect. Per-daemon files themselves are created lazily by
// the engine on first write.
func New(cfg *config.Config, engine *storage.Engine, rotator *storage.Rotator, listener *Listener) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Backends.File.Enabled {
		if err := os.MkdirAll(cfg.Storage.OutputDirectory, 0o755); err != nil {
			return nil, fmt.Errorf("server: create output directory: %w", err)
		}
	}
	return &Server{cfg: cfg, engine: engine, rotator: rotator, listener: listener}, nil
}

// Run blocks serving connections until ctx is cancelled or the listener fails
// fatally. The rotation scan always stops on the same signal; no periodic
// task outlives the listener.
func (s *Server) Run(ctx context.Context) error {
	if err := s.rotator.Start(); err != nil {
		return err
	}
	defer s.rotator.Stop()

	err := s.listener.Run(ctx)

	if closeErr := s.engine.Close(); closeErr != nil {
		log.Error().Err(closeErr).Msg("Error closing storage engine")
	}
	return err
}
