package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"logstream-server/config"
	"logstream-server/internal/storage"
	"logstream-server/pkg/model"
)

// maxLineBytes bounds a single wire record. Lines beyond this abort the
// offending connection rather than the process.
const maxLineBytes = 1 << 20

// Listener accepts producer connections on the unix socket and runs one
// goroutine per connection until the peer disconnects.
type Listener struct {
	cfg    config.ServerConfig
	engine *storage.Engine
}

func NewListener(cfg *config.Config, engine *storage.Engine) *Listener {
	return &Listener{cfg: cfg.Server, engine: engine}
}

// Run binds the socket and accepts until ctx is cancelled. A bind or accept
// failure is fatal to the listener and surfaces to the coordinator. In-flight
// connections are not force-terminated on shutdown; they end when their peer
// disconnects or the process exits.
func (l *Listener) Run(ctx context.Context) error {
	// A stale socket file from a previous run would make the bind fail.
	if err := os.Remove(l.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("server: remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", l.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("server: bind socket %s: %w", l.cfg.SocketPath, err)
	}
	log.Info().Str("socket", l.cfg.SocketPath).Msg("Listening for log producers")
	defer ln.Close()

	// Unblocks Accept on shutdown; the done channel keeps the goroutine from
	// outliving a Run that exits on an accept failure instead.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				log.Info().Msg("Listener stopped accepting connections")
				return nil
			default:
				return fmt.Errorf("server: accept: %w", err)
			}
		}
		go l.handleConnection(ctx, conn)
	}
}

// handleConnection reads newline-delimited JSON records until the peer closes
// the stream. A malformed line is dropped and the connection continues; a
// storage failure terminates this connection only. No response is ever sent.
func (l *Listener) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, l.cfg.BufferSize), maxLineBytes)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entry, err := model.FromJSON(line)
		if err != nil {
			log.Warn().Err(err).Msg("Dropping malformed log line")
			continue
		}
		if err := l.engine.Store(ctx, entry); err != nil {
			log.Error().Err(err).Str("daemon", entry.Daemon).Msg("Failed to store log entry, closing connection")
			return
		}
	}
	if err := scanner.Err(); err != nil {
		log.Debug().Err(err).Msg("Connection read ended with error")
	}
}
