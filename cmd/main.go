package main

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/fx"

	"logstream-server/config"
	"logstream-server/internal/metrics"
	"logstream-server/internal/server"
	"logstream-server/internal/sink"
	"logstream-server/internal/storage"
)

func main() {
	var wg sync.WaitGroup

	app := fx.New(
		// Core Dependencies
		fx.Provide(
			NewConfig,
		),
		// Infrastructure Dependencies
		fx.Provide(
			sink.FromConfig,
			storage.NewEngine,
			storage.NewRotator,
			server.NewListener,
			server.New,
			metrics.NewServer,
		),
		fx.Invoke(
			RegisterMetricsServer,
			func(lc fx.Lifecycle, srv *server.Server) {
				startServer(lc, &wg, srv)
			},
		),
	)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 15*time.Second) // Timeout for startup
	defer cancelStart()
	if err := app.Start(startCtx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}
	<-app.Done()

	// Initiate shutdown
	stopCtx, cancelStop := context.WithTimeout(context.Background(), 30*time.Second) // Timeout for graceful shutdown
	defer cancelStop()
	log.Info().Msg("Shutting down application...")
	if err := app.Stop(stopCtx); err != nil {
		log.Error().Err(err).Msg("Forced shutdown due to error or timeout")
	}

	// Wait for background goroutines (listener, rotation scan) to finish
	log.Info().Msg("Waiting for background goroutines to finish...")
	wg.Wait()
	log.Info().Msg("All background processes finished. Exiting.")
}

func NewConfig() (*config.Config, error) {
	return config.NewConfig()
}

// --- Invoker Functions ---

func RegisterMetricsServer(lc fx.Lifecycle, srv *metrics.Server) {
	if srv == nil {
		log.Info().Msg("Metrics endpoint disabled, skipping registration.")
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			srv.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

// startServer runs the ingestion coordinator in a goroutine managed by the fx
// lifecycle. Cancelling the context is the shutdown broadcast: the listener
// stops accepting and the rotation scan exits on the same signal.
func startServer(lc fx.Lifecycle, wg *sync.WaitGroup, srv *server.Server) {
	wg.Add(1)
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info().Msg("Starting ingestion server goroutine")
			go func() {
				defer wg.Done()
				if err := srv.Run(ctx); err != nil {
					log.Error().Err(err).Msg("Ingestion server terminated with error")
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			log.Info().Msg("Signaling ingestion server to stop...")
			cancel()
			return nil // Return immediately, main WaitGroup handles the actual wait
		},
	})
}
