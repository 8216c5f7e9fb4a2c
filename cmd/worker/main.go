package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"quizgen/internal/bootstrap"
	"quizgen/internal/infra"
	"quizgen/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to initialise dependencies")
	}
	defer components.Close()

	// Updates from this process are not pushed to websocket clients; they see
	// the new state on their next status request.
	svc := components.Service(cfg, nil, logger)
	processor := worker.NewProcessor(svc, components.Documents, components.Generator, logger)

	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerConcurrency; i++ {
		poller := worker.NewPoller(components.Jobs, processor, cfg.WorkerPollInterval, cfg.WorkerStaleAfter,
			logger.With().Int("poller", i).Logger())
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("worker: poller stopped with error")
			}
		}()
	}
	wg.Wait()
	logger.Info().Msg("worker: stopped")
}
