package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"quizgen/internal/bootstrap"
	"quizgen/internal/events"
	"quizgen/internal/http/handlers"
	httpapi "quizgen/internal/http/httpapi"
	"quizgen/internal/infra"
	"quizgen/internal/worker"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)
	if cfg.JWTSecret == "" {
		logger.Fatal().Msg("api: JWT_SECRET is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to initialise dependencies")
	}
	defer components.Close()

	hub := events.NewHub(logger)
	go hub.Run(ctx)

	svc := components.Service(cfg, hub, logger)

	// In-process generation engine; jobs it never picks up are recovered by cmd/worker.
	processor := worker.NewProcessor(svc, components.Documents, components.Generator, logger)
	pool := worker.NewPool(processor, cfg.WorkerConcurrency, cfg.WorkerQueueSize, logger)
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	pool.Start(workerCtx)
	svc.SetDispatcher(pool)

	app := handlers.NewApp(svc, hub, logger)
	app.Ping = components.Ping
	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:       cfg.JWTSecret,
		RateLimitPerMin: cfg.RateLimitPerMin,
		AllowedOrigins:  cfg.AllowedOrigins,
		DefaultLocale:   cfg.DefaultLocale,
		Logger:          logger,
	})

	server := infra.NewHTTPServer(cfg, router, logger)
	go func() {
		logger.Info().Str("addr", server.Addr()).Msg("api: listening")
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	// Running jobs fail and release their reservations when the workers stop.
	stopWorkers()
	pool.Wait()
	logger.Info().Msg("server stopped")
}
