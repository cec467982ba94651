// Command maestrod runs the orchestration engine behind an HTTP API. It loads
// provider credentials from the environment (optionally a .env file), wires
// every known backend into the registry and serves until SIGINT/SIGTERM.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/praxisml/maestro/config"
	"github.com/praxisml/maestro/logging"
	"github.com/praxisml/maestro/orchestrator"
	"github.com/praxisml/maestro/server"
)

func main() {
	// A missing .env file is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg := config.FromEnv()
	logger, err := logging.NewDefaultLogger(cfg.LogLevel, cfg.LogPretty)
	if err != nil {
		log.Panicf("failed to initialize logger: %v", err)
	}

	registry := cfg.BuildRegistry(logger)
	orch := orchestrator.New(registry, func(o *orchestrator.Options) {
		o.Logger = logger
	})

	requestLogger := logger.Zerolog().With().Str("component", "http").Logger()
	app := server.New(registry, orch, func(o *server.Options) {
		o.Addr = cfg.Addr
		o.RequestLogger = &requestLogger
		o.Logger = logger
	})

	go func() {
		if err := app.Start(); err != nil {
			logger.Error("server crash: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	stop()
	logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Stop(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown: %v", err)
	}
	orch.Cleanup()
	logger.Info("server exiting")
}
