// Path: cmd/daemon/main.go
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"push-broker/internal/config"
	"push-broker/internal/delivery/rest"
	"push-broker/internal/events"
	"push-broker/internal/logger"
	"push-broker/internal/metrics"
	"push-broker/internal/service"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("daemon exited with error", logger.Error(err))
		os.Exit(1)
	}
}

func run() error {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(
		logger.WithLevel(cfg.Log.Level),
		logger.WithFormat(cfg.Log.Format),
		logger.WithAttr(slog.String("service", "push-broker")),
	)
	slog.SetDefault(log)

	// 2. Setup Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Connect the registry backend
	log.Info("connecting registry", slog.String("backend", cfg.Registry.Backend))
	reg, err := openRegistry(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer reg.close()

	// 4. Initialize Components
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	broker, err := events.NewBroker(reg.store, cfg.Broker,
		events.WithLogger(log),
		events.WithMetrics(metrics.MustNewMetrics(promReg)),
	)
	if err != nil {
		return err
	}
	producer := service.NewService(broker, service.WithLogger(log))

	// 5. Start the heartbeat loop
	if err := broker.Start(ctx); err != nil {
		return err
	}

	// 6. Initialize and Start The API Server
	handler := rest.NewRouter(cfg.Server, cfg.Producer, rest.Deps{
		Broker:   broker,
		Service:  producer,
		Gatherer: promReg,
		Health:   reg.health,
		Logger:   log,
	})
	apiServer := rest.NewServer(cfg.Server.Port, handler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("API server starting", slog.String("port", cfg.Server.Port))
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// 7. Wait for shutdown signal or a failed server
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Closing the channels first ends every open stream handler, which
		// http.Server.Shutdown would otherwise wait on. Streams opened after
		// this point are refused with 503 until the listener closes.
		apiServer.DisableKeepAlives()
		broker.Shutdown(shutdownCtx)
		if err := apiServer.Stop(shutdownCtx); err != nil {
			log.Error("error during API server shutdown", logger.Error(err))
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server shut down successfully")
	return nil
}
