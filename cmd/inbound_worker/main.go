package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/whatsgate/golang_services/internal/bootstrap"
	msgapp "github.com/whatsgate/golang_services/internal/messaging_service/app"
	"github.com/whatsgate/golang_services/internal/platform/config"
	"github.com/whatsgate/golang_services/internal/platform/database"
	"github.com/whatsgate/golang_services/internal/platform/effects"
	"github.com/whatsgate/golang_services/internal/platform/logger"
	"github.com/whatsgate/golang_services/internal/platform/messagebroker"
)

const (
	serviceName        = "inbound-worker"
	defaultMetricsPort = 9101
	shutdownTimeout    = 10 * time.Second
)

func main() {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}
	appLogger := logger.New(cfg.LogLevel, cfg.LogFormat).With("service", serviceName)

	metricsPort := cfg.MetricsPort
	if metricsPort == 0 {
		metricsPort = defaultMetricsPort
		appLogger.Info("Metrics port not configured, using default", "port", metricsPort)
	}
	appLogger.Info("Configuration loaded",
		"log_level", cfg.LogLevel,
		"nats_url", cfg.NATSUrl,
		"inbound_subject", cfg.InboundSubject,
		"queue_group", cfg.InboundQueueGroup,
		"workers", cfg.InboundWorkers,
		"metrics_port", metricsPort,
	)

	dbPool, err := database.NewDBPool(mainCtx, cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("Failed to initialize database connection pool", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	nc, err := messagebroker.NewNATSClient(cfg.NATSUrl, serviceName, appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer nc.Close()

	providers, err := bootstrap.ProviderRegistry(cfg, appLogger)
	if err != nil {
		appLogger.Error("Invalid provider configuration", "error", err)
		os.Exit(1)
	}
	directory, closeCache := bootstrap.Directory(mainCtx, cfg, dbPool, appLogger)
	defer closeCache()
	ledger := bootstrap.Ledger(cfg, dbPool, appLogger)

	runner := effects.NewRunner(cfg.EffectWorkers, cfg.EffectQueueSize, cfg.OutboundTimeout, appLogger)
	sender := bootstrap.OutboundSender(cfg, providers, dbPool, appLogger)
	escalator := msgapp.NewEscalator(nc, bootstrap.Alerter(cfg, appLogger), appLogger)
	orchestrator := bootstrap.Orchestrator(dbPool, providers, directory, ledger, sender, escalator, runner, appLogger)

	consumer := msgapp.NewInboundConsumer(nc, orchestrator, cfg.InboundSubject, cfg.InboundQueueGroup,
		cfg.InboundWorkers, cfg.OutboundTimeout*3, appLogger)
	monitor := msgapp.NewStatusMonitor(directory, providers, cfg.StatusPollInterval, cfg.OutboundTimeout, appLogger)

	g, groupCtx := errgroup.WithContext(mainCtx)

	// The runner stops only after the consumer has finished its in-flight
	// envelopes, so their effects are still accepted and drained.
	runnerCtx, stopRunner := context.WithCancel(context.Background())
	defer stopRunner()
	g.Go(func() error {
		return runner.Start(runnerCtx)
	})
	g.Go(func() error {
		defer stopRunner()
		appLogger.Info("Starting inbound consumer", "subject", cfg.InboundSubject+".*", "queue_group", cfg.InboundQueueGroup)
		return consumer.Run(groupCtx)
	})
	g.Go(func() error {
		return monitor.Run(groupCtx)
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", metricsPort),
		Handler: metricsMux,
	}
	g.Go(func() error {
		appLogger.Info("Metrics HTTP server starting", "address", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	appLogger.Info("Inbound worker is ready.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var groupErr error
	select {
	case sig := <-sigCh:
		appLogger.Info("Received termination signal", "signal", sig.String())
	case groupErr = <-watchGroup(g):
		appLogger.Error("A critical component failed, initiating shutdown", "error", groupErr)
	}

	mainCancel()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Error during graceful shutdown of components", "error", err)
	}
	appLogger.Info("Service shutdown complete.")
}

// watchGroup reports the first error (or nil) once every goroutine in g has
// returned.
func watchGroup(g *errgroup.Group) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- g.Wait()
	}()
	return errCh
}
