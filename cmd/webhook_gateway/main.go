package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	grpcprom "github.com/grpc-ecosystem/go-grpc-middleware/providers/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	gRPC "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/whatsgate/golang_services/internal/bootstrap"
	msghttp "github.com/whatsgate/golang_services/internal/messaging_service/adapters/http"
	msgapp "github.com/whatsgate/golang_services/internal/messaging_service/app"
	payhttp "github.com/whatsgate/golang_services/internal/payment_service/adapters/http"
	payapp "github.com/whatsgate/golang_services/internal/payment_service/app"
	paypg "github.com/whatsgate/golang_services/internal/payment_service/repository/postgres"
	"github.com/whatsgate/golang_services/internal/platform/config"
	"github.com/whatsgate/golang_services/internal/platform/database"
	"github.com/whatsgate/golang_services/internal/platform/effects"
	"github.com/whatsgate/golang_services/internal/platform/httpmw"
	"github.com/whatsgate/golang_services/internal/platform/logger"
	"github.com/whatsgate/golang_services/internal/platform/messagebroker"
	dirhttp "github.com/whatsgate/golang_services/internal/tenant_directory/adapters/http"
	ledgerhttp "github.com/whatsgate/golang_services/internal/webhook_ledger/adapters/http"
)

const (
	serviceName         = "webhook-gateway"
	defaultMetricsPort  = 9100
	shutdownTimeout     = 15 * time.Second
	healthCheckInterval = 10 * time.Second
)

func main() {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	appLogger := logger.New(cfg.LogLevel, cfg.LogFormat).With("service", serviceName)

	metricsPort := cfg.MetricsPort
	if metricsPort == 0 {
		metricsPort = defaultMetricsPort
		appLogger.Info("Metrics port not configured, using default", "port", metricsPort)
	}
	appLogger.Info("Webhook gateway starting...",
		"http_port", cfg.GatewayHTTPPort,
		"grpc_port", cfg.GatewayGRPCPort,
		"metrics_port", metricsPort,
		"inbound_dispatch", cfg.InboundDispatch,
	)

	dbPool, err := database.NewDBPool(mainCtx, cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	natsClient, err := messagebroker.NewNATSClient(cfg.NATSUrl, serviceName, appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()

	directory, closeCache := bootstrap.Directory(mainCtx, cfg, dbPool, appLogger)
	defer closeCache()
	ledger := bootstrap.Ledger(cfg, dbPool, appLogger)
	alerter := bootstrap.Alerter(cfg, appLogger)

	verifier, err := bootstrap.SignatureRegistry(cfg)
	if err != nil {
		appLogger.Error("Invalid webhook secret configuration", "error", err)
		os.Exit(1)
	}
	providers, err := bootstrap.ProviderRegistry(cfg, appLogger)
	if err != nil {
		appLogger.Error("Invalid provider configuration", "error", err)
		os.Exit(1)
	}

	runner := effects.NewRunner(cfg.EffectWorkers, cfg.EffectQueueSize, cfg.OutboundTimeout, appLogger)
	sender := bootstrap.OutboundSender(cfg, providers, dbPool, appLogger)

	var dispatcher msgapp.InboundDispatcher
	switch cfg.InboundDispatch {
	case "inline":
		escalator := msgapp.NewEscalator(natsClient, alerter, appLogger)
		orchestrator := bootstrap.Orchestrator(dbPool, providers, directory, ledger, sender, escalator, runner, appLogger)
		dispatcher = msgapp.NewInlineDispatcher(runner, orchestrator)
	default:
		dispatcher = msgapp.NewNATSDispatcher(natsClient, cfg.InboundSubject)
	}

	paymentProcessor := payapp.NewProcessor(payapp.ProcessorDeps{
		Parsers:                bootstrap.PaymentParsers(),
		Verifier:               verifier,
		Ledger:                 ledger,
		Orders:                 paypg.NewPgOrderRepository(dbPool, appLogger),
		Events:                 payapp.NewEventPublisher(natsClient, alerter, appLogger),
		Receipts:               bootstrap.ReceiptBridge{Notifier: msgapp.NewPaymentReceiptNotifier(directory, sender, appLogger)},
		Effects:                runner,
		Logger:                 appLogger,
		MaxOrderLookupAttempts: cfg.PaymentMaxOrderLookupAttempts,
	})

	g, groupCtx := errgroup.WithContext(mainCtx)

	// The runner outlives the group context: it is stopped only once the
	// HTTP server has finished the requests that enqueue effects.
	runnerCtx, stopRunner := context.WithCancel(context.Background())
	defer stopRunner()
	g.Go(func() error {
		return runner.Start(runnerCtx)
	})

	// --- gRPC health server ---
	grpcMetrics := grpcprom.NewServerMetrics(grpcprom.WithServerHandlingTimeHistogram())
	if err := prometheus.DefaultRegisterer.Register(grpcMetrics); err != nil {
		appLogger.Warn("Failed to register gRPC Prometheus metrics", "error", err)
	}
	grpcServer := gRPC.NewServer(
		gRPC.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		gRPC.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	grpcListenAddress := fmt.Sprintf(":%d", cfg.GatewayGRPCPort)
	grpcListener, err := net.Listen("tcp", grpcListenAddress)
	if err != nil {
		appLogger.Error("Failed to listen for gRPC", "address", grpcListenAddress, "error", err)
		os.Exit(1)
	}

	g.Go(func() error {
		appLogger.Info("gRPC health server starting", "address", grpcListenAddress)
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, gRPC.ErrServerStopped) {
			appLogger.Error("gRPC server failed to serve", "error", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(healthCheckInterval)
		defer ticker.Stop()
		for {
			status := healthpb.HealthCheckResponse_SERVING
			if err := dbPool.Ping(groupCtx); err != nil || !natsClient.IsConnected() {
				status = healthpb.HealthCheckResponse_NOT_SERVING
			}
			healthServer.SetServingStatus("", status)
			select {
			case <-groupCtx.Done():
				healthServer.Shutdown()
				return nil
			case <-ticker.C:
			}
		}
	})

	// --- HTTP server for provider webhooks and admin ---
	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.Recoverer)
	router.Use(httpmw.RequestLogger(appLogger))
	router.Use(httpmw.Metrics)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := dbPool.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	msghttp.NewWebhookHandler(providers, verifier, dispatcher, cfg.MetaVerifyToken, appLogger).RegisterRoutes(router)
	payhttp.NewWebhookHandler(paymentProcessor, verifier, appLogger).RegisterRoutes(router)

	router.Route("/admin", func(r chi.Router) {
		r.Use(httpmw.AdminAuth(cfg.AdminJWTSecret, appLogger))
		dirhttp.NewAdminHandler(directory, validator.New(), appLogger).RegisterRoutes(r)
		ledgerhttp.NewLedgerHandler(ledger, appLogger).RegisterRoutes(r)
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.GatewayHTTPPort),
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g.Go(func() error {
		appLogger.Info("HTTP server starting", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("HTTP server ListenAndServe error", "error", err)
			return err
		}
		return nil
	})

	// --- Metrics server ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", metricsPort),
		Handler: metricsMux,
	}

	g.Go(func() error {
		appLogger.Info("Metrics HTTP server starting", "address", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("Metrics HTTP server ListenAndServe error", "error", err)
			return err
		}
		return nil
	})

	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, syscall.SIGINT, syscall.SIGTERM)

	g.Go(func() error {
		select {
		case sig := <-stopSignal:
			appLogger.Info("Received termination signal", "signal", sig.String())
			mainCancel()
		case <-groupCtx.Done():
		}
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		appLogger.Info("Initiating graceful shutdown of servers...")

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()

		var shutdownErrors error
		// Webhooks first, so nothing new is acknowledged while the rest drains.
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("HTTP server graceful shutdown failed", "error", err)
			shutdownErrors = errors.Join(shutdownErrors, fmt.Errorf("http shutdown: %w", err))
		}
		stopRunner()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Metrics HTTP server graceful shutdown failed", "error", err)
			shutdownErrors = errors.Join(shutdownErrors, fmt.Errorf("metrics http shutdown: %w", err))
		}
		grpcServer.GracefulStop()
		appLogger.Info("gRPC server has finished GracefulStop.")
		return shutdownErrors
	})

	appLogger.Info("Webhook gateway is ready and running.")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Service group encountered an error during run/shutdown", "error", err)
	}
	appLogger.Info("Webhook gateway shut down.")
}
