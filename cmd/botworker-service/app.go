package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/antirek/chatapp-sub000/internal/botworker"
	"github.com/antirek/chatapp-sub000/internal/config"
	"github.com/antirek/chatapp-sub000/internal/constants"
	"github.com/antirek/chatapp-sub000/internal/directory"
	"github.com/antirek/chatapp-sub000/internal/logger"
	"github.com/antirek/chatapp-sub000/pkg/bootstrap"
	"github.com/antirek/chatapp-sub000/pkg/health"
	"github.com/antirek/chatapp-sub000/pkg/metrics"
	"github.com/antirek/chatapp-sub000/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	worker         *botworker.Worker
	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("botworker-service")
	}
	return &App{
		Base: bootstrap.NewBase(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.InitBus(ctx); err != nil {
		return fmt.Errorf("failed to initialize bus: %w", err)
	}

	tp, err := tracing.Init(a.Config.Tracing, "botworker-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterBrokerMetrics()
	metrics.RegisterBotWorkerMetrics()
	metrics.RegisterDedupMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	dir := directory.NewClient(a.Config.Directory,
		bootstrap.NewBreaker("directory", a.Config.CircuitBreaker), a.Logger)

	worker, err := botworker.NewWorker(a.Bus, dir, a.Config.BotWorker, a.Config.Bots,
		a.Config.Broker.RabbitMQ.QueueTTL, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to build bot registry: %w", err)
	}
	a.worker = worker

	return a.initHTTPServer()
}

func (a *App) initHTTPServer() error {
	mux := http.NewServeMux()

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewBusChecker(a.Bus))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := healthRegistry.Check(r.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		fmt.Fprintf(w, `{"status":"%s","timestamp":"%s"}`, h.Status, h.Timestamp.Format(time.RFC3339))
	})

	mux.Handle("/metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler: mux,
	}

	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(gCtx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.Logger.InfowCtx(gCtx, "Starting bot dispatch consumer",
			"queue", a.Config.BotWorker.Queue, "bots", a.worker.Bots())
		if err := a.worker.Start(gCtx); err != nil {
			return fmt.Errorf("failed to start bot consumer: %w", err)
		}
		<-gCtx.Done()
		return gCtx.Err()
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer shutdown error: %w", err))
			}
		}

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
