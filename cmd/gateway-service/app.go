package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/antirek/chatapp-sub000/internal/config"
	"github.com/antirek/chatapp-sub000/internal/constants"
	"github.com/antirek/chatapp-sub000/internal/directory"
	"github.com/antirek/chatapp-sub000/internal/gateway"
	"github.com/antirek/chatapp-sub000/internal/logger"
	"github.com/antirek/chatapp-sub000/internal/subscription"
	"github.com/antirek/chatapp-sub000/pkg/bootstrap"
	"github.com/antirek/chatapp-sub000/pkg/cache"
	"github.com/antirek/chatapp-sub000/pkg/health"
	"github.com/antirek/chatapp-sub000/pkg/metrics"
	"github.com/antirek/chatapp-sub000/pkg/ratelimit"
	"github.com/antirek/chatapp-sub000/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	redis          *redis.Client
	subs           *subscription.Manager
	hub            *gateway.Hub
	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("gateway-service")
	}
	return &App{
		Base: bootstrap.NewBase(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	rdb, err := bootstrap.InitRedis(ctx, a.Config.Redis, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	a.redis = rdb

	if err := a.InitBus(ctx); err != nil {
		return fmt.Errorf("failed to initialize bus: %w", err)
	}

	tp, err := tracing.Init(a.Config.Tracing, "gateway-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterBrokerMetrics()
	metrics.RegisterGatewayMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	dir := directory.NewClient(a.Config.Directory,
		bootstrap.NewBreaker("directory", a.Config.CircuitBreaker), a.Logger)
	a.subs = subscription.NewManager(a.Bus, dir,
		a.Config.Broker.RabbitMQ.QueueTTL, a.Config.Broker.RabbitMQ.QueueExpiry, a.Logger)

	names := cache.NewTTL(a.Config.Gateway.TypingCacheTTL, a.Config.Gateway.TypingCacheSize)
	a.hub = gateway.NewHub(a.subs, dir, names, a.Logger)

	return a.initHTTPServer()
}

func (a *App) initHTTPServer() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	if a.Config.Gateway.RateLimit.Enabled {
		limits := ratelimit.DefaultConfig()
		limits.RPS = a.Config.Gateway.RateLimit.RPS
		limits.Burst = a.Config.Gateway.RateLimit.Burst
		router.Use(ratelimit.Middleware(limits))
	}

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewRedisChecker(a.redis))
	healthRegistry.Register(health.NewBusChecker(a.Bus))

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	sessions := gateway.NewRedisSessions(a.redis, a.Config.Gateway.SessionPrefix)
	sendBuffer := a.Config.Gateway.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = constants.DefaultSendBuffer
	}
	gateway.NewServer(a.hub, a.subs, sessions, sendBuffer, a.Logger).Register(router)

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeoutSeconds * time.Second,
		WriteTimeout: a.Config.Server.WriteTimeoutSeconds * time.Second,
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
		if a.redis != nil {
			if err := a.redis.Close(); err != nil {
				errs = append(errs, fmt.Errorf("redis close error: %w", err))
			}
		}

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
