package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/fleetgate/api-gateway/internal/config"
	"github.com/fleetgate/api-gateway/internal/lifecycle"
	"github.com/fleetgate/api-gateway/internal/loadbalancer"
	"github.com/fleetgate/api-gateway/internal/logger"
	"github.com/fleetgate/api-gateway/internal/metrics"
	"github.com/fleetgate/api-gateway/internal/proxy"
	"github.com/fleetgate/api-gateway/internal/ratelimit"
	"github.com/fleetgate/api-gateway/internal/registry"
	"github.com/fleetgate/api-gateway/internal/retry"
	"github.com/fleetgate/api-gateway/internal/router"
	"github.com/fleetgate/api-gateway/internal/sentry"
	"github.com/fleetgate/api-gateway/internal/tracing"
)

func main() {
	log := logger.InitLogger()

	if err := sentry.InitSentry(); err != nil {
		log.WithError(err).Warn("failed to initialize Sentry - continuing without error reporting")
	}
	defer sentry.Flush(2 * time.Second)

	cleanupTracing, err := tracing.InitTracing("api-gateway")
	if err != nil {
		log.WithError(err).Warn("failed to initialize tracing - continuing without distributed tracing")
	} else {
		defer cleanupTracing()
	}

	cfg := config.LoadConfigFromEnv()

	registryClient := registry.New(registry.Config{
		BaseURL:         cfg.RegistryURL,
		RegistrationKey: cfg.RegistrationKey,
		HealthPath:      cfg.RegistryHealthPath,
	}, log)

	retryPolicy := retry.NewPolicy(cfg.RetryConfig())
	balancer := loadbalancer.New(loadbalancer.ParseStrategy(cfg.LoadBalancerStrategy))

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctrl := lifecycle.New(cfg, registryClient, retryPolicy, server, log)
	ctrl.OnStatusChange(func(old, new lifecycle.GatewayStatus) {
		metrics.SetGatewayStatus(int(new))
	})

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctrl.AddHealthChecker("redis", lifecycle.NewRedisHealthChecker(redisClient))
	}
	if cfg.DependencyHealthURL != "" {
		checker := lifecycle.NewHTTPServiceHealthChecker(cfg.DependencyHealthName, cfg.DependencyHealthURL).
			SetTimeout(5 * time.Second).
			SetRetries(2)
		ctrl.AddHealthChecker(cfg.DependencyHealthName, checker)
	}

	engine := proxy.New(ctrl, registryClient, balancer, retryPolicy, proxy.Config{
		RequestTimeout: cfg.RequestTimeout,
		TotalTimeout:   cfg.TotalRequestTimeout,
	}, log)

	gin.SetMode(ginModeFor(cfg.Environment))
	r := gin.New()
	r.SetTrustedProxies(nil)

	r.Use(sentry.GinSentryMiddleware())
	r.Use(tracing.GinMiddleware("api-gateway"))
	r.Use(logger.CorrelationIDMiddleware())
	r.Use(metrics.PrometheusMiddleware())
	r.Use(logger.StructuredLoggingMiddleware())
	if redisClient != nil {
		limiter := ratelimit.New(ratelimit.Config{RedisClient: redisClient, DefaultLimit: 100, DefaultWindow: time.Minute, BurstLimit: 20})
		r.Use(ratelimit.Middleware(limiter))
	}
	r.Use(gin.Recovery())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health/live", ctrl.CreateLivenessHandler())
	r.GET("/health/ready", ctrl.CreateReadinessHandler())
	r.GET("/health/detailed", ctrl.CreateHealthHandler())

	router.Register(r, engine)

	server.Handler = r

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()
	if err := ctrl.Start(startCtx); err != nil {
		log.WithError(err).Fatal("failed to start gateway lifecycle controller")
	}

	go func() {
		log.WithField("port", cfg.Port).Info("api gateway starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("api gateway server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("shutdown signal received")
	case <-ctrl.Terminated():
		log.Warn("gateway liveness controller raised a termination signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := ctrl.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("error during graceful shutdown")
	}
	if redisClient != nil {
		redisClient.Close()
	}

	log.Info("api gateway stopped")
}

func ginModeFor(environment string) string {
	if environment == "production" {
		return gin.ReleaseMode
	}
	return gin.DebugMode
}
