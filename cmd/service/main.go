package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sony/gobreaker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-lookup-service/internal/client"
	"github.com/kjstillabower/weather-lookup-service/internal/config"
	httphandler "github.com/kjstillabower/weather-lookup-service/internal/http"
	"github.com/kjstillabower/weather-lookup-service/internal/observability"
	"github.com/kjstillabower/weather-lookup-service/internal/service"
	"github.com/kjstillabower/weather-lookup-service/internal/store"
	"github.com/kjstillabower/weather-lookup-service/internal/traffic"
)

type options struct {
	configDir string
	envName   string
	port      string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "weather-lookup-service",
		Short:        "Store a weather snapshot per request and serve it back by id",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(opts)
		},
	}
	root.Flags().StringVar(&opts.configDir, "config-dir", "", "directory holding {env}.yaml and secrets.yaml (default ./config)")
	root.Flags().StringVar(&opts.envName, "env", "", "environment name, overrides ENV_NAME")
	root.Flags().StringVar(&opts.port, "port", "", "listen port, overrides PORT and config")
	return root
}

func loadConfig(opts *options) (*config.Config, error) {
	if opts.envName != "" {
		if err := os.Setenv("ENV_NAME", opts.envName); err != nil {
			return nil, fmt.Errorf("set ENV_NAME: %w", err)
		}
	}
	cfg, err := config.Load(opts.configDir)
	if err != nil {
		return nil, err
	}
	if opts.port != "" {
		cfg.ServerPort = opts.port
	}
	return cfg, nil
}

// newStore builds the configured record store. closer and ping are nil for in_memory.
func newStore(cfg *config.Config, logger *zap.Logger) (store.Store, func() error, func() error, error) {
	switch cfg.StoreBackend {
	case "memcached":
		mc, err := store.NewMemcachedStore(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("memcached store: %w", err)
		}
		logger.Info("store backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
		return mc, mc.Close, mc.Ping, nil
	default:
		mem := store.NewInMemoryStore()
		observability.RegisterStoreSizeGauge(mem.Len)
		logger.Info("store backend: in_memory")
		return mem, nil, nil, nil
	}
}

func newWeatherClient(cfg *config.Config, logger *zap.Logger) (*client.WeatherstackClient, error) {
	weatherClient, err := client.NewWeatherstackClient(cfg.WeatherAPIKey, cfg.WeatherAPIURL, cfg.WeatherAPITimeout)
	if err != nil {
		return nil, fmt.Errorf("weather client: %w", err)
	}
	if !weatherClient.HasAPIKey() {
		logger.Warn("WEATHER_API_KEY not set; POST /weather will return 500 until it is configured")
	}

	if cfg.CircuitBreakerEnabled {
		threshold := uint32(cfg.CircuitBreakerFailureThreshold)
		weatherClient.SetCircuitBreaker(gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "weather_api",
			Timeout: cfg.CircuitBreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				observability.RecordCircuitBreakerTransition(name, from.String(), to.String())
				logger.Warn("circuit breaker state change",
					zap.String("component", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}))
		observability.CircuitBreakerState.WithLabelValues("weather_api").Set(0)
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}
	return weatherClient, nil
}

func serve(opts *options) error {
	logger, err := observability.NewLogger()
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := loadConfig(opts)
	if err != nil {
		logger.Error("config", zap.Error(err))
		return err
	}

	weatherClient, err := newWeatherClient(cfg, logger)
	if err != nil {
		return err
	}

	recordStore, storeCloser, storePing, err := newStore(cfg, logger)
	if err != nil {
		return err
	}

	tracker := traffic.NewTracker(cfg.DegradedWindow)
	weatherService := service.NewWeatherRequestService(weatherClient, recordStore, tracker)

	handler := httphandler.NewHandler(weatherService, &httphandler.HealthConfig{
		APIKeyConfigured: weatherClient.HasAPIKey(),
		StorePing:        storePing,
		Tracker:          tracker,
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
	}, logger)

	inFlight := &httphandler.InFlightTracker{}
	srv := &http.Server{
		Addr: ":" + cfg.ServerPort,
		Handler: httphandler.NewRouter(handler, httphandler.RouterConfig{
			Logger:         logger,
			AllowedOrigins: cfg.CORSAllowedOrigins,
			InFlight:       inFlight,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.Strings("cors_allowed_origins", cfg.CORSAllowedOrigins))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		logger.Error("server", zap.Error(err))
		return err
	}
	stop()

	logger.Info("graceful shutdown triggered")
	handler.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight.Count()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := inFlight.WaitForZero(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", inFlight.Count()))
	}

	if storeCloser != nil {
		if err := storeCloser(); err != nil {
			logger.Error("store close", zap.Error(err))
		}
	}

	logger.Info("shutdown complete")
	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry flush: %v\n", err)
	}
	return nil
}
