package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/pixelmask/internal/api"
	"github.com/dunamismax/pixelmask/internal/config"
	"github.com/dunamismax/pixelmask/internal/fetch"
	"github.com/dunamismax/pixelmask/internal/pipeline"
	"github.com/dunamismax/pixelmask/internal/ratelimit"
	"github.com/dunamismax/pixelmask/internal/storage"
	"github.com/dunamismax/pixelmask/internal/store"
	"github.com/dunamismax/pixelmask/internal/telemetry"
	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "pixelmask-api").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	level, err := zerolog.ParseLevel(cfg.API.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	logger = logger.Level(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  cfg.Tracing.ServiceName,
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("setup tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	if err := pipeline.Startup(); err != nil {
		logger.Fatal().Err(err).Msg("start image backend")
	}
	defer pipeline.Shutdown()

	fetchClient := fetch.NewClient(fetch.Config{
		Timeout:   cfg.Fetch.Timeout,
		MaxBytes:  cfg.Fetch.MaxBytes,
		UserAgent: cfg.Fetch.UserAgent,
	})

	defaultLogo, err := defaultLogoAsset(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("configure default logo")
	}

	metrics := api.NewMetrics()
	processor, err := pipeline.NewProcessor(
		fetchClient,
		pipeline.LogoSources{Remote: fetchClient, Default: defaultLogo},
		pipeline.WithObserver(metrics),
		pipeline.WithMaxPixels(cfg.Fetch.MaxPixels),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("build processor")
	}

	opts := api.Options{
		APIKey:                 cfg.API.Key,
		RateLimitSubjectHeader: cfg.RateLimit.SubjectHeader,
		Metrics:                metrics,
	}
	if cfg.API.Key == "" {
		logger.Warn().Msg("no API key configured, requests are unauthenticated")
	}

	if cfg.Usage.DSN != "" {
		usageStore, err := store.NewPostgresUsageStore(ctx, cfg.Usage.DSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect usage store")
		}
		defer func() {
			if err := usageStore.Close(); err != nil {
				logger.Warn().Err(err).Msg("usage store close failed")
			}
		}()
		opts.UsageStore = usageStore
	}

	if cfg.RateLimit.Enabled {
		limiter, err := ratelimit.Connect(ctx, ratelimit.Config{
			Addr:      cfg.RateLimit.RedisAddr,
			Password:  cfg.RateLimit.RedisPassword,
			DB:        cfg.RateLimit.RedisDB,
			Capacity:  cfg.RateLimit.Capacity,
			Window:    cfg.RateLimit.Window,
			KeyPrefix: cfg.RateLimit.KeyPrefix,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("connect rate limiter")
		}
		defer func() {
			if err := limiter.Close(); err != nil {
				logger.Warn().Err(err).Msg("rate limiter close failed")
			}
		}()
		opts.RateLimiter = limiter
	}

	app := api.NewServer(logger, processor, opts)

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  cfg.API.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.API.Addr).
			Str("backend", pipeline.Backend).
			Str("logo", defaultLogo.Location()).
			Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err, ok := <-serveErr:
		if ok {
			logger.Error().Err(err).Msg("server failed")
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()

	logger.Info().Msg("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func defaultLogoAsset(ctx context.Context, cfg config.Config, logger zerolog.Logger) (pipeline.AssetSource, error) {
	switch cfg.Logo.Source {
	case config.LogoSourceMinio:
		client, err := storage.NewClient(storage.Config{
			Endpoint: cfg.Storage.Endpoint,
			Access:   cfg.Storage.AccessKey,
			Secret:   cfg.Storage.SecretKey,
			Bucket:   cfg.Storage.Bucket,
			Region:   cfg.Storage.Region,
			UseSSL:   cfg.Storage.UseSSL,
		})
		if err != nil {
			return nil, err
		}

		asset := pipeline.ObjectStoreAsset{Storage: client, Bucket: client.Bucket(), ObjectKey: cfg.Logo.ObjectKey}
		exists, err := client.ObjectExists(ctx, cfg.Logo.ObjectKey)
		switch {
		case err != nil:
			logger.Warn().Err(err).Str("logo", asset.Location()).Msg("default logo check failed")
		case !exists:
			logger.Warn().Str("logo", asset.Location()).Msg("default logo object not found")
		}
		return asset, nil
	default:
		asset := pipeline.FileAsset{Path: cfg.Logo.Path}
		if _, err := os.Stat(cfg.Logo.Path); err != nil {
			logger.Warn().Err(err).Str("logo", asset.Location()).Msg("default logo file not readable")
		}
		return asset, nil
	}
}
