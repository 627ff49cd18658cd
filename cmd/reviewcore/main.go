package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"reviewcore/internal/app"
	"reviewcore/internal/blob"
	"reviewcore/internal/config"
	"reviewcore/internal/logger"
	"reviewcore/internal/metasync"
	"reviewcore/internal/metrics"
	"reviewcore/internal/search"
	"reviewcore/internal/slug"
	"reviewcore/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("config")
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	ctx := context.Background()

	if strings.TrimSpace(cfg.TraceEndpoint) != "" {
		shutdown, err := setupTracing(ctx, cfg.TraceEndpoint)
		if err != nil {
			log.Fatal().Err(err).Msg("tracing setup failed")
		}
		defer shutdown()
		log.Info().Str("endpoint", cfg.TraceEndpoint).Msg("exporting traces")
	}

	db, err := store.Open(ctx, cfg.DatabaseURL, store.WithMaxOpenConns(cfg.DatabaseMaxConns))
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, log); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	opts := []app.Option{app.WithLogger(log), app.WithMetrics(m)}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		slugCache, err := slug.NewRedisCache(cfg.RedisURL, cfg.SlugCacheTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		defer slugCache.Close()
		opts = append(opts, app.WithSlugCache(slugCache))
		log.Info().Msg("using Redis for slug lookups")
	}

	pgsearch := search.NewPgSearch(db)
	var primary search.Backend
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meiliClient.Close()
		primary = meiliClient
	}
	searchService := search.NewService(primary, pgsearch, log)
	opts = append(opts, app.WithSearch(searchService))

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		blobs, err := blob.New(blob.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("object storage setup failed")
		}
		if err := blobs.EnsureBucket(ctx); err != nil {
			log.Fatal().Err(err).Str("bucket", cfg.MinioBucket).Msg("object storage bucket unavailable")
		}
		opts = append(opts, app.WithBlobStore(blobs))
	} else {
		log.Warn().Msg("MINIO_ENDPOINT not set, uploads disabled")
	}

	// Source adapters register here; an empty registry leaves every URL unsynced.
	syncer := metasync.NewSyncer(metasync.NewRegistry(), cfg.MetadataCacheTTL,
		metasync.WithLogger(log), metasync.WithMetrics(m))
	opts = append(opts, app.WithMetadataSync(syncer))

	service := app.New(cfg, db, opts...)

	if primary != nil {
		go searchService.ReindexAllFromPG(ctx, pgsearch)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, reg, log)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("reviewcore listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	service.WaitForIndexing()
}

func setupTracing(ctx context.Context, endpoint string) (func(), error) {
	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}, nil
}
