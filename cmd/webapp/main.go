// Command webapp serves the chondrosarcoma survival prediction form.
//
// Each submission runs one patient through the DeepSurv model and appends the
// result to the caller's session. The page shows the survival curves of the
// session (the latest patient only, or all of them), the 1/3/5-year survival
// probabilities of the latest patient and a table of every patient so far.
//
// The webapp serves HTTP on port 8080 (configurable) providing:
//   - GET  /            - Prediction form, chart and patients table
//   - POST /predict     - Submit the form
//   - GET  /api/...     - JSON API (schema, predict, patients, display, session)
//   - GET  /healthz     - Health check endpoint
//   - GET  /metrics     - Prometheus metrics endpoint
//
// Usage:
//
//	webapp -weights=weights/deepsurv.json -listen=:8080
//
//	webapp -model=remote -model-url=http://torchserve:8080/predictions/deepsurv \
//	  -storage=redis -redis-addr=redis:6379
//
// Environment variables:
//
//	LISTEN          - HTTP listen address (default: :8080)
//	MODEL           - Survival model: deepsurv or remote (default: deepsurv)
//	WEIGHTS         - DeepSurv weights file
//	MODEL_URL       - Remote model service URL
//	MODEL_*         - Extra model settings (MODEL_SURVIVAL_PATH, MODEL_INPUT_DIM, ...)
//	SCHEMA_FILE     - YAML form schema
//	STORAGE         - Session storage: memory or redis (default: memory)
//	SESSION_TTL     - Idle time after which a session ends (default: 2h)
//	REDIS_ADDR      - Redis address (default: localhost:6379)
//	LOG_LEVEL       - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT      - Logging format: text, json (default: text)
//	LOG_FILE        - Rotated log file, in addition to stderr
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/HatiCode/chondrosurv/cmd/webapp/config"
	"github.com/HatiCode/chondrosurv/cmd/webapp/router"
	"github.com/HatiCode/chondrosurv/pkg/features"
	"github.com/HatiCode/chondrosurv/pkg/httpx"
	"github.com/HatiCode/chondrosurv/pkg/logger"
	"github.com/HatiCode/chondrosurv/pkg/metrics"
	"github.com/HatiCode/chondrosurv/pkg/models"
	"github.com/HatiCode/chondrosurv/pkg/predict"
	"github.com/HatiCode/chondrosurv/pkg/render"
	"github.com/HatiCode/chondrosurv/pkg/storage"
	"github.com/HatiCode/chondrosurv/pkg/tls"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg := config.ParseFlags()

	log, logCloser := logger.New(logger.Options{
		Format: cfg.LogFormat,
		Level:  cfg.LogLevel,
		File:   cfg.LogFile,
	})
	defer logCloser.Close()
	slog.SetDefault(log)

	log.Info("starting chondrosurv webapp",
		"version", version,
		"model", cfg.Model,
		"storage", cfg.Storage,
	)

	schema := features.DefaultSchema()
	if cfg.SchemaFile != "" {
		var err error
		if schema, err = features.LoadSchema(cfg.SchemaFile); err != nil {
			log.Error("failed to load schema", "file", cfg.SchemaFile, "error", err)
			os.Exit(1)
		}
	}

	normalizer, err := features.NewNormalizer(schema)
	if err != nil {
		log.Error("invalid schema", "error", err)
		os.Exit(1)
	}

	client, err := httpx.NewClient(cfg.ModelTLS, cfg.ModelTimeout)
	if err != nil {
		log.Error("failed to create model client", "error", err)
		os.Exit(1)
	}

	model, err := models.New(cfg.Model, cfg.ModelConfig, client)
	if err != nil {
		log.Error("failed to create model", "model", cfg.Model, "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg, model.Name())

	pipeline := predict.New(normalizer, model, m, log)
	if err := pipeline.CheckCompatible(); err != nil {
		log.Error("model does not match schema", "error", err)
		os.Exit(1)
	}

	store, ready, closeStore := newStore(cfg, log)
	defer closeStore()

	mux := router.SetupRoutes(router.Options{
		Pipeline:     pipeline,
		Store:        store,
		Metrics:      m,
		Gatherer:     reg,
		Chart:        render.ChartOptions{AssetsHost: cfg.ChartAssetsHost},
		Logger:       log,
		SessionTTL:   cfg.SessionTTL,
		CookieSecure: cfg.CookieSecure || cfg.TLS.Enabled,
		Ready:        ready,
	})
	handler := httpx.Chain(mux, httpx.LoggingMiddleware(log), httpx.RecoveryMiddleware(log))
	httpServer := httpx.NewServer(cfg.Listen, handler, log)

	if cfg.TLS.Enabled {
		tlsConfig, err := tls.NewServerConfig(cfg.TLS)
		if err != nil {
			log.Error("failed to create TLS config", "error", err)
			os.Exit(1)
		}
		httpServer.SetTLSConfig(tlsConfig)
		log.Info("TLS enabled for HTTP server", "mutual", cfg.TLS.MutualAuth())
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			log.Error("server failed", "error", err)
		}
	}

	log.Info("shutting down")

	if err := httpServer.Stop(10 * time.Second); err != nil {
		log.Error("server shutdown failed", "error", err)
		os.Exit(1)
	}

	log.Info("shutdown complete")
}

// newStore creates the configured session store, its readiness check and a
// close function.
func newStore(cfg *config.Config, log *slog.Logger) (storage.Store, func() error, func()) {
	switch cfg.Storage {
	case "redis":
		log.Info("using Redis session store", "addr", cfg.RedisAddr, "db", cfg.RedisDB, "ttl", cfg.SessionTTL)
		rs, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.SessionTTL)
		if err != nil {
			log.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		ready := func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return rs.Ping(ctx)
		}
		closeFn := func() {
			if err := rs.Close(); err != nil {
				log.Error("failed to close Redis store", "error", err)
			}
		}
		return rs, ready, closeFn

	default:
		log.Info("using in-memory session store", "maxSessions", cfg.MaxSessions, "ttl", cfg.SessionTTL)
		ms := storage.NewMemoryStoreWithTTL(cfg.MaxSessions, cfg.SessionTTL, time.Minute)
		return ms, nil, ms.Stop
	}
}
