// Command predictor serves stateless survival predictions over gRPC.
//
// It exposes the chondrosurv.v1.Predictor service and the standard gRPC
// health service, and serves /metrics and /healthz over HTTP.
//
// Usage:
//
//	predictor -weights=weights/deepsurv.json -listen=:50051
//
// Environment variables:
//
//	PREDICTOR_LISTEN - gRPC listen address (default: :50051)
//	METRICS_LISTEN   - HTTP metrics address (default: :8082)
//	MODEL            - Survival model: deepsurv or remote (default: deepsurv)
//	WEIGHTS          - DeepSurv weights file
//	MODEL_URL        - Remote model service URL
//	TLS_ENABLED      - Serve gRPC over TLS
//	LOG_LEVEL        - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT       - Logging format: text, json (default: text)
package main

import (
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/HatiCode/chondrosurv/cmd/predictor/config"
	"github.com/HatiCode/chondrosurv/pkg/features"
	"github.com/HatiCode/chondrosurv/pkg/httpx"
	"github.com/HatiCode/chondrosurv/pkg/logger"
	"github.com/HatiCode/chondrosurv/pkg/metrics"
	"github.com/HatiCode/chondrosurv/pkg/models"
	"github.com/HatiCode/chondrosurv/pkg/predict"
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

	log.Info("starting chondrosurv predictor",
		"version", version,
		"listen", cfg.Listen,
		"model", cfg.Model,
		"tls_enabled", cfg.TLS.Enabled,
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

	client, err := httpx.NewClient(tls.Config{}, cfg.ModelTimeout)
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
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg, model.Name())

	pipeline := predict.New(normalizer, model, m, log)
	if err := pipeline.CheckCompatible(); err != nil {
		log.Error("model does not match schema", "error", err)
		os.Exit(1)
	}

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(loggingInterceptor(log), recoveryInterceptor(log)),
	}
	if cfg.TLS.Enabled {
		tlsConfig, err := tls.NewServerConfig(cfg.TLS)
		if err != nil {
			log.Error("failed to create TLS config", "error", err)
			os.Exit(1)
		}
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}

	grpcServer := grpc.NewServer(opts...)
	RegisterPredictorServer(grpcServer, New(pipeline, log))

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		log.Error("failed to listen", "error", err)
		os.Exit(1)
	}

	go func() {
		log.Info("grpc server listening", "address", cfg.Listen)
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("grpc server failed", "error", err)
			os.Exit(1)
		}
	}()

	httpMux := http.NewServeMux()
	httpMux.Handle("GET /healthz", httpx.HealthHandler())
	httpMux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpServer := httpx.NewServer(cfg.MetricsListen, httpMux, log)

	go func() {
		if err := httpServer.Start(); err != nil {
			log.Error("http server failed", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	log.Info("received shutdown signal", "signal", sig)

	healthServer.Shutdown()

	log.Info("shutting down grpc server")
	grpcServer.GracefulStop()

	log.Info("shutting down http server")
	if err := httpServer.Stop(10 * time.Second); err != nil {
		log.Error("http server shutdown error", "error", err)
	}

	log.Info("shutdown complete")
}
