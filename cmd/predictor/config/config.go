// Package config provides configuration parsing for the predictor.
//
// Flags take precedence over environment variables, which take precedence
// over defaults.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/HatiCode/chondrosurv/pkg/tls"
)

// Config holds all predictor configuration.
type Config struct {
	Listen        string
	MetricsListen string
	LogFormat     string
	LogLevel      string
	LogFile       string
	SchemaFile    string

	Model        string
	Weights      string
	ModelURL     string
	ModelTimeout time.Duration
	ModelConfig  map[string]string

	TLS tls.Config
}

func ParseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.Listen, "listen", getEnv("PREDICTOR_LISTEN", ":50051"), "gRPC listen address")
	flag.StringVar(&cfg.MetricsListen, "metrics-listen", getEnv("METRICS_LISTEN", ":8082"), "HTTP address for /metrics and /healthz")
	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format (text|json)")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level (debug|info|warn|error)")
	flag.StringVar(&cfg.LogFile, "log-file", getEnv("LOG_FILE", ""), "Also write logs to this file, rotated by size")
	flag.StringVar(&cfg.SchemaFile, "schema", getEnv("SCHEMA_FILE", ""), "YAML form schema")

	flag.StringVar(&cfg.Model, "model", getEnv("MODEL", "deepsurv"), "Survival model (deepsurv|remote)")
	flag.StringVar(&cfg.Weights, "weights", getEnv("WEIGHTS", "weights/deepsurv.json"), "DeepSurv weights file")
	flag.StringVar(&cfg.ModelURL, "model-url", getEnv("MODEL_URL", ""), "Model service URL (model=remote)")
	flag.DurationVar(&cfg.ModelTimeout, "model-timeout", getEnvDuration("MODEL_TIMEOUT", 10*time.Second), "Timeout for remote model requests")

	flag.BoolVar(&cfg.TLS.Enabled, "tls-enabled", getEnvBool("TLS_ENABLED", false), "Enable TLS for the gRPC server")
	flag.StringVar(&cfg.TLS.CertFile, "tls-cert-file", getEnv("TLS_CERT_FILE", ""), "TLS certificate file")
	flag.StringVar(&cfg.TLS.KeyFile, "tls-key-file", getEnv("TLS_KEY_FILE", ""), "TLS private key file")
	flag.StringVar(&cfg.TLS.CAFile, "tls-ca-file", getEnv("TLS_CA_FILE", ""), "TLS CA certificate file for client verification")

	flag.Parse()

	cfg.ModelConfig = modelConfig(cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		flag.Usage()
		os.Exit(1)
	}

	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen is required")
	}

	switch c.Model {
	case "deepsurv":
		if c.ModelConfig["weights"] == "" {
			return errors.New("weights is required when model=deepsurv")
		}
	case "remote":
		if c.ModelConfig["url"] == "" {
			return errors.New("model-url is required when model=remote")
		}
	default:
		return fmt.Errorf("invalid model %q (must be deepsurv or remote)", c.Model)
	}

	return c.TLS.Validate()
}

// modelConfig collects MODEL_SURVIVAL_PATH style variables as survivalPath
// keys, then overlays the dedicated flags.
func modelConfig(cfg *Config) map[string]string {
	config := make(map[string]string)

	for _, env := range os.Environ() {
		key, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(key, "MODEL_") || key == "MODEL_URL" || key == "MODEL_TIMEOUT" {
			continue
		}
		parts := strings.Split(strings.ToLower(strings.TrimPrefix(key, "MODEL_")), "_")
		for i := 1; i < len(parts); i++ {
			if parts[i] != "" {
				parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
			}
		}
		config[strings.Join(parts, "")] = value
	}

	if cfg.Weights != "" {
		config["weights"] = cfg.Weights
	}
	if cfg.ModelURL != "" {
		config["url"] = cfg.ModelURL
	}

	return config
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
