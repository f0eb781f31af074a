// Package config provides configuration parsing for the webapp.
//
// Supported configuration sources (in order of precedence):
//  1. Command-line flags
//  2. Environment variables
//  3. Default values
//
// Model-specific settings are passed as MODEL_* environment variables and
// collected into a generic map (MODEL_SURVIVAL_PATH → survivalPath), which is
// handed to models.New unchanged.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/HatiCode/chondrosurv/pkg/tls"
)

// Config holds all webapp configuration.
type Config struct {
	Listen     string
	LogFormat  string
	LogLevel   string
	LogFile    string
	SchemaFile string

	Storage       string
	MaxSessions   int
	SessionTTL    time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CookieSecure  bool

	Model        string
	Weights      string
	ModelURL     string
	ModelTimeout time.Duration
	ModelConfig  map[string]string
	ModelTLS     tls.Config

	ChartAssetsHost string
	TLS             tls.Config
}

// ParseFlags parses command-line flags and environment variables into a Config.
// Environment variables are used as fallbacks when flags are not provided.
func ParseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8080"), "HTTP listen address")

	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	flag.StringVar(&cfg.LogFile, "log-file", getEnv("LOG_FILE", ""), "Also write logs to this file, rotated by size")
	flag.StringVar(&cfg.SchemaFile, "schema", getEnv("SCHEMA_FILE", ""), "YAML form schema overriding the built-in chondrosarcoma form")

	flag.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "memory"), "Session storage backend: memory or redis")
	flag.IntVar(&cfg.MaxSessions, "max-sessions", getEnvInt("MAX_SESSIONS", 10000), "Maximum sessions kept by the memory store")
	flag.DurationVar(&cfg.SessionTTL, "session-ttl", getEnvDuration("SESSION_TTL", 2*time.Hour), "Idle time after which a session ends")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	flag.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	flag.BoolVar(&cfg.CookieSecure, "cookie-secure", getEnvBool("COOKIE_SECURE", false), "Mark the session cookie Secure")

	flag.StringVar(&cfg.Model, "model", getEnv("MODEL", "deepsurv"), "Survival model: deepsurv or remote")
	flag.StringVar(&cfg.Weights, "weights", getEnv("WEIGHTS", "weights/deepsurv.json"), "DeepSurv weights file (model=deepsurv)")
	flag.StringVar(&cfg.ModelURL, "model-url", getEnv("MODEL_URL", ""), "Model service URL (required when model=remote)")
	flag.DurationVar(&cfg.ModelTimeout, "model-timeout", getEnvDuration("MODEL_TIMEOUT", 10*time.Second), "Timeout for remote model requests")
	flag.BoolVar(&cfg.ModelTLS.Enabled, "model-tls-enabled", getEnvBool("MODEL_TLS_ENABLED", false), "Use TLS for the remote model service")
	flag.StringVar(&cfg.ModelTLS.CertFile, "model-tls-cert-file", getEnv("MODEL_TLS_CERT_FILE", ""), "Client certificate for the remote model service")
	flag.StringVar(&cfg.ModelTLS.KeyFile, "model-tls-key-file", getEnv("MODEL_TLS_KEY_FILE", ""), "Client key for the remote model service")
	flag.StringVar(&cfg.ModelTLS.CAFile, "model-tls-ca-file", getEnv("MODEL_TLS_CA_FILE", ""), "CA certificate to verify the remote model service")

	flag.StringVar(&cfg.ChartAssetsHost, "chart-assets", getEnv("CHART_ASSETS_HOST", ""), "Base URL of the echarts JavaScript assets (default: public CDN)")

	flag.BoolVar(&cfg.TLS.Enabled, "tls-enabled", getEnvBool("TLS_ENABLED", false), "Enable TLS for HTTP server")
	flag.StringVar(&cfg.TLS.CertFile, "tls-cert-file", getEnv("TLS_CERT_FILE", ""), "TLS certificate file")
	flag.StringVar(&cfg.TLS.KeyFile, "tls-key-file", getEnv("TLS_KEY_FILE", ""), "TLS private key file")
	flag.StringVar(&cfg.TLS.CAFile, "tls-ca-file", getEnv("TLS_CA_FILE", ""), "TLS CA certificate file for client verification")

	flag.Parse()

	cfg.ModelConfig = BuildModelConfig(cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	return cfg
}

// BuildModelConfig merges MODEL_* environment variables with the dedicated
// flags. Flags win over the environment.
func BuildModelConfig(cfg *Config) map[string]string {
	config := parseModelConfig()

	if cfg.Weights != "" {
		config["weights"] = cfg.Weights
	}
	if cfg.ModelURL != "" {
		config["url"] = cfg.ModelURL
	}

	return config
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Storage {
	case "memory":
		if c.MaxSessions <= 0 {
			return errors.New("max-sessions must be > 0")
		}
	case "redis":
		if c.RedisAddr == "" {
			return errors.New("redis-addr is required when storage=redis")
		}
	default:
		return fmt.Errorf("invalid storage %q (must be memory or redis)", c.Storage)
	}

	if c.SessionTTL <= 0 {
		return errors.New("session-ttl must be > 0")
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
		if c.ModelTimeout <= 0 {
			return errors.New("model-timeout must be > 0")
		}
	default:
		return fmt.Errorf("invalid model %q (must be deepsurv or remote)", c.Model)
	}

	if err := c.TLS.Validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}

	return nil
}

// parseModelConfig parses MODEL_* environment variables into a generic map.
// Names are converted to lowerCamelCase (MODEL_SURVIVAL_PATH → survivalPath).
// Variables consumed by dedicated flags are skipped.
func parseModelConfig() map[string]string {
	config := make(map[string]string)

	for _, env := range os.Environ() {
		key, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(key, "MODEL_") {
			continue
		}
		if key == "MODEL_URL" || key == "MODEL_TIMEOUT" || strings.HasPrefix(key, "MODEL_TLS_") {
			continue
		}
		config[toLowerCamelCase(strings.TrimPrefix(key, "MODEL_"))] = value
	}

	return config
}

func toLowerCamelCase(s string) string {
	parts := strings.Split(strings.ToLower(s), "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] != "" {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, "")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
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
		return value == "true" || value == "1"
	}
	return defaultValue
}
