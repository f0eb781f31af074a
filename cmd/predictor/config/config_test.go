package config

import (
	"testing"
	"time"

	"github.com/HatiCode/chondrosurv/pkg/tls"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "deepsurv",
			cfg:  Config{Listen: ":50051", Model: "deepsurv", ModelConfig: map[string]string{"weights": "w.json"}},
		},
		{
			name: "remote",
			cfg:  Config{Listen: ":50051", Model: "remote", ModelConfig: map[string]string{"url": "http://m"}},
		},
		{
			name:    "deepsurv without weights",
			cfg:     Config{Listen: ":50051", Model: "deepsurv", ModelConfig: map[string]string{}},
			wantErr: true,
		},
		{
			name:    "remote without url",
			cfg:     Config{Listen: ":50051", Model: "remote", ModelConfig: map[string]string{}},
			wantErr: true,
		},
		{
			name:    "unknown model",
			cfg:     Config{Listen: ":50051", Model: "cox", ModelConfig: map[string]string{"weights": "w.json"}},
			wantErr: true,
		},
		{
			name:    "no listen address",
			cfg:     Config{Model: "deepsurv", ModelConfig: map[string]string{"weights": "w.json"}},
			wantErr: true,
		},
		{
			name: "tls without cert",
			cfg: Config{Listen: ":50051", Model: "deepsurv", ModelConfig: map[string]string{"weights": "w.json"},
				TLS: tls.Config{Enabled: true}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestModelConfig(t *testing.T) {
	t.Setenv("MODEL_SURVIVAL_PATH", "out.#.s")
	t.Setenv("MODEL_INPUT_DIM", "9")
	t.Setenv("MODEL_URL", "http://ignored")
	t.Setenv("MODEL_TIMEOUT", "1s")

	got := modelConfig(&Config{ModelURL: "http://model:8080"})

	want := map[string]string{
		"survivalPath": "out.#.s",
		"inputDim":     "9",
		"url":          "http://model:8080",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("config[%q] = %q, want %q", k, got[k], v)
		}
	}
	if _, ok := got["timeout"]; ok {
		t.Error("MODEL_TIMEOUT should not be collected")
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_DURATION", "5m")
	t.Setenv("TEST_BAD_DURATION", "soon")
	t.Setenv("TEST_BOOL", "true")

	if got := getEnvDuration("TEST_DURATION", time.Second); got != 5*time.Minute {
		t.Errorf("getEnvDuration() = %v, want 5m", got)
	}
	if got := getEnvDuration("TEST_BAD_DURATION", time.Second); got != time.Second {
		t.Errorf("getEnvDuration() = %v, want default", got)
	}
	if !getEnvBool("TEST_BOOL", false) {
		t.Error("getEnvBool() = false, want true")
	}
	if got := getEnv("TEST_MISSING_VAR", "x"); got != "x" {
		t.Errorf("getEnv() = %q, want default", got)
	}
}
