package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg := Default()
	cfg.Inference.Model = "qwen2.5vl:7b"
	cfg.Providers.ProbeTimeout = Duration(3 * time.Second)
	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `"probe_timeout": "3s"`) {
		t.Errorf("durations should be written as strings:\n%s", data)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if loaded.Inference.Model != "qwen2.5vl:7b" {
		t.Errorf("model not restored: %q", loaded.Inference.Model)
	}
	if loaded.Providers.ProbeTimeout.Std() != 3*time.Second {
		t.Errorf("probe timeout = %v", loaded.Providers.ProbeTimeout.Std())
	}
}

func TestLoadFromFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{"export":{"train_ratio":0.7},"providers":{"probe_timeout":2}}`), 0644)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Export.TrainRatio != 0.7 {
		t.Errorf("train ratio = %v", cfg.Export.TrainRatio)
	}
	if cfg.Export.Seed != 42 {
		t.Errorf("seed should keep its default, got %d", cfg.Export.Seed)
	}
	if cfg.Providers.ProbeTimeout.Std() != 2*time.Second {
		t.Errorf("numeric seconds not accepted: %v", cfg.Providers.ProbeTimeout.Std())
	}
	if cfg.Providers.OllamaURL != "http://127.0.0.1:11434" {
		t.Errorf("ollama url should keep its default, got %s", cfg.Providers.OllamaURL)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte(`{"providers":`), 0644)
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected error for malformed file")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Export.TrainRatio != 0.8 {
		t.Errorf("expected defaults, got %+v", cfg.Export)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		EnvOllamaURL:      "http://gpu-box:11434",
		EnvLMStudioURL:    "  ",
		EnvProvider:       "lmstudio",
		EnvProbeTimeout:   "2s",
		EnvRequestTimeout: "45",
		EnvLogLevel:       "debug",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}

	if cfg.Providers.OllamaURL != "http://gpu-box:11434" {
		t.Errorf("ollama url = %s", cfg.Providers.OllamaURL)
	}
	if cfg.Providers.LMStudioURL != "http://127.0.0.1:1234" {
		t.Errorf("blank value should be ignored, got %s", cfg.Providers.LMStudioURL)
	}
	if cfg.Providers.Provider != "lmstudio" {
		t.Errorf("provider = %s", cfg.Providers.Provider)
	}
	if cfg.Providers.ProbeTimeout.Std() != 2*time.Second {
		t.Errorf("probe timeout = %v", cfg.Providers.ProbeTimeout.Std())
	}
	if cfg.Inference.RequestTimeout.Std() != 45*time.Second {
		t.Errorf("request timeout = %v", cfg.Inference.RequestTimeout.Std())
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %s", cfg.Logging.Level)
	}
}

func TestApplyEnvBadDuration(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{EnvProbeTimeout: "soon"}))
	if err == nil || !strings.Contains(err.Error(), EnvProbeTimeout) {
		t.Errorf("expected error naming %s, got %v", EnvProbeTimeout, err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty ollama url", func(c *Config) { c.Providers.OllamaURL = "" }},
		{"unknown provider", func(c *Config) { c.Providers.Provider = "openai" }},
		{"zero probe timeout", func(c *Config) { c.Providers.ProbeTimeout = 0 }},
		{"negative max side", func(c *Config) { c.Inference.MaxImageSide = -1 }},
		{"ratio of one", func(c *Config) { c.Export.TrainRatio = 1 }},
		{"ratio of zero", func(c *Config) { c.Export.TrainRatio = 0 }},
		{"bad quality", func(c *Config) { c.Preview.Quality = 0 }},
		{"bad preview format", func(c *Config) { c.Preview.Format = "gif" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	for _, provider := range []string{"auto", "", "Ollama", "lm-studio", "mock"} {
		cfg := Default()
		cfg.Providers.Provider = provider
		if err := cfg.Validate(); err != nil {
			t.Errorf("provider %q rejected: %v", provider, err)
		}
	}
}

func TestGetConfigPath(t *testing.T) {
	path := GetConfigPath()
	if !strings.HasSuffix(path, filepath.Join("localflow", "config.json")) && path != "./config.json" {
		t.Errorf("unexpected config path %s", path)
	}
}
