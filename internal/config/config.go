package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/localflow/pkg/types"
)

// Environment variables read by ApplyEnv
const (
	EnvOllamaURL      = "OLLAMA_BASE_URL"
	EnvLMStudioURL    = "LMSTUDIO_BASE_URL"
	EnvProvider       = "LLM_PROVIDER"
	EnvProbeTimeout   = "LOCALFLOW_PROBE_TIMEOUT"
	EnvRequestTimeout = "LOCALFLOW_REQUEST_TIMEOUT"
	EnvLogLevel       = "LOCALFLOW_LOG_LEVEL"
)

// Config holds the application configuration
type Config struct {
	Providers ProvidersConfig `json:"providers"`
	Inference InferenceConfig `json:"inference"`
	Export    ExportConfig    `json:"export"`
	Preview   PreviewConfig   `json:"preview"`
	Logging   LoggingConfig   `json:"logging"`
}

// ProvidersConfig holds the model server endpoints
type ProvidersConfig struct {
	OllamaURL   string `json:"ollama_url"`
	LMStudioURL string `json:"lmstudio_url"`
	// Provider is "auto" or a backend name that overrides selection
	Provider     string   `json:"provider"`
	ProbeTimeout Duration `json:"probe_timeout"`
}

// InferenceConfig holds defaults for labeling requests
type InferenceConfig struct {
	Model          string   `json:"model"`
	Prompt         string   `json:"prompt"`
	SystemPrompt   string   `json:"system_prompt"`
	RequestTimeout Duration `json:"request_timeout"`
	MaxImageSide   int      `json:"max_image_side"`
	ContinueOnFail bool     `json:"continue_on_fail"`
}

// ExportConfig holds dataset export settings
type ExportConfig struct {
	TrainRatio float64 `json:"train_ratio"`
	Seed       int64   `json:"seed"`
	TempDir    string  `json:"temp_dir"`
}

// PreviewConfig holds settings for annotated preview images
type PreviewConfig struct {
	Format  string `json:"format"`
	Quality int    `json:"quality"`
	Suffix  string `json:"suffix"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Duration is a time.Duration written as a string such as "5s"
type Duration time.Duration

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of seconds
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := parseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}

	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("invalid duration %s", string(data))
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// parseDuration accepts Go duration syntax or a bare number of seconds
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	var secs float64
	if _, err := fmt.Sscanf(s, "%g", &secs); err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Providers: ProvidersConfig{
			OllamaURL:    "http://127.0.0.1:11434",
			LMStudioURL:  "http://127.0.0.1:1234",
			Provider:     "auto",
			ProbeTimeout: Duration(5 * time.Second),
		},
		Inference: InferenceConfig{
			Prompt:         "Detect all objects in the image.",
			SystemPrompt:   "You are a vision assistant. Return bounding boxes in JSON format.",
			RequestTimeout: Duration(120 * time.Second),
			MaxImageSide:   0,
			ContinueOnFail: true,
		},
		Export: ExportConfig{
			TrainRatio: 0.8,
			Seed:       42,
		},
		Preview: PreviewConfig{
			Format:  "png",
			Quality: 90,
			Suffix:  "_annotated",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a JSON file. Fields missing from the
// file keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// Load reads filename if it exists and falls back to defaults otherwise
func Load(filename string) (*Config, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return Default(), nil
	}
	return LoadFromFile(filename)
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overlays environment values on the configuration. lookup is
// usually os.LookupEnv. Empty values are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvOllamaURL); ok {
		c.Providers.OllamaURL = v
	}
	if v, ok := get(EnvLMStudioURL); ok {
		c.Providers.LMStudioURL = v
	}
	if v, ok := get(EnvProvider); ok {
		c.Providers.Provider = v
	}
	if v, ok := get(EnvProbeTimeout); ok {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvProbeTimeout, err)
		}
		c.Providers.ProbeTimeout = Duration(d)
	}
	if v, ok := get(EnvRequestTimeout); ok {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRequestTimeout, err)
		}
		c.Inference.RequestTimeout = Duration(d)
	}
	if v, ok := get(EnvLogLevel); ok {
		c.Logging.Level = v
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Providers.OllamaURL == "" {
		return fmt.Errorf("providers.ollama_url cannot be empty")
	}

	if c.Providers.LMStudioURL == "" {
		return fmt.Errorf("providers.lmstudio_url cannot be empty")
	}

	if p := strings.TrimSpace(c.Providers.Provider); p != "" && !strings.EqualFold(p, "auto") {
		if _, ok := types.ParseBackend(p); !ok {
			return fmt.Errorf("providers.provider %q is not one of auto, ollama, lmstudio, mock", p)
		}
	}

	if c.Providers.ProbeTimeout <= 0 {
		return fmt.Errorf("providers.probe_timeout must be positive")
	}

	if c.Inference.RequestTimeout <= 0 {
		return fmt.Errorf("inference.request_timeout must be positive")
	}

	if c.Inference.MaxImageSide < 0 {
		return fmt.Errorf("inference.max_image_side cannot be negative")
	}

	if c.Export.TrainRatio <= 0 || c.Export.TrainRatio >= 1 {
		return fmt.Errorf("export.train_ratio must be between 0 and 1 (exclusive)")
	}

	if c.Preview.Quality < 1 || c.Preview.Quality > 100 {
		return fmt.Errorf("preview.quality must be between 1 and 100")
	}

	switch strings.ToLower(c.Preview.Format) {
	case "png", "jpg", "jpeg", "webp":
	default:
		return fmt.Errorf("preview.format must be png, jpg or webp")
	}

	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "localflow", "config.json")
}
