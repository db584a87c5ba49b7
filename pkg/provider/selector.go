// Package provider checks which local vision servers are up and picks the
// default backend.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/localflow/pkg/lmstudio"
	"github.com/menta2k/localflow/pkg/ollama"
	"github.com/menta2k/localflow/pkg/types"
)

// DefaultProbeTimeout bounds each liveness probe
const DefaultProbeTimeout = 5 * time.Second

// Probe paths, one per provider
const (
	OllamaProbePath   = "/api/tags"
	LMStudioProbePath = "/v1/models"
)

// OverrideAuto lets the selector choose
const OverrideAuto = "auto"

// Config holds the provider endpoints and the selection override
type Config struct {
	OllamaURL   string
	LMStudioURL string
	// Override is "auto", empty, or a provider name that wins outright
	Override string
	Timeout  time.Duration
}

// Selector probes providers and chooses the active one
type Selector struct {
	config     Config
	httpClient *http.Client
	logger     logrus.FieldLogger
}

// endpoint is a provider in priority order
type endpoint struct {
	backend types.Backend
	url     string
	path    string
}

// NewSelector creates a selector. URLs default to the providers' local ports.
func NewSelector(config Config, logger logrus.FieldLogger) *Selector {
	if config.OllamaURL == "" {
		config.OllamaURL = ollama.DefaultURL
	}
	if config.LMStudioURL == "" {
		config.LMStudioURL = lmstudio.DefaultURL
	}
	config.OllamaURL = strings.TrimRight(strings.TrimSpace(config.OllamaURL), "/")
	config.LMStudioURL = strings.TrimRight(strings.TrimSpace(config.LMStudioURL), "/")
	config.Override = strings.TrimSpace(config.Override)
	if config.Timeout <= 0 {
		config.Timeout = DefaultProbeTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Selector{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
	}
}

// URL returns the configured base URL of a backend
func (s *Selector) URL(b types.Backend) string {
	switch b {
	case types.BackendOllama:
		return s.config.OllamaURL
	case types.BackendLMStudio:
		return s.config.LMStudioURL
	}
	return ""
}

func (s *Selector) endpoints() []endpoint {
	return []endpoint{
		{types.BackendOllama, s.config.OllamaURL, OllamaProbePath},
		{types.BackendLMStudio, s.config.LMStudioURL, LMStudioProbePath},
	}
}

// Probe reports whether baseURL+path answers 2xx with a JSON content type
// within the selector's timeout.
func (s *Selector) Probe(ctx context.Context, baseURL, path string) bool {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
	if err != nil {
		return false
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.WithField("url", baseURL+path).Debugf("probe failed: %v", err)
		return false
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode <= 299
	return ok && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json")
}

// Status probes every provider concurrently
func (s *Selector) Status(ctx context.Context) types.ProviderStatus {
	eps := s.endpoints()
	results := make([]bool, len(eps))

	var wg sync.WaitGroup
	for i, ep := range eps {
		wg.Add(1)
		go func(i int, ep endpoint) {
			defer wg.Done()
			results[i] = s.Probe(ctx, ep.url, ep.path)
		}(i, ep)
	}
	wg.Wait()

	status := types.ProviderStatus{
		OllamaReachable:   results[0],
		LMStudioReachable: results[1],
	}
	s.logger.WithFields(logrus.Fields{
		"ollama":   status.OllamaReachable,
		"lmstudio": status.LMStudioReachable,
	}).Debug("provider status refreshed")
	return status
}

// Select picks the default backend. An explicit override wins even when that
// provider is down; otherwise the first reachable provider in the order
// Ollama, LM Studio is chosen. If none is reachable a *ConfigError lists every
// endpoint tried.
func (s *Selector) Select(ctx context.Context) (types.Backend, types.ProviderStatus, error) {
	override := strings.ToLower(s.config.Override)

	var forced types.Backend
	if override != "" && override != OverrideAuto {
		b, ok := types.ParseBackend(override)
		if !ok {
			return "", types.ProviderStatus{}, &ConfigError{
				Override: s.config.Override,
				Reason:   fmt.Sprintf("unknown provider override %q", s.config.Override),
			}
		}
		forced = b
	}

	status := s.Status(ctx)

	if forced != "" {
		if !status.Reachable(forced) {
			s.logger.WithFields(logrus.Fields{
				"provider": forced,
				"url":      s.URL(forced),
			}).Warn("provider forced by override is not reachable")
		}
		return forced, status, nil
	}

	for _, ep := range s.endpoints() {
		if status.Reachable(ep.backend) {
			s.logger.WithField("provider", ep.backend).Info("selected provider")
			return ep.backend, status, nil
		}
	}

	return "", status, s.unreachable(status)
}

func (s *Selector) unreachable(status types.ProviderStatus) *ConfigError {
	eps := s.endpoints()
	tried := make([]Attempt, 0, len(eps))
	for _, ep := range eps {
		tried = append(tried, Attempt{
			Backend: ep.backend,
			URL:     ep.url,
			Path:    ep.path,
			Up:      status.Reachable(ep.backend),
		})
	}
	return &ConfigError{
		Override: s.config.Override,
		Reason:   "no reachable LLM runtime found",
		Tried:    tried,
	}
}
