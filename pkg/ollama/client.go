package ollama

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/menta2k/localflow/pkg/client"
)

// DefaultURL is where a local `ollama serve` listens
const DefaultURL = "http://127.0.0.1:11434"

// ErrNoResponse is returned when the server closed the stream without a reply
var ErrNoResponse = errors.New("no response from ollama")

// Client talks to Ollama's generate-completion endpoint through the SDK
type Client struct {
	client  *api.Client
	http    *http.Client
	baseURL string
}

// NewClient creates a new Ollama client. A path on ollamaURL is kept as a
// prefix for every endpoint, so proxied installs like http://host/ollama
// work. A nil httpClient uses a client without its own timeout; callers
// bound requests through the context.
func NewClient(ollamaURL string, httpClient *http.Client) (*Client, error) {
	if ollamaURL == "" {
		ollamaURL = DefaultURL
	}

	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL %q: scheme and host required", ollamaURL)
	}

	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
		Path:   strings.TrimRight(parsedURL.Path, "/"),
	}

	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		client:  api.NewClient(baseURL, httpClient),
		http:    httpClient,
		baseURL: strings.TrimSuffix(baseURL.String(), "/"),
	}, nil
}

// BaseURL returns the scheme://host[/prefix] the client sends requests to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Complete sends a non-streaming generate request and returns the model's text
func (c *Client) Complete(ctx context.Context, req client.Request) (string, error) {
	images := []api.ImageData{}
	if req.ImageB64 != "" {
		imgBytes, err := base64.StdEncoding.DecodeString(req.ImageB64)
		if err != nil {
			return "", fmt.Errorf("failed to decode base64 image: %w", err)
		}
		images = append(images, api.ImageData(imgBytes))
	}

	streamFalse := false
	genReq := &api.GenerateRequest{
		Model:  req.Model,
		Prompt: req.UserPrompt(),
		System: req.System,
		Stream: &streamFalse,
		Images: images,
		// offload every layer to the GPU (CUDA/Metal)
		Options: map[string]any{"num_gpu": -1},
		// No Format field: "json" makes some Qwen VL builds reply with nothing
	}

	var (
		responseContent strings.Builder
		received        bool
	)
	err := c.client.Generate(ctx, genReq, func(resp api.GenerateResponse) error {
		received = true
		responseContent.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama generate error: %w", err)
	}
	if !received {
		return "", ErrNoResponse
	}

	return responseContent.String(), nil
}

// ListModels returns the model ids served at /v1/models
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	return client.ListOpenAIModels(ctx, c.http, c.baseURL)
}
