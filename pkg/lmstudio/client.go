package lmstudio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/menta2k/localflow/pkg/client"
)

// DefaultURL is LM Studio's local server address
const DefaultURL = "http://127.0.0.1:1234"

const (
	defaultTemperature = 0.2
	defaultMaxTokens   = 2048
)

type Client struct {
	baseURL     string
	httpClient  *http.Client
	temperature float64
	maxTokens   int
}

// OpenAI-compatible message format
type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // string or []ContentPart
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// OpenAI-compatible chat completion request
type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// OpenAI-compatible chat completion response
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// Option tweaks sampling parameters
type Option func(*Client)

// WithTemperature overrides the sampling temperature
func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = t }
}

// WithMaxTokens overrides the completion token limit
func WithMaxTokens(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

func NewClient(serverURL string, httpClient *http.Client, opts ...Option) (*Client, error) {
	if serverURL == "" {
		serverURL = DefaultURL
	}
	if !strings.HasPrefix(serverURL, "http://") && !strings.HasPrefix(serverURL, "https://") {
		return nil, fmt.Errorf("invalid URL %q: http or https scheme required", serverURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	c := &Client{
		baseURL:     strings.TrimSuffix(serverURL, "/"),
		httpClient:  httpClient,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the server address without a trailing slash
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Complete sends one user message holding the prompt and, when present, the
// image as a data URI, and returns the first choice's text.
func (c *Client) Complete(ctx context.Context, req client.Request) (string, error) {
	content := []ContentPart{
		{
			Type: "text",
			Text: req.UserPrompt(),
		},
	}

	if req.ImageB64 != "" {
		mime := req.MIME
		if mime == "" {
			mime = "image/jpeg"
		}
		content = append(content, ContentPart{
			Type: "image_url",
			ImageURL: &ImageURL{
				URL: "data:" + mime + ";base64," + req.ImageB64,
			},
		})
	}

	payload := ChatCompletionRequest{
		Model: req.Model,
		Messages: []Message{
			{
				Role:    "user",
				Content: content,
			},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	respBody, err := c.sendRequest(ctx, "/v1/chat/completions", payload)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}

	var resp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	// No choices means the model produced nothing, not a transport failure
	if len(resp.Choices) == 0 {
		return "", nil
	}

	return messageText(resp.Choices[0].Message.Content), nil
}

// ListModels returns the model ids served at /v1/models
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	return client.ListOpenAIModels(ctx, c.httpClient, c.baseURL)
}

// messageText handles both string content and content-part arrays
func messageText(content interface{}) string {
	switch v := content.(type) {
	case string:
		return v
	case []interface{}:
		var parts []string
		for _, item := range v {
			if partMap, ok := item.(map[string]interface{}); ok {
				if text, ok := partMap["text"].(string); ok && text != "" {
					parts = append(parts, text)
				}
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

func (c *Client) sendRequest(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}
