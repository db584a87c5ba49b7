package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/menta2k/localflow/pkg/client"
)

type generateBody struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system"`
	Stream  *bool          `json:"stream"`
	Images  []string       `json:"images"`
	Options map[string]any `json:"options"`
}

func TestNewClientKeepsPathPrefix(t *testing.T) {
	c, err := NewClient("http://localhost:11435/ollama/", nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if c.BaseURL() != "http://localhost:11435/ollama" {
		t.Errorf("expected base URL with prefix, got %s", c.BaseURL())
	}
}

func TestPathPrefixedServer(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/ollama/api/generate":
			w.Write([]byte(`{"model":"m","response":"[]","done":true}` + "\n"))
		case "/ollama/v1/models":
			w.Write([]byte(`{"data":[{"id":"m"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c, err := NewClient(server.URL+"/ollama", server.Client())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	text, err := c.Complete(context.Background(), client.Request{Model: "m", Prompt: "x"})
	if err != nil {
		t.Fatalf("Complete failed: %v (paths %v)", err, paths)
	}
	if text != "[]" {
		t.Errorf("unexpected text %q", text)
	}

	ids, err := c.ListModels(context.Background())
	if err != nil || len(ids) != 1 || ids[0] != "m" {
		t.Errorf("ListModels = %v, %v (paths %v)", ids, err, paths)
	}
}

func TestNewClientDefaultsAndInvalid(t *testing.T) {
	c, err := NewClient("", nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if c.BaseURL() != DefaultURL {
		t.Errorf("expected default URL, got %s", c.BaseURL())
	}

	if _, err := NewClient("localhost", nil); err == nil {
		t.Error("expected error for URL without scheme")
	}
}

func TestCompleteSendsGeneratePayload(t *testing.T) {
	img := []byte{0xff, 0xd8, 0xff, 0xe0}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/generate" {
			t.Errorf("expected /api/generate, got %s", r.URL.Path)
		}

		var body generateBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if body.Model != "qwen2.5vl" {
			t.Errorf("unexpected model %q", body.Model)
		}
		if body.Prompt != "find people Return JSON." {
			t.Errorf("system instruction should be appended to prompt, got %q", body.Prompt)
		}
		if body.System != "Return JSON." {
			t.Errorf("unexpected system %q", body.System)
		}
		if body.Stream == nil || *body.Stream {
			t.Error("stream should be false")
		}
		if len(body.Images) != 1 || body.Images[0] != base64.StdEncoding.EncodeToString(img) {
			t.Errorf("unexpected images %v", body.Images)
		}
		if body.Options["num_gpu"] != float64(-1) {
			t.Errorf("expected num_gpu -1, got %v", body.Options["num_gpu"])
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"qwen2.5vl","response":"[{\"bbox_2d\":[1,2,3,4]}]","done":true}` + "\n"))
	}))
	defer server.Close()

	c, err := NewClient(server.URL, server.Client())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	text, err := c.Complete(context.Background(), client.Request{
		Model:    "qwen2.5vl",
		Prompt:   "find people",
		System:   "Return JSON.",
		ImageB64: base64.StdEncoding.EncodeToString(img),
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if text != `[{"bbox_2d":[1,2,3,4]}]` {
		t.Errorf("unexpected text %q", text)
	}
}

func TestCompleteServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model \"nope\" not found"}` + "\n"))
	}))
	defer server.Close()

	c, _ := NewClient(server.URL, server.Client())
	_, err := c.Complete(context.Background(), client.Request{Model: "nope", Prompt: "x"})
	if err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestCompleteEmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c, _ := NewClient(server.URL, server.Client())
	_, err := c.Complete(context.Background(), client.Request{Model: "m", Prompt: "x"})
	if err == nil {
		t.Fatal("expected error when the server sends no reply")
	}
}

func TestCompleteBadImage(t *testing.T) {
	c, _ := NewClient("http://127.0.0.1:1", nil)
	if _, err := c.Complete(context.Background(), client.Request{Model: "m", ImageB64: "%%%"}); err == nil {
		t.Error("expected base64 decode error")
	}
}

func TestListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			t.Errorf("expected /v1/models, got %s", r.URL.Path)
		}
		w.Write([]byte(`{"data":[{"id":"qwen2.5vl:7b"}]}`))
	}))
	defer server.Close()

	c, _ := NewClient(server.URL, server.Client())
	ids, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "qwen2.5vl:7b" {
		t.Errorf("unexpected ids %v", ids)
	}
}
