// Package gen streams completions from Ollama-compatible generation endpoints.
package gen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/anthropics/midstream/internal/domain"
)

// StreamFunc receives each response fragment as it arrives. Returning true
// stops the stream early.
type StreamFunc func(fragment string) bool

// Client posts prompts to an /api/generate endpoint and decodes the NDJSON
// reply stream.
type Client struct {
	baseURL string
	httpc   *http.Client
	log     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the endpoint base URL.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient substitutes the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpc = hc }
}

// WithLogger attaches a logger for request-level debug output.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient creates a Client with localhost defaults.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL: "http://localhost:11434",
		httpc:   &http.Client{Timeout: 5 * time.Minute},
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Stream bool   `json:"stream"`
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate streams a completion for prompt. Each raw fragment is handed to
// fn as it arrives; fn returning true stops the stream. The returned bool
// reports whether the model ran to completion rather than being stopped
// early.
func (c *Client) Generate(ctx context.Context, model, prompt, system string, fn StreamFunc) (string, bool, error) {
	resp, err := c.post(ctx, generateRequest{
		Model:  model,
		Prompt: prompt,
		System: system,
		Stream: true,
	})
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	c.log.Debug("generation started",
		zap.String("model", model),
		zap.Int("prompt_chars", len(prompt)))

	return c.readStream(ctx, resp.Body, fn)
}

// Complete requests a whole completion in a single non-streamed response.
func (c *Client) Complete(ctx context.Context, model, prompt, system string) (string, error) {
	resp, err := c.post(ctx, generateRequest{
		Model:  model,
		Prompt: prompt,
		System: system,
		Stream: false,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var chunk generateChunk
	if err := json.NewDecoder(resp.Body).Decode(&chunk); err != nil {
		return "", domain.WrapEngineError(domain.ErrGenerateDecode.Code, "decode response", err)
	}
	return chunk.Response, nil
}

func (c *Client) post(ctx context.Context, greq generateRequest) (*http.Response, error) {
	jsonBody, err := json.Marshal(greq)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrGenerateRequest.Code, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrGenerateRequest.Code, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrGenerateRequest.Code, "post generate", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, domain.NewEngineError(domain.ErrGenerateStatus.Code,
			fmt.Sprintf("generation endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
	return resp, nil
}

func (c *Client) readStream(ctx context.Context, body io.Reader, fn StreamFunc) (string, bool, error) {
	decoder := json.NewDecoder(body)
	var full bytes.Buffer

	for {
		var chunk generateChunk
		if err := decoder.Decode(&chunk); err == io.EOF {
			return full.String(), true, nil
		} else if err != nil {
			if ctx.Err() != nil {
				return full.String(), false, ctx.Err()
			}
			return full.String(), false, domain.WrapEngineError(domain.ErrGenerateDecode.Code, "decode stream", err)
		}

		full.WriteString(chunk.Response)
		if fn != nil && fn(chunk.Response) {
			c.log.Debug("generation stopped early", zap.Int("chars", full.Len()))
			return full.String(), false, nil
		}
		if chunk.Done {
			c.log.Debug("generation finished", zap.Int("chars", full.Len()))
			return full.String(), true, nil
		}
	}
}
