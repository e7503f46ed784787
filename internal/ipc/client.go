package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/midstream/internal/dispatch"
	"github.com/anthropics/midstream/internal/domain"
)

// Client talks to a remote engine server and satisfies the filesystem
// backend contract, so a session can dispatch operations against another
// machine's allowed roots.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ dispatch.Backend = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientHTTP sets the underlying HTTP client.
func WithClientHTTP(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a Client for the engine server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health reports whether the server is reachable and serving.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/api/v1/health", nil)
}

// ReadFile fetches a file's content from the remote backend.
func (c *Client) ReadFile(ctx context.Context, path string) (string, error) {
	var resp FileResponse
	if err := c.post(ctx, "/api/v1/fs/read", PathRequest{Path: path}, &resp); err != nil {
		return "", err
	}
	return resp.Content, nil
}

// WriteFile writes content to a file on the remote backend.
func (c *Client) WriteFile(ctx context.Context, path, body string) error {
	return c.post(ctx, "/api/v1/fs/write", WriteFileRequest{Path: path, Content: body}, nil)
}

// ListDirectory lists a directory on the remote backend.
func (c *Client) ListDirectory(ctx context.Context, path string) ([]domain.DirEntry, error) {
	var resp EntriesResponse
	if err := c.post(ctx, "/api/v1/fs/list", PathRequest{Path: path}, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// SearchFiles matches file names on the remote backend.
func (c *Client) SearchFiles(ctx context.Context, path, pattern string) ([]string, error) {
	var resp MatchesResponse
	if err := c.post(ctx, "/api/v1/fs/search", PatternRequest{Path: path, Pattern: pattern}, &resp); err != nil {
		return nil, err
	}
	return resp.Matches, nil
}

// GrepFiles scans file contents on the remote backend.
func (c *Client) GrepFiles(ctx context.Context, path, pattern string) ([]domain.GrepMatch, error) {
	var resp GrepResponse
	if err := c.post(ctx, "/api/v1/fs/grep", PatternRequest{Path: path, Pattern: pattern}, &resp); err != nil {
		return nil, err
	}
	return resp.Matches, nil
}

// ChangeDirectory moves the remote backend's working directory.
func (c *Client) ChangeDirectory(ctx context.Context, path string) (string, error) {
	var resp DirResponse
	if err := c.post(ctx, "/api/v1/fs/cd", PathRequest{Path: path}, &resp); err != nil {
		return "", err
	}
	return resp.Dir, nil
}

// CurrentDirectory returns the remote backend's working directory.
func (c *Client) CurrentDirectory(ctx context.Context) (string, error) {
	var resp DirResponse
	if err := c.get(ctx, "/api/v1/fs/pwd", &resp); err != nil {
		return "", err
	}
	return resp.Dir, nil
}

// CreateDirectory creates a directory on the remote backend.
func (c *Client) CreateDirectory(ctx context.Context, path string) (string, error) {
	var resp DirResponse
	if err := c.post(ctx, "/api/v1/fs/mkdir", PathRequest{Path: path}, &resp); err != nil {
		return "", err
	}
	return resp.Dir, nil
}

// Roots returns the remote backend's allowed roots.
func (c *Client) Roots(ctx context.Context) ([]string, error) {
	var resp RootsResponse
	if err := c.get(ctx, "/api/v1/fs/roots", &resp); err != nil {
		return nil, err
	}
	return resp.Roots, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

// do executes the request and decodes the response. Engine error codes
// round-trip the wire so callers see the same typed errors a local backend
// would return.
func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call engine server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr APIError
		if derr := json.NewDecoder(resp.Body).Decode(&apiErr); derr == nil && apiErr.Message != "" {
			if apiErr.Code <= -32000 {
				return &domain.EngineError{Code: apiErr.Code, Message: apiErr.Message}
			}
			return fmt.Errorf("engine server: %s", apiErr.Message)
		}
		return fmt.Errorf("engine server returned status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode engine response: %w", err)
	}
	return nil
}
