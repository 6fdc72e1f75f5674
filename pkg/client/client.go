package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound is returned when the supervisor does not know the module.
var ErrNotFound = errors.New("module not found")

// Client talks to the HTTP API of a running modvisr supervisor.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:5700/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a new API client.
func New(config Config) *Client {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the supervisor is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	var list []ModuleStatus
	err := c.do(ctx, http.MethodGet, "/modules", nil, &list)
	c.logger.Debug("supervisor reachability check", "reachable", err == nil, "error", err)
	return err == nil
}

// List returns every registered module in discovery order.
func (c *Client) List(ctx context.Context) ([]ModuleStatus, error) {
	var list []ModuleStatus
	if err := c.do(ctx, http.MethodGet, "/modules", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Status returns one module.
func (c *Client) Status(ctx context.Context, name string) (ModuleStatus, error) {
	var st ModuleStatus
	err := c.do(ctx, http.MethodGet, "/modules/"+url.PathEscape(name), nil, &st)
	return st, err
}

// Start starts a module.
func (c *Client) Start(ctx context.Context, name string) (ModuleStatus, error) {
	return c.action(ctx, name, "start")
}

// Stop stops a module.
func (c *Client) Stop(ctx context.Context, name string) (ModuleStatus, error) {
	return c.action(ctx, name, "stop")
}

// Toggle starts a stopped module or stops a running one.
func (c *Client) Toggle(ctx context.Context, name string) (ModuleStatus, error) {
	return c.action(ctx, name, "toggle")
}

func (c *Client) action(ctx context.Context, name, verb string) (ModuleStatus, error) {
	c.logger.Debug("module action", "module", name, "action", verb)
	var resp ActionResponse
	err := c.do(ctx, http.MethodPost, "/modules/"+url.PathEscape(name)+"/"+verb, nil, &resp)
	return resp.Module, err
}

// Autostart asks the supervisor to start modules servers first.
func (c *Client) Autostart(ctx context.Context, names []string) ([]AutostartResult, error) {
	var out []AutostartResult
	if err := c.do(ctx, http.MethodPost, "/autostart", AutostartRequest{Modules: names}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// do performs the request and decodes a 200 response into out.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil || errorResp.Error == "" {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, errorResp.Error)
	}
	return fmt.Errorf("API error: %s", errorResp.Error)
}
