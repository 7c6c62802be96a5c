package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Client provides HTTP client functionality to communicate with the nodevisor daemon
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
		BaseURL: "http://127.0.0.1:7070/api",
		Timeout: time.Minute,
	}
}

// New creates a new nodevisor API client. The timeout must cover a node
// stop with SIGKILL escalation and a slow RPC.
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

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	isReachable := resp.StatusCode != http.StatusNotFound
	c.logger.Debug("Daemon reachability check", "reachable", isReachable, "status", resp.StatusCode)
	return isReachable
}

// Run starts the node.
func (c *Client) Run(ctx context.Context, req RunRequest) error {
	c.logger.Debug("Starting node", "env", req.Env, "args", req.Args)
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	_, err = c.do(ctx, http.MethodPost, "/run", data)
	return err
}

// Stop terminates the node.
func (c *Client) Stop(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/stop", nil)
	return err
}

// Quit ends the daemon's control loop. The node keeps running.
func (c *Client) Quit(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/quit", nil)
	return err
}

func (c *Client) Status(ctx context.Context) (NodeStatus, error) {
	var st NodeStatus
	b, err := c.do(ctx, http.MethodGet, "/status", nil)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(b, &st); err != nil {
		return st, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}

// Log returns the full captured node log.
func (c *Client) Log(ctx context.Context) (string, error) {
	b, err := c.do(ctx, http.MethodGet, "/log", nil)
	return string(b), err
}

// RPC forwards a JSON-RPC call and returns the node's response envelope,
// which may itself hold a JSON-RPC error object.
func (c *Client) RPC(ctx context.Context, method string, params ...json.RawMessage) (json.RawMessage, error) {
	if params == nil {
		params = []json.RawMessage{}
	}
	data, err := json.Marshal(RPCRequest{Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	b, err := c.do(ctx, http.MethodPost, "/rpc", data)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// do performs HTTP request with common error handling and returns the body of a 200 response.
func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", url)
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusOK {
		return b, nil
	}
	return nil, c.errorFrom(resp.StatusCode, b)
}

// errorFrom handles HTTP error responses
func (c *Client) errorFrom(status int, body []byte) error {
	var er ErrorResponse
	if err := json.Unmarshal(body, &er); err != nil || er.Error == "" {
		c.logger.Error("Failed to decode error response", "status", status)
		return &APIError{StatusCode: status, Message: fmt.Sprintf("HTTP %d", status)}
	}
	c.logger.Debug("API request failed", "error", er.Error, "kind", er.Kind, "status", status)
	return &APIError{StatusCode: status, Kind: er.Kind, Message: er.Error}
}
