package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/julienstroheker/HexRelay/internal/httpclient"
	"github.com/julienstroheker/HexRelay/internal/logging"
)

// Client reads relay state from a running status server
type Client struct {
	baseURL    string
	httpClient *httpclient.Client
}

// Options contains configuration for the status client
type Options struct {
	// Addr is the status server address, "host:port" or a full URL
	Addr string

	// Timeout is the HTTP request timeout
	Timeout time.Duration

	// MaxRetries is the maximum number of retry attempts
	MaxRetries int

	// Logger is used for debug logging (optional)
	Logger *logging.Logger
}

// DefaultOptions returns default options for the status client
func DefaultOptions() *Options {
	return &Options{
		Addr:       "127.0.0.1:9090",
		Timeout:    5 * time.Second,
		MaxRetries: 2,
	}
}

// NewClient creates a new status client
func NewClient(opts *Options) *Client {
	if opts == nil {
		opts = DefaultOptions()
	}

	baseURL := strings.TrimRight(opts.Addr, "/")
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}

	return &Client{
		baseURL: baseURL,
		httpClient: httpclient.NewClient(&httpclient.Options{
			Timeout:    opts.Timeout,
			MaxRetries: opts.MaxRetries,
			RetryDelay: 250 * time.Millisecond,
			Logger:     opts.Logger,
		}),
	}
}

// Servers lists the relay listeners
func (c *Client) Servers(ctx context.Context) ([]ServerInfo, error) {
	var resp ServersResponse
	if err := c.getJSON(ctx, "/api/servers", &resp); err != nil {
		return nil, err
	}
	return resp.Servers, nil
}

// Redirections lists the live redirections
func (c *Client) Redirections(ctx context.Context) ([]RedirectionInfo, error) {
	var resp RedirectionsResponse
	if err := c.getJSON(ctx, "/api/redirections", &resp); err != nil {
		return nil, err
	}
	return resp.Redirections, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	resp, err := c.httpClient.Get(ctx, c.baseURL+path)
	if err != nil {
		return err // Error is already wrapped by ErrorPolicy
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
