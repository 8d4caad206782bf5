package httpclient

import (
	"context"
	"net/http"
	"time"

	"github.com/julienstroheker/HexRelay/internal/logging"
)

// Client is an HTTP client that runs every request through a policy chain
type Client struct {
	httpClient *http.Client
	policies   []Policy
}

// Options contains configuration options for the HTTP client
type Options struct {
	// Timeout is the maximum time for a single attempt
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt
	MaxRetries int

	// RetryDelay is the fixed pause between attempts
	RetryDelay time.Duration

	// Logger is used for debug logging (optional)
	Logger *logging.Logger

	// UserAgent is the User-Agent header value
	UserAgent string

	// Transport allows customizing the underlying HTTP transport
	Transport http.RoundTripper
}

// DefaultOptions returns default options for the HTTP client
func DefaultOptions() *Options {
	return &Options{
		Timeout:    5 * time.Second,
		MaxRetries: 2,
		RetryDelay: 250 * time.Millisecond,
		UserAgent:  defaultUserAgent,
	}
}

// NewClient creates a new HTTP client with the given options
func NewClient(opts *Options) *Client {
	if opts == nil {
		opts = DefaultOptions()
	}

	httpClient := &http.Client{Timeout: opts.Timeout}
	if opts.Transport != nil {
		httpClient.Transport = opts.Transport
	}

	// Outermost first: errors get context, retries reissue the whole inner
	// chain, and the logger sees the final headers of every attempt
	policies := []Policy{NewErrorPolicy()}
	if opts.MaxRetries > 0 {
		policies = append(policies, NewRetryPolicy(&RetryOptions{
			MaxRetries: opts.MaxRetries,
			RetryDelay: opts.RetryDelay,
			Logger:     opts.Logger,
		}))
	}
	policies = append(policies, NewRequestIDPolicy(""))
	if opts.UserAgent != "" {
		policies = append(policies, NewUserAgentPolicy(opts.UserAgent))
	}
	if opts.Logger != nil {
		policies = append(policies, NewLoggingPolicy(opts.Logger))
	}

	return &Client{
		httpClient: httpClient,
		policies:   policies,
	}
}

// Do executes an HTTP request through the policy chain
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	next := func(r *http.Request) (*http.Response, error) {
		return c.httpClient.Do(r)
	}

	// Apply policies in reverse order to build the chain
	for i := len(c.policies) - 1; i >= 0; i-- {
		policy := c.policies[i]
		currentNext := next
		next = func(r *http.Request) (*http.Response, error) {
			return policy.Do(r, currentNext)
		}
	}

	return next(req)
}

// Get is a convenience method for GET requests
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}
