package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/julienstroheker/HexRelay/internal/logging"
	"github.com/julienstroheker/HexRelay/internal/retry"
)

// RetryPolicy retries requests that failed in transport or got a retryable
// status, with a fixed delay between attempts
type RetryPolicy struct {
	maxRetries       int
	retryDelay       time.Duration
	retryStatusCodes []int
	logger           *logging.Logger
}

// RetryOptions contains configuration for RetryPolicy
type RetryOptions struct {
	// MaxRetries is the number of retries after the first attempt (default: 2)
	MaxRetries int

	// RetryDelay is the pause between attempts (default: 250ms)
	RetryDelay time.Duration

	// RetryStatusCodes lists the statuses worth retrying
	// (default: 429, 502, 503, 504)
	RetryStatusCodes []int

	// Logger for retry logging (optional)
	Logger *logging.Logger
}

// statusError marks a response whose status asked for a retry
type statusError struct {
	resp *http.Response
}

func (e *statusError) Error() string {
	return fmt.Sprintf("retryable status %d", e.resp.StatusCode)
}

// NewRetryPolicy creates a new RetryPolicy
func NewRetryPolicy(opts *RetryOptions) *RetryPolicy {
	if opts == nil {
		opts = &RetryOptions{}
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}

	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 250 * time.Millisecond
	}

	retryStatusCodes := opts.RetryStatusCodes
	if len(retryStatusCodes) == 0 {
		retryStatusCodes = []int{
			http.StatusTooManyRequests,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		}
	}

	return &RetryPolicy{
		maxRetries:       maxRetries,
		retryDelay:       retryDelay,
		retryStatusCodes: retryStatusCodes,
		logger:           opts.Logger,
	}
}

// Do implements Policy interface. When retries run out on a retryable
// status, the last response is returned without an error.
func (p *RetryPolicy) Do(
	req *http.Request,
	next func(*http.Request) (*http.Response, error),
) (*http.Response, error) {
	policy := retry.New(&retry.Options{
		MaxRetries: p.maxRetries,
		Delay:      p.retryDelay,
		Operation:  "status request",
		Logger:     p.logger,
		Retryable: func(err error) bool {
			return req.Context().Err() == nil
		},
	})

	var resp *http.Response
	attempt := 0
	err := policy.Do(req.Context(), func(ctx context.Context) error {
		attempt++
		if resp != nil {
			// Discard the previous retryable response
			_ = resp.Body.Close()
			resp = nil
		}
		if attempt > 1 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return err
			}
			req.Body = body
		}

		r, err := next(req)
		if err != nil {
			return err
		}
		resp = r
		if p.shouldRetry(r) {
			return &statusError{resp: r}
		}
		return nil
	})

	var se *statusError
	switch {
	case err == nil:
		return resp, nil
	case errors.As(err, &se):
		return se.resp, nil
	default:
		return nil, err
	}
}

func (p *RetryPolicy) shouldRetry(resp *http.Response) bool {
	for _, code := range p.retryStatusCodes {
		if resp.StatusCode == code {
			return true
		}
	}
	return false
}
