package httpclient

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/google/uuid"
)

// RequestIDHeader is the header the status server echoes back
const RequestIDHeader = "X-Request-Id"

var defaultUserAgent = fmt.Sprintf("hexrelay/1.0 (Go/%s; %s/%s)", runtime.Version(), runtime.GOOS, runtime.GOARCH)

// Policy represents a middleware that can modify requests and responses
type Policy interface {
	// Do executes the policy and calls the next policy in the chain
	Do(req *http.Request, next func(*http.Request) (*http.Response, error)) (*http.Response, error)
}

// PolicyFunc is a function adapter for Policy interface
type PolicyFunc func(req *http.Request, next func(*http.Request) (*http.Response, error)) (*http.Response, error)

// Do implements Policy interface
func (f PolicyFunc) Do(req *http.Request, next func(*http.Request) (*http.Response, error)) (*http.Response, error) {
	return f(req, next)
}

// NewErrorPolicy wraps transport errors with the request URL
func NewErrorPolicy() Policy {
	return PolicyFunc(func(req *http.Request, next func(*http.Request) (*http.Response, error)) (*http.Response, error) {
		resp, err := next(req)
		if err != nil {
			return resp, fmt.Errorf("request to %s failed: %w", req.URL.String(), err)
		}
		return resp, nil
	})
}

// NewRequestIDPolicy tags each attempt with a fresh request id in header
// (default X-Request-Id)
func NewRequestIDPolicy(header string) Policy {
	if header == "" {
		header = RequestIDHeader
	}
	return PolicyFunc(func(req *http.Request, next func(*http.Request) (*http.Response, error)) (*http.Response, error) {
		req.Header.Set(header, uuid.New().String())
		return next(req)
	})
}

// NewUserAgentPolicy sets the User-Agent header
func NewUserAgentPolicy(userAgent string) Policy {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return PolicyFunc(func(req *http.Request, next func(*http.Request) (*http.Response, error)) (*http.Response, error) {
		req.Header.Set("User-Agent", userAgent)
		return next(req)
	})
}
