package retry

import (
	"context"
	"errors"
	"time"

	"github.com/julienstroheker/HexRelay/internal/logging"
)

// Policy retries an operation a bounded number of times with a fixed delay
// between attempts. The budget belongs to a single call of Do, so unrelated
// attempt chains never share it.
type Policy struct {
	maxRetries int
	delay      time.Duration
	retryable  func(error) bool
	onRetry    func(attempt, remaining int, err error)
	logger     *logging.Logger
	operation  string
}

// Options contains configuration for Policy
type Options struct {
	// MaxRetries is the number of retries after the first attempt. Zero means
	// a single attempt; negative values are treated as zero.
	MaxRetries int

	// Delay is the wait before each retry
	Delay time.Duration

	// Retryable decides whether an error may be retried (default: every error)
	Retryable func(error) bool

	// OnRetry is called before each wait with the attempt that failed and the
	// budget left after this retry is consumed
	OnRetry func(attempt, remaining int, err error)

	// Operation names the retried action in log entries
	Operation string

	// Logger for retry logging (optional)
	Logger *logging.Logger
}

// ErrExhausted is wrapped by the error Do returns when the budget ran out
var ErrExhausted = errors.New("retry budget exhausted")

// New creates a new Policy
func New(opts *Options) *Policy {
	if opts == nil {
		opts = &Options{}
	}

	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	retryable := opts.Retryable
	if retryable == nil {
		retryable = func(error) bool { return true }
	}

	return &Policy{
		maxRetries: maxRetries,
		delay:      opts.Delay,
		retryable:  retryable,
		onRetry:    opts.OnRetry,
		logger:     opts.Logger,
		operation:  opts.Operation,
	}
}

// MaxRetries returns the configured retry budget
func (p *Policy) MaxRetries() int {
	return p.maxRetries
}

// Do runs fn until it succeeds, returns a non-retryable error, the budget is
// exhausted, or ctx is done. Non-retryable errors are returned unwrapped.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	remaining := p.maxRetries

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !p.retryable(err) {
			return err
		}
		if remaining == 0 {
			return &ExhaustedError{Attempts: attempt, Err: err}
		}
		remaining--

		if p.onRetry != nil {
			p.onRetry(attempt, remaining, err)
		}
		if p.logger != nil {
			p.logger.Warn("Retrying "+p.operation,
				logging.Int("attempt", attempt),
				logging.Int("remaining", remaining),
				logging.Duration("delay", p.delay),
				logging.Error(err))
		}

		timer := time.NewTimer(p.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// ExhaustedError reports the last failure once no retries are left
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return ErrExhausted.Error() + ": " + e.Err.Error()
}

// Unwrap exposes both ErrExhausted and the last attempt's error
func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhausted, e.Err}
}
