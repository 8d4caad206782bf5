package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/julienstroheker/HexRelay/internal/logging"
	"golang.org/x/sync/errgroup"
)

// DefaultGrace is how long Shutdown waits for ended redirections to finish
const DefaultGrace = time.Second

// ErrShutdownIncomplete is returned when redirections outlive the grace period
var ErrShutdownIncomplete = errors.New("redirections still open after grace period")

// Coordinator stops a relay: every server first, then every redirection
type Coordinator struct {
	tracker *Tracker
	grace   time.Duration
	logger  *logging.Logger
}

// CoordinatorOptions configures a Coordinator
type CoordinatorOptions struct {
	Tracker *Tracker

	// Grace bounds the wait for ended redirections (default: DefaultGrace)
	Grace time.Duration

	Logger *logging.Logger
}

// NewCoordinator creates a new Coordinator
func NewCoordinator(opts *CoordinatorOptions) *Coordinator {
	if opts == nil {
		opts = &CoordinatorOptions{}
	}

	tracker := opts.Tracker
	if tracker == nil {
		tracker = NewTracker()
	}

	grace := opts.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}

	return &Coordinator{
		tracker: tracker,
		grace:   grace,
		logger:  opts.Logger,
	}
}

// Shutdown closes every tracked server and waits for all of them, cancels
// pending service connects, then ends every live redirection and waits up to
// the grace period for them to finish.
// It returns an error when a server fails to close, ctx expires, or
// redirections remain after the grace period.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	servers := c.tracker.Servers()
	c.logger.Info("Shutting down", logging.Int("servers", len(servers)))

	var g errgroup.Group
	for _, server := range servers {
		g.Go(server.Close)
	}

	closed := make(chan error, 1)
	go func() {
		closed <- g.Wait()
	}()

	var closeErr error
	select {
	case closeErr = <-closed:
	case <-ctx.Done():
		return fmt.Errorf("waiting for servers to close: %w", ctx.Err())
	}
	if closeErr != nil {
		c.logger.Error("Server close failed", logging.Error(closeErr))
	}

	// A connect still retrying could otherwise track a redirection after the
	// list below is taken
	cancelled := make(chan struct{})
	go func() {
		c.tracker.CancelConnects()
		close(cancelled)
	}()
	select {
	case <-cancelled:
	case <-ctx.Done():
		return errors.Join(closeErr, fmt.Errorf("cancelling service connects: %w", ctx.Err()))
	}

	redirections := c.tracker.Redirections()
	c.logger.Info("Ending redirections", logging.Int("redirections", len(redirections)))
	for _, r := range redirections {
		r.End()
	}

	timer := time.NewTimer(c.grace)
	defer timer.Stop()
	for _, r := range redirections {
		select {
		case <-r.Done():
		case <-timer.C:
			return errors.Join(closeErr, fmt.Errorf("%w: %d", ErrShutdownIncomplete, len(c.tracker.Redirections())))
		case <-ctx.Done():
			return errors.Join(closeErr, ctx.Err())
		}
	}

	c.logger.Info("Shutdown complete")
	return closeErr
}
