package relay

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/julienstroheker/HexRelay/internal/events"
	"github.com/julienstroheker/HexRelay/internal/logging"
	"github.com/julienstroheker/HexRelay/internal/retry"
)

// Destination is a resolved service address
type Destination struct {
	Host string
	Port int
}

// Addr returns host:port
func (d Destination) Addr() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// ResolveFunc picks the destination for a client host. ok is false when the
// client cannot be redirected.
type ResolveFunc func(clientHost string) (dest Destination, ok bool)

// StaticDestination resolves every client to host:port
func StaticDestination(host string, port int) ResolveFunc {
	dest := Destination{Host: host, Port: port}
	return func(string) (Destination, bool) {
		return dest, true
	}
}

// Engine connects accepted clients to their service and pipes the pair
type Engine struct {
	tracker *Tracker
	dialer  Dialer
	bus     *events.Bus
	logger  *logging.Logger
}

// EngineOptions configures an Engine
type EngineOptions struct {
	// Tracker receives the redirections (default: a new Tracker)
	Tracker *Tracker

	// Dialer opens service connections (default: a net.Dialer bound to the
	// listener's source host)
	Dialer Dialer

	// Bus receives redirection events (optional)
	Bus *events.Bus

	// Logger for connection logging (optional)
	Logger *logging.Logger
}

// NewEngine creates a new Engine
func NewEngine(opts *EngineOptions) *Engine {
	if opts == nil {
		opts = &EngineOptions{}
	}

	tracker := opts.Tracker
	if tracker == nil {
		tracker = NewTracker()
	}

	return &Engine{
		tracker: tracker,
		dialer:  opts.Dialer,
		bus:     opts.Bus,
		logger:  opts.Logger,
	}
}

// ConnectAndPipe resolves the destination for client, connects to it with the
// connect-retry budget of spec, and pipes both directions until both sides
// close. The client connection is closed on every failure path. The connect
// stops early when ctx is done or the tracker cancels pending connects.
func (e *Engine) ConnectAndPipe(ctx context.Context, client net.Conn, spec ListenerSpec, resolve ResolveFunc) error {
	clientHost := hostOf(client.RemoteAddr())
	logger := e.logger.With(logging.Int("local_port", spec.LocalPort), logging.String("client", clientHost))

	dest, ok := resolve(clientHost)
	if !ok {
		_ = client.Close()
		err := fmt.Errorf("%w: %s", ErrUntrackedClient, clientHost)
		e.bus.Publish(events.Event{Topic: events.TopicError, LocalPort: spec.LocalPort, Payload: events.Failure{Err: err}})
		logger.Warn("Rejected untracked client")
		return err
	}

	connectCtx, done, ok := e.tracker.beginConnect(ctx)
	if !ok {
		_ = client.Close()
		logger.Debug("Rejected client during shutdown")
		return ErrConnectsCancelled
	}

	policy := retry.New(&retry.Options{
		MaxRetries: spec.ConnRetryTimes,
		Delay:      spec.ConnRetryTimeout,
		Operation:  "service connect",
		Logger:     logger.With(logging.String("service", dest.Addr())),
		OnRetry: func(attempt, remaining int, err error) {
			e.bus.Publish(events.Event{
				Topic:     events.TopicConnectRetry,
				LocalPort: spec.LocalPort,
				Payload:   events.Retry{Attempt: attempt, Remaining: remaining, Delay: spec.ConnRetryTimeout, Err: err},
			})
		},
	})

	dialer := e.dialerFor(spec)
	var service net.Conn
	err := policy.Do(connectCtx, func(ctx context.Context) error {
		conn, err := dialer.DialContext(ctx, "tcp", dest.Addr())
		if err != nil {
			return err
		}
		service = conn
		return nil
	})
	if err == nil && connectCtx.Err() != nil {
		_ = service.Close()
		err = connectCtx.Err()
	}
	if err != nil {
		done()
		_ = client.Close()
		err = fmt.Errorf("connect %s: %w", dest.Addr(), err)
		e.bus.Publish(events.Event{Topic: events.TopicServiceError, LocalPort: spec.LocalPort, Payload: events.Failure{Err: err}})
		logger.Error("Service connection failed", logging.Error(err))
		return err
	}

	r := e.tracker.TrackRedirection(spec.LocalPort, spec.IsDynamic(), client, service)
	done()

	variant := events.TopicFixedRedirection
	if r.Dynamic {
		variant = events.TopicDynamicRedirection
	}
	for _, topic := range []events.Topic{events.TopicServiceRedirection, variant} {
		e.bus.Publish(events.Event{Topic: topic, LocalPort: spec.LocalPort, Payload: r.payload()})
	}
	logger.Debug("Redirection established",
		logging.String("redirection_id", r.ID),
		logging.String("service", r.Service.String()),
		logging.Bool("dynamic", r.Dynamic))

	r.run(e.bus, e.logger)
	return nil
}

func (e *Engine) dialerFor(spec ListenerSpec) Dialer {
	if e.dialer != nil {
		return e.dialer
	}
	return sourceDialer(spec.SourceHost)
}
