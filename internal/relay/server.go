package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/julienstroheker/HexRelay/internal/events"
	"github.com/julienstroheker/HexRelay/internal/logging"
	"github.com/julienstroheker/HexRelay/internal/retry"
)

// acceptBackoff is the pause after an accept error that did not close the listener
const acceptBackoff = 50 * time.Millisecond

// State is the bind state of a Server
type State int

const (
	StateUnbound State = iota
	StateBinding
	StateListening
	StateBindFailing
	StateClosed
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBinding:
		return "binding"
	case StateListening:
		return "listening"
	case StateBindFailing:
		return "bind-failing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Server listens on one local port and hands accepted connections to an Engine
type Server struct {
	spec    ListenerSpec
	tracker *Tracker
	engine  *Engine
	bus     *events.Bus
	logger  *logging.Logger
	listen  ListenFunc
	resolve ResolveFunc

	mu         sync.Mutex
	state      State
	ln         net.Listener
	cancelBind context.CancelFunc

	doneOnce sync.Once
	done     chan struct{}
}

// ServerOptions configures a Server
type ServerOptions struct {
	// Tracker is shared by every server of the relay (default: a new Tracker)
	Tracker *Tracker

	// Engine handles accepted connections (default: an Engine over Tracker)
	Engine *Engine

	// Bus receives listener events (optional)
	Bus *events.Bus

	// Logger for listener logging (optional)
	Logger *logging.Logger

	// Listen binds the socket (default: net.ListenConfig.Listen)
	Listen ListenFunc
}

// NewServer validates spec and creates a Server for it
func NewServer(spec ListenerSpec, opts *ServerOptions) (*Server, error) {
	if opts == nil {
		opts = &ServerOptions{}
	}

	resolved, err := spec.Validate()
	if err != nil {
		return nil, err
	}

	tracker := opts.Tracker
	if tracker == nil {
		tracker = NewTracker()
	}

	engine := opts.Engine
	if engine == nil {
		engine = NewEngine(&EngineOptions{Tracker: tracker, Bus: opts.Bus, Logger: opts.Logger})
	}

	listen := opts.Listen
	if listen == nil {
		var lc net.ListenConfig
		listen = lc.Listen
	}

	s := &Server{
		spec:    resolved,
		tracker: tracker,
		engine:  engine,
		bus:     opts.Bus,
		logger:  opts.Logger.With(logging.Int("local_port", resolved.LocalPort)),
		listen:  listen,
		done:    make(chan struct{}),
	}
	if resolved.IsDynamic() {
		s.resolve = tracker.DynamicResolver(resolved.LocalPort)
	} else {
		s.resolve = StaticDestination(resolved.ServiceHost, resolved.ServicePort)
	}
	return s, nil
}

// Spec returns the validated listener spec
func (s *Server) Spec() ListenerSpec {
	return s.spec
}

// State returns the current bind state
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Addr returns the bound address, or nil before the server is listening
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Done is closed once the server has stopped accepting and released its socket
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Start binds the listening socket, retrying while the address is in use,
// then accepts connections in the background until Close. ctx bounds the
// bind attempts only. Service connects of accepted clients keep ctx's values
// and are cancelled by Tracker.CancelConnects.
func (s *Server) Start(ctx context.Context) error {
	bindCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.state != StateUnbound {
		s.mu.Unlock()
		return fmt.Errorf("server on %s already started", s.spec.LocalAddr())
	}
	s.state = StateBinding
	s.cancelBind = cancel
	s.mu.Unlock()

	policy := retry.New(&retry.Options{
		MaxRetries: s.spec.ListenRetryTimes,
		Delay:      s.spec.ListenRetryTimeout,
		Retryable:  IsAddrInUse,
		Operation:  "bind",
		Logger:     s.logger,
		OnRetry: func(attempt, remaining int, err error) {
			s.transition(StateBindFailing)
			s.bus.Publish(events.Event{
				Topic:     events.TopicBindRetry,
				LocalPort: s.spec.LocalPort,
				Payload:   events.Retry{Attempt: attempt, Remaining: remaining, Delay: s.spec.ListenRetryTimeout, Err: err},
			})
		},
	})

	var ln net.Listener
	err := policy.Do(bindCtx, func(ctx context.Context) error {
		s.transition(StateBinding)
		l, err := s.listen(ctx, "tcp", s.spec.LocalAddr())
		if err != nil {
			return err
		}
		ln = l
		return nil
	})
	if err != nil {
		return s.failBind(err)
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		_ = ln.Close()
		s.finish()
		return ErrServerClosed
	}
	s.ln = ln
	s.state = StateListening
	s.cancelBind = nil
	s.mu.Unlock()

	s.tracker.TrackServer(s)
	s.bus.Publish(events.Event{
		Topic:     events.TopicListening,
		LocalPort: s.spec.LocalPort,
		Payload:   events.Listening{Addr: ln.Addr().String()},
	})
	fields := []logging.Field{logging.String("addr", ln.Addr().String())}
	if s.spec.IsDynamic() {
		fields = append(fields, logging.Bool("dynamic", true))
	} else {
		fields = append(fields, logging.String("service", s.spec.ServiceAddr()))
	}
	s.logger.Info("Listening", fields...)

	go s.serve(context.WithoutCancel(ctx), ln)
	return nil
}

func (s *Server) failBind(err error) error {
	closed := s.State() == StateClosed
	s.transition(StateClosed)
	s.finish()

	if closed {
		return ErrServerClosed
	}
	if errors.Is(err, context.Canceled) {
		s.logger.Info("Bind cancelled")
		return fmt.Errorf("bind %s: %w", s.spec.LocalAddr(), err)
	}
	if errors.Is(err, retry.ErrExhausted) {
		err = fmt.Errorf("%w on %s: %w", ErrBindRetriesExhausted, s.spec.LocalAddr(), err)
	} else {
		err = fmt.Errorf("bind %s: %w", s.spec.LocalAddr(), err)
	}

	s.bus.Publish(events.Event{Topic: events.TopicError, LocalPort: s.spec.LocalPort, Payload: events.Failure{Err: err}})
	s.logger.Error("Bind failed", logging.Error(err))
	return err
}

// serve accepts until the listener is closed
func (s *Server) serve(ctx context.Context, ln net.Listener) {
	defer func() {
		s.finish()
		s.bus.Publish(events.Event{Topic: events.TopicClose, LocalPort: s.spec.LocalPort})
		s.logger.Info("Listener closed")
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.State() == StateClosed {
				return
			}
			s.bus.Publish(events.Event{Topic: events.TopicError, LocalPort: s.spec.LocalPort, Payload: events.Failure{Err: err}})
			s.logger.Warn("Accept failed", logging.Error(err))
			time.Sleep(acceptBackoff)
			continue
		}
		s.handle(ctx, conn)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	clientHost := hostOf(conn.RemoteAddr())
	if !s.spec.IsDynamic() {
		s.tracker.TrackClient(s.spec.LocalPort, clientHost)
	}

	s.bus.Publish(events.Event{
		Topic:     events.TopicClientConnection,
		LocalPort: s.spec.LocalPort,
		Payload:   events.ClientConnection{ClientAddress: clientHost, Dynamic: s.spec.IsDynamic()},
	})
	s.logger.Debug("Client connected", logging.String("client", conn.RemoteAddr().String()))

	go func() {
		_ = s.engine.ConnectAndPipe(ctx, conn, s.spec, s.resolve)
	}()
}

// Close stops accepting new connections and returns once the listening
// socket is released. Live redirections are not affected.
func (s *Server) Close() error {
	s.mu.Lock()
	prev := s.state
	s.state = StateClosed
	ln := s.ln
	cancel := s.cancelBind
	s.mu.Unlock()

	var err error
	switch prev {
	case StateUnbound:
		s.finish()
	case StateBinding, StateBindFailing:
		if cancel != nil {
			cancel()
		}
	case StateListening:
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = fmt.Errorf("close %s: %w", s.spec.LocalAddr(), cerr)
		}
	}

	<-s.done
	return err
}

// transition moves to state unless the server was closed
func (s *Server) transition(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClosed {
		s.state = state
	}
}

func (s *Server) finish() {
	s.doneOnce.Do(func() {
		close(s.done)
	})
}
