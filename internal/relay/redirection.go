package relay

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/julienstroheker/HexRelay/internal/events"
	"github.com/julienstroheker/HexRelay/internal/logging"
)

// RedirectionID returns a log correlation id: the zero-padded local port and a
// random number in 1..999. Ids are not unique; Redirection.Key is.
func RedirectionID(localPort int) string {
	return fmt.Sprintf("%05d-%03d", localPort, rand.Intn(999)+1)
}

type side int

const (
	clientSide side = iota
	serviceSide
)

func (s side) String() string {
	if s == clientSide {
		return "client"
	}
	return "service"
}

// Redirection is one client connection paired with its service connection.
// It stays tracked until both connections have closed.
type Redirection struct {
	ID        string
	Key       uuid.UUID
	LocalPort int
	Dynamic   bool
	Client    events.Endpoint
	Service   events.Endpoint
	StartTime time.Time

	client  net.Conn
	service net.Conn

	mu            sync.Mutex
	clientClosed  bool
	serviceClosed bool

	finishOnce sync.Once
	done       chan struct{}
	onFinish   func(*Redirection)
}

func newRedirection(localPort int, dynamic bool, client, service net.Conn) *Redirection {
	return &Redirection{
		ID:        RedirectionID(localPort),
		Key:       uuid.New(),
		LocalPort: localPort,
		Dynamic:   dynamic,
		Client:    events.EndpointOf(client.RemoteAddr()),
		Service:   events.EndpointOf(service.RemoteAddr()),
		StartTime: time.Now(),
		client:    client,
		service:   service,
		done:      make(chan struct{}),
	}
}

// Done is closed once both sides have closed and the redirection is untracked
func (r *Redirection) Done() <-chan struct{} {
	return r.done
}

// End forcibly closes both connections
func (r *Redirection) End() {
	_ = r.client.Close()
	_ = r.service.Close()
}

// run pipes both directions and returns when the redirection has finished
func (r *Redirection) run(bus *events.Bus, logger *logging.Logger) {
	logger = logger.With(logging.String("redirection_id", r.ID), logging.Int("local_port", r.LocalPort))

	go r.forward(clientSide, r.service, r.client, bus, logger)
	go r.forward(serviceSide, r.client, r.service, bus, logger)

	<-r.done
}

// forward copies src into dst until src stops, then reports src's side closed
func (r *Redirection) forward(from side, dst, src net.Conn, bus *events.Bus, logger *logging.Logger) {
	_, err := io.Copy(dst, src)
	hadError := err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrClosedPipe)

	first, last := r.report(from)

	endpoint, topic := r.Client, events.TopicClientClose
	if from == serviceSide {
		endpoint, topic = r.Service, events.TopicServiceClose
	}
	bus.Publish(events.Event{
		Topic:     topic,
		LocalPort: r.LocalPort,
		Payload:   events.ConnectionClosed{HadError: hadError, Endpoint: endpoint},
	})
	fields := []logging.Field{
		logging.String(from.String(), endpoint.String()),
		logging.Bool("had_error", hadError),
	}
	if hadError {
		fields = append(fields, logging.Error(err))
	}
	logger.Debug("Connection closed", fields...)

	switch {
	case first && hadError:
		r.End()
	case first:
		endWrite(dst)
	case last:
		r.End()
		r.finish(bus, logger)
	}
}

// report marks one side closed. first is true for the first side to close,
// last for the call that completes the pair. Repeated reports return false, false.
func (r *Redirection) report(s side) (first, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	closed := &r.clientClosed
	if s == serviceSide {
		closed = &r.serviceClosed
	}
	if *closed {
		return false, false
	}
	*closed = true

	both := r.clientClosed && r.serviceClosed
	return !both, both
}

func (r *Redirection) finish(bus *events.Bus, logger *logging.Logger) {
	r.finishOnce.Do(func() {
		if r.onFinish != nil {
			r.onFinish(r)
		}
		bus.Publish(events.Event{
			Topic:     events.TopicRedirectionFinished,
			LocalPort: r.LocalPort,
			Payload:   r.payload(),
		})
		logger.Debug("Redirection finished", logging.Duration("duration", time.Since(r.StartTime)))
		close(r.done)
	})
}

func (r *Redirection) payload() events.Redirection {
	return events.Redirection{ID: r.ID, Dynamic: r.Dynamic, Client: r.Client, Service: r.Service}
}

// endWrite half-closes conn so its peer reads EOF, closing it fully when
// half-close is unsupported.
func endWrite(conn net.Conn) {
	if cw, ok := conn.(closeWriter); ok {
		if err := cw.CloseWrite(); err == nil {
			return
		}
	}
	_ = conn.Close()
}
