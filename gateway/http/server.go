package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/julienstroheker/HexRelay/gateway/http/handlers"
	"github.com/julienstroheker/HexRelay/gateway/http/middleware"
	"github.com/julienstroheker/HexRelay/internal/logging"
	"github.com/julienstroheker/HexRelay/internal/relay"
)

// Server is the read-only status server exposing listener and redirection
// state over HTTP
type Server struct {
	server  *http.Server
	tracker *relay.Tracker
	logger  *logging.Logger
	ln      net.Listener
}

// Options configures the status server
type Options struct {
	// Addr is the listen address, e.g. "127.0.0.1:9090"
	Addr string

	// Tracker is the relay state to report
	Tracker *relay.Tracker

	// Logger for request logging (optional)
	Logger *logging.Logger
}

// NewServer creates a status server. Nothing is bound until Listen.
func NewServer(opts *Options) *Server {
	if opts == nil {
		opts = &Options{}
	}

	tracker := opts.Tracker
	if tracker == nil {
		tracker = relay.NewTracker()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handlers.HealthHandler)
	mux.HandleFunc("/api/servers", handlers.NewServersHandler(tracker))
	mux.HandleFunc("/api/redirections", handlers.NewRedirectionsHandler(tracker))

	// Telemetry runs first so the logger sees the request id
	var handler http.Handler = mux
	handler = middleware.Logger(opts.Logger)(handler)
	handler = middleware.Telemetry(handler)

	return &Server{
		server: &http.Server{
			Addr:              opts.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		tracker: tracker,
		logger:  opts.Logger,
	}
}

// Listen binds the status address so bind errors surface before serving
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	return nil
}

// Serve handles requests on the bound listener until Shutdown or Close.
// It returns nil once the server was shut down.
func (s *Server) Serve() error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.logger.Info("Status server listening", logging.String("addr", s.ln.Addr().String()))

	if err := s.server.Serve(s.ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound address, or nil before Listen
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Close immediately closes the server
func (s *Server) Close() error {
	return s.server.Close()
}
