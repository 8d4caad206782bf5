package relay

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrNoLocalPort is returned for a listener without a local port
	ErrNoLocalPort = errors.New("local port is required")
	// ErrInvalidPort is returned for ports outside 1-65535
	ErrInvalidPort = errors.New("port out of range")
	// ErrNoServicePort is returned when the service host is the local host and no service port is set
	ErrNoServicePort = errors.New("service port is required when the service host is the local host")
	// ErrServiceIsLocal is returned when the destination is the listener itself
	ErrServiceIsLocal = errors.New("service address equals the local address")
	// ErrUntrackedClient is returned by dynamic listeners for clients no static listener has seen
	ErrUntrackedClient = errors.New("client is not tracked by any static listener")
	// ErrBindRetriesExhausted is returned when the address stayed in use for every bind attempt
	ErrBindRetriesExhausted = errors.New("bind retries exhausted")
	// ErrServerClosed is returned by Start when the server was closed while binding
	ErrServerClosed = errors.New("server closed")
	// ErrConnectsCancelled is returned for clients accepted after shutdown cancelled service connects
	ErrConnectsCancelled = errors.New("service connects cancelled")
)

// IsAddrInUse reports whether err was caused by the address already being bound
func IsAddrInUse(err error) bool {
	return errors.Is(err, unix.EADDRINUSE)
}

// ListenerSpec describes one local port and where its connections go.
// A spec with neither ServiceHost nor ServicePort is dynamic.
type ListenerSpec struct {
	LocalHost   string
	LocalPort   int
	ServiceHost string
	ServicePort int

	// SourceHost is the local IP outbound service connections originate from.
	// Empty or 0.0.0.0 lets the system choose.
	SourceHost string

	ListenRetryTimes   int
	ListenRetryTimeout time.Duration
	ConnRetryTimes     int
	ConnRetryTimeout   time.Duration
}

// IsDynamic reports whether the destination is resolved per client
func (s ListenerSpec) IsDynamic() bool {
	return s.ServiceHost == "" && s.ServicePort == 0
}

// LocalAddr returns the bind address
func (s ListenerSpec) LocalAddr() string {
	return net.JoinHostPort(s.LocalHost, strconv.Itoa(s.LocalPort))
}

// ServiceAddr returns the static destination, or "" for a dynamic spec
func (s ListenerSpec) ServiceAddr() string {
	if s.IsDynamic() {
		return ""
	}
	return net.JoinHostPort(s.ServiceHost, strconv.Itoa(s.ServicePort))
}

// Validate checks s and returns it with its destination resolved: a missing
// service host means the local host, and a remote service host without a
// port reuses the local port.
func (s ListenerSpec) Validate() (ListenerSpec, error) {
	if s.LocalPort == 0 {
		return s, ErrNoLocalPort
	}
	if s.LocalPort < 0 || s.LocalPort > 65535 {
		return s, fmt.Errorf("%w: local port %d", ErrInvalidPort, s.LocalPort)
	}
	if s.IsDynamic() {
		return s, nil
	}

	if s.ServiceHost == "" {
		s.ServiceHost = s.LocalHost
	}
	if s.ServicePort == 0 {
		if s.ServiceHost == s.LocalHost {
			return s, fmt.Errorf("%w: %s", ErrNoServicePort, s.LocalAddr())
		}
		s.ServicePort = s.LocalPort
	}
	if s.ServicePort < 0 || s.ServicePort > 65535 {
		return s, fmt.Errorf("%w: service port %d", ErrInvalidPort, s.ServicePort)
	}
	if s.ServiceHost == s.LocalHost && s.ServicePort == s.LocalPort {
		return s, fmt.Errorf("%w: %s", ErrServiceIsLocal, s.LocalAddr())
	}
	return s, nil
}
