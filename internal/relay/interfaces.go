package relay

import (
	"context"
	"net"
)

// Dialer opens outbound service connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ListenFunc binds a listening socket. (*net.ListenConfig).Listen satisfies it.
type ListenFunc func(ctx context.Context, network, address string) (net.Listener, error)

// ActiveServer is a listener as seen by the Tracker
type ActiveServer interface {
	Spec() ListenerSpec
	State() State
	Close() error
}

// sourceDialer returns a dialer whose outbound connections originate from
// sourceHost. An empty or unspecified source lets the system choose.
func sourceDialer(sourceHost string) *net.Dialer {
	d := &net.Dialer{}
	if ip := net.ParseIP(sourceHost); ip != nil && !ip.IsUnspecified() {
		d.LocalAddr = &net.TCPAddr{IP: ip}
	}
	return d
}

// closeWriter is implemented by connections that support half-close
type closeWriter interface {
	CloseWrite() error
}

// hostOf returns the host part of addr
func hostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
