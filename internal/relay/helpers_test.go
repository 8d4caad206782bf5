package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/julienstroheker/HexRelay/internal/events"
)

const testTimeout = 5 * time.Second

var errDialRefused = errors.New("connection refused")

// freePort returns a loopback port that was free a moment ago
func freePort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

// startService starts a loopback TCP service running handle for every
// connection and returns its port
func startService(t *testing.T, handle func(net.Conn)) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to start service: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handle(conn)
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

// echo writes back everything it reads and closes once the peer is done
func echo(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	_, _ = io.Copy(conn, conn)
}

// drain reads until EOF, then closes
func drain(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	_, _ = io.Copy(io.Discard, conn)
}

// tcpPair returns both ends of a loopback TCP connection: the end a client
// holds and the end a server accepted
func tcpPair(t *testing.T) (clientEnd, acceptedEnd net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer func() { _ = ln.Close() }()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- conn
	}()

	clientEnd, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	acceptedEnd, ok := <-accepted
	if !ok {
		t.Fatal("Failed to accept")
	}
	t.Cleanup(func() {
		_ = clientEnd.Close()
		_ = acceptedEnd.Close()
	})
	return clientEnd, acceptedEnd
}

func loopback(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}

// countingDialer refuses every dial and counts attempts
type countingDialer struct {
	attempts atomic.Int32
}

func (d *countingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.attempts.Add(1)
	return nil, errDialRefused
}

// recordingDialer records requested addresses and connects to target instead
type recordingDialer struct {
	target string

	mu        sync.Mutex
	addresses []string
}

func (d *recordingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	d.addresses = append(d.addresses, address)
	d.mu.Unlock()

	var nd net.Dialer
	return nd.DialContext(ctx, network, d.target)
}

func (d *recordingDialer) dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.addresses...)
}

// fakeServer is an ActiveServer with a scripted Close
type fakeServer struct {
	spec     ListenerSpec
	closeErr error
	delay    time.Duration
	block    chan struct{}

	mu       sync.Mutex
	closed   bool
	closedAt time.Time
}

func (f *fakeServer) Spec() ListenerSpec { return f.spec }

func (f *fakeServer) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return StateClosed
	}
	return StateListening
}

func (f *fakeServer) Close() error {
	if f.block != nil {
		<-f.block
	}
	time.Sleep(f.delay)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closedAt = time.Now()
	return f.closeErr
}

// waitFor polls cond until it holds or the test times out
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(testTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// waitErr waits for a result on ch
func waitErr(t *testing.T, what string, ch <-chan error) error {
	t.Helper()

	select {
	case err := <-ch:
		return err
	case <-time.After(testTimeout):
		t.Fatalf("Timed out waiting for %s", what)
		return nil
	}
}

// countTopic drains ch and counts events of topic
func countTopic(ch <-chan events.Event, topic events.Topic) int {
	n := 0
	for {
		select {
		case evt := <-ch:
			if evt.Topic == topic {
				n++
			}
		default:
			return n
		}
	}
}
