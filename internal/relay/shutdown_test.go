package relay

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/julienstroheker/HexRelay/internal/events"
)

func TestNewCoordinator_Defaults(t *testing.T) {
	c := NewCoordinator(nil)
	if c.grace != DefaultGrace {
		t.Errorf("Expected default grace %v, got: %v", DefaultGrace, c.grace)
	}
	if c.tracker == nil {
		t.Error("Expected a tracker")
	}
}

func TestCoordinator_Shutdown(t *testing.T) {
	servicePort := startService(t, echo)
	tracker := NewTracker()
	bus := events.NewBus()
	defer bus.Close()
	finished := bus.Subscribe(4, events.TopicRedirectionFinished)

	port := freePort(t)
	server, err := NewServer(ListenerSpec{LocalHost: "127.0.0.1", LocalPort: port, ServicePort: servicePort}, &ServerOptions{Tracker: tracker, Bus: bus})
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}

	slow := &fakeServer{spec: ListenerSpec{LocalPort: 1}, delay: 50 * time.Millisecond}
	tracker.TrackServer(slow)

	conn, err := net.Dial("tcp", loopback(port))
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer func() { _ = conn.Close() }()
	waitFor(t, "redirection", func() bool { return len(tracker.Redirections()) == 1 })

	coordinator := NewCoordinator(&CoordinatorOptions{Tracker: tracker, Grace: time.Second})
	if err := coordinator.Shutdown(context.Background()); err != nil {
		t.Fatalf("Expected clean shutdown, got: %v", err)
	}

	if server.State() != StateClosed || slow.State() != StateClosed {
		t.Error("Expected every server to be closed")
	}
	if len(tracker.Redirections()) != 0 {
		t.Errorf("Expected no redirections, got: %d", len(tracker.Redirections()))
	}

	select {
	case evt := <-finished:
		if evt.Time.Before(slow.closedAt) {
			t.Error("Expected redirections to end only after every server closed")
		}
	default:
		t.Error("Expected a redirection-finished event")
	}

	_ = conn.SetReadDeadline(time.Now().Add(testTimeout))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Error("Expected client connection to be ended")
	}
}

func TestCoordinator_ServerCloseError(t *testing.T) {
	closeErr := errors.New("socket stuck")
	tracker := NewTracker()
	failing := &fakeServer{spec: ListenerSpec{LocalPort: 1}, closeErr: closeErr}
	healthy := &fakeServer{spec: ListenerSpec{LocalPort: 2}}
	tracker.TrackServer(failing)
	tracker.TrackServer(healthy)

	err := NewCoordinator(&CoordinatorOptions{Tracker: tracker}).Shutdown(context.Background())
	if !errors.Is(err, closeErr) {
		t.Errorf("Expected close error, got: %v", err)
	}
	if healthy.State() != StateClosed {
		t.Error("Expected other servers to be closed regardless")
	}
}

func TestCoordinator_ContextExpires(t *testing.T) {
	tracker := NewTracker()
	stuck := &fakeServer{spec: ListenerSpec{LocalPort: 1}, block: make(chan struct{})}
	defer close(stuck.block)
	tracker.TrackServer(stuck)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := NewCoordinator(&CoordinatorOptions{Tracker: tracker}).Shutdown(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got: %v", err)
	}
}

func TestCoordinator_GraceExpires(t *testing.T) {
	tracker := NewTracker()
	a, b := net.Pipe()
	c, d := net.Pipe()
	defer func() {
		_ = b.Close()
		_ = d.Close()
	}()

	// Nothing pipes this redirection, so ending it never finishes it
	tracker.TrackRedirection(8080, false, a, c)

	err := NewCoordinator(&CoordinatorOptions{Tracker: tracker, Grace: 20 * time.Millisecond}).Shutdown(context.Background())
	if !errors.Is(err, ErrShutdownIncomplete) {
		t.Errorf("Expected ErrShutdownIncomplete, got: %v", err)
	}
}

func TestCoordinator_CancelsPendingConnects(t *testing.T) {
	tracker := NewTracker()
	dialer := &countingDialer{}
	engine := NewEngine(&EngineOptions{Tracker: tracker, Dialer: dialer})
	spec := ListenerSpec{LocalPort: 8080, ServiceHost: "127.0.0.1", ServicePort: 1, ConnRetryTimes: 5, ConnRetryTimeout: time.Minute}

	clientEnd, result := pipe(t, engine, spec, StaticDestination("127.0.0.1", 1))
	waitFor(t, "first connect attempt", func() bool { return dialer.attempts.Load() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := NewCoordinator(&CoordinatorOptions{Tracker: tracker}).Shutdown(ctx); err != nil {
		t.Fatalf("Expected clean shutdown, got: %v", err)
	}

	err := waitErr(t, "cancelled connect", result)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected cancelled connect, got: %v", err)
	}
	if len(tracker.Redirections()) != 0 {
		t.Errorf("Expected no redirections, got: %d", len(tracker.Redirections()))
	}
	_ = clientEnd.SetReadDeadline(time.Now().Add(testTimeout))
	if _, err := clientEnd.Read(make([]byte, 1)); err == nil {
		t.Error("Expected client connection to be closed")
	}

	_, late := pipe(t, engine, spec, StaticDestination("127.0.0.1", 1))
	if err := waitErr(t, "late connect", late); !errors.Is(err, ErrConnectsCancelled) {
		t.Errorf("Expected ErrConnectsCancelled, got: %v", err)
	}
	if dialer.attempts.Load() != 1 {
		t.Errorf("Expected no dial after shutdown, got: %d attempts", dialer.attempts.Load())
	}
}
