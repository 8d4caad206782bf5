package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/julienstroheker/HexRelay/gateway/http/middleware"
	"github.com/julienstroheker/HexRelay/internal/api"
	"github.com/julienstroheker/HexRelay/internal/logging"
	"github.com/julienstroheker/HexRelay/internal/relay"
)

func TestNewServer(t *testing.T) {
	server := NewServer(nil)

	if server == nil {
		t.Fatal("Expected server to be created, got nil")
	}
	if server.tracker == nil {
		t.Error("Expected a default tracker")
	}
	if server.server.Handler == nil {
		t.Error("Expected handler to be set")
	}
	if server.Addr() != nil {
		t.Errorf("Expected no address before Listen, got %v", server.Addr())
	}
}

func TestServer_Routes(t *testing.T) {
	tracker := relay.NewTracker()
	spec := relay.ListenerSpec{LocalHost: "127.0.0.1", LocalPort: 8080}
	relayServer, err := relay.NewServer(spec, &relay.ServerOptions{Tracker: tracker})
	if err != nil {
		t.Fatalf("Failed to create relay server: %v", err)
	}
	tracker.TrackServer(relayServer)

	server := NewServer(&Options{Tracker: tracker, Logger: logging.New(logging.ErrorLevel)})

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/healthz", http.StatusOK},
		{"/api/servers", http.StatusOK},
		{"/api/redirections", http.StatusOK},
		{"/api/tunnels", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			server.server.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if w.Code != tt.wantStatus {
				t.Errorf("Expected status code %d, got %d", tt.wantStatus, w.Code)
			}
			if w.Header().Get(middleware.RequestIDHeader) == "" {
				t.Error("Expected X-Request-Id header on every response")
			}
		})
	}

	w := httptest.NewRecorder()
	server.server.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/servers", nil))
	var response api.ServersResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to decode servers: %v", err)
	}
	if len(response.Servers) != 1 || response.Servers[0].State != "unbound" {
		t.Errorf("Expected one unbound server, got %+v", response.Servers)
	}
}

func TestServerLifecycle(t *testing.T) {
	server := NewServer(&Options{Addr: "127.0.0.1:0"})
	if err := server.Listen(); err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Serve()
	}()

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", server.Addr()))
	if err != nil {
		t.Fatalf("Expected server to be running, got error: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status code %d, got %d", http.StatusOK, resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		t.Errorf("Expected clean shutdown, got error: %v", err)
	}

	select {
	case err := <-serverErrors:
		if err != nil {
			t.Errorf("Expected Serve to return nil after shutdown, got: %v", err)
		}
	case <-time.After(time.Second):
		t.Error("Server did not stop within expected time")
	}
}

func TestServer_ListenError(t *testing.T) {
	first := NewServer(&Options{Addr: "127.0.0.1:0"})
	if err := first.Listen(); err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer func() { _ = first.Close() }()
	go func() { _ = first.Serve() }()

	second := NewServer(&Options{Addr: first.Addr().String()})
	if err := second.Serve(); err == nil {
		t.Error("Expected error binding an address in use")
	}
}
