package handlers

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/julienstroheker/HexRelay/internal/api"
	"github.com/julienstroheker/HexRelay/internal/relay"
)

type stubServer struct {
	spec  relay.ListenerSpec
	state relay.State
	addr  net.Addr
}

func (s *stubServer) Spec() relay.ListenerSpec { return s.spec }
func (s *stubServer) State() relay.State       { return s.state }
func (s *stubServer) Close() error             { return nil }
func (s *stubServer) Addr() net.Addr           { return s.addr }

func TestServersHandler(t *testing.T) {
	tracker := relay.NewTracker()
	tracker.TrackServer(&stubServer{
		spec:  relay.ListenerSpec{LocalHost: "127.0.0.1", LocalPort: 8080},
		state: relay.StateBindFailing,
	})
	tracker.TrackServer(&stubServer{
		spec:  relay.ListenerSpec{LocalHost: "127.0.0.1", LocalPort: 80, ServiceHost: "127.0.0.1", ServicePort: 3000},
		state: relay.StateListening,
		addr:  &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 80},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/servers", nil)
	w := httptest.NewRecorder()
	NewServersHandler(tracker)(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status code %d, got %d", http.StatusOK, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got '%s'", ct)
	}

	var response api.ServersResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(response.Servers) != 2 {
		t.Fatalf("Expected 2 servers, got %d", len(response.Servers))
	}

	static, dynamic := response.Servers[0], response.Servers[1]
	if static.LocalPort != 80 || static.Dynamic || static.State != "listening" || static.Addr != "127.0.0.1:80" {
		t.Errorf("Unexpected static server: %+v", static)
	}
	if dynamic.LocalPort != 8080 || !dynamic.Dynamic || dynamic.State != "bind-failing" || dynamic.Addr != "" {
		t.Errorf("Unexpected dynamic server: %+v", dynamic)
	}
}

func TestServersHandler_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/servers", nil)
	w := httptest.NewRecorder()
	NewServersHandler(relay.NewTracker())(w, req)

	if body := w.Body.String(); body != `{"servers":[]}` {
		t.Errorf("Expected empty list, got '%s'", body)
	}
}

func TestRedirectionsHandler(t *testing.T) {
	tracker := relay.NewTracker()
	a, b := net.Pipe()
	c, d := net.Pipe()
	defer func() {
		for _, conn := range []net.Conn{a, b, c, d} {
			_ = conn.Close()
		}
	}()
	redirection := tracker.TrackRedirection(80, false, a, c)

	req := httptest.NewRequest(http.MethodGet, "/api/redirections", nil)
	w := httptest.NewRecorder()
	NewRedirectionsHandler(tracker)(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status code %d, got %d", http.StatusOK, w.Code)
	}

	var response api.RedirectionsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(response.Redirections) != 1 {
		t.Fatalf("Expected 1 redirection, got %d", len(response.Redirections))
	}

	got := response.Redirections[0]
	if got.ID != redirection.ID || got.Key != redirection.Key.String() {
		t.Errorf("Expected redirection %s (%s), got %s (%s)", redirection.ID, redirection.Key, got.ID, got.Key)
	}
	if got.LocalPort != 80 || got.Dynamic {
		t.Errorf("Unexpected redirection: %+v", got)
	}
}

func TestStatusHandlers_RejectWrites(t *testing.T) {
	tracker := relay.NewTracker()
	handlers := map[string]http.HandlerFunc{
		"servers":      NewServersHandler(tracker),
		"redirections": NewRedirectionsHandler(tracker),
	}

	for name, handler := range handlers {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/"+name, nil)
			w := httptest.NewRecorder()
			handler(w, req)

			if w.Code != http.StatusMethodNotAllowed {
				t.Errorf("Expected status code %d, got %d", http.StatusMethodNotAllowed, w.Code)
			}
		})
	}
}
