package relay

import (
	"context"
	"net"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Tracker is the registry of listening servers, client associations and live
// redirections for one relay instance. It is safe for concurrent use.
type Tracker struct {
	mu           sync.RWMutex
	servers      map[int]ActiveServer
	clients      map[string]int
	redirections map[uuid.UUID]*Redirection

	// pending service connects
	connects        sync.WaitGroup
	connectsCtx     context.Context
	cancelConnects  context.CancelFunc
	connectsStopped bool
}

// NewTracker creates an empty Tracker
func NewTracker() *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		servers:        make(map[int]ActiveServer),
		clients:        make(map[string]int),
		redirections:   make(map[uuid.UUID]*Redirection),
		connectsCtx:    ctx,
		cancelConnects: cancel,
	}
}

// beginConnect registers a pending service connect. The returned context is
// cancelled with ctx or by CancelConnects, and done must be called once the
// connect has failed or its redirection is tracked. ok is false after
// CancelConnects.
func (t *Tracker) beginConnect(ctx context.Context) (connectCtx context.Context, done func(), ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connectsStopped {
		return nil, nil, false
	}
	t.connects.Add(1)

	connectCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(t.connectsCtx, cancel)
	return connectCtx, func() {
		stop()
		cancel()
		t.connects.Done()
	}, true
}

// CancelConnects cancels every pending service connect, refuses new ones and
// waits until the pending ones have failed or tracked their redirection
func (t *Tracker) CancelConnects() {
	t.mu.Lock()
	t.connectsStopped = true
	t.mu.Unlock()

	t.cancelConnects()
	t.connects.Wait()
}

// TrackServer registers server by its local port, replacing any server
// already registered on that port
func (t *Tracker) TrackServer(server ActiveServer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.servers[server.Spec().LocalPort] = server
}

// TrackClient records that clientHost last connected through the static
// listener on localPort
func (t *Tracker) TrackClient(localPort int, clientHost string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clients[clientHost] = localPort
}

// TrackedPort returns the static listener port clientHost last used
func (t *Tracker) TrackedPort(clientHost string) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	port, ok := t.clients[clientHost]
	return port, ok
}

// DynamicServiceHost returns the service host of the static listener
// clientHost last connected through
func (t *Tracker) DynamicServiceHost(clientHost string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	port, ok := t.clients[clientHost]
	if !ok {
		return "", false
	}
	server, ok := t.servers[port]
	if !ok {
		return "", false
	}
	host := server.Spec().ServiceHost
	return host, host != ""
}

// DynamicResolver resolves destinations for the dynamic listener on localPort
func (t *Tracker) DynamicResolver(localPort int) ResolveFunc {
	return func(clientHost string) (Destination, bool) {
		host, ok := t.DynamicServiceHost(clientHost)
		if !ok {
			return Destination{}, false
		}
		return Destination{Host: host, Port: localPort}, true
	}
}

// TrackRedirection registers a new redirection between client and service.
// The redirection untracks itself once both connections have closed.
func (t *Tracker) TrackRedirection(localPort int, dynamic bool, client, service net.Conn) *Redirection {
	r := newRedirection(localPort, dynamic, client, service)
	r.onFinish = func(r *Redirection) {
		t.UntrackRedirection(r.Key)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.redirections[r.Key] = r
	return r
}

// UntrackRedirection removes the redirection with key. Unknown keys are ignored.
func (t *Tracker) UntrackRedirection(key uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.redirections, key)
}

// Redirection returns the live redirection with key
func (t *Tracker) Redirection(key uuid.UUID) (*Redirection, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.redirections[key]
	return r, ok
}

// Redirections returns the live redirections, oldest first
func (t *Tracker) Redirections() []*Redirection {
	t.mu.RLock()
	list := make([]*Redirection, 0, len(t.redirections))
	for _, r := range t.redirections {
		list = append(list, r)
	}
	t.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].StartTime.Equal(list[j].StartTime) {
			return list[i].ID < list[j].ID
		}
		return list[i].StartTime.Before(list[j].StartTime)
	})
	return list
}

// Servers returns the registered servers ordered by local port
func (t *Tracker) Servers() []ActiveServer {
	t.mu.RLock()
	list := make([]ActiveServer, 0, len(t.servers))
	for _, s := range t.servers {
		list = append(list, s)
	}
	t.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].Spec().LocalPort < list[j].Spec().LocalPort
	})
	return list
}

// Len returns the number of live redirections
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.redirections)
}
