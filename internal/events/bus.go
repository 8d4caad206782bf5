package events

import (
	"net"
	"strconv"
	"sync"
	"time"
)

// Topic enumerates the notifications published by listeners and redirections.
type Topic string

const (
	TopicListening           Topic = "listening"
	TopicClose               Topic = "close"
	TopicError               Topic = "error"
	TopicClientConnection    Topic = "client-connection"
	TopicClientClose         Topic = "client-close"
	TopicServiceClose        Topic = "service-close"
	TopicServiceError        Topic = "service-error"
	TopicServiceRedirection  Topic = "service-redirection"
	TopicFixedRedirection    Topic = "service-redirection-fixed"
	TopicDynamicRedirection  Topic = "service-redirection-dynamic"
	TopicRedirectionFinished Topic = "redirection-finished"
	TopicBindRetry           Topic = "bind-retry"
	TopicConnectRetry        Topic = "connect-retry"
)

// Event is a message broadcast on the bus. LocalPort identifies the listener
// the event belongs to.
type Event struct {
	Topic     Topic
	LocalPort int
	Time      time.Time
	Payload   any
}

// Endpoint is the remote side of one connection.
type Endpoint struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
	Family  string `json:"family"`
}

// EndpointOf describes addr. Addresses that are not host:port pairs keep
// their string form in Address.
func EndpointOf(addr net.Addr) Endpoint {
	if addr == nil {
		return Endpoint{}
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return Endpoint{Address: addr.String()}
	}
	port, _ := strconv.Atoi(portStr)

	family := "IPv4"
	if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
		family = "IPv6"
	}
	return Endpoint{Address: host, Port: port, Family: family}
}

// String renders the endpoint as host:port
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Address, strconv.Itoa(e.Port))
}

// Listening is the payload of TopicListening
type Listening struct {
	Addr string
}

// Failure is the payload of TopicError and TopicServiceError
type Failure struct {
	Err error
}

// ClientConnection is the payload of TopicClientConnection
type ClientConnection struct {
	ClientAddress string

	// Dynamic is set when the client arrived on a dynamic listener. Only
	// static listeners record the client for later dynamic resolution.
	Dynamic bool
}

// ConnectionClosed is the payload of TopicClientClose and TopicServiceClose
type ConnectionClosed struct {
	HadError bool
	Endpoint Endpoint
}

// Redirection is the payload of the redirection topics
type Redirection struct {
	ID      string
	Dynamic bool
	Client  Endpoint
	Service Endpoint
}

// Retry is the payload of TopicBindRetry and TopicConnectRetry
type Retry struct {
	Attempt   int
	Remaining int
	Delay     time.Duration
	Err       error
}

// Bus is a pub/sub dispatcher for relay notifications. A nil *Bus discards
// everything published to it.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Topic][]chan Event
	all    []chan Event
	closed bool
}

// NewBus constructs an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]chan Event)}
}

// Subscribe registers a buffered channel for the given topics, or for every
// topic when none are named.
func (b *Bus) Subscribe(buffer int, topics ...Topic) <-chan Event {
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	if len(topics) == 0 {
		b.all = append(b.all, ch)
		return ch
	}
	for _, topic := range topics {
		b.subs[topic] = append(b.subs[topic], ch)
	}
	return ch
}

// Publish broadcasts an event to all subscribers. Publishing never blocks:
// a saturated subscriber misses the event.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs[evt.Topic] {
		deliver(ch, evt)
	}
	for _, ch := range b.all {
		deliver(ch, evt)
	}
}

func deliver(ch chan Event, evt Event) {
	select {
	case ch <- evt:
	default:
	}
}

// Close shuts down the bus and all subscriber channels.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true

	seen := make(map[chan Event]bool)
	closeOnce := func(ch chan Event) {
		if !seen[ch] {
			seen[ch] = true
			close(ch)
		}
	}
	for _, chans := range b.subs {
		for _, ch := range chans {
			closeOnce(ch)
		}
	}
	for _, ch := range b.all {
		closeOnce(ch)
	}
	b.subs = nil
	b.all = nil
}
