// Package relay forwards TCP connections accepted on local ports to
// destination services, byte for byte.
//
// # Components
//
// Tracker is the registry shared by every listener of one relay instance. It
// records listening servers by local port, the static listener each client
// address last connected through, and the live redirections.
//
// Engine opens the outbound service connection for an accepted client, with a
// connect-retry budget owned by that single client connection, and pipes both
// directions until both sides have closed.
//
// Server owns one listening socket. Binding retries while the address is in
// use, up to the listener's budget. A static Server forwards to its configured
// service; a dynamic Server (no service host and no service port) forwards to
// the service host of the static listener the client last used, on the
// dynamic listener's own port.
//
// Coordinator stops every tracked Server, then ends every live redirection.
//
// # Events
//
// Every component publishes on an events.Bus: listener lifecycle, accepted
// connections, per-side closes, service errors and redirections.
//
// # Usage Example
//
//	tracker := relay.NewTracker()
//	bus := events.NewBus()
//
//	static, err := relay.NewServer(relay.ListenerSpec{
//	    LocalHost:   "0.0.0.0",
//	    LocalPort:   80,
//	    ServiceHost: "10.1.0.20",
//	    ServicePort: 8080,
//	}, &relay.ServerOptions{Tracker: tracker, Bus: bus, Logger: logger})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := static.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	// On termination
//	_ = relay.NewCoordinator(&relay.CoordinatorOptions{Tracker: tracker}).Shutdown(ctx)
package relay
