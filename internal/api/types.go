package api

import (
	"time"

	"github.com/julienstroheker/HexRelay/internal/events"
)

// ServerInfo describes one listener in the status API
type ServerInfo struct {
	LocalHost   string `json:"local_host"`
	LocalPort   int    `json:"local_port"`
	ServiceHost string `json:"service_host,omitempty"`
	ServicePort int    `json:"service_port,omitempty"`
	Dynamic     bool   `json:"dynamic"`
	State       string `json:"state"`
	Addr        string `json:"addr,omitempty"`
}

// RedirectionInfo describes one live redirection in the status API
type RedirectionInfo struct {
	ID        string          `json:"id"`
	Key       string          `json:"key"`
	LocalPort int             `json:"local_port"`
	Dynamic   bool            `json:"dynamic"`
	Client    events.Endpoint `json:"client"`
	Service   events.Endpoint `json:"service"`
	StartTime time.Time       `json:"start_time"`
}

// ServersResponse is returned by GET /api/servers
type ServersResponse struct {
	Servers []ServerInfo `json:"servers"`
}

// RedirectionsResponse is returned by GET /api/redirections
type RedirectionsResponse struct {
	Redirections []RedirectionInfo `json:"redirections"`
}
