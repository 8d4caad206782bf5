package handlers

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/julienstroheker/HexRelay/internal/api"
	"github.com/julienstroheker/HexRelay/internal/logging"
	"github.com/julienstroheker/HexRelay/internal/relay"
)

// addrServer is implemented by servers that can report their bound address
type addrServer interface {
	Addr() net.Addr
}

// NewServersHandler lists the tracked listeners and their bind state
func NewServersHandler(tracker *relay.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		response := api.ServersResponse{Servers: []api.ServerInfo{}}
		for _, server := range tracker.Servers() {
			spec := server.Spec()
			info := api.ServerInfo{
				LocalHost:   spec.LocalHost,
				LocalPort:   spec.LocalPort,
				ServiceHost: spec.ServiceHost,
				ServicePort: spec.ServicePort,
				Dynamic:     spec.IsDynamic(),
				State:       server.State().String(),
			}
			if as, ok := server.(addrServer); ok {
				if addr := as.Addr(); addr != nil {
					info.Addr = addr.String()
				}
			}
			response.Servers = append(response.Servers, info)
		}

		writeJSON(w, r, response)
	}
}

// writeJSON marshals v before writing the status so encoding failures
// still produce a 500
func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.FromContext(r.Context()).Error("Failed to encode response", logging.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
