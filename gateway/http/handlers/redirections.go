package handlers

import (
	"net/http"

	"github.com/julienstroheker/HexRelay/internal/api"
	"github.com/julienstroheker/HexRelay/internal/relay"
)

// NewRedirectionsHandler lists the live redirections, oldest first
func NewRedirectionsHandler(tracker *relay.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		response := api.RedirectionsResponse{Redirections: []api.RedirectionInfo{}}
		for _, redirection := range tracker.Redirections() {
			response.Redirections = append(response.Redirections, api.RedirectionInfo{
				ID:        redirection.ID,
				Key:       redirection.Key.String(),
				LocalPort: redirection.LocalPort,
				Dynamic:   redirection.Dynamic,
				Client:    redirection.Client,
				Service:   redirection.Service,
				StartTime: redirection.StartTime,
			})
		}

		writeJSON(w, r, response)
	}
}
