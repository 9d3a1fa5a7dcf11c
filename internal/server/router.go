package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bizmesh/beckn-gateway/internal/handlers"
	"github.com/bizmesh/beckn-gateway/internal/middleware"
)

// NewRouter constructs a ServeMux with all protocol endpoints registered.
func NewRouter(h *handlers.ProtocolHandler) http.Handler {
	mux := http.NewServeMux()

	for _, action := range handlers.Actions {
		mux.HandleFunc("POST /"+action, h.Action(action))
	}

	// Health check and metrics stay unauthenticated
	mux.HandleFunc("/healthz", h.Health)
	mux.Handle("/metrics", promhttp.Handler())

	return middleware.RequestID(mux)
}
