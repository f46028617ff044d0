package api

import (
	"net/http"

	"go.uber.org/zap"

	"screepsapi/internal/storage"
)

// NewRouter creates a new http.ServeMux and registers the status handlers.
// A nil metrics handler leaves /metrics unregistered.
func NewRouter(store storage.Storer, hosts HostGetter, metrics http.Handler, log *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	h := NewHandlers(store, hosts, log)

	mux.HandleFunc("GET /v1/host", h.Host)
	mux.HandleFunc("GET /v1/requests", h.ListRequests)
	mux.HandleFunc("GET /v1/users/{username}/snapshots/{shard}", h.GetSnapshot)
	mux.HandleFunc("GET /healthz", h.Healthz)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	return mux
}
