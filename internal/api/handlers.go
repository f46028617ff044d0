package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"screepsapi/internal/models"
	"screepsapi/internal/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// HostGetter reports the resolved private host. *discovery.HostCell satisfies it.
type HostGetter interface {
	Get() (string, bool)
}

// Handlers holds dependencies for the API handlers.
type Handlers struct {
	store storage.Storer
	hosts HostGetter
	log   *zap.Logger
}

// NewHandlers creates a new Handlers struct.
func NewHandlers(store storage.Storer, hosts HostGetter, log *zap.Logger) *Handlers {
	return &Handlers{store: store, hosts: hosts, log: log}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// Host reports whether the private host has been resolved.
func (h *Handlers) Host(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Resolved bool    `json:"resolved"`
		Host     *string `json:"host"`
	}{}
	if host, ok := h.hosts.Get(); ok {
		resp.Resolved = true
		resp.Host = &host
	}
	writeJSON(w, resp)
}

// ListRequests handles listing recorded request outcomes, newest first.
func (h *Handlers) ListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultListLimit
	if l := q.Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= maxListLimit {
			limit = v
		}
	}

	params := storage.ListRequestRecordsParams{Limit: limit}
	switch kind := models.TargetKind(strings.ToLower(q.Get("kind"))); kind {
	case "":
	case models.KindPublic, models.KindPrivate:
		params.Kind = kind
	default:
		http.Error(w, "invalid kind", http.StatusBadRequest)
		return
	}
	switch outcome := models.OutcomeKind(strings.ToLower(q.Get("outcome"))); outcome {
	case "":
	case models.OutcomeSuccess, models.OutcomeTimeout, models.OutcomeTransportError:
		params.Outcome = outcome
	default:
		http.Error(w, "invalid outcome", http.StatusBadRequest)
		return
	}
	if s := q.Get("since"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			utc := t.UTC()
			params.Since = &utc
		}
	}

	records, err := h.store.ListRequestRecords(r.Context(), params)
	if err != nil {
		h.log.Error("list request records error", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []models.RequestRecord{}
	}

	writeJSON(w, struct {
		Items []models.RequestRecord `json:"items"`
	}{Items: records})
}

// GetSnapshot returns the latest stored memory snapshot of a user on a shard.
func (h *Handlers) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	shard := r.PathValue("shard")

	snap, err := h.store.GetSnapshot(r.Context(), username, shard)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "snapshot not found", http.StatusNotFound)
			return
		}
		h.log.Error("get snapshot error", zap.String("username", username), zap.String("shard", shard), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, snap)
}

// Healthz is a simple health check endpoint.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
