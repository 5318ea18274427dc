// Package api implements the storefront's HTTP handlers: account signup and
// login, token-gated cart mutation, catalog queries, and product image
// management.
package api

import (
	"log/slog"
	"net/http"
	"sync"

	"merchanza/internal/auth"
	"merchanza/internal/observability/metrics"
	"merchanza/internal/storage"
)

type Handler struct {
	Store     storage.Repository
	Tokens    *auth.Issuer
	Metrics   *metrics.Recorder
	Logger    *slog.Logger
	UploadDir string

	// PublicBaseURL overrides the request-derived scheme and host when
	// building image URLs, for deployments behind a fixed public hostname.
	PublicBaseURL string

	uploadDirOnce sync.Once
	uploadDir     string
}

func NewHandler(store storage.Repository, tokens *auth.Issuer) *Handler {
	return &Handler{
		Store:   store,
		Tokens:  tokens,
		Metrics: metrics.Default(),
		Logger:  slog.Default(),
	}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Handler) observeAuthEvent(event string) {
	if h.Metrics != nil {
		h.Metrics.ObserveAuthEvent(event)
	}
}

func (h *Handler) observeCartEvent(event string) {
	if h.Metrics != nil {
		h.Metrics.ObserveCartEvent(event)
	}
}

func (h *Handler) observeCatalogEvent(event string) {
	if h.Metrics != nil {
		h.Metrics.ObserveCatalogEvent(event)
	}
}

func (h *Handler) observeImageEvent(event string) {
	if h.Metrics != nil {
		h.Metrics.ObserveImageEvent(event)
	}
}

// Root answers the banner the legacy storefront probes on startup.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeFailure(w, http.StatusNotFound, "not found")
		return
	}
	writeText(w, http.StatusOK, "Merchanza API is running")
}

// Health reports datastore reachability for load balancer probes.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
