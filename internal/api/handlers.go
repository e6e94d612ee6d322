// Package api implements the HTTP surface: upload intake, job records, and
// the media and health endpoints around them.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"hlscast/internal/auth"
	"hlscast/internal/storage"
)

type Handler struct {
	Store       storage.Repository
	Layout      *storage.Layout
	Conversions *ConversionService
	Guard       *auth.TokenGuard
	Logger      *slog.Logger

	// MaxUploadBytes caps the accepted request body. Zero means no cap.
	MaxUploadBytes int64
	// AllowedOrigin, when set, is echoed on media responses so a browser
	// player hosted elsewhere can fetch segments.
	AllowedOrigin string
}

func NewHandler(store storage.Repository, layout *storage.Layout, conversions *ConversionService) *Handler {
	return &Handler{
		Store:       store,
		Layout:      layout,
		Conversions: conversions,
		Logger:      slog.Default(),
	}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// Root answers the liveness banner on GET /.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Server is running..."})
}

// Health reports process and datastore health on GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if err := h.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	payload := map[string]string{"error": message}
	if details != "" {
		payload["details"] = details
	}
	writeJSON(w, status, payload)
}

// WriteError is an exported helper for returning JSON API errors.
func WriteError(w http.ResponseWriter, status int, message string) {
	writeError(w, status, message, "")
}

// requestScheme infers the external scheme of the request, honouring proxy
// headers.
func requestScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		for _, p := range strings.Split(proto, ",") {
			if strings.EqualFold(strings.TrimSpace(p), "https") {
				return "https"
			}
		}
	}
	return "http"
}
