package beacon

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/mailpulse/internal/engagement"
	"github.com/ignite/mailpulse/internal/pkg/logger"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// Handler serves the open beacon. Every request gets the same tiny image
// with caching disabled, whether or not the token is recognized, so mail
// clients see nothing and token validity cannot be probed.
type Handler struct {
	tracker *engagement.Tracker
	bots    *BotDetector
}

// NewHandler creates a beacon handler.
func NewHandler(tracker *engagement.Tracker) *Handler {
	return &Handler{tracker: tracker, bots: NewBotDetector()}
}

// Routes mounts the beacon endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/track/open/{token}.gif", h.HandleOpen)
	r.Get("/health", h.HandleHealth)
	return r
}

// HandleOpen records a beacon hit and serves the pixel.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	userAgent := r.UserAgent()

	if h.bots.IsBot(userAgent) {
		h.servePixel(w)
		return
	}

	if !h.tracker.RecordOpen(r.Context(), token, userAgent, realIP(r)) {
		logger.Debug("open for unknown tracking token", "token", token)
	}
	h.servePixel(w)
}

// HandleHealth reports liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}
