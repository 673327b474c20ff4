package beacon

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailpulse/internal/engagement"
)

const uaIPhone = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15"

func hitBeacon(t *testing.T, h *Handler, token, userAgent string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/track/open/%s.gif", token), nil)
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func TestHandleOpenServesPixelAndRecords(t *testing.T) {
	tracker := engagement.NewTracker()
	h := NewHandler(tracker)
	token := tracker.Mint("email-1", "sub-1", "camp-1")

	rec := hitBeacon(t, h, token, uaIPhone)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache, no-store, must-revalidate", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no-cache", rec.Header().Get("Pragma"))
	assert.Equal(t, "0", rec.Header().Get("Expires"))
	assert.Equal(t, pixelGIF, rec.Body.Bytes())

	stats := tracker.CampaignStats("camp-1")
	assert.Equal(t, 1, stats.TotalOpens)
	assert.Equal(t, 1, stats.UniqueOpens)
}

func TestHandleOpenUnknownTokenIndistinguishable(t *testing.T) {
	tracker := engagement.NewTracker()
	h := NewHandler(tracker)
	token := tracker.Mint("email-1", "sub-1", "camp-1")

	known := hitBeacon(t, h, token, uaIPhone)
	unknown := hitBeacon(t, h, "ffffffffffffffff", uaIPhone)

	assert.Equal(t, known.Code, unknown.Code)
	assert.Equal(t, known.Header(), unknown.Header())
	assert.Equal(t, known.Body.Bytes(), unknown.Body.Bytes())
}

func TestHandleOpenIgnoresBots(t *testing.T) {
	tracker := engagement.NewTracker()
	h := NewHandler(tracker)
	token := tracker.Mint("email-1", "sub-1", "camp-1")

	rec := hitBeacon(t, h, token, "Mozilla/5.0 (compatible; Googlebot/2.1)")

	// The bot still gets the pixel but the open is not counted.
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pixelGIF, rec.Body.Bytes())
	assert.Equal(t, 0, tracker.CampaignStats("camp-1").TotalOpens)
}

func TestHandleHealth(t *testing.T) {
	h := NewHandler(engagement.NewTracker())
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestBotDetector(t *testing.T) {
	bd := NewBotDetector()

	tests := []struct {
		ua   string
		want bool
	}{
		{"Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)", true},
		{"Mozilla/5.0 (compatible; bingbot/2.0)", true},
		{"LinkPreview/1.0", true},
		{"some-email-scanner/3.1", true},
		{uaIPhone, false},
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, bd.IsBot(tt.ua), "ua %q", tt.ua)
	}
}

func TestRealIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr only", "203.0.113.7:54321", nil, "203.0.113.7"},
		{"x-forwarded-for single", "10.0.0.1:80", map[string]string{"X-Forwarded-For": "198.51.100.4"}, "198.51.100.4"},
		{"x-forwarded-for chain", "10.0.0.1:80", map[string]string{"X-Forwarded-For": "198.51.100.4, 10.0.0.2"}, "198.51.100.4"},
		{"x-real-ip", "10.0.0.1:80", map[string]string{"X-Real-Ip": "198.51.100.9"}, "198.51.100.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			require.Equal(t, tt.want, realIP(req))
		})
	}
}
