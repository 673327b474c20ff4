package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailpulse/internal/engagement"
	"github.com/ignite/mailpulse/internal/fatigue"
)

func newTestRouter() chi.Router {
	return NewRouter(fatigue.New(fatigue.DefaultThresholds()), engagement.NewTracker(), "http://localhost:8080")
}

func doJSON(t *testing.T, r chi.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestGuardrailDecideFlow(t *testing.T) {
	r := newTestRouter()

	// Fresh subscriber is allowed.
	rec := doJSON(t, r, http.MethodPost, "/api/v1/guardrail/decide", DecideRequest{SubscriberID: "sub-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	var d fatigue.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.False(t, d.Blocked)

	// Three recorded sends exhaust the default daily limit.
	for i := 0; i < 3; i++ {
		rec = doJSON(t, r, http.MethodPost, "/api/v1/guardrail/sends", RecordSendRequest{
			SubscriberID: "sub-1",
			Email:        "one@example.com",
			Segment:      "promo",
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec = doJSON(t, r, http.MethodPost, "/api/v1/guardrail/decide", DecideRequest{SubscriberID: "sub-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.True(t, d.Blocked)
	assert.Contains(t, d.Reason, "3/3")
}

func TestGuardrailAllowEndpoint(t *testing.T) {
	r := NewRouter(fatigue.New(fatigue.Thresholds{DailyLimit: 1, WeeklyLimit: 100}), engagement.NewTracker(), "http://localhost:8080")

	body := RecordSendRequest{SubscriberID: "sub-1", Email: "one@example.com"}

	rec := doJSON(t, r, http.MethodPost, "/api/v1/guardrail/allow", body)
	require.Equal(t, http.StatusOK, rec.Code)
	var d fatigue.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.False(t, d.Blocked)

	rec = doJSON(t, r, http.MethodPost, "/api/v1/guardrail/allow", body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.True(t, d.Blocked)
}

func TestGuardrailValidation(t *testing.T) {
	r := newTestRouter()

	rec := doJSON(t, r, http.MethodPost, "/api/v1/guardrail/decide", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "subscriber_id")

	rec = doJSON(t, r, http.MethodPost, "/api/v1/guardrail/sends", map[string]string{"email": "x@example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGuardrailEnabledToggle(t *testing.T) {
	r := newTestRouter()

	rec := doJSON(t, r, http.MethodGet, "/api/v1/guardrail/enabled", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var enabled EnabledRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &enabled))
	assert.True(t, enabled.Enabled)

	rec = doJSON(t, r, http.MethodPut, "/api/v1/guardrail/enabled", EnabledRequest{Enabled: false})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, r, http.MethodGet, "/api/v1/guardrail/enabled", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &enabled))
	assert.False(t, enabled.Enabled)
}

func TestGuardrailReportingEndpoints(t *testing.T) {
	r := newTestRouter()

	for i := 0; i < 3; i++ {
		doJSON(t, r, http.MethodPost, "/api/v1/guardrail/sends", RecordSendRequest{
			SubscriberID: "sub-1", Email: "one@example.com", Segment: "promo",
		})
	}

	rec := doJSON(t, r, http.MethodGet, "/api/v1/guardrail/tired", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tired []fatigue.TiredSubscriber
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tired))
	require.Len(t, tired, 1)
	assert.Equal(t, fatigue.StatusBlocked, tired[0].Status)

	rec = doJSON(t, r, http.MethodGet, "/api/v1/guardrail/alerts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var alerts []fatigue.FatigueAlert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	assert.NotEmpty(t, alerts)
	assert.Equal(t, fatigue.SeverityBlocked, alerts[0].Severity)

	rec = doJSON(t, r, http.MethodGet, "/api/v1/guardrail/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats fatigue.DashboardStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.TotalSubscribers)
	assert.Equal(t, 1, stats.BlockedToday)
}

func TestMintPixelEndpoint(t *testing.T) {
	r := newTestRouter()

	rec := doJSON(t, r, http.MethodPost, "/api/v1/tracking/pixels", MintPixelRequest{
		EmailID:      "email-1",
		SubscriberID: "sub-1",
		CampaignID:   "camp-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp MintPixelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.TrackingID, 16)
	assert.Contains(t, resp.PixelURL, "/track/open/"+resp.TrackingID+".gif")
	assert.Contains(t, resp.PixelTag, resp.PixelURL)

	// Missing identifiers are rejected.
	rec = doJSON(t, r, http.MethodPost, "/api/v1/tracking/pixels", MintPixelRequest{EmailID: "email-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMintPixelDisabledTracking(t *testing.T) {
	r := newTestRouter()

	rec := doJSON(t, r, http.MethodPut, "/api/v1/tracking/settings", SettingsRequest{
		TrackingEnabled:  false,
		PrivacyCompliant: true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/api/v1/tracking/pixels", MintPixelRequest{
		EmailID:      "email-1",
		SubscriberID: "sub-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp MintPixelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.TrackingID)
	assert.Empty(t, resp.PixelTag)

	rec = doJSON(t, r, http.MethodGet, "/api/v1/tracking/settings", nil)
	var settings SettingsRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &settings))
	assert.False(t, settings.TrackingEnabled)
	assert.True(t, settings.PrivacyCompliant)
}

func TestTrackingStatsEndpoints(t *testing.T) {
	tracker := engagement.NewTracker()
	r := NewRouter(fatigue.New(fatigue.DefaultThresholds()), tracker, "http://localhost:8080")

	token := tracker.Mint("email-1", "sub-1", "camp-1")
	require.True(t, tracker.RecordOpen(context.Background(), token, "iPhone", ""))

	rec := doJSON(t, r, http.MethodGet, "/api/v1/tracking/campaigns/camp-1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cs engagement.CampaignStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cs))
	assert.Equal(t, "camp-1", cs.CampaignID)
	assert.Equal(t, 1, cs.UniqueOpens)

	rec = doJSON(t, r, http.MethodGet, "/api/v1/tracking/subscribers/sub-1/engagement", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var eng engagement.SubscriberEngagement
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &eng))
	assert.Equal(t, 1, eng.EmailsOpened)

	rec = doJSON(t, r, http.MethodGet, "/api/v1/tracking/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats engagement.DashboardStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.TotalTracked)
	assert.Equal(t, 1, stats.UniqueOpeners)
}
