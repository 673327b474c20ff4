package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/mailpulse/internal/engagement"
	"github.com/ignite/mailpulse/internal/pkg/httputil"
)

// TrackingAPI exposes pixel minting and the reporting contract over JSON.
type TrackingAPI struct {
	tracker *engagement.Tracker
	baseURL string
}

// NewTrackingAPI creates a tracking API handler. baseURL is the public
// address beacon URLs are composed against.
func NewTrackingAPI(t *engagement.Tracker, baseURL string) *TrackingAPI {
	return &TrackingAPI{tracker: t, baseURL: baseURL}
}

// RegisterRoutes mounts the tracking routes.
func (a *TrackingAPI) RegisterRoutes(r chi.Router) {
	r.Route("/tracking", func(r chi.Router) {
		r.Post("/pixels", a.HandleMintPixel)
		r.Get("/campaigns/{campaignID}/stats", a.HandleCampaignStats)
		r.Get("/subscribers/{subscriberID}/engagement", a.HandleSubscriberEngagement)
		r.Get("/stats", a.HandleStats)
		r.Get("/settings", a.HandleGetSettings)
		r.Put("/settings", a.HandleSetSettings)
	})
}

// MintPixelRequest instruments one outgoing email.
type MintPixelRequest struct {
	EmailID      string `json:"email_id"`
	SubscriberID string `json:"subscriber_id"`
	CampaignID   string `json:"campaign_id,omitempty"`
}

// MintPixelResponse carries the beacon artifacts to embed.
type MintPixelResponse struct {
	TrackingID string `json:"tracking_id,omitempty"`
	PixelURL   string `json:"pixel_url,omitempty"`
	PixelTag   string `json:"pixel_tag"`
}

// SettingsRequest toggles the tracker's global switches.
type SettingsRequest struct {
	TrackingEnabled  bool `json:"tracking_enabled"`
	PrivacyCompliant bool `json:"privacy_compliant"`
}

// HandleMintPixel mints a token and returns the pixel URL and tag. When
// tracking is disabled the tag is empty and nothing is minted.
func (a *TrackingAPI) HandleMintPixel(w http.ResponseWriter, r *http.Request) {
	var req MintPixelRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.EmailID == "" || req.SubscriberID == "" {
		httputil.BadRequest(w, "email_id and subscriber_id are required")
		return
	}

	if !a.tracker.TrackingEnabled() {
		httputil.JSON(w, http.StatusOK, MintPixelResponse{})
		return
	}

	trackingID := a.tracker.Mint(req.EmailID, req.SubscriberID, req.CampaignID)
	pixelURL := engagement.PixelURL(trackingID, a.baseURL)
	httputil.JSON(w, http.StatusOK, MintPixelResponse{
		TrackingID: trackingID,
		PixelURL:   pixelURL,
		PixelTag:   `<img src="` + pixelURL + `" width="1" height="1" style="display:none" />`,
	})
}

// HandleCampaignStats returns engagement stats for one campaign.
func (a *TrackingAPI) HandleCampaignStats(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, a.tracker.CampaignStats(chi.URLParam(r, "campaignID")))
}

// HandleSubscriberEngagement returns one subscriber's engagement summary.
func (a *TrackingAPI) HandleSubscriberEngagement(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, a.tracker.SubscriberEngagement(chi.URLParam(r, "subscriberID")))
}

// HandleStats returns the tracker dashboard summary.
func (a *TrackingAPI) HandleStats(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, a.tracker.DashboardStats())
}

// HandleGetSettings reports the tracker's global switches.
func (a *TrackingAPI) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, SettingsRequest{
		TrackingEnabled:  a.tracker.TrackingEnabled(),
		PrivacyCompliant: a.tracker.PrivacyCompliant(),
	})
}

// HandleSetSettings updates the tracker's global switches.
func (a *TrackingAPI) HandleSetSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	a.tracker.SetTrackingEnabled(req.TrackingEnabled)
	a.tracker.SetPrivacyCompliant(req.PrivacyCompliant)
	httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
