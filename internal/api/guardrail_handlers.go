package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/mailpulse/internal/fatigue"
	"github.com/ignite/mailpulse/internal/pkg/httputil"
)

// GuardrailAPI exposes the decision/record contract over JSON.
type GuardrailAPI struct {
	guardrail *fatigue.Guardrail
}

// NewGuardrailAPI creates a guardrail API handler.
func NewGuardrailAPI(g *fatigue.Guardrail) *GuardrailAPI {
	return &GuardrailAPI{guardrail: g}
}

// RegisterRoutes mounts the guardrail routes.
func (a *GuardrailAPI) RegisterRoutes(r chi.Router) {
	r.Route("/guardrail", func(r chi.Router) {
		r.Post("/decide", a.HandleDecide)
		r.Post("/sends", a.HandleRecordSend)
		r.Post("/allow", a.HandleAllow)
		r.Get("/tired", a.HandleTiredList)
		r.Get("/alerts", a.HandleAlerts)
		r.Get("/stats", a.HandleStats)
		r.Get("/enabled", a.HandleGetEnabled)
		r.Put("/enabled", a.HandleSetEnabled)
	})
}

// DecideRequest asks whether a subscriber may receive another email.
type DecideRequest struct {
	SubscriberID string `json:"subscriber_id"`
}

// RecordSendRequest accounts one dispatched send.
type RecordSendRequest struct {
	SubscriberID string `json:"subscriber_id"`
	Email        string `json:"email"`
	Segment      string `json:"segment,omitempty"`
	Cohort       string `json:"cohort,omitempty"`
}

// EnabledRequest toggles enforcement.
type EnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// HandleDecide evaluates a subscriber against the thresholds without
// recording anything.
func (a *GuardrailAPI) HandleDecide(w http.ResponseWriter, r *http.Request) {
	var req DecideRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.SubscriberID == "" {
		httputil.BadRequest(w, "subscriber_id is required")
		return
	}
	httputil.JSON(w, http.StatusOK, a.guardrail.Decide(r.Context(), req.SubscriberID))
}

// HandleRecordSend accounts exactly one send.
func (a *GuardrailAPI) HandleRecordSend(w http.ResponseWriter, r *http.Request) {
	var req RecordSendRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.SubscriberID == "" {
		httputil.BadRequest(w, "subscriber_id is required")
		return
	}
	if err := a.guardrail.RecordSend(r.Context(), req.SubscriberID, req.Email, req.Segment, req.Cohort); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleAllow runs decide-then-record atomically for the dispatch path.
func (a *GuardrailAPI) HandleAllow(w http.ResponseWriter, r *http.Request) {
	var req RecordSendRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.SubscriberID == "" {
		httputil.BadRequest(w, "subscriber_id is required")
		return
	}
	decision, err := a.guardrail.Allow(r.Context(), req.SubscriberID, req.Email, req.Segment, req.Cohort)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, decision)
}

// HandleTiredList returns subscribers in warning, critical or blocked state.
func (a *GuardrailAPI) HandleTiredList(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, a.guardrail.TiredList(r.Context()))
}

// HandleAlerts returns the current fatigue alerts, most severe first.
func (a *GuardrailAPI) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, a.guardrail.Alerts(r.Context()))
}

// HandleStats returns the guardrail dashboard summary.
func (a *GuardrailAPI) HandleStats(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, a.guardrail.DashboardStats(r.Context()))
}

// HandleGetEnabled reports whether enforcement is on.
func (a *GuardrailAPI) HandleGetEnabled(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, EnabledRequest{Enabled: a.guardrail.Enabled()})
}

// HandleSetEnabled switches enforcement on or off.
func (a *GuardrailAPI) HandleSetEnabled(w http.ResponseWriter, r *http.Request) {
	var req EnabledRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	a.guardrail.SetEnabled(req.Enabled)
	httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
