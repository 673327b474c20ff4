package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/ignite/mailpulse/internal/engagement"
	"github.com/ignite/mailpulse/internal/fatigue"
)

// NewRouter wires the guardrail and tracker JSON surfaces consumed by the
// campaign-dispatch path and dashboard pages.
func NewRouter(guardrail *fatigue.Guardrail, tracker *engagement.Tracker, baseURL string) chi.Router {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		NewGuardrailAPI(guardrail).RegisterRoutes(r)
		NewTrackingAPI(tracker, baseURL).RegisterRoutes(r)
	})

	return r
}
