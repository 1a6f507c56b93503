package api

import (
	"net/http"

	"github.com/opsguard/opsguard/internal/health"
)

// RegisterRoutes registers all application routes on mux.
func RegisterRoutes(mux *http.ServeMux, h *Handler, hc *health.Handler) {
	mux.HandleFunc("GET /api/v1/health", hc.ServeHealth)
	mux.HandleFunc("GET /api/v1/ready", hc.ServeReady)

	mux.HandleFunc("POST /ingest-alert", h.ServeIngestAlert)
	mux.HandleFunc("POST /webhooks/approve-fix", h.ServeApproveFix)
	mux.HandleFunc("GET /webhooks/approve-fix", h.ServeApproveFixLink)
	mux.HandleFunc("GET /incidents", h.ServeIncidents)

	// Catch-all 404
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
}
