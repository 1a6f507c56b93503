// Package api implements the inbound HTTP transport: alert ingestion, the
// approve/escalate webhook, and the incident listing. Each endpoint has one
// canonical, strongly-typed request schema; anything that does not match is
// rejected at this boundary.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/opsguard/opsguard/internal/incident"
	"github.com/opsguard/opsguard/internal/pipeline"
)

// Handler holds dependencies for the incident endpoints.
type Handler struct {
	pipe     *pipeline.Pipeline
	store    *incident.Store
	validate *validator.Validate
	log      *slog.Logger
}

func NewHandler(pipe *pipeline.Pipeline, store *incident.Store, log *slog.Logger) *Handler {
	return &Handler{
		pipe:     pipe,
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
	}
}

type ingestRequest struct {
	ServerName string `json:"serverName" validate:"required"`
	ErrorLogs  string `json:"errorLogs" validate:"required"`
	Severity   string `json:"severity"`
	Timestamp  string `json:"timestamp"`
}

type ingestResponse struct {
	Success    bool   `json:"success"`
	IncidentID string `json:"incidentId"`
	Message    string `json:"message"`
}

// ServeIngestAlert handles POST /ingest-alert.
func (h *Handler) ServeIngestAlert(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "Invalid Input",
			"details": "request body is not valid JSON",
		})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "Invalid Input",
			"details": err.Error(),
		})
		return
	}

	id, err := h.pipe.Ingest(r.Context(), "INC", pipeline.Alert{
		ServerName: req.ServerName,
		ErrorLogs:  req.ErrorLogs,
		Severity:   req.Severity,
	})
	if err != nil {
		h.log.Error("ingest alert", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to start incident workflow"})
		return
	}

	writeJSON(w, http.StatusOK, ingestResponse{
		Success:    true,
		IncidentID: id,
		Message:    "Alert received and incident workflow started.",
	})
}

type approveRequest struct {
	IncidentID string `json:"incidentId" validate:"required"`
	Approver   string `json:"approver"`
	Action     string `json:"action" validate:"omitempty,oneof=approve escalate"`
}

// ServeApproveFix handles POST /webhooks/approve-fix.
func (h *Handler) ServeApproveFix(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "request body is not valid JSON"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing or invalid incidentId"})
		return
	}

	msg, err := h.pipe.Decide(r.Context(), pipeline.Decision{
		IncidentID: req.IncidentID,
		Approver:   req.Approver,
		Escalate:   req.Action == "escalate",
	})
	if errors.Is(err, incident.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "incident not found: " + req.IncidentID})
		return
	}
	if err != nil {
		h.log.Error("approve fix", "incident_id", req.IncidentID, "err", err)
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

// ServeApproveFixLink handles GET /webhooks/approve-fix. The approval
// notification embeds clickable links, which land here as query params.
func (h *Handler) ServeApproveFixLink(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("incidentId")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing or invalid incidentId"})
		return
	}

	msg, err := h.pipe.Decide(r.Context(), pipeline.Decision{
		IncidentID: id,
		Approver:   r.URL.Query().Get("approver"),
		Escalate:   r.URL.Query().Get("action") == "escalate",
	})
	if errors.Is(err, incident.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "incident not found: " + id})
		return
	}
	if err != nil {
		h.log.Error("approve fix", "incident_id", id, "err", err)
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

// ServeIncidents handles GET /incidents.
func (h *Handler) ServeIncidents(w http.ResponseWriter, r *http.Request) {
	incidents, err := h.store.List(r.Context())
	if err != nil {
		h.log.Error("list incidents", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list incidents"})
		return
	}
	writeJSON(w, http.StatusOK, incidents)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
