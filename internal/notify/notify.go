// Package notify delivers the human-approval request to a chat webhook.
// Delivery is fire-and-forget: a failure is reported to the caller for
// logging but never blocks or rolls back the pipeline, because the external
// approval action — not the notification — is what advances the incident.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/opsguard/opsguard/internal/incident"
)

// Approval is the rendered approval request: the diagnosis summary plus the
// two callback references a human can follow.
type Approval struct {
	IncidentID  string
	Analysis    incident.Analysis
	ApproveURL  string
	EscalateURL string
}

// Notifier sends one approval request.
type Notifier interface {
	Notify(ctx context.Context, req Approval) error
}

// Webhook posts a Discord-compatible embed to a configured webhook URL.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string, timeout time.Duration) *Webhook {
	return &Webhook{url: url, client: &http.Client{Timeout: timeout}}
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Color       int          `json:"color"`
	Fields      []embedField `json:"fields"`
}

type webhookPayload struct {
	Embeds []embed `json:"embeds"`
}

func (w *Webhook) Notify(ctx context.Context, req Approval) error {
	payload := webhookPayload{Embeds: []embed{{
		Title: fmt.Sprintf("OpsGuard Alert: %s", req.IncidentID),
		Description: fmt.Sprintf("**Issue Detected:**\n%s\n\n[**APPROVE FIX**](%s)\n[**ESCALATE**](%s)",
			req.Analysis.RootCause, req.ApproveURL, req.EscalateURL),
		Color: 15548997, // red
		Fields: []embedField{
			{Name: "Recommended Fix", Value: fmt.Sprintf("`%s`", req.Analysis.CommandToRun)},
			{Name: "Risk Level", Value: req.Analysis.RiskLevel, Inline: true},
			{Name: "Confidence", Value: fmt.Sprintf("%d%%", req.Analysis.Confidence), Inline: true},
		},
	}}}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("send notification: webhook returned %d", resp.StatusCode)
	}
	return nil
}

// Noop is used when no webhook URL is configured. It logs the approval
// request so an operator running locally can still see the callback links.
type Noop struct {
	log *slog.Logger
}

func NewNoop(log *slog.Logger) *Noop { return &Noop{log: log} }

func (n *Noop) Notify(_ context.Context, req Approval) error {
	n.log.Info("approval needed (no webhook configured)",
		"incident_id", req.IncidentID,
		"root_cause", req.Analysis.RootCause,
		"command", req.Analysis.CommandToRun,
		"approve_url", req.ApproveURL,
		"escalate_url", req.EscalateURL,
	)
	return nil
}
