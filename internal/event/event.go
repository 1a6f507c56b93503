// Package event declares the topics and payload types flowing through the
// bus. One payload struct per topic keeps the stage coupling compile-checked
// instead of stringly-typed: a subscriber asserts the concrete type it was
// registered for and nothing else.
//
// Events are transient dispatch signals. The durable truth is always the
// incident record in the store; a lost or duplicated event must never be the
// only place a fact lives.
package event

import (
	"time"

	"github.com/opsguard/opsguard/internal/incident"
)

const (
	TopicIncidentDetected = "incident.detected"
	TopicApprovalNeeded   = "human.approval.needed"
	TopicApprovalReceived = "approval.received"
	TopicTicketEscalation = "ticket.escalation"
	TopicIncidentResolved = "incident.resolved"
)

// IncidentDetected starts the pipeline for a freshly ingested alert or a
// scheduled-scan finding.
type IncidentDetected struct {
	IncidentID string
	IssueType  string
	ServerName string
	ErrorLogs  string
	Severity   string
	DetectedAt time.Time
}

func (IncidentDetected) Topic() string { return TopicIncidentDetected }

// ApprovalNeeded carries the diagnosis to the notify stage.
type ApprovalNeeded struct {
	IncidentID string
	Analysis   incident.Analysis
}

func (ApprovalNeeded) Topic() string { return TopicApprovalNeeded }

// ApprovalReceived authorizes execution of the recorded fix command.
type ApprovalReceived struct {
	IncidentID string
	FixCommand string
	Approver   string
}

func (ApprovalReceived) Topic() string { return TopicApprovalReceived }

// TicketEscalation routes a rejected fix to the external tracker.
type TicketEscalation struct {
	IncidentID string
	Reason     string
	Approver   string
}

func (TicketEscalation) Topic() string { return TopicTicketEscalation }

// IncidentResolved closes the loop after a successful remediation.
type IncidentResolved struct {
	IncidentID string
}

func (IncidentResolved) Topic() string { return TopicIncidentResolved }
