// Package incident defines the incident lifecycle: the status machine, the
// record carried through every stage, and the durable store the stages share.
package incident

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Status is the current lifecycle stage of an incident. Statuses only advance;
// the single branch point is at waiting_approval, where a human either
// approves (-> approved -> executing -> resolved) or escalates
// (-> escalated -> ticketed).
type Status string

const (
	StatusDetected        Status = "detected"
	StatusAnalyzing       Status = "analyzing"
	StatusWaitingApproval Status = "waiting_approval"
	StatusApproved        Status = "approved"
	StatusExecuting       Status = "executing"
	StatusResolved        Status = "resolved"
	StatusEscalated       Status = "escalated"
	StatusTicketed        Status = "ticketed"
)

// Terminal reports whether no further automatic transition occurs.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusTicketed
}

// legal transitions, keyed by the current status.
var transitions = map[Status][]Status{
	StatusDetected:        {StatusAnalyzing, StatusWaitingApproval},
	StatusAnalyzing:       {StatusWaitingApproval},
	StatusWaitingApproval: {StatusWaitingApproval, StatusApproved, StatusEscalated},
	StatusApproved:        {StatusExecuting},
	StatusExecuting:       {StatusResolved},
	StatusEscalated:       {StatusTicketed},
}

// CanTransition reports whether moving from -> to is a legal advance.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Analysis is the structured diagnosis attached by the analyze stage and read
// by the notify, approval and execute stages. Confidence is 0-100; the
// fallback diagnosis uses confidence 0 and risk level UNKNOWN.
type Analysis struct {
	RootCause    string `json:"rootCause"`
	RiskLevel    string `json:"riskLevel"`
	SuggestedFix string `json:"suggestedFix"`
	CommandToRun string `json:"commandToRun"`
	Confidence   int    `json:"confidence"`
	Reasoning    string `json:"reasoning,omitempty"`
}

// Incident is the unit of work representing one detected problem and its
// remediation lifecycle. Records are never deleted, only extended: each stage
// reads the current record, merges its fields, and writes the whole record
// back.
type Incident struct {
	ID         string    `json:"id"`
	Status     Status    `json:"status"`
	ServerName string    `json:"serverName"`
	ErrorLogs  string    `json:"errorLogs"`
	Severity   string    `json:"severity"`
	IssueType  string    `json:"issueType"`
	DetectedAt time.Time `json:"detectedAt"`

	Analysis *Analysis `json:"aiAnalysis,omitempty"`

	ApprovedBy string     `json:"approvedBy,omitempty"`
	ApprovedAt *time.Time `json:"approvedAt,omitempty"`

	EscalatedBy string     `json:"escalatedBy,omitempty"`
	EscalatedAt *time.Time `json:"escalatedAt,omitempty"`

	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`

	TicketID  string `json:"ticketId,omitempty"`
	TicketURL string `json:"ticketUrl,omitempty"`
}

// lastID holds the most recently issued millisecond component so ids stay
// unique when alerts arrive faster than the clock ticks.
var lastID atomic.Int64

// NewID builds an incident id from a source prefix and detection time.
// Webhook alerts use "INC", scheduled scan findings use "SEC". The numeric
// component is strictly increasing within a process: two alerts landing in
// the same millisecond still get distinct ids.
func NewID(prefix string, at time.Time) string {
	ms := at.UnixMilli()
	for {
		last := lastID.Load()
		if ms <= last {
			ms = last + 1
		}
		if lastID.CompareAndSwap(last, ms) {
			return fmt.Sprintf("%s-%d", prefix, ms)
		}
	}
}
