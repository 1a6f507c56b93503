// Package pipeline wires the stage handlers onto the bus and owns every
// incident status transition. Each stage reads the current record, merges its
// fields, writes the whole record back, and only then emits the next event —
// that emit-after-write discipline is what keeps per-incident progression
// strictly sequential without a global lock.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/opsguard/opsguard/internal/bus"
	"github.com/opsguard/opsguard/internal/diagnose"
	"github.com/opsguard/opsguard/internal/event"
	"github.com/opsguard/opsguard/internal/incident"
	"github.com/opsguard/opsguard/internal/notify"
	"github.com/opsguard/opsguard/internal/remediate"
	"github.com/opsguard/opsguard/internal/ticket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// fallback command emitted when an approval arrives before (or without) a
// recorded diagnosis.
const noopCommand = "echo 'No command found'"

// errSkip aborts an Update without failing it: the stage observed a state it
// has already handled (duplicate delivery) and short-circuits.
var errSkip = errors.New("stage already handled")

// Options carries the explicit dependency bundle every stage handler shares.
type Options struct {
	Store     *incident.Store
	Bus       *bus.Bus
	Analyzer  diagnose.Analyzer
	Notifier  notify.Notifier
	Tickets   ticket.Creator
	Executor  remediate.Executor
	Log       *slog.Logger
	PublicURL string
	AITimeout time.Duration
	Clock     func() time.Time
}

// Pipeline is the set of stage handlers for the incident flow.
type Pipeline struct {
	store     *incident.Store
	bus       *bus.Bus
	analyzer  diagnose.Analyzer
	notifier  notify.Notifier
	tickets   ticket.Creator
	executor  remediate.Executor
	log       *slog.Logger
	publicURL string
	aiTimeout time.Duration
	now       func() time.Time

	detected  metric.Int64Counter
	resolved  metric.Int64Counter
	escalated metric.Int64Counter
	duration  metric.Float64Histogram
}

// New builds a Pipeline. Call Register to attach it to the bus.
func New(opts Options) (*Pipeline, error) {
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.AITimeout <= 0 {
		opts.AITimeout = 30 * time.Second
	}

	meter := otel.Meter("opsguard/pipeline")
	detected, err := meter.Int64Counter("opsguard.incidents.detected",
		metric.WithDescription("Incidents entering the pipeline"))
	if err != nil {
		return nil, fmt.Errorf("create detected counter: %w", err)
	}
	resolved, err := meter.Int64Counter("opsguard.incidents.resolved",
		metric.WithDescription("Incidents remediated after approval"))
	if err != nil {
		return nil, fmt.Errorf("create resolved counter: %w", err)
	}
	escalated, err := meter.Int64Counter("opsguard.incidents.escalated",
		metric.WithDescription("Incidents escalated to the external tracker"))
	if err != nil {
		return nil, fmt.Errorf("create escalated counter: %w", err)
	}
	duration, err := meter.Float64Histogram("opsguard.incident.duration_seconds",
		metric.WithDescription("Detection-to-resolution time"))
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}

	return &Pipeline{
		store:     opts.Store,
		bus:       opts.Bus,
		analyzer:  opts.Analyzer,
		notifier:  opts.Notifier,
		tickets:   opts.Tickets,
		executor:  opts.Executor,
		log:       opts.Log,
		publicURL: opts.PublicURL,
		aiTimeout: opts.AITimeout,
		now:       opts.Clock,
		detected:  detected,
		resolved:  resolved,
		escalated: escalated,
		duration:  duration,
	}, nil
}

// Register subscribes every stage handler to its topic.
func (p *Pipeline) Register() {
	p.bus.Subscribe(event.TopicIncidentDetected, "analyze-incident", p.handleDetected)
	p.bus.Subscribe(event.TopicApprovalNeeded, "notify-human", p.handleApprovalNeeded)
	p.bus.Subscribe(event.TopicApprovalReceived, "execute-fix", p.handleApprovalReceived)
	p.bus.Subscribe(event.TopicTicketEscalation, "create-ticket", p.handleEscalation)
	p.bus.Subscribe(event.TopicIncidentResolved, "log-resolution", p.handleResolved)
}

// ---- Synchronous entry points (request/response semantics) ----------------

// Alert is a validated inbound alert, normalized by the transport layer.
type Alert struct {
	ServerName string
	ErrorLogs  string
	Severity   string
	IssueType  string
}

// Ingest assigns an incident id, writes the initial record, and starts the
// pipeline. The id is returned to the caller synchronously; everything after
// incident.detected is fire-and-forget.
func (p *Pipeline) Ingest(ctx context.Context, prefix string, alert Alert) (string, error) {
	now := p.now()
	inc := incident.Incident{
		ID:         incident.NewID(prefix, now),
		Status:     incident.StatusDetected,
		ServerName: alert.ServerName,
		ErrorLogs:  alert.ErrorLogs,
		Severity:   alert.Severity,
		IssueType:  alert.IssueType,
		DetectedAt: now,
	}
	if inc.Severity == "" {
		inc.Severity = "UNKNOWN"
	}
	if inc.IssueType == "" {
		inc.IssueType = "CRITICAL_OUTAGE"
	}

	if err := p.store.Create(ctx, inc); err != nil {
		return "", fmt.Errorf("create incident record: %w", err)
	}

	p.detected.Add(ctx, 1)
	p.log.Info("alert received", "incident_id", inc.ID, "server", inc.ServerName, "severity", inc.Severity)

	if err := p.bus.Publish(ctx, event.IncidentDetected{
		IncidentID: inc.ID,
		IssueType:  inc.IssueType,
		ServerName: inc.ServerName,
		ErrorLogs:  inc.ErrorLogs,
		Severity:   inc.Severity,
		DetectedAt: inc.DetectedAt,
	}); err != nil {
		return "", fmt.Errorf("publish incident.detected: %w", err)
	}
	return inc.ID, nil
}

// Decision is a validated approve/escalate action from the approval webhook.
type Decision struct {
	IncidentID string
	Approver   string
	Escalate   bool
}

// Decide handles the external approve/escalate action. It fails with
// incident.ErrNotFound (no mutation, no event) when the id is unknown.
func (p *Pipeline) Decide(ctx context.Context, d Decision) (string, error) {
	inc, found, err := p.store.Load(ctx, d.IncidentID)
	if err != nil {
		return "", fmt.Errorf("load incident: %w", err)
	}
	if !found {
		return "", fmt.Errorf("%w: %s", incident.ErrNotFound, d.IncidentID)
	}
	if d.Approver == "" {
		d.Approver = "admin"
	}

	if d.Escalate {
		// The ticket-creation handler is the sole setter of the terminal
		// escalated status; this path only emits. Re-escalating an incident
		// whose ticket creation previously failed is allowed.
		if inc.Status != incident.StatusWaitingApproval && inc.Status != incident.StatusEscalated {
			return "", fmt.Errorf("incident %s is %s, not awaiting approval", inc.ID, inc.Status)
		}
		p.log.Warn("escalation received", "incident_id", inc.ID, "approver", d.Approver)
		if err := p.bus.Publish(ctx, event.TicketEscalation{
			IncidentID: inc.ID,
			Reason:     "Manual escalation by admin",
			Approver:   d.Approver,
		}); err != nil {
			return "", fmt.Errorf("publish ticket.escalation: %w", err)
		}
		return fmt.Sprintf("Incident %s escalated. Ticket is being created.", inc.ID), nil
	}

	if !incident.CanTransition(inc.Status, incident.StatusApproved) {
		return "", fmt.Errorf("incident %s is %s, not awaiting approval", inc.ID, inc.Status)
	}

	updated, err := p.store.Update(ctx, inc.ID, func(cur *incident.Incident) error {
		if !incident.CanTransition(cur.Status, incident.StatusApproved) {
			return errSkip
		}
		now := p.now()
		cur.Status = incident.StatusApproved
		cur.ApprovedBy = d.Approver
		cur.ApprovedAt = &now
		return nil
	})
	if errors.Is(err, errSkip) {
		// A concurrent duplicate already approved it; nothing left to do.
		return fmt.Sprintf("Incident %s already approved.", inc.ID), nil
	}
	if err != nil {
		return "", fmt.Errorf("approve incident: %w", err)
	}

	command := noopCommand
	if updated.Analysis != nil && updated.Analysis.CommandToRun != "" {
		command = updated.Analysis.CommandToRun
	}

	p.log.Info("approval received", "incident_id", inc.ID, "approver", d.Approver, "command", command)
	if err := p.bus.Publish(ctx, event.ApprovalReceived{
		IncidentID: inc.ID,
		FixCommand: command,
		Approver:   d.Approver,
	}); err != nil {
		return "", fmt.Errorf("publish approval.received: %w", err)
	}
	return fmt.Sprintf("Fix authorized for %s. Executing now.", inc.ID), nil
}

// ---- Bus-driven stage handlers --------------------------------------------

func (p *Pipeline) handleDetected(ctx context.Context, msg bus.Message) error {
	evt, ok := msg.(event.IncidentDetected)
	if !ok {
		return fmt.Errorf("unexpected payload %T on %s", msg, msg.Topic())
	}

	_, err := p.store.Update(ctx, evt.IncidentID, func(cur *incident.Incident) error {
		if cur.Status != incident.StatusDetected {
			return errSkip
		}
		cur.Status = incident.StatusAnalyzing
		return nil
	})
	if errors.Is(err, errSkip) {
		p.log.Info("analysis already in progress, skipping", "incident_id", evt.IncidentID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark analyzing: %w", err)
	}

	p.log.Info("analyzing incident", "incident_id", evt.IncidentID, "issue_type", evt.IssueType)

	// Diagnosis runs outside the record lock and is bounded by a timeout.
	// Failure here is never fatal to the pipeline: the conservative fallback
	// keeps the incident moving toward human review.
	analysisCtx, cancel := context.WithTimeout(ctx, p.aiTimeout)
	defer cancel()
	analysis, aerr := p.analyzer.Analyze(analysisCtx, evt.IssueType, evt.ErrorLogs)
	if aerr != nil {
		p.log.Error("diagnosis failed, using fallback", "incident_id", evt.IncidentID, "err", aerr)
		analysis = diagnose.Fallback()
	}

	if _, err := p.store.Update(ctx, evt.IncidentID, func(cur *incident.Incident) error {
		cur.Status = incident.StatusWaitingApproval
		cur.Analysis = &analysis
		return nil
	}); err != nil {
		return fmt.Errorf("persist analysis: %w", err)
	}

	p.log.Info("awaiting admin approval", "incident_id", evt.IncidentID, "suggested_fix", analysis.SuggestedFix)
	return p.bus.Publish(ctx, event.ApprovalNeeded{IncidentID: evt.IncidentID, Analysis: analysis})
}

func (p *Pipeline) handleApprovalNeeded(ctx context.Context, msg bus.Message) error {
	evt, ok := msg.(event.ApprovalNeeded)
	if !ok {
		return fmt.Errorf("unexpected payload %T on %s", msg, msg.Topic())
	}

	// Idempotent re-assert: the analyze stage already set waiting_approval,
	// but a redelivery after a partial write must converge to the same state.
	if _, err := p.store.Update(ctx, evt.IncidentID, func(cur *incident.Incident) error {
		if cur.Status == incident.StatusAnalyzing || cur.Status == incident.StatusDetected {
			cur.Status = incident.StatusWaitingApproval
		}
		return nil
	}); err != nil {
		return fmt.Errorf("persist waiting_approval: %w", err)
	}

	req := notify.Approval{
		IncidentID:  evt.IncidentID,
		Analysis:    evt.Analysis,
		ApproveURL:  p.callbackURL(evt.IncidentID, false),
		EscalateURL: p.callbackURL(evt.IncidentID, true),
	}
	if err := p.notifier.Notify(ctx, req); err != nil {
		// Logged, not returned: the incident is correctly parked in
		// waiting_approval regardless, and the external action is what
		// advances it.
		p.log.Error("notification delivery failed", "incident_id", evt.IncidentID, "err", err)
	} else {
		p.log.Info("approval notification sent", "incident_id", evt.IncidentID)
	}

	p.log.Info("workflow paused awaiting admin action", "incident_id", evt.IncidentID)
	return nil
}

func (p *Pipeline) handleApprovalReceived(ctx context.Context, msg bus.Message) error {
	evt, ok := msg.(event.ApprovalReceived)
	if !ok {
		return fmt.Errorf("unexpected payload %T on %s", msg, msg.Topic())
	}

	_, err := p.store.Update(ctx, evt.IncidentID, func(cur *incident.Incident) error {
		// Duplicate approval.received delivery: a previous delivery already
		// moved the incident to executing or resolved. Short-circuit so the
		// remediation side effects run at most once.
		if cur.Status == incident.StatusExecuting || cur.Status == incident.StatusResolved {
			return errSkip
		}
		if !incident.CanTransition(cur.Status, incident.StatusExecuting) {
			return fmt.Errorf("cannot execute from status %s", cur.Status)
		}
		cur.Status = incident.StatusExecuting
		return nil
	})
	if errors.Is(err, errSkip) {
		p.log.Info("duplicate approval ignored", "incident_id", evt.IncidentID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark executing: %w", err)
	}

	p.log.Info("executing fix", "incident_id", evt.IncidentID, "command", evt.FixCommand)
	if err := p.executor.Execute(ctx, evt.IncidentID, evt.FixCommand); err != nil {
		// Leave the record in executing: visible to an operator, and the
		// dispatcher keeps serving unrelated incidents.
		return fmt.Errorf("execute fix: %w", err)
	}

	if _, err := p.store.Update(ctx, evt.IncidentID, func(cur *incident.Incident) error {
		now := p.now()
		cur.Status = incident.StatusResolved
		cur.ResolvedAt = &now
		return nil
	}); err != nil {
		return fmt.Errorf("mark resolved: %w", err)
	}

	p.resolved.Add(ctx, 1)
	p.log.Info("patch applied successfully", "incident_id", evt.IncidentID)
	return p.bus.Publish(ctx, event.IncidentResolved{IncidentID: evt.IncidentID})
}

func (p *Pipeline) handleEscalation(ctx context.Context, msg bus.Message) error {
	evt, ok := msg.(event.TicketEscalation)
	if !ok {
		return fmt.Errorf("unexpected payload %T on %s", msg, msg.Topic())
	}

	// Redelivery check runs before the ticket call so a duplicate
	// ticket.escalation never reaches the external tracker twice. The
	// create-ticket subscriber handles deliveries sequentially, so this
	// read-then-act is not racing another copy of itself; the errSkip guard
	// inside Update below is the backstop.
	inc, found, err := p.store.Load(ctx, evt.IncidentID)
	if err != nil {
		return fmt.Errorf("load incident: %w", err)
	}
	if !found {
		return fmt.Errorf("escalation for unknown incident %s", evt.IncidentID)
	}
	if inc.Status.Terminal() {
		p.log.Info("duplicate escalation ignored", "incident_id", evt.IncidentID)
		return nil
	}
	if inc.Status != incident.StatusWaitingApproval && inc.Status != incident.StatusEscalated {
		return fmt.Errorf("cannot ticket incident %s from status %s", evt.IncidentID, inc.Status)
	}

	p.log.Info("creating ticket", "incident_id", evt.IncidentID, "reason", evt.Reason)

	// Ticket creation happens before the status write so a crash in between
	// leaves the incident pre-terminal and re-escalatable, never silently
	// closed without a ticket.
	ref, terr := p.tickets.CreateTicket(ctx, evt.IncidentID, evt.Reason, evt.Approver)

	_, err = p.store.Update(ctx, evt.IncidentID, func(cur *incident.Incident) error {
		if cur.Status.Terminal() {
			return errSkip
		}
		now := p.now()
		cur.EscalatedBy = evt.Approver
		cur.EscalatedAt = &now
		if terr != nil {
			// Visible to an operator via status + logs; the approval webhook
			// accepts a repeat escalation from this state.
			cur.Status = incident.StatusEscalated
			return nil
		}
		cur.Status = incident.StatusTicketed
		cur.TicketID = ref.ID
		cur.TicketURL = ref.URL
		return nil
	})
	if errors.Is(err, errSkip) {
		p.log.Info("duplicate escalation ignored", "incident_id", evt.IncidentID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("persist escalation: %w", err)
	}
	if terr != nil {
		return fmt.Errorf("create ticket: %w", terr)
	}

	p.escalated.Add(ctx, 1)
	p.log.Info("ticket created", "incident_id", evt.IncidentID, "ticket_id", ref.ID, "ticket_url", ref.URL)
	return nil
}

// handleResolved is the terminal archive hook: logging and metrics only, safe
// to run any number of times.
func (p *Pipeline) handleResolved(ctx context.Context, msg bus.Message) error {
	evt, ok := msg.(event.IncidentResolved)
	if !ok {
		return fmt.Errorf("unexpected payload %T on %s", msg, msg.Topic())
	}

	inc, found, err := p.store.Load(ctx, evt.IncidentID)
	if err != nil {
		return fmt.Errorf("load resolved incident: %w", err)
	}
	if found && inc.ResolvedAt != nil && !inc.DetectedAt.IsZero() {
		p.duration.Record(ctx, inc.ResolvedAt.Sub(inc.DetectedAt).Seconds())
	}

	p.log.Info("incident archived", "incident_id", evt.IncidentID)
	return nil
}

func (p *Pipeline) callbackURL(incidentID string, escalate bool) string {
	q := url.Values{"incidentId": {incidentID}}
	if escalate {
		q.Set("action", "escalate")
	}
	return fmt.Sprintf("%s/webhooks/approve-fix?%s", p.publicURL, q.Encode())
}
