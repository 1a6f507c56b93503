package pipeline_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/opsguard/opsguard/internal/bus"
	"github.com/opsguard/opsguard/internal/diagnose"
	"github.com/opsguard/opsguard/internal/event"
	"github.com/opsguard/opsguard/internal/incident"
	"github.com/opsguard/opsguard/internal/notify"
	"github.com/opsguard/opsguard/internal/pipeline"
	"github.com/opsguard/opsguard/internal/store"
	"github.com/opsguard/opsguard/internal/ticket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingExecutor struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (e *countingExecutor) Execute(_ context.Context, _, _ string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return e.err
}

func (e *countingExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type countingTickets struct {
	mu    sync.Mutex
	calls int
	real  ticket.Creator
}

func (c *countingTickets) CreateTicket(ctx context.Context, incidentID, reason, approver string) (ticket.Ref, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.real.CreateTicket(ctx, incidentID, reason, approver)
}

func (c *countingTickets) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type failingAnalyzer struct{}

func (failingAnalyzer) Analyze(context.Context, string, string) (incident.Analysis, error) {
	return incident.Analysis{}, errors.New("model unavailable")
}

type failingNotifier struct{}

func (failingNotifier) Notify(context.Context, notify.Approval) error {
	return errors.New("webhook unreachable")
}

type env struct {
	bus   *bus.Bus
	store *incident.Store
	pipe  *pipeline.Pipeline
	exec  *countingExecutor
}

func setup(t *testing.T, mutate func(*pipeline.Options)) *env {
	t.Helper()
	b := bus.New(slog.Default(), 16)
	t.Cleanup(b.Close)

	st := incident.NewStore(store.NewMemoryStore())
	exec := &countingExecutor{}

	opts := pipeline.Options{
		Store:     st,
		Bus:       b,
		Analyzer:  diagnose.NewHeuristicAnalyzer(),
		Notifier:  notify.NewNoop(slog.Default()),
		Tickets:   ticket.NewSimulated("https://linear.app/opsguard/issue", 0),
		Executor:  exec,
		Log:       slog.Default(),
		PublicURL: "http://localhost:8080",
		AITimeout: time.Second,
	}
	if mutate != nil {
		mutate(&opts)
	}

	p, err := pipeline.New(opts)
	require.NoError(t, err)
	p.Register()

	return &env{bus: b, store: st, pipe: p, exec: exec}
}

func TestIngestCreatesDetectedRecord(t *testing.T) {
	e := setup(t, nil)
	ctx := context.Background()

	id, err := e.pipe.Ingest(ctx, "INC", pipeline.Alert{ServerName: "payment-api", ErrorLogs: "OOM"})
	require.NoError(t, err)
	assert.Regexp(t, `^INC-\d+$`, id)

	// the record exists immediately after Ingest returns, before the
	// asynchronous stages run
	inc, found, err := e.store.Load(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, []incident.Status{
		incident.StatusDetected, incident.StatusAnalyzing, incident.StatusWaitingApproval,
	}, inc.Status)
	assert.Equal(t, "payment-api", inc.ServerName)
	assert.Equal(t, "UNKNOWN", inc.Severity)

	e.bus.Drain()
	inc, _, err = e.store.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, incident.StatusWaitingApproval, inc.Status)
	require.NotNil(t, inc.Analysis)
	assert.NotEmpty(t, inc.Analysis.CommandToRun)
}

func TestApproveFlowReachesResolved(t *testing.T) {
	e := setup(t, nil)
	ctx := context.Background()

	id, err := e.pipe.Ingest(ctx, "INC", pipeline.Alert{ServerName: "payment-api", ErrorLogs: "OOM"})
	require.NoError(t, err)
	e.bus.Drain()

	msg, err := e.pipe.Decide(ctx, pipeline.Decision{IncidentID: id, Approver: "alice"})
	require.NoError(t, err)
	assert.Contains(t, msg, id)
	e.bus.Drain()

	inc, _, err := e.store.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, incident.StatusResolved, inc.Status)
	assert.Equal(t, "alice", inc.ApprovedBy)
	require.NotNil(t, inc.ApprovedAt)
	require.NotNil(t, inc.ResolvedAt)
	assert.Equal(t, 1, e.exec.count())
}

func TestEscalateFlowReachesTicketed(t *testing.T) {
	e := setup(t, nil)
	ctx := context.Background()

	id, err := e.pipe.Ingest(ctx, "INC", pipeline.Alert{ServerName: "payment-api", ErrorLogs: "OOM"})
	require.NoError(t, err)
	e.bus.Drain()

	_, err = e.pipe.Decide(ctx, pipeline.Decision{IncidentID: id, Approver: "bob", Escalate: true})
	require.NoError(t, err)
	e.bus.Drain()

	inc, _, err := e.store.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, incident.StatusTicketed, inc.Status)
	assert.Equal(t, "bob", inc.EscalatedBy)
	assert.Regexp(t, `^LIN-\d{4}$`, inc.TicketID)
	assert.Contains(t, inc.TicketURL, inc.TicketID)
	// the remediation path never ran
	assert.Equal(t, 0, e.exec.count())
}

func TestDecideUnknownIncident(t *testing.T) {
	e := setup(t, nil)
	ctx := context.Background()

	_, err := e.pipe.Decide(ctx, pipeline.Decision{IncidentID: "INC-404", Approver: "alice"})
	require.ErrorIs(t, err, incident.ErrNotFound)

	_, err = e.pipe.Decide(ctx, pipeline.Decision{IncidentID: "INC-404", Escalate: true})
	require.ErrorIs(t, err, incident.ErrNotFound)

	// no record was created as a side effect
	e.bus.Drain()
	all, err := e.store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Equal(t, 0, e.exec.count())
}

func TestDiagnosisFailureFallsBack(t *testing.T) {
	e := setup(t, func(o *pipeline.Options) {
		o.Analyzer = failingAnalyzer{}
	})
	ctx := context.Background()

	id, err := e.pipe.Ingest(ctx, "INC", pipeline.Alert{ServerName: "db-01", ErrorLogs: "garbage"})
	require.NoError(t, err)
	e.bus.Drain()

	inc, _, err := e.store.Load(ctx, id)
	require.NoError(t, err)
	// the pipeline still reached waiting_approval with the fallback sentinel
	assert.Equal(t, incident.StatusWaitingApproval, inc.Status)
	require.NotNil(t, inc.Analysis)
	assert.Equal(t, "UNKNOWN", inc.Analysis.RiskLevel)
	assert.Equal(t, 0, inc.Analysis.Confidence)
}

func TestNotificationFailureDoesNotBlock(t *testing.T) {
	e := setup(t, func(o *pipeline.Options) {
		o.Notifier = failingNotifier{}
	})
	ctx := context.Background()

	id, err := e.pipe.Ingest(ctx, "INC", pipeline.Alert{ServerName: "db-01", ErrorLogs: "timeout"})
	require.NoError(t, err)
	e.bus.Drain()

	inc, _, err := e.store.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, incident.StatusWaitingApproval, inc.Status)

	// approval still works end to end
	_, err = e.pipe.Decide(ctx, pipeline.Decision{IncidentID: id, Approver: "alice"})
	require.NoError(t, err)
	e.bus.Drain()
	inc, _, _ = e.store.Load(ctx, id)
	assert.Equal(t, incident.StatusResolved, inc.Status)
}

func TestDuplicateApprovalReceivedIsIdempotent(t *testing.T) {
	e := setup(t, nil)
	ctx := context.Background()

	id, err := e.pipe.Ingest(ctx, "INC", pipeline.Alert{ServerName: "payment-api", ErrorLogs: "OOM"})
	require.NoError(t, err)
	e.bus.Drain()

	_, err = e.pipe.Decide(ctx, pipeline.Decision{IncidentID: id, Approver: "alice"})
	require.NoError(t, err)
	e.bus.Drain()
	require.Equal(t, 1, e.exec.count())

	// redeliver approval.received for the already-resolved incident
	require.NoError(t, e.bus.Publish(ctx, event.ApprovalReceived{
		IncidentID: id,
		FixCommand: "systemctl restart app.service",
		Approver:   "alice",
	}))
	e.bus.Drain()

	assert.Equal(t, 1, e.exec.count())
	inc, _, _ := e.store.Load(ctx, id)
	assert.Equal(t, incident.StatusResolved, inc.Status)
}

func TestDuplicateEscalationCreatesOneTicket(t *testing.T) {
	tickets := &countingTickets{real: ticket.NewSimulated("https://linear.app/opsguard/issue", 0)}
	e := setup(t, func(o *pipeline.Options) {
		o.Tickets = tickets
	})
	ctx := context.Background()

	id, err := e.pipe.Ingest(ctx, "INC", pipeline.Alert{ServerName: "payment-api", ErrorLogs: "OOM"})
	require.NoError(t, err)
	e.bus.Drain()

	// redeliver ticket.escalation back to back; the tracker must see one call
	evt := event.TicketEscalation{IncidentID: id, Reason: "Manual escalation by admin", Approver: "bob"}
	require.NoError(t, e.bus.Publish(ctx, evt))
	require.NoError(t, e.bus.Publish(ctx, evt))
	e.bus.Drain()

	assert.Equal(t, 1, tickets.count())
	inc, _, err := e.store.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, incident.StatusTicketed, inc.Status)
}

func TestRapidIngestGetsDistinctIncidents(t *testing.T) {
	e := setup(t, nil)
	ctx := context.Background()

	ids := make(map[string]bool)
	for i := 0; i < 10; i++ {
		id, err := e.pipe.Ingest(ctx, "INC", pipeline.Alert{ServerName: "payment-api", ErrorLogs: "OOM"})
		require.NoError(t, err)
		require.False(t, ids[id], "id %s issued twice", id)
		ids[id] = true
	}
	e.bus.Drain()

	all, err := e.store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 10)
}

func TestSecondApproveAfterResolveIsRejected(t *testing.T) {
	e := setup(t, nil)
	ctx := context.Background()

	id, err := e.pipe.Ingest(ctx, "INC", pipeline.Alert{ServerName: "payment-api", ErrorLogs: "OOM"})
	require.NoError(t, err)
	e.bus.Drain()

	_, err = e.pipe.Decide(ctx, pipeline.Decision{IncidentID: id, Approver: "alice"})
	require.NoError(t, err)
	e.bus.Drain()

	_, err = e.pipe.Decide(ctx, pipeline.Decision{IncidentID: id, Approver: "mallory"})
	require.Error(t, err)

	inc, _, _ := e.store.Load(ctx, id)
	assert.Equal(t, "alice", inc.ApprovedBy)
	assert.Equal(t, 1, e.exec.count())
}
