// Package scan runs the periodic security probe. A tick never piles a new
// incident onto an open one: the whole collection is checked first and the
// cycle is skipped when any incident is non-terminal. Findings enter the
// pipeline through exactly the same ingest path as human-triggered alerts.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opsguard/opsguard/internal/incident"
	"github.com/opsguard/opsguard/internal/pipeline"
)

// Finding is one synthetic probe result.
type Finding struct {
	IssueType  string
	ServerName string
	ErrorLogs  string
	Severity   string
}

// Prober checks the environment for issues. Returns found=false on a clean
// scan.
type Prober interface {
	Probe(ctx context.Context) (Finding, bool, error)
}

// CVEProber simulates a dependency audit against a CVE database. The finding
// is deterministic, mirroring the demo probe this replaces; a real
// implementation would shell out to an audit tool here.
type CVEProber struct {
	delay time.Duration
}

func NewCVEProber(delay time.Duration) *CVEProber { return &CVEProber{delay: delay} }

func (p *CVEProber) Probe(ctx context.Context) (Finding, bool, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return Finding{}, false, ctx.Err()
		}
	}
	return Finding{
		IssueType:  "SECURITY_VULNERABILITY",
		ServerName: "production-web-01",
		ErrorLogs:  "Audit Report: Critical RCE in next@14.1.0. Recommendation: Upgrade to 14.2.0 immediately.",
		Severity:   "CRITICAL",
	}, true, nil
}

// Trigger owns the scan schedule.
type Trigger struct {
	store  *incident.Store
	pipe   *pipeline.Pipeline
	prober Prober
	log    *slog.Logger
}

func NewTrigger(store *incident.Store, pipe *pipeline.Pipeline, prober Prober, log *slog.Logger) *Trigger {
	return &Trigger{store: store, pipe: pipe, prober: prober, log: log}
}

// RunOnce executes a single scan cycle. It is called by the ticker loop, by
// the River periodic job on postgres deployments, and directly by tests.
func (t *Trigger) RunOnce(ctx context.Context) error {
	t.log.Info("starting scheduled security scan")

	open, err := t.store.HasOpen(ctx)
	if err != nil {
		return fmt.Errorf("check open incidents: %w", err)
	}
	if open {
		t.log.Warn("skipping scan: an incident is already active and unresolved")
		return nil
	}

	finding, found, err := t.prober.Probe(ctx)
	if err != nil {
		return fmt.Errorf("run probe: %w", err)
	}
	if !found {
		t.log.Info("scan clean, no vulnerabilities found")
		return nil
	}

	id, err := t.pipe.Ingest(ctx, "SEC", pipeline.Alert{
		ServerName: finding.ServerName,
		ErrorLogs:  finding.ErrorLogs,
		Severity:   finding.Severity,
		IssueType:  finding.IssueType,
	})
	if err != nil {
		return fmt.Errorf("ingest scan finding: %w", err)
	}
	t.log.Info("scan finding handed to pipeline", "incident_id", id, "issue_type", finding.IssueType)
	return nil
}

// Run ticks RunOnce on a fixed interval until ctx is cancelled.
func (t *Trigger) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.RunOnce(ctx); err != nil {
				t.log.Error("scheduled scan failed", "err", err)
			}
		}
	}
}
