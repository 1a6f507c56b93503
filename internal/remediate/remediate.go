// Package remediate runs the approved fix. The shipped executor simulates an
// orchestration run (the shape an Ansible/SaltStack driver would report) and
// appends a durable audit record; it is the extension point for real command
// execution with timeouts and rollback.
package remediate

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Executor applies one remediation command for one incident. Implementations
// must tolerate being invoked twice for the same incident: the pipeline
// short-circuits on status, but a redelivered approval can still race in.
type Executor interface {
	Execute(ctx context.Context, incidentID, command string) error
}

type step struct {
	msg   string
	delay time.Duration
}

// Simulated walks a deterministic operational sequence with per-step delays.
// delayScale stretches or collapses the delays; tests run with 0.
type Simulated struct {
	log        *slog.Logger
	audit      *AuditLog
	delayScale float64
}

func NewSimulated(log *slog.Logger, audit *AuditLog, delayScale float64) *Simulated {
	return &Simulated{log: log, audit: audit, delayScale: delayScale}
}

func (s *Simulated) Execute(ctx context.Context, incidentID, command string) error {
	steps := []step{
		{msg: "connecting to bastion-host-01 via SSH", delay: 800 * time.Millisecond},
		{msg: "authenticating with opsguard-bot-key", delay: 500 * time.Millisecond},
		{msg: "verifying target host reachability", delay: 600 * time.Millisecond},
		{msg: fmt.Sprintf("executing command: %s", command), delay: 1500 * time.Millisecond},
		{msg: "waiting for service restart", delay: 2 * time.Second},
		{msg: "running health checks", delay: 800 * time.Millisecond},
	}

	for _, st := range steps {
		s.log.Info("remediation step", "incident_id", incidentID, "step", st.msg)
		d := time.Duration(float64(st.delay) * s.delayScale)
		if d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if s.audit != nil {
		if err := s.audit.Append(incidentID, command, time.Now().UTC()); err != nil {
			// The fix itself succeeded; a missing audit line is an operator
			// problem, not a pipeline failure.
			s.log.Error("write audit record", "incident_id", incidentID, "err", err)
		}
	}
	return nil
}
