package remediate_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opsguard/opsguard/internal/remediate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteWritesAuditRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	exec := remediate.NewSimulated(slog.Default(), remediate.NewAuditLog(path), 0)

	require.NoError(t, exec.Execute(context.Background(), "INC-1", "systemctl restart app.service"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "INC-1")
	assert.Contains(t, string(data), "systemctl restart app.service")
	assert.Contains(t, string(data), "RESOLVED")
}

func TestExecuteAppendsPerRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	exec := remediate.NewSimulated(slog.Default(), remediate.NewAuditLog(path), 0)

	require.NoError(t, exec.Execute(context.Background(), "INC-1", "cmd-a"))
	require.NoError(t, exec.Execute(context.Background(), "INC-2", "cmd-b"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "[OPSGUARD AUDIT RECORD]"))
}

func TestExecuteHonoursCancellation(t *testing.T) {
	exec := remediate.NewSimulated(slog.Default(), nil, 1.0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := exec.Execute(ctx, "INC-1", "sleep forever")
	require.ErrorIs(t, err, context.Canceled)
}
