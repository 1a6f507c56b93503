package main

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvFileContent(t *testing.T) {
	got := envFileContent("http://localhost:8080", "payment-api", "sk-test", "https://discord.com/api/webhooks/x")
	assert.Contains(t, got, "OPSGUARD_SERVER=http://localhost:8080\n")
	assert.Contains(t, got, "OPSGUARD_SERVICE_NAME=payment-api\n")
	assert.Contains(t, got, "AI_PROVIDER=openai\n")
	assert.Contains(t, got, "AI_API_KEY=sk-test\n")
	assert.Contains(t, got, "NOTIFY_WEBHOOK_URL=https://discord.com/api/webhooks/x\n")
}

func TestEnvFileContentOptionalPlaceholders(t *testing.T) {
	got := envFileContent("http://localhost:8080", "unnamed-service", "", "")
	assert.Contains(t, got, "# AI_API_KEY=\n")
	assert.Contains(t, got, "# NOTIFY_WEBHOOK_URL=\n")
	assert.NotContains(t, got, "AI_PROVIDER=")
}

func TestSetupCreatesEnvFile(t *testing.T) {
	envFile = filepath.Join(t.TempDir(), ".env")

	rootCmd.SetIn(strings.NewReader("payment-api\n\n\n"))
	var out bytes.Buffer
	rootCmd.SetOut(&out)

	require.NoError(t, runSetup(rootCmd, nil))

	data, err := os.ReadFile(envFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "OPSGUARD_SERVICE_NAME=payment-api")
	assert.Contains(t, out.String(), "Created")
}

func TestSetupDeclinedAppendLeavesFileUntouched(t *testing.T) {
	envFile = filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("EXISTING=1\n"), 0o644))

	// service, ai key, webhook, then "n" to the append question
	rootCmd.SetIn(strings.NewReader("svc\n\n\nn\n"))
	var out bytes.Buffer
	rootCmd.SetOut(&out)

	require.NoError(t, runSetup(rootCmd, nil))

	data, err := os.ReadFile(envFile)
	require.NoError(t, err)
	assert.Equal(t, "EXISTING=1\n", string(data))
	assert.Contains(t, out.String(), "Setup skipped.")
}

func TestPromptFallsBackOnEmptyLine(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("\n"))
	var out bytes.Buffer
	assert.Equal(t, "unnamed-service", prompt(in, &out, "Service name", "unnamed-service"))
}
