package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func runSetup(cmd *cobra.Command, _ []string) error {
	in := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "OpsGuard client setup")
	fmt.Fprintf(out, "Server endpoint: %s\n\n", serverURL)

	service := prompt(in, out, "Service name (e.g. payment-api)", "unnamed-service")
	aiKey := prompt(in, out, "AI API key (optional)", "")
	webhook := prompt(in, out, "Notification webhook URL (optional)", "")

	content := envFileContent(serverURL, service, aiKey, webhook)

	if _, err := os.Stat(envFile); err == nil {
		fmt.Fprintf(out, "\n%s already exists.\n", envFile)
		answer := prompt(in, out, "Append these variables? (y/n)", "n")
		if !strings.HasPrefix(strings.ToLower(answer), "y") {
			fmt.Fprintln(out, "Setup skipped.")
			return nil
		}
		f, err := os.OpenFile(envFile, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open %s: %w", envFile, err)
		}
		defer f.Close()
		if _, err := f.WriteString("\n" + content); err != nil {
			return fmt.Errorf("append to %s: %w", envFile, err)
		}
		fmt.Fprintf(out, "Configuration appended to %s\n", envFile)
		return nil
	}

	if err := os.WriteFile(envFile, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", envFile, err)
	}
	fmt.Fprintf(out, "Created %s\n", envFile)
	return nil
}

// envFileContent renders the env block with the variable names the server's
// config loader reads. Optional values are written as commented placeholders.
func envFileContent(endpoint, service, aiKey, webhook string) string {
	var b strings.Builder
	b.WriteString("# --- OpsGuard Configuration ---\n")
	fmt.Fprintf(&b, "OPSGUARD_SERVER=%s\n", endpoint)
	fmt.Fprintf(&b, "OPSGUARD_SERVICE_NAME=%s\n", service)
	if aiKey != "" {
		fmt.Fprintf(&b, "AI_PROVIDER=openai\nAI_API_KEY=%s\n", aiKey)
	} else {
		b.WriteString("# AI_API_KEY=\n")
	}
	if webhook != "" {
		fmt.Fprintf(&b, "NOTIFY_WEBHOOK_URL=%s\n", webhook)
	} else {
		b.WriteString("# NOTIFY_WEBHOOK_URL=\n")
	}
	return b.String()
}

func prompt(in *bufio.Reader, out io.Writer, label, fallback string) string {
	fmt.Fprintf(out, "%s: ", label)
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return fallback
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return fallback
	}
	return line
}
