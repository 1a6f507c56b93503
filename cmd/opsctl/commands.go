package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL  string
	serverName string
	errorLogs  string
	severity   string
	approver   string

	rootCmd = &cobra.Command{
		Use:   "opsctl",
		Short: "Interact with a running opsguard server",
	}

	alertCmd = &cobra.Command{
		Use:   "alert",
		Short: "Raise a simulated crash alert",
		RunE:  runAlert,
	}

	approveCmd = &cobra.Command{
		Use:   "approve <incident-id>",
		Short: "Approve the suggested fix for a pending incident",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecision(args[0], "")
		},
	}

	escalateCmd = &cobra.Command{
		Use:   "escalate <incident-id>",
		Short: "Escalate a pending incident to a ticket instead of fixing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecision(args[0], "escalate")
		},
	}

	incidentsCmd = &cobra.Command{
		Use:   "incidents",
		Short: "List all tracked incidents",
		RunE:  runIncidents,
	}

	envFile  string
	setupCmd = &cobra.Command{
		Use:   "setup",
		Short: "Interactive wizard that writes opsguard settings to a .env file",
		RunE:  runSetup,
	}
)

const defaultErrorLogs = `[ERROR] Critical Process Failure
[FATAL] Memory usage exceeded 98% (Out of Bounds Exception)
[Context] Service: payment-gateway
[Stacktrace] at java.lang.OutOfMemoryError: Java heap space`

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "base URL of the opsguard server")

	alertCmd.Flags().StringVar(&serverName, "server-name", "production-svc-01", "name of the affected server")
	alertCmd.Flags().StringVar(&errorLogs, "logs", defaultErrorLogs, "error log excerpt to attach to the alert")
	alertCmd.Flags().StringVar(&severity, "severity", "CRITICAL", "alert severity")

	for _, c := range []*cobra.Command{approveCmd, escalateCmd} {
		c.Flags().StringVar(&approver, "approver", "Senior_SRE_User", "name recorded as the human decision maker")
	}

	setupCmd.Flags().StringVar(&envFile, "env-file", ".env", "path of the env file to create or append to")

	rootCmd.AddCommand(alertCmd, approveCmd, escalateCmd, incidentsCmd, setupCmd)
}

func runAlert(cmd *cobra.Command, _ []string) error {
	out, err := postJSON(serverURL+"/ingest-alert", map[string]string{
		"serverName": serverName,
		"errorLogs":  errorLogs,
		"severity":   severity,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	fmt.Printf("incident %s: %s\n", out["incidentId"], out["message"])
	return nil
}

func runDecision(incidentID, action string) error {
	body := map[string]string{
		"incidentId": incidentID,
		"approver":   approver,
	}
	if action != "" {
		body["action"] = action
	}
	out, err := postJSON(serverURL+"/webhooks/approve-fix", body)
	if err != nil {
		return err
	}
	fmt.Println(out["message"])
	return nil
}

func runIncidents(cmd *cobra.Command, _ []string) error {
	resp, err := http.Get(serverURL + "/incidents")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}

	var incidents []struct {
		ID         string `json:"id"`
		Status     string `json:"status"`
		ServerName string `json:"serverName"`
		Severity   string `json:"severity"`
		TicketID   string `json:"ticketId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&incidents); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSERVER\tSEVERITY\tTICKET")
	for _, inc := range incidents {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", inc.ID, inc.Status, inc.ServerName, inc.Severity, inc.TicketID)
	}
	return w.Flush()
}

func postJSON(url string, body map[string]string) (map[string]any, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unexpected response (%s): %s", resp.Status, raw)
	}
	if resp.StatusCode != http.StatusOK {
		if msg, ok := out["error"].(string); ok {
			return nil, fmt.Errorf("%s: %s", resp.Status, msg)
		}
		return nil, fmt.Errorf("server returned %s: %s", resp.Status, raw)
	}
	return out, nil
}
