package diagnose

import (
	"context"
	"strings"

	"github.com/opsguard/opsguard/internal/incident"
)

// HeuristicAnalyzer diagnoses from keyword patterns only. It is the default
// provider and the offline stand-in when no AI credentials are configured.
type HeuristicAnalyzer struct{}

func NewHeuristicAnalyzer() *HeuristicAnalyzer { return &HeuristicAnalyzer{} }

func (a *HeuristicAnalyzer) Analyze(_ context.Context, issueType, errorLogs string) (incident.Analysis, error) {
	logs := strings.ToLower(errorLogs)

	switch {
	case strings.Contains(issueType, "RCE") || strings.Contains(issueType, "SECURITY") || strings.Contains(logs, "rce"):
		return incident.Analysis{
			RootCause:    "Outdated dependency contains a critical security flaw",
			RiskLevel:    "HIGH",
			SuggestedFix: "Upgrade the vulnerable package to the patched release",
			CommandToRun: "npm install next@15.2.1",
			Confidence:   98,
			Reasoning:    "Issue type flags a known remote-code-execution advisory",
		}, nil
	case strings.Contains(logs, "oom") || strings.Contains(logs, "out of memory"):
		return incident.Analysis{
			RootCause:    "Process exceeded its memory limit",
			RiskLevel:    "MEDIUM",
			SuggestedFix: "Restart the service and raise the memory limit",
			CommandToRun: "systemctl restart app.service",
			Confidence:   75,
			Reasoning:    "Logs contain out-of-memory kill markers",
		}, nil
	case strings.Contains(logs, "timeout"):
		return incident.Analysis{
			RootCause:    "Downstream dependency timeout causing user impact",
			RiskLevel:    "MEDIUM",
			SuggestedFix: "Restart the affected service and verify the dependency",
			CommandToRun: "systemctl restart app.service",
			Confidence:   70,
		}, nil
	default:
		return incident.Analysis{
			RootCause:    "Unknown system anomaly",
			RiskLevel:    "LOW",
			SuggestedFix: "Restart service",
			CommandToRun: "npm start",
			Confidence:   60,
		}, nil
	}
}
