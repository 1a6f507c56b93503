// Package diagnose produces a structured root-cause/fix recommendation from
// raw error logs. Providers are interchangeable behind Analyzer; a failure of
// any provider degrades to the conservative Fallback diagnosis and never
// stops the pipeline.
package diagnose

import (
	"context"

	"github.com/opsguard/opsguard/internal/config"
	"github.com/opsguard/opsguard/internal/incident"
)

// Analyzer reviews an incident's raw logs and returns a diagnosis.
type Analyzer interface {
	Analyze(ctx context.Context, issueType, errorLogs string) (incident.Analysis, error)
}

// Fallback is the diagnosis substituted when the configured analyzer is
// unavailable or returns malformed output. It is deliberately safe: the
// suggested command is a no-op and confidence 0 signals an operator that no
// real analysis backs it.
func Fallback() incident.Analysis {
	return incident.Analysis{
		RootCause:    "Diagnosis unavailable",
		RiskLevel:    "UNKNOWN",
		SuggestedFix: "Manual investigation required",
		CommandToRun: "echo 'no automated fix available'",
		Confidence:   0,
	}
}

// New builds the Analyzer selected by cfg.Provider.
func New(cfg *config.AIConfig) Analyzer {
	if cfg.Provider == "openai" {
		return NewOpenAIAnalyzer(cfg)
	}
	return NewHeuristicAnalyzer()
}
