package diagnose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opsguard/opsguard/internal/config"
	"github.com/opsguard/opsguard/internal/incident"
	openai "github.com/sashabaranov/go-openai"
)

const systemPrompt = `You are an SRE assistant. Given an incident's issue type and raw error logs,
respond with a single JSON object and nothing else, with exactly these keys:
rootCause (string), riskLevel (one of LOW, MEDIUM, HIGH), suggestedFix (string),
commandToRun (one safe shell command, string), confidence (integer 0-100),
reasoning (string).`

// OpenAIAnalyzer calls a chat-completion API and parses a strict JSON
// diagnosis out of the reply. Malformed replies are an error; the caller
// substitutes Fallback.
type OpenAIAnalyzer struct {
	client *openai.Client
	model  string
}

func NewOpenAIAnalyzer(cfg *config.AIConfig) *OpenAIAnalyzer {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.APIBase != "" {
		clientCfg.BaseURL = cfg.APIBase
	}
	return &OpenAIAnalyzer{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}
}

func (a *OpenAIAnalyzer) Analyze(ctx context.Context, issueType, errorLogs string) (incident.Analysis, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Issue type: %s\n\nError logs:\n%s", issueType, errorLogs)},
		},
	})
	if err != nil {
		return incident.Analysis{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return incident.Analysis{}, fmt.Errorf("chat completion returned no choices")
	}
	return parseAnalysis(resp.Choices[0].Message.Content)
}

// parseAnalysis rejects anything that is not a well-formed diagnosis object.
func parseAnalysis(raw string) (incident.Analysis, error) {
	raw = strings.TrimSpace(raw)
	// Models occasionally wrap JSON in a markdown fence.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var out incident.Analysis
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return incident.Analysis{}, fmt.Errorf("parse diagnosis: %w", err)
	}
	if out.RootCause == "" || out.CommandToRun == "" {
		return incident.Analysis{}, fmt.Errorf("parse diagnosis: missing required fields")
	}
	if out.Confidence < 0 || out.Confidence > 100 {
		return incident.Analysis{}, fmt.Errorf("parse diagnosis: confidence %d out of range", out.Confidence)
	}
	return out, nil
}
