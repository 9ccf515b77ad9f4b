// Package analysis asks a language model for remediation advice on the
// findings of a completed scan.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/raysh454/lumen/internal/logging"
	"github.com/raysh454/lumen/internal/model"
)

var (
	// ErrDisabled is returned when no API key is configured.
	ErrDisabled = errors.New("analysis: disabled, no api key configured")

	// ErrBadResponse is returned when the model reply cannot be decoded.
	ErrBadResponse = errors.New("analysis: unusable model response")
)

// Recommendation is the advice for one rule.
type Recommendation struct {
	RuleID   string `json:"ruleId"`
	Priority string `json:"priority"`
	Fix      string `json:"fix"`
}

// Analysis is the model output attached to a scan.
type Analysis struct {
	ScanID          string           `json:"scanId"`
	Model           string           `json:"model"`
	Summary         string           `json:"summary"`
	Recommendations []Recommendation `json:"recommendations"`
	GeneratedAt     time.Time        `json:"generatedAt"`
}

// Analyzer produces an Analysis for a completed scan.
type Analyzer interface {
	Analyze(ctx context.Context, scan *model.Scan) (*Analysis, error)
}

// OpenAIAnalyzer uses the chat completions API in JSON mode.
type OpenAIAnalyzer struct {
	cfg    Config
	client *openai.Client
	logger logging.Logger
}

// New returns an OpenAIAnalyzer, or ErrDisabled without an API key.
func New(cfg Config, logger logging.Logger) (*OpenAIAnalyzer, error) {
	if cfg.APIKey == "" {
		return nil, ErrDisabled
	}
	d := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = d.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = d.MaxTokens
	}
	if cfg.MaxFindings <= 0 {
		cfg.MaxFindings = d.MaxFindings
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &OpenAIAnalyzer{cfg: cfg, client: openai.NewClientWithConfig(oc), logger: logger}, nil
}

const systemPrompt = `You are a web accessibility consultant. You receive the automated WCAG audit
results of one web page as JSON. Reply with a JSON object:
{"summary": string, "recommendations": [{"ruleId": string, "priority": "high"|"medium"|"low", "fix": string}]}
Give one recommendation per rule id, most severe first. Fixes must be concrete
HTML, ARIA or CSS changes. Do not invent rules that are not in the input.`

type promptFinding struct {
	RuleID   string   `json:"ruleId"`
	Severity string   `json:"severity"`
	Help     string   `json:"help,omitempty"`
	Targets  []string `json:"targets,omitempty"`
}

type promptInput struct {
	URL      string          `json:"url"`
	Score    int             `json:"score"`
	Passed   int             `json:"passedRules"`
	Findings []promptFinding `json:"findings"`
}

// buildPrompt orders findings worst first and trims them to MaxFindings.
func (a *OpenAIAnalyzer) buildPrompt(sc *model.Scan) (string, error) {
	findings := append([]model.Finding(nil), sc.Results.Findings...)
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Severity.Weight() > findings[j].Severity.Weight()
	})
	if len(findings) > a.cfg.MaxFindings {
		findings = findings[:a.cfg.MaxFindings]
	}
	in := promptInput{URL: sc.URL, Passed: sc.PassedCount, Findings: make([]promptFinding, 0, len(findings))}
	if sc.Score != nil {
		in.Score = *sc.Score
	}
	for _, f := range findings {
		targets := f.Targets
		if len(targets) > 5 {
			targets = targets[:5]
		}
		in.Findings = append(in.Findings, promptFinding{RuleID: f.RuleID, Severity: string(f.Severity), Help: f.Help, Targets: targets})
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (a *OpenAIAnalyzer) Analyze(ctx context.Context, sc *model.Scan) (*Analysis, error) {
	if sc == nil || sc.Results == nil {
		return nil, errors.New("analysis: scan has no results")
	}
	user, err := a.buildPrompt(sc)
	if err != nil {
		return nil, fmt.Errorf("analysis: build prompt: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: a.cfg.Model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}
	// Reasoning models reject max_tokens.
	if isReasoningModel(a.cfg.Model) {
		req.MaxCompletionTokens = a.cfg.MaxTokens
	} else {
		req.MaxTokens = a.cfg.MaxTokens
	}

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("analysis: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrBadResponse)
	}

	var out struct {
		Summary         string           `json:"summary"`
		Recommendations []Recommendation `json:"recommendations"`
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if out.Summary == "" {
		return nil, fmt.Errorf("%w: empty summary", ErrBadResponse)
	}

	a.logger.Info("analysis generated",
		logging.Field{Key: "scan_id", Value: sc.ID},
		logging.Field{Key: "model", Value: a.cfg.Model},
		logging.Field{Key: "recommendations", Value: len(out.Recommendations)},
		logging.Field{Key: "total_tokens", Value: resp.Usage.TotalTokens})

	return &Analysis{
		ScanID:          sc.ID,
		Model:           a.cfg.Model,
		Summary:         out.Summary,
		Recommendations: out.Recommendations,
		GeneratedAt:     time.Now().UTC(),
	}, nil
}

func isReasoningModel(m string) bool {
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(m, p) {
			return true
		}
	}
	return false
}
