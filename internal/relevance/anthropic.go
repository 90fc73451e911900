package relevance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/supervisor-finder/internal/config"
	"github.com/sells-group/supervisor-finder/internal/model"
	"github.com/sells-group/supervisor-finder/internal/resilience"
	"github.com/sells-group/supervisor-finder/pkg/anthropic"
)

const maxKeywords = 12

const summarizeSystemPrompt = `Given a supervisor profile page text and a research profile, output strict JSON with exactly these fields:
- keywords: 5-12 high-level, general research area terms taken from the page (no gene names, techniques or project titles)
- fit_score: number between 0 and 1, relevance of the supervisor's research areas to the research profile
- one_sentence_reason: one sentence explaining the match

Do not invent facts that are not present in the page text. Output JSON only.`

const summarizeUserPrompt = `Research profile:
Core keywords: %s
Adjacent keywords: %s

Supervisor page text:
%s`

// AnthropicSummarizer asks a Claude model for keywords and a fit score.
// Calls are retried on transient errors and guarded by a circuit breaker.
type AnthropicSummarizer struct {
	client  anthropic.Client
	cfg     config.AnthropicConfig
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	log     *zap.Logger

	mu    sync.Mutex
	usage anthropic.TokenUsage
	calls int
}

// NewAnthropicSummarizer creates a summarizer over client.
func NewAnthropicSummarizer(client anthropic.Client, cfg config.AnthropicConfig) *AnthropicSummarizer {
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = 4000
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("relevance", "summarize")
	return &AnthropicSummarizer{
		client: client,
		cfg:    cfg,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "anthropic",
			FailureThreshold: cfg.FailureThreshold,
			ResetTimeout:     time.Duration(cfg.ResetTimeoutSecs) * time.Second,
		}),
		retry: retry,
		log:   zap.L().With(zap.String("component", "relevance")),
	}
}

// Summarize sends the first MaxInputChars characters of pageText to the
// model and parses its JSON answer.
func (a *AnthropicSummarizer) Summarize(ctx context.Context, pageText string, profile model.ResearchProfile) (Summary, error) {
	temp := 0.0
	req := anthropic.MessageRequest{
		Model:     a.cfg.Model,
		MaxTokens: a.cfg.MaxTokens,
		System:    []anthropic.SystemBlock{{Text: summarizeSystemPrompt, Cached: true}},
		Messages: []anthropic.Message{{
			Role: "user",
			Content: fmt.Sprintf(summarizeUserPrompt,
				strings.Join(profile.CoreKeywords, ", "),
				strings.Join(profile.AdjacentKeywords, ", "),
				truncateRunes(pageText, a.cfg.MaxInputChars)),
		}},
		Temperature: &temp,
	}

	resp, err := resilience.ExecuteVal(ctx, a.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return resilience.DoVal(ctx, a.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return a.client.CreateMessage(ctx, req)
		})
	})
	if err != nil {
		return Summary{}, eris.Wrap(err, "relevance: summarize")
	}
	a.record(resp.Usage)

	s, err := ParseSummary(resp.Text())
	if err != nil {
		return Summary{}, err
	}
	a.log.Debug("page summarized",
		zap.Int("keywords", len(s.Keywords)),
		zap.Float64("fit_score", s.FitScore),
	)
	return s, nil
}

// Usage returns the accumulated token usage and call count.
func (a *AnthropicSummarizer) Usage() (anthropic.TokenUsage, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usage, a.calls
}

// LogUsage logs accumulated usage with an estimated cost.
func (a *AnthropicSummarizer) LogUsage() {
	usage, calls := a.Usage()
	if calls == 0 {
		return
	}
	usage.LogCost(a.cfg.Model, "summarize")
}

func (a *AnthropicSummarizer) record(u anthropic.TokenUsage) {
	a.mu.Lock()
	a.usage = a.usage.Add(u)
	a.calls++
	a.mu.Unlock()
}

// ParseSummary decodes a model answer, tolerating markdown fences and prose
// around the JSON object. The score is clamped to [0,1].
func ParseSummary(text string) (Summary, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return Summary{}, eris.Errorf("relevance: no JSON object in response %q", truncateRunes(text, 200))
	}
	var s Summary
	if err := json.Unmarshal([]byte(text[start:end+1]), &s); err != nil {
		return Summary{}, eris.Wrap(err, "relevance: decode summary")
	}
	s.Keywords = normalizeKeywords(s.Keywords, maxKeywords)
	s.FitScore = clamp01(s.FitScore)
	s.Reason = strings.TrimSpace(s.Reason)
	return s, nil
}

func truncateRunes(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
