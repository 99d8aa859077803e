package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/pavelanni/assessor/internal/llm/prompts"
	"github.com/pavelanni/assessor/internal/metrics"
	"github.com/pavelanni/assessor/internal/model"
)

// ErrUnusable is returned when the model answers with something that cannot be used.
var ErrUnusable = errors.New("unusable LLM response")

// Client wraps an OpenAI-compatible API client and implements the judgment,
// hint and explanation contracts.
type Client struct {
	api     *openai.Client
	model   string
	variant prompts.PromptVariant
	limiter *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithRateLimit caps outbound requests per second; rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithPromptVariant selects the judgment prompt variant.
func WithPromptVariant(v prompts.PromptVariant) Option {
	return func(c *Client) { c.variant = v }
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string, opts ...Option) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	c := &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		variant: prompts.PromptStandard,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Ping checks that the endpoint is reachable and serves the configured model.
func (c *Client) Ping(ctx context.Context) error {
	models, err := c.api.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	for _, m := range models.Models {
		if m.ID == c.model {
			return nil
		}
	}
	slog.Warn("configured model not listed by endpoint", "model", c.model)
	return nil
}

type judgeResponse struct {
	IsCorrect any      `json:"is_correct"`
	Score     *float64 `json:"score"`
	Feedback  string   `json:"feedback"`
}

// JudgeAnswer asks the model whether a submitted answer matches the reference answer.
// IsCorrect is set only when the model returns a literal JSON true.
func (c *Client) JudgeAnswer(ctx context.Context, req model.JudgeRequest) (*model.JudgeResult, error) {
	prompt, err := prompts.BuildJudgePrompt(c.variant, req)
	if err != nil {
		return nil, fmt.Errorf("build judge prompt: %w", err)
	}
	raw, err := c.complete(ctx, "judge", prompt, 0.1)
	if err != nil {
		return nil, err
	}

	var resp judgeResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("parse judge response: %w (raw: %s)", err, raw)
	}
	isCorrect, _ := resp.IsCorrect.(bool)
	if resp.Score == nil && !isCorrect {
		return nil, fmt.Errorf("judge response without score: %w", ErrUnusable)
	}

	result := &model.JudgeResult{IsCorrect: isCorrect, Feedback: strings.TrimSpace(resp.Feedback)}
	if resp.Score != nil {
		result.Score = clampScore(*resp.Score)
	}
	return result, nil
}

// GenerateHint produces one new hint for a question.
func (c *Client) GenerateHint(ctx context.Context, req model.HintRequest) (string, error) {
	prompt, err := prompts.BuildHintPrompt(req)
	if err != nil {
		return "", fmt.Errorf("build hint prompt: %w", err)
	}
	raw, err := c.complete(ctx, "hint", prompt, 0.7)
	if err != nil {
		return "", err
	}
	var resp struct {
		Hint string `json:"hint"`
	}
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return "", fmt.Errorf("parse hint response: %w (raw: %s)", err, raw)
	}
	hint := strings.TrimSpace(resp.Hint)
	if hint == "" {
		return "", fmt.Errorf("empty hint: %w", ErrUnusable)
	}
	return hint, nil
}

// GenerateExplanation produces a simplified explanation, answering the
// follow-up question when one is given.
func (c *Client) GenerateExplanation(ctx context.Context, req model.ExplanationRequest) (string, error) {
	prompt, err := prompts.BuildExplanationPrompt(req)
	if err != nil {
		return "", fmt.Errorf("build explanation prompt: %w", err)
	}
	raw, err := c.complete(ctx, "explanation", prompt, 0.5)
	if err != nil {
		return "", err
	}
	var resp struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return "", fmt.Errorf("parse explanation response: %w (raw: %s)", err, raw)
	}
	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return "", fmt.Errorf("empty explanation: %w", ErrUnusable)
	}
	return content, nil
}

func (c *Client) complete(ctx context.Context, call, systemPrompt string, temperature float32) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}

	start := time.Now()
	defer metrics.ObserveCall(call, start)

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("LLM %s call: %w", call, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM returned no choices for %s: %w", call, ErrUnusable)
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "call", call, "raw", raw)
	return raw, nil
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}
