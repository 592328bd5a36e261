// Package openai generates clarification questions with the OpenAI chat
// completions API. The model extracts structured spec fields from the
// dialogue and asks at most one follow-up question per call.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/quotepilot/quotepilot/internal/core/domain"
	"github.com/quotepilot/quotepilot/internal/core/ports"
	"github.com/quotepilot/quotepilot/internal/tokens"
)

const (
	defaultBaseURL = "https://api.openai.com"
	defaultModel   = "gpt-4o-mini"

	// defaultPromptBudget caps the tokens spent on dialogue history. Old turns
	// are dropped first; the structured spec carries what they contributed.
	defaultPromptBudget = 3000
)

const systemPrompt = `You are a procurement assistant helping to clarify product requirements for a request for quotes.

Extract what you can from the conversation into these fields:
- product_type: what product is being sourced
- quantity: how many units are needed
- timeline: when the order must be delivered
- budget: the target budget or unit price

If any field is still unknown, ask ONE specific follow-up question about the most important missing field. Do not ask about more than one thing at a time.

Respond with JSON only, in this exact shape:
{"fields": {"product_type": "...", "quantity": "...", "timeline": "...", "budget": "..."}, "question": "...", "reasoning": "..."}

Leave unknown fields empty. Leave "question" empty when every field is filled.`

// Option configures the generator.
type Option func(*Generator)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(baseURL string) Option {
	return func(g *Generator) {
		g.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(g *Generator) {
		g.httpClient = httpClient
	}
}

// WithModel selects the chat model.
func WithModel(model string) Option {
	return func(g *Generator) {
		g.model = model
	}
}

// WithPromptBudget caps the dialogue tokens sent per call.
func WithPromptBudget(budget int) Option {
	return func(g *Generator) {
		g.budget = budget
	}
}

// Generator asks the chat completions API for the next clarifying question.
type Generator struct {
	apiKey     string
	baseURL    string
	model      string
	budget     int
	httpClient *http.Client
	counter    *tokens.Counter
	logger     *slog.Logger
}

var _ ports.QuestionGenerator = (*Generator)(nil)

// New creates a generator. The token counter is bound to the configured model,
// so WithModel must come through opts rather than being set later.
func New(apiKey string, logger *slog.Logger, opts ...Option) (*Generator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Generator{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		budget:     defaultPromptBudget,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(g)
	}

	counter, err := tokens.NewCounter(g.model)
	if err != nil {
		return nil, fmt.Errorf("token counter for %s: %w", g.model, err)
	}
	g.counter = counter
	return g, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type modelReply struct {
	Fields    map[string]string `json:"fields"`
	Question  string            `json:"question"`
	Reasoning string            `json:"reasoning"`
}

// NextQuestion sends the trimmed dialogue plus the fields captured so far and
// parses the model's JSON reply. Transport and API failures are returned to
// the caller, which degrades to a canned question.
func (g *Generator) NextQuestion(ctx context.Context, spec map[string]string, turns []domain.Turn) (*ports.QuestionResult, error) {
	system := systemPrompt
	if len(spec) > 0 {
		known, err := json.Marshal(spec)
		if err == nil {
			system += "\n\nFields captured so far: " + string(known)
		}
	}

	trimmed := g.counter.TrimToBudget(system, turns, g.budget)
	if dropped := len(turns) - len(trimmed); dropped > 0 {
		g.logger.Debug("trimmed clarification history",
			slog.Int("dropped_turns", dropped),
			slog.Int("budget", g.budget))
	}

	messages := make([]chatMessage, 0, len(trimmed)+1)
	messages = append(messages, chatMessage{Role: "system", Content: system})
	for _, turn := range trimmed {
		role := "user"
		if turn.Role == domain.RoleAssistant {
			role = "assistant"
		}
		messages = append(messages, chatMessage{Role: role, Content: turn.Text})
	}

	body, err := json.Marshal(chatRequest{
		Model:          g.model,
		Messages:       messages,
		Temperature:    0.3,
		MaxTokens:      500,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat completions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("chat completions returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("chat completions returned no choices")
	}

	content := strings.TrimSpace(chat.Choices[0].Message.Content)
	var reply modelReply
	if err := json.Unmarshal([]byte(content), &reply); err != nil {
		// Some models answer in prose despite the JSON instruction. Treat the
		// whole reply as the question so the dialogue keeps moving.
		g.logger.Warn("model reply was not JSON, using it verbatim as the question")
		return &ports.QuestionResult{Question: content}, nil
	}

	return &ports.QuestionResult{
		Fields:    reply.Fields,
		Question:  strings.TrimSpace(reply.Question),
		Reasoning: reply.Reasoning,
	}, nil
}
