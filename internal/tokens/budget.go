// Package tokens counts prompt tokens with tiktoken so the clarification
// dialogue can be trimmed to a model's context budget instead of failing on
// long sessions.
package tokens

import (
	"fmt"
	"strings"

	"github.com/tiktoken-go/tokenizer"

	"github.com/quotepilot/quotepilot/internal/core/domain"
)

// Per-message overhead for chat models, per OpenAI's documentation:
// 3 tokens per message plus 1 for the role, plus 3 tokens of assistant
// priming at the end of the prompt.
const (
	tokensPerMessage = 3
	tokensPerRole    = 1
	assistantPriming = 3
)

// Counter counts tokens for one model.
type Counter struct {
	codec tokenizer.Codec
}

// NewCounter creates a counter for the given model, falling back to the
// cl100k_base encoding when the model is unknown to tiktoken.
func NewCounter(model string) (*Counter, error) {
	codec, err := tokenizer.ForModel(tokenizer.Model(strings.ToLower(model)))
	if err != nil {
		codec, err = tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			return nil, fmt.Errorf("load tokenizer encoding: %w", err)
		}
	}
	return &Counter{codec: codec}, nil
}

// CountText counts the tokens of a plain string.
func (c *Counter) CountText(text string) int {
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return 0
	}
	return len(ids)
}

// CountPrompt counts the full chat prompt: system message, dialogue turns,
// and assistant priming.
func (c *Counter) CountPrompt(system string, turns []domain.Turn) int {
	total := assistantPriming
	if system != "" {
		total += tokensPerMessage + tokensPerRole + c.CountText(system)
	}
	for _, turn := range turns {
		total += tokensPerMessage + tokensPerRole + c.CountText(turn.Text)
	}
	return total
}

// TrimToBudget drops the oldest turns until the prompt fits the budget. The
// most recent turn is always kept even when it alone exceeds the budget;
// sending something is better than sending nothing.
func (c *Counter) TrimToBudget(system string, turns []domain.Turn, budget int) []domain.Turn {
	for len(turns) > 1 && c.CountPrompt(system, turns) > budget {
		turns = turns[1:]
	}
	return turns
}
