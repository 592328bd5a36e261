// Package heuristic is a keyword-based question generator used when no LLM is
// configured. It extracts spec fields with regular expressions and asks fixed
// questions; the dialogue quality is lower but the flow is identical.
package heuristic

import (
	"context"
	"regexp"
	"strings"

	"github.com/quotepilot/quotepilot/internal/core/domain"
	"github.com/quotepilot/quotepilot/internal/core/ports"
)

var (
	budgetRe   = regexp.MustCompile(`(?i)(?:[$€£]\s?\d[\d,]*(?:\.\d+)?|\d[\d,]*(?:\.\d+)?\s*(?:usd|eur|gbp))(?:\s*(?:per unit|each|total|apiece))?`)
	timelineRe = regexp.MustCompile(`(?i)\b(?:\d+\s*(?:days?|weeks?|months?)|asap|urgent(?:ly)?|by\s+(?:end of\s+)?\w+(?:\s+\d{1,2})?)\b`)
	quantityRe = regexp.MustCompile(`(?i)\b(\d[\d,]*)\s*(?:units?|pcs|pieces|items?|x\b)`)
	bareNumRe  = regexp.MustCompile(`\b\d[\d,]*\b`)
	fillerRe   = regexp.MustCompile(`(?i)^(?:hi,?\s*|hello,?\s*)?(?:i|we)?\s*(?:need|want|would like|am looking for|are looking for|'m looking for)\s*`)
)

var questions = map[string]string{
	"product_type": "What product are you looking to source?",
	"quantity":     "How many units do you need?",
	"timeline":     "When do you need the order delivered?",
	"budget":       "What is your target budget or unit price?",
}

// Generator extracts fields from the latest requester turn with pattern
// matching and asks the canned question for the first missing field.
type Generator struct{}

var _ ports.QuestionGenerator = (*Generator)(nil)

// New creates a heuristic generator.
func New() *Generator {
	return &Generator{}
}

// NextQuestion never fails; when nothing can be extracted it still returns a
// question so the dialogue moves forward.
func (g *Generator) NextQuestion(_ context.Context, spec map[string]string, turns []domain.Turn) (*ports.QuestionResult, error) {
	latest := latestRequesterText(turns)
	fields := make(map[string]string)

	if m := budgetRe.FindString(latest); m != "" {
		fields["budget"] = strings.TrimSpace(m)
	}
	if m := timelineRe.FindString(latest); m != "" {
		fields["timeline"] = strings.TrimSpace(m)
	}
	if m := quantityRe.FindStringSubmatch(latest); m != nil {
		fields["quantity"] = m[1]
	} else if spec["quantity"] == "" && lastQuestionWas(turns, questions["quantity"]) {
		// A bare number in answer to the quantity question counts.
		if n := bareNumRe.FindString(stripMatches(latest, budgetRe, timelineRe)); n != "" {
			fields["quantity"] = n
		}
	}

	if spec["product_type"] == "" {
		if p := productGuess(latest); p != "" {
			fields["product_type"] = p
		}
	}

	merged := func(field string) bool {
		return spec[field] != "" || fields[field] != ""
	}
	for _, field := range domain.RequiredSpecFields {
		if !merged(field) {
			return &ports.QuestionResult{
				Fields:    fields,
				Question:  questions[field],
				Reasoning: "pattern extraction, " + field + " still missing",
			}, nil
		}
	}
	return &ports.QuestionResult{Fields: fields, Reasoning: "pattern extraction, all fields present"}, nil
}

func latestRequesterText(turns []domain.Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == domain.RoleRequester {
			return turns[i].Text
		}
	}
	return ""
}

func lastQuestionWas(turns []domain.Turn, question string) bool {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == domain.RoleAssistant {
			return turns[i].Text == question
		}
	}
	return false
}

func stripMatches(text string, res ...*regexp.Regexp) string {
	for _, re := range res {
		text = re.ReplaceAllString(text, " ")
	}
	return text
}

// productGuess strips quantities, prices, timelines, and lead-in filler and
// keeps whatever prose remains.
func productGuess(text string) string {
	s := fillerRe.ReplaceAllString(text, "")
	s = stripMatches(s, budgetRe, timelineRe, quantityRe, bareNumRe)
	s = strings.Trim(strings.Join(strings.Fields(s), " "), " ,.;:")
	s = strings.TrimPrefix(s, "of ")
	if !strings.ContainsFunc(s, func(r rune) bool { return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' }) {
		return ""
	}
	return s
}
