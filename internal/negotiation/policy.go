package negotiation

import (
	"math"
	"strings"
)

// Policy holds the configurable negotiation rules. Keyword matching and
// repeated-price detection can each be disabled, and neither is exhaustive;
// replies they miss still escalate through the round limit.
type Policy struct {
	// AcceptPrice is the unit price at or below which an offer is considered
	// acceptable. Acceptable offers move to final, never directly to ordered;
	// issuing the purchase order stays a human decision.
	AcceptPrice float64

	// MaxRounds bounds how many counter-prices we send on one thread before
	// escalating to a human.
	MaxRounds int

	// CounterDiscount is the fraction shaved off the supplier's price when
	// proposing a counter, floored at AcceptPrice.
	CounterDiscount float64

	// FinalKeywords mark a reply as a non-negotiable declaration when any of
	// them appears in the body.
	FinalKeywords []string

	// RepeatPriceIsFinal treats a supplier repeating their previous price
	// after a counter as a final declaration.
	RepeatPriceIsFinal bool
}

// DefaultPolicy returns the negotiation defaults used when configuration
// provides none.
func DefaultPolicy() Policy {
	return Policy{
		AcceptPrice:        0,
		MaxRounds:          3,
		CounterDiscount:    0.10,
		FinalKeywords:      []string{"final offer", "best price", "non-negotiable", "cannot go lower"},
		RepeatPriceIsFinal: true,
	}
}

// CounterPrice computes the price we propose against a supplier quote.
func (p Policy) CounterPrice(supplierPrice float64) float64 {
	counter := supplierPrice * (1 - p.CounterDiscount)
	if p.AcceptPrice > 0 && counter < p.AcceptPrice {
		counter = p.AcceptPrice
	}
	// Two decimal places, matching how prices are quoted in email.
	return math.Round(counter*100) / 100
}

// Acceptable reports whether a supplier price meets the acceptance threshold.
// A zero threshold means nothing is auto-acceptable.
func (p Policy) Acceptable(supplierPrice float64) bool {
	return p.AcceptPrice > 0 && supplierPrice <= p.AcceptPrice
}

// DeclaredFinal reports whether the reply body contains a final-declaration
// keyword.
func (p Policy) DeclaredFinal(body string) bool {
	lower := strings.ToLower(body)
	for _, kw := range p.FinalKeywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
