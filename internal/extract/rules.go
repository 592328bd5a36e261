package extract

import (
	"regexp"
	"strings"
)

// candidate is one monetary amount found in the text, with enough context for
// the selection rules to rank it.
type candidate struct {
	value       float64
	currency    string // ISO code, or "" for a bare number
	index       int    // byte offset of the numeric token
	precision   int    // digits after the decimal point
	nearKeyword bool
}

// selectionRule narrows a candidate set. Rules run in declared order; the
// first rule that leaves exactly one candidate decides the price, otherwise
// the survivors flow into the next rule.
type selectionRule struct {
	name  string
	apply func([]candidate) []candidate
}

// priceSelectionRules implement the documented priority: keyword-adjacent
// amounts first, then highest decimal precision, then first occurrence.
var priceSelectionRules = []selectionRule{
	{
		name: "keyword-adjacent",
		apply: func(cands []candidate) []candidate {
			var near []candidate
			for _, c := range cands {
				if c.nearKeyword {
					near = append(near, c)
				}
			}
			if len(near) == 0 {
				return cands
			}
			return near
		},
	},
	{
		name: "decimal-precision",
		apply: func(cands []candidate) []candidate {
			best := -1
			for _, c := range cands {
				if c.precision > best {
					best = c.precision
				}
			}
			var keep []candidate
			for _, c := range cands {
				if c.precision == best {
					keep = append(keep, c)
				}
			}
			return keep
		},
	},
	{
		name: "first-occurrence",
		apply: func(cands []candidate) []candidate {
			if len(cands) == 0 {
				return cands
			}
			first := cands[0]
			for _, c := range cands[1:] {
				if c.index < first.index {
					first = c
				}
			}
			return []candidate{first}
		},
	},
}

const (
	// numberPattern matches amounts with optional thousands separators.
	numberPattern = `\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?`
	// keywordWindow is how close (in bytes) a price keyword must sit to an
	// amount for the keyword rule to claim it.
	keywordWindow = 40
)

var (
	symbolBeforeRe = regexp.MustCompile(`([£$€¥¢])\s*(` + numberPattern + `)`)
	symbolAfterRe  = regexp.MustCompile(`(` + numberPattern + `)\s*([£$€¥¢])`)
	codeBeforeRe   = regexp.MustCompile(`(?i)\b(USD|EUR|GBP|JPY|CNY|CAD|AUD|CHF)\b\s*(` + numberPattern + `)`)
	codeAfterRe    = regexp.MustCompile(`(?i)(` + numberPattern + `)\s*\b(USD|EUR|GBP|JPY|CNY|CAD|AUD|CHF)\b`)
	bareNumberRe   = regexp.MustCompile(numberPattern)
	leadTimeRe     = regexp.MustCompile(`(?i)(\d+)(?:\s*[-–]\s*(\d+))?\s*(days?|weeks?|months?)\b`)
	durationTailRe = regexp.MustCompile(`(?i)^\s*(?:days?|weeks?|months?)\b`)
)

// priceKeywords signal that a nearby amount is a price. Taken from the phrases
// suppliers actually use in quote emails.
var priceKeywords = []string{
	"price", "cost", "quote", "total", "amount", "per unit", "each",
	"wholesale", "bulk",
}

// symbolCurrencies maps currency glyphs to ISO codes.
var symbolCurrencies = map[string]string{
	"$": "USD",
	"£": "GBP",
	"€": "EUR",
	"¥": "JPY",
	"¢": "USD",
}

// keywordPositions returns the byte offsets of every price keyword occurrence.
func keywordPositions(text string) []int {
	lower := strings.ToLower(text)
	var positions []int
	for _, kw := range priceKeywords {
		from := 0
		for {
			i := strings.Index(lower[from:], kw)
			if i < 0 {
				break
			}
			positions = append(positions, from+i)
			from += i + len(kw)
		}
	}
	return positions
}

func nearAny(positions []int, index, window int) bool {
	for _, p := range positions {
		d := index - p
		if d < 0 {
			d = -d
		}
		if d <= window {
			return true
		}
	}
	return false
}
