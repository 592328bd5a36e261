// Package extract turns unstructured supplier reply text into structured
// offer fields. Extraction is pure and deterministic: the same text always
// yields the same result, and ambiguity is resolved by an ordered list of
// named selection rules rather than ad-hoc guessing.
package extract

import (
	"sort"
	"strconv"
	"strings"

	"github.com/quotepilot/quotepilot/internal/core/domain"
)

// Amounts outside this range are treated as noise (order numbers, years,
// phone fragments) rather than prices.
const (
	minPlausiblePrice = 0.01
	maxPlausiblePrice = 1_000_000
)

// Result holds the fields extracted from one reply.
type Result struct {
	Price        float64
	Currency     string
	LeadTime     *int
	LeadTimeUnit string
}

// Extractor scans reply text for prices and lead times.
type Extractor struct {
	fallbackCurrency string
}

// New creates an extractor. fallbackCurrency is assigned to bare amounts that
// sit next to a price keyword but carry no symbol or ISO code; pass "" to
// disable the fallback entirely.
func New(fallbackCurrency string) *Extractor {
	return &Extractor{fallbackCurrency: fallbackCurrency}
}

// Extract parses text into a Result. It returns domain.ErrUnparseable when no
// plausible price is present; lead time is optional and its absence is not an
// error.
func (e *Extractor) Extract(text string) (*Result, error) {
	keywords := keywordPositions(text)
	cands := e.collectCandidates(text, keywords)
	if len(cands) == 0 {
		return nil, domain.ErrUnparseable
	}

	for _, rule := range priceSelectionRules {
		cands = rule.apply(cands)
		if len(cands) == 1 {
			break
		}
	}
	chosen := cands[0]

	res := &Result{
		Price:    chosen.value,
		Currency: chosen.currency,
	}
	if res.Currency == "" {
		res.Currency = e.fallbackCurrency
	}

	if lt, unit, ok := extractLeadTime(text); ok {
		res.LeadTime = &lt
		res.LeadTimeUnit = unit
	}

	return res, nil
}

// collectCandidates gathers every plausible amount. Currency-tagged amounts
// always qualify; bare amounts qualify only when the fallback currency is
// configured and a price keyword sits nearby.
func (e *Extractor) collectCandidates(text string, keywords []int) []candidate {
	// Keyed by the byte offset of the numeric token so a currency-tagged
	// match shadows the bare-number match of the same amount.
	byIndex := make(map[int]candidate)

	add := func(numIdx int, num, currency string) {
		v, ok := parseAmount(num)
		if !ok {
			return
		}
		if existing, dup := byIndex[numIdx]; dup && existing.currency != "" {
			return
		}
		byIndex[numIdx] = candidate{
			value:       v,
			currency:    currency,
			index:       numIdx,
			precision:   decimalPrecision(num),
			nearKeyword: nearAny(keywords, numIdx, keywordWindow),
		}
	}

	for _, m := range symbolBeforeRe.FindAllStringSubmatchIndex(text, -1) {
		add(m[4], text[m[4]:m[5]], symbolCurrencies[text[m[2]:m[3]]])
	}
	for _, m := range symbolAfterRe.FindAllStringSubmatchIndex(text, -1) {
		add(m[2], text[m[2]:m[3]], symbolCurrencies[text[m[4]:m[5]]])
	}
	for _, m := range codeBeforeRe.FindAllStringSubmatchIndex(text, -1) {
		add(m[4], text[m[4]:m[5]], strings.ToUpper(text[m[2]:m[3]]))
	}
	for _, m := range codeAfterRe.FindAllStringSubmatchIndex(text, -1) {
		add(m[2], text[m[2]:m[3]], strings.ToUpper(text[m[4]:m[5]]))
	}

	if e.fallbackCurrency != "" {
		for _, m := range bareNumberRe.FindAllStringIndex(text, -1) {
			if _, taken := byIndex[m[0]]; taken {
				continue
			}
			// A number leading into a duration unit is a lead time, not a
			// price.
			if durationTailRe.MatchString(text[m[1]:]) {
				continue
			}
			if !nearAny(keywords, m[0], keywordWindow) {
				continue
			}
			add(m[0], text[m[0]:m[1]], "")
		}
	}

	cands := make([]candidate, 0, len(byIndex))
	for _, c := range byIndex {
		cands = append(cands, c)
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].index < cands[j].index })
	return cands
}

// extractLeadTime finds the first duration mention. Ranges like "3-4 weeks"
// resolve to the upper bound as the conservative estimate.
func extractLeadTime(text string) (int, string, bool) {
	m := leadTimeRe.FindStringSubmatch(text)
	if m == nil {
		return 0, "", false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", false
	}
	if m[2] != "" {
		if upper, err := strconv.Atoi(m[2]); err == nil && upper > n {
			n = upper
		}
	}
	return n, strings.ToLower(m[3]), true
}

func parseAmount(num string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(num, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	if v < minPlausiblePrice || v > maxPlausiblePrice {
		return 0, false
	}
	return v, true
}

func decimalPrecision(num string) int {
	if i := strings.IndexByte(num, '.'); i >= 0 {
		return len(num) - i - 1
	}
	return 0
}
