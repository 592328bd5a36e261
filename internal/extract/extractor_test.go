package extract

import (
	"errors"
	"testing"

	"github.com/quotepilot/quotepilot/internal/core/domain"
)

func TestExtractPriceForms(t *testing.T) {
	e := New("USD")

	tests := []struct {
		name     string
		text     string
		price    float64
		currency string
	}{
		{"symbol before", "Our price is $8.50 per unit.", 8.50, "USD"},
		{"symbol after", "We can do 8.50$ for this volume.", 8.50, "USD"},
		{"iso code after", "Quote: 8.50 USD per piece.", 8.50, "USD"},
		{"iso code before", "Quote: USD 8.50 per piece.", 8.50, "USD"},
		{"pound symbol", "Total cost would be £1,250.00 delivered.", 1250.00, "GBP"},
		{"euro symbol", "We quote €14.20 each.", 14.20, "EUR"},
		{"lowercase iso", "price is 3.75 usd per bag", 3.75, "USD"},
		{"thousands separators", "Total: $12,500.50 for the full order.", 12500.50, "USD"},
		{"bare number near keyword", "The price is 4.20 per unit.", 4.20, "USD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Extract(tt.text)
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if got.Price != tt.price {
				t.Errorf("Price = %v, want %v", got.Price, tt.price)
			}
			if got.Currency != tt.currency {
				t.Errorf("Currency = %q, want %q", got.Currency, tt.currency)
			}
		})
	}
}

func TestExtractSelectionPriority(t *testing.T) {
	e := New("USD")

	tests := []struct {
		name  string
		text  string
		price float64
	}{
		{
			// Amount next to "total" wins over an earlier unrelated amount.
			name:  "keyword adjacency beats first occurrence",
			text:  "Ref 450 in your message. The total is $2.10 per unit.",
			price: 2.10,
		},
		{
			// Both near keywords; higher decimal precision wins.
			name:  "precision breaks keyword tie",
			price: 8.75,
			text:  "Price options: $9 bulk price or $8.75 price each.",
		},
		{
			// Identical precision, both near keywords: first occurrence wins.
			name:  "first occurrence breaks remaining tie",
			text:  "Unit price $5.50, pallet price $4.90 on request.",
			price: 5.50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Extract(tt.text)
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if got.Price != tt.price {
				t.Errorf("Price = %v, want %v", got.Price, tt.price)
			}
		})
	}
}

func TestExtractLeadTime(t *testing.T) {
	e := New("USD")

	tests := []struct {
		name string
		text string
		lead int
		unit string
	}{
		{"range takes upper bound", "Price $2.00, delivery in 3-4 weeks.", 4, "weeks"},
		{"plain duration", "$2.10 per unit, 2 weeks lead time", 2, "weeks"},
		{"singular unit", "Quote $99.00, ready in 1 month.", 1, "month"},
		{"days", "$5.00 each, ships in 10 days.", 10, "days"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Extract(tt.text)
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if got.LeadTime == nil {
				t.Fatal("LeadTime = nil, want value")
			}
			if *got.LeadTime != tt.lead || got.LeadTimeUnit != tt.unit {
				t.Errorf("lead time = %d %s, want %d %s", *got.LeadTime, got.LeadTimeUnit, tt.lead, tt.unit)
			}
		})
	}
}

func TestExtractUnparseable(t *testing.T) {
	e := New("USD")

	tests := []struct {
		name string
		text string
	}{
		{"no numbers", "Thanks for reaching out, we will get back to you."},
		{"bare number without keyword", "We are closed until Monday, call extension 12."},
		{"lead time only", "We can deliver in 2 weeks."},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Extract(tt.text)
			if !errors.Is(err, domain.ErrUnparseable) {
				t.Errorf("Extract() error = %v, want ErrUnparseable", err)
			}
		})
	}
}

func TestExtractNoFallbackCurrency(t *testing.T) {
	e := New("")

	// Without a fallback currency, bare numbers never qualify as prices.
	if _, err := e.Extract("The price is 4.20 per unit."); !errors.Is(err, domain.ErrUnparseable) {
		t.Errorf("Extract() error = %v, want ErrUnparseable", err)
	}

	// Symbol-tagged amounts still do.
	got, err := e.Extract("The price is $4.20 per unit.")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got.Currency != "USD" {
		t.Errorf("Currency = %q, want USD", got.Currency)
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	e := New("USD")
	text := "Options: $3.10 price, $2.95 price, or 2.80 bulk price, 3-4 weeks."

	first, err := e.Extract(text)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	for i := 0; i < 50; i++ {
		got, err := e.Extract(text)
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if got.Price != first.Price || got.Currency != first.Currency || got.LeadTimeUnit != first.LeadTimeUnit {
			t.Fatalf("run %d: result %+v differs from first %+v", i, got, first)
		}
		if (got.LeadTime == nil) != (first.LeadTime == nil) {
			t.Fatalf("run %d: lead time presence differs from first run", i)
		}
		if got.LeadTime != nil && *got.LeadTime != *first.LeadTime {
			t.Fatalf("run %d: lead time %d differs from first %d", i, *got.LeadTime, *first.LeadTime)
		}
	}
}
