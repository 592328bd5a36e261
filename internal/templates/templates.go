// Package templates renders the outbound email bodies and the identifiers
// embedded in them. Reply correlation works through a thread reference token
// carried in the subject line; suppliers that keep the subject intact keep
// the thread intact.
package templates

import (
	"fmt"
	"regexp"
	"strings"
	"text/template"
	"time"
)

const maxSubjectSpec = 50

var (
	// Thread ids are UUIDs in production, but any dash-separated alphanumeric
	// id must round-trip through the token.
	refTokenRe = regexp.MustCompile(`\[ref:([A-Za-z0-9-]+)\]`)

	businessSuffixRe = regexp.MustCompile(`\b(co|ltd|llc|inc|corp|company|solutions?|supply|wholesale)\b`)
	nonAlnumRe       = regexp.MustCompile(`[^a-z0-9\s]`)
	spaceRunRe       = regexp.MustCompile(`\s+`)
)

var rfqBody = template.Must(template.New("rfq").Parse(`Dear Supplier,

We are interested in obtaining a quote for the following specification:

{{.Spec}}

Please provide:
- Unit price and currency
- Minimum order quantity
- Lead time for delivery
- Any additional terms or conditions

We look forward to your competitive quote.

Best regards,
{{.Sender}}

---
This is an automated RFQ. Please reply with your quote details and keep the subject line intact.
`))

var counterBody = template.Must(template.New("counter").Parse(`Dear {{.SupplierName}},

Thank you for your quote of {{.Currency}} {{printf "%.2f" .QuotedPrice}} per unit.

Our target for this order is {{.Currency}} {{printf "%.2f" .CounterPrice}} per unit. Would you be able to meet this price?

Best regards,
{{.Sender}}
`))

var poBody = template.Must(template.New("po").Parse(`Dear {{.SupplierName}},

Please find our purchase order below.

Purchase Order: {{.PONumber}}
Specification: {{.Spec}}
Agreed unit price: {{.Currency}} {{printf "%.2f" .Price}}

Kindly confirm receipt and the expected delivery date.

Best regards,
{{.Sender}}
`))

// RFQ holds the fields of an outbound quote request.
type RFQ struct {
	ThreadID string
	Spec     string
	Sender   string
}

// Counter holds the fields of a counter-price email.
type Counter struct {
	ThreadID     string
	SupplierName string
	Currency     string
	QuotedPrice  float64
	CounterPrice float64
	Sender       string
}

// PurchaseOrder holds the fields of a purchase-order email.
type PurchaseOrder struct {
	ThreadID     string
	SupplierName string
	Spec         string
	Currency     string
	Price        float64
	PONumber     string
	Sender       string
}

// RFQSubject builds the subject line for an RFQ thread. The spec is truncated
// so real mail clients do not wrap the reference token out of sight.
func RFQSubject(threadID, spec string) string {
	s := spec
	if r := []rune(s); len(r) > maxSubjectSpec {
		s = string(r[:maxSubjectSpec]) + "..."
	}
	return fmt.Sprintf("RFQ: %s %s", s, ThreadToken(threadID))
}

// ThreadToken formats the subject token that ties replies back to a thread.
func ThreadToken(threadID string) string {
	return "[ref:" + threadID + "]"
}

// ParseThreadRef extracts the thread id from a subject line.
func ParseThreadRef(subject string) (string, bool) {
	m := refTokenRe.FindStringSubmatch(subject)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// RenderRFQ renders the quote-request body.
func RenderRFQ(r RFQ) (string, error) {
	return render(rfqBody, r)
}

// RenderCounter renders the counter-price body.
func RenderCounter(c Counter) (string, error) {
	return render(counterBody, c)
}

// RenderPurchaseOrder renders the purchase-order body.
func RenderPurchaseOrder(po PurchaseOrder) (string, error) {
	return render(poBody, po)
}

func render(t *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return b.String(), nil
}

// PONumber builds a purchase-order number from the order date and a
// per-day sequence.
func PONumber(now time.Time, seq int) string {
	return fmt.Sprintf("PO-%s-%04d", now.Format("20060102"), seq)
}

// SanitizeSupplierName converts a supplier's display name into an email-safe
// mailbox name, dropping common business suffixes. Used to derive a contact
// address when discovery surfaced only a website.
func SanitizeSupplierName(name string) string {
	s := strings.ToLower(name)
	s = businessSuffixRe.ReplaceAllString(s, "")
	s = nonAlnumRe.ReplaceAllString(s, "")
	s = spaceRunRe.ReplaceAllString(strings.TrimSpace(s), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "supplier"
	}
	return s
}
