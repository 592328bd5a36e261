package domain

import "time"

// NegotiationStatus tracks where a supplier thread sits in the negotiation
// lifecycle. StatusOrdered and StatusNeedsUser are terminal: no automatic
// transition ever leaves them.
type NegotiationStatus string

const (
	// StatusOpen is the initial status of a freshly parsed offer.
	StatusOpen NegotiationStatus = "open"
	// StatusCountered means we have sent a counter-price and are waiting on
	// the supplier's next reply.
	StatusCountered NegotiationStatus = "countered"
	// StatusFinal means the supplier's price is settled, either because they
	// declared it non-negotiable or because it met our acceptance threshold.
	// A human may still move a final offer to ordered.
	StatusFinal NegotiationStatus = "final"
	// StatusNeedsUser is the escalation status: ambiguous replies, extraction
	// failures, and exhausted counter rounds land here.
	StatusNeedsUser NegotiationStatus = "needs_user"
	// StatusOrdered means a purchase order has been issued.
	StatusOrdered NegotiationStatus = "ordered"
)

// Terminal reports whether no further automatic transition may leave s.
func (s NegotiationStatus) Terminal() bool {
	return s == StatusNeedsUser || s == StatusOrdered
}

// Valid reports whether s is a known negotiation status.
func (s NegotiationStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusCountered, StatusFinal, StatusNeedsUser, StatusOrdered:
		return true
	}
	return false
}

// Offer is one structured quote within a supplier conversation thread. It is
// either extracted from a supplier reply or produced synthetically when we
// issue a counter-price. Offers are never deleted, only status-terminated.
type Offer struct {
	ID            string            `db:"id" json:"id"`
	ThreadID      string            `db:"thread_id" json:"thread_id"`
	MessageID     string            `db:"message_id" json:"message_id,omitempty"`
	SupplierName  string            `db:"supplier_name" json:"supplier_name"`
	SupplierEmail string            `db:"supplier_email" json:"supplier_email,omitempty"`
	Spec          string            `db:"spec" json:"spec"`
	Price         *float64          `db:"price" json:"price"`
	Currency      string            `db:"currency" json:"currency,omitempty"`
	LeadTime      *int              `db:"lead_time" json:"lead_time,omitempty"`
	LeadTimeUnit  string            `db:"lead_time_unit" json:"lead_time_unit,omitempty"`
	RawBody       string            `db:"raw_body" json:"raw_body,omitempty"`
	Status        NegotiationStatus `db:"status" json:"status"`
	CounterRound  int               `db:"counter_round" json:"counter_round"`
	LastCounterAt time.Time         `db:"last_counter_at" json:"last_counter_at,omitempty"`
	PONumber      string            `db:"po_number" json:"po_number,omitempty"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at" json:"updated_at"`
}

// Clone returns a deep copy of the offer so callers can mutate it without
// aliasing the stored value.
func (o *Offer) Clone() *Offer {
	c := *o
	if o.Price != nil {
		p := *o.Price
		c.Price = &p
	}
	if o.LeadTime != nil {
		lt := *o.LeadTime
		c.LeadTime = &lt
	}
	return &c
}

// OfferStats summarizes the offers recorded in the system.
type OfferStats struct {
	TotalOffers     int      `db:"total_offers" json:"total_offers"`
	UniqueSuppliers int      `db:"unique_suppliers" json:"unique_suppliers"`
	UniqueSpecs     int      `db:"unique_specs" json:"unique_specs"`
	AvgPrice        *float64 `db:"avg_price" json:"avg_price,omitempty"`
	MinPrice        *float64 `db:"min_price" json:"min_price,omitempty"`
	MaxPrice        *float64 `db:"max_price" json:"max_price,omitempty"`
	AvgLeadTime     *float64 `db:"avg_lead_time" json:"avg_lead_time,omitempty"`
}
