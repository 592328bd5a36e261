package domain

import "time"

// Supplier is a candidate vendor returned by supplier discovery. Email may be
// empty when discovery only surfaced a website; the dispatcher derives a
// contact address in that case.
type Supplier struct {
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	URL         string `json:"url,omitempty"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source,omitempty"`
}

// Message is one inbound email belonging to a known RFQ thread.
type Message struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"thread_id"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

// SendFailure records a per-supplier RFQ dispatch failure. Failures are
// isolated: one failed send never aborts the batch.
type SendFailure struct {
	Supplier string `json:"supplier"`
	Reason   string `json:"reason"`
}

// RunResult is the best-effort outcome of one dispatch/poll run. Partial
// results are always reported, never discarded on timeout.
type RunResult struct {
	Spec           string        `json:"spec"`
	SuppliersFound int           `json:"suppliers_found"`
	Sent           int           `json:"rfqs_sent"`
	Received       int           `json:"replies_received"`
	Parsed         int           `json:"offers_parsed"`
	Offers         []*Offer      `json:"offers"`
	SendFailures   []SendFailure `json:"send_failures,omitempty"`
	Elapsed        time.Duration `json:"elapsed_ns"`
}
