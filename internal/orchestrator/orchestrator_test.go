package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quotepilot/quotepilot/internal/core/domain"
	"github.com/quotepilot/quotepilot/internal/core/ports"
	"github.com/quotepilot/quotepilot/internal/dispatch"
	"github.com/quotepilot/quotepilot/internal/extract"
	"github.com/quotepilot/quotepilot/internal/negotiation"
	"github.com/quotepilot/quotepilot/internal/templates"
)

type memStore struct {
	mu   sync.Mutex
	rows map[string]map[int]*domain.Offer
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]map[int]*domain.Offer)}
}

func (s *memStore) SaveOffer(_ context.Context, o *domain.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows[o.ThreadID] == nil {
		s.rows[o.ThreadID] = make(map[int]*domain.Offer)
	}
	s.rows[o.ThreadID][o.CounterRound] = o.Clone()
	return nil
}

func (s *memStore) LatestOffer(_ context.Context, threadID string) (*domain.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rounds := s.rows[threadID]
	if len(rounds) == 0 {
		return nil, domain.ErrUnknownThread
	}
	max := -1
	for r := range rounds {
		if r > max {
			max = r
		}
	}
	return rounds[max].Clone(), nil
}

func (s *memStore) LoadThread(_ context.Context, threadID string) ([]*domain.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rounds := s.rows[threadID]
	if len(rounds) == 0 {
		return nil, domain.ErrUnknownThread
	}
	var out []*domain.Offer
	for r := 0; ; r++ {
		o, ok := rounds[r]
		if !ok {
			break
		}
		out = append(out, o.Clone())
	}
	return out, nil
}

func (s *memStore) ListBySpec(context.Context, string) ([]*domain.Offer, error) { return nil, nil }
func (s *memStore) OfferStats(context.Context) (*domain.OfferStats, error)      { return nil, nil }
func (s *memStore) Close() error                                                { return nil }

type fakeDirectory struct {
	suppliers []domain.Supplier
	err       error
}

func (d *fakeDirectory) Find(context.Context, string, int) ([]domain.Supplier, error) {
	return d.suppliers, d.err
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

type recordingSender struct {
	mu      sync.Mutex
	mails   []sentMail
	failFor map[string]error
}

func (s *recordingSender) Send(_ context.Context, to, subject, body string) error {
	if err, ok := s.failFor[to]; ok {
		return err
	}
	s.mu.Lock()
	s.mails = append(s.mails, sentMail{To: to, Subject: subject, Body: body})
	s.mu.Unlock()
	return nil
}

func (s *recordingSender) sent() []sentMail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMail(nil), s.mails...)
}

// replyInbox answers the first poll by generating one reply per dispatched
// RFQ, with the body chosen by recipient address.
type replyInbox struct {
	sender  *recordingSender
	bodies  map[string]string
	replied bool
}

func (i *replyInbox) PollNew(context.Context, []string) ([]domain.Message, error) {
	if i.replied {
		return nil, nil
	}
	i.replied = true

	var msgs []domain.Message
	for n, mail := range i.sender.sent() {
		body, ok := i.bodies[mail.To]
		if !ok {
			continue
		}
		threadID, ok := templates.ParseThreadRef(mail.Subject)
		if !ok {
			continue
		}
		msgs = append(msgs, domain.Message{
			ID:       "reply-" + mail.To + "-" + string(rune('a'+n)),
			ThreadID: threadID,
			From:     mail.To,
			Subject:  "Re: " + mail.Subject,
			Body:     body,
		})
	}
	return msgs, nil
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) NewTicker(time.Duration) ports.Ticker { return c }

func (c *stepClock) C() <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(time.Second)
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func (c *stepClock) Stop() {}

type fixture struct {
	orch   *Orchestrator
	store  *memStore
	sender *recordingSender
	inbox  *replyInbox
}

func newFixture(t *testing.T, dir *fakeDirectory, bodies map[string]string, failFor map[string]error) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	clock := newStepClock()
	store := newMemStore()
	sender := &recordingSender{failFor: failFor}
	inbox := &replyInbox{sender: sender, bodies: bodies}

	pipeCfg := dispatch.DefaultConfig()
	pipeCfg.PollTimeout = 5 * time.Second
	pipeCfg.PollInterval = time.Second
	pipe := dispatch.New(sender, inbox, clock, logger, pipeCfg)

	machine := negotiation.New(store, clock, logger, negotiation.DefaultPolicy())
	orch := New(dir, pipe, extract.New("USD"), machine, store, sender, clock, logger, DefaultConfig())
	return &fixture{orch: orch, store: store, sender: sender, inbox: inbox}
}

func TestRunCampaignEndToEnd(t *testing.T) {
	dir := &fakeDirectory{suppliers: []domain.Supplier{
		{Name: "Acme Supply Co", Email: "sales@acme.example"},
		{Name: "Budget Cups Ltd", Email: "quotes@budgetcups.example"},
	}}
	bodies := map[string]string{
		"sales@acme.example":        "Our price is $10.00 per unit, 2 weeks lead time.",
		"quotes@budgetcups.example": "We quote $9.20 per unit. This is our final offer.",
	}
	f := newFixture(t, dir, bodies, nil)

	res, err := f.orch.RunCampaign(context.Background(), "5000 paper cups")
	if err != nil {
		t.Fatalf("RunCampaign() error = %v", err)
	}

	if res.SuppliersFound != 2 || res.Sent != 2 || res.Received != 2 || res.Parsed != 2 {
		t.Errorf("result = %+v, want 2/2/2/2", res)
	}
	if len(res.Offers) != 2 {
		t.Fatalf("offers = %d, want 2", len(res.Offers))
	}

	statuses := map[domain.NegotiationStatus]int{}
	for _, o := range res.Offers {
		statuses[o.Status]++
	}
	// Acme's open quote drew an automatic counter; Budget Cups declared final.
	if statuses[domain.StatusCountered] != 1 || statuses[domain.StatusFinal] != 1 {
		t.Errorf("statuses = %v, want one countered one final", statuses)
	}

	var counters int
	for _, mail := range f.sender.sent() {
		if strings.Contains(mail.Body, "Our target for this order") {
			counters++
			if mail.To != "sales@acme.example" {
				t.Errorf("counter sent to %s, want Acme only", mail.To)
			}
		}
	}
	if counters != 1 {
		t.Errorf("counter emails = %d, want 1", counters)
	}
}

func TestRunCampaignDiscoveryFailureDegradesToEmptyRun(t *testing.T) {
	dir := &fakeDirectory{err: domain.ErrDiscoveryUnavailable}
	f := newFixture(t, dir, nil, nil)

	result, err := f.orch.RunCampaign(context.Background(), "cups")
	if err != nil {
		t.Fatalf("RunCampaign() error = %v, want a degraded empty run", err)
	}
	if result.SuppliersFound != 0 || result.Sent != 0 {
		t.Errorf("result = %+v, want zero suppliers and zero sends", result)
	}
	if len(f.sender.sent()) != 0 {
		t.Errorf("mails sent = %d, want none", len(f.sender.sent()))
	}
}

func TestRunCampaignDerivesContactAddress(t *testing.T) {
	dir := &fakeDirectory{suppliers: []domain.Supplier{
		{Name: "Global Widgets Ltd", URL: "https://globalwidgets.example"},
	}}
	f := newFixture(t, dir, map[string]string{}, nil)

	if _, err := f.orch.RunCampaign(context.Background(), "widgets"); err != nil {
		t.Fatalf("RunCampaign() error = %v", err)
	}

	mails := f.sender.sent()
	if len(mails) != 1 {
		t.Fatalf("sent = %d, want 1", len(mails))
	}
	if mails[0].To != "global-widgets@example.com" {
		t.Errorf("To = %q, want derived address", mails[0].To)
	}
}

func TestRunCampaignUnparseableReplyEscalates(t *testing.T) {
	dir := &fakeDirectory{suppliers: []domain.Supplier{
		{Name: "Vague Co", Email: "hello@vague.example"},
	}}
	bodies := map[string]string{
		"hello@vague.example": "Thanks for reaching out, call us to discuss.",
	}
	f := newFixture(t, dir, bodies, nil)

	res, err := f.orch.RunCampaign(context.Background(), "cups")
	if err != nil {
		t.Fatalf("RunCampaign() error = %v", err)
	}
	if res.Received != 1 || res.Parsed != 0 {
		t.Errorf("result = %+v, want 1 received 0 parsed", res)
	}
	if len(res.Offers) != 1 || res.Offers[0].Status != domain.StatusNeedsUser {
		t.Errorf("offers = %+v, want one needs_user", res.Offers)
	}
}

func TestRunCampaignIsolatesSendFailures(t *testing.T) {
	dir := &fakeDirectory{suppliers: []domain.Supplier{
		{Name: "Up Co", Email: "up@example.com"},
		{Name: "Down Co", Email: "down@example.com"},
	}}
	bodies := map[string]string{
		"up@example.com": "Price $5.00 each, non-negotiable.",
	}
	f := newFixture(t, dir, bodies, map[string]error{
		"down@example.com": errors.New("connection refused"),
	})

	res, err := f.orch.RunCampaign(context.Background(), "cups")
	if err != nil {
		t.Fatalf("RunCampaign() error = %v", err)
	}
	if res.Sent != 1 || len(res.SendFailures) != 1 {
		t.Errorf("result = %+v, want 1 sent 1 failure", res)
	}
	if res.SendFailures[0].Supplier != "Down Co" {
		t.Errorf("failure = %+v", res.SendFailures[0])
	}
	if len(res.Offers) != 1 {
		t.Errorf("offers = %d, the healthy supplier must still be quoted", len(res.Offers))
	}
}

func TestRunCampaignManualModeLeavesOfferOpen(t *testing.T) {
	dir := &fakeDirectory{suppliers: []domain.Supplier{
		{Name: "Acme Supply Co", Email: "sales@acme.example"},
		{Name: "Budget Cups Ltd", Email: "quotes@budgetcups.example"},
		{Name: "Down Co", Email: "down@example.com"},
	}}
	bodies := map[string]string{
		"sales@acme.example": "$2.10 per unit, 2 weeks lead time.",
	}
	f := newFixture(t, dir, bodies, map[string]error{
		"down@example.com": errors.New("connection refused"),
	})
	f.orch.cfg.AutoNegotiate = false

	res, err := f.orch.RunCampaign(context.Background(), "5000 paper cups")
	if err != nil {
		t.Fatalf("RunCampaign() error = %v", err)
	}

	if res.Sent != 2 || res.Received != 1 || res.Parsed != 1 {
		t.Errorf("result = %+v, want 2 sent 1 received 1 parsed", res)
	}
	if len(res.Offers) != 1 {
		t.Fatalf("offers = %d, want 1", len(res.Offers))
	}

	offer := res.Offers[0]
	if offer.Status != domain.StatusOpen || offer.CounterRound != 0 {
		t.Errorf("offer = %v round %d, want open round 0", offer.Status, offer.CounterRound)
	}
	if offer.Price == nil || *offer.Price != 2.10 || offer.Currency != "USD" {
		t.Errorf("price = %v %s, want 2.10 USD", offer.Price, offer.Currency)
	}
	if offer.LeadTime == nil || *offer.LeadTime != 2 || offer.LeadTimeUnit != "weeks" {
		t.Errorf("lead time = %v %s, want 2 weeks", offer.LeadTime, offer.LeadTimeUnit)
	}

	// With auto-negotiation off the run sends RFQs only, never counters.
	for _, mail := range f.sender.sent() {
		if strings.Contains(mail.Body, "Our target for this order") {
			t.Errorf("counter email sent to %s in manual mode", mail.To)
		}
	}
}

func seedFinalOffer(t *testing.T, store *memStore, threadID string) {
	t.Helper()
	p := 9.5
	err := store.SaveOffer(context.Background(), &domain.Offer{
		ThreadID:      threadID,
		SupplierName:  "Acme Supply",
		SupplierEmail: "sales@acme.example",
		Spec:          "5000 paper cups",
		Price:         &p,
		Currency:      "USD",
		Status:        domain.StatusFinal,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestAcceptOfferSendsPurchaseOrder(t *testing.T) {
	f := newFixture(t, &fakeDirectory{}, nil, nil)
	seedFinalOffer(t, f.store, "t1")

	accepted, err := f.orch.AcceptOffer(context.Background(), "t1")
	if err != nil {
		t.Fatalf("AcceptOffer() error = %v", err)
	}
	if accepted.Status != domain.StatusOrdered {
		t.Errorf("Status = %v, want ordered", accepted.Status)
	}
	if accepted.PONumber != "PO-20260314-0001" {
		t.Errorf("PONumber = %q", accepted.PONumber)
	}

	mails := f.sender.sent()
	if len(mails) != 1 || mails[0].To != "sales@acme.example" {
		t.Fatalf("mails = %+v, want one PO email to the supplier", mails)
	}
	if !strings.Contains(mails[0].Body, "PO-20260314-0001") {
		t.Errorf("PO body missing number: %q", mails[0].Body)
	}
}

func TestAcceptOfferEmailFailureKeepsOrder(t *testing.T) {
	f := newFixture(t, &fakeDirectory{}, nil, map[string]error{
		"sales@acme.example": errors.New("smtp down"),
	})
	seedFinalOffer(t, f.store, "t1")

	accepted, err := f.orch.AcceptOffer(context.Background(), "t1")
	var sendErr *domain.SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("AcceptOffer() error = %v, want SendError", err)
	}
	if accepted == nil || accepted.Status != domain.StatusOrdered {
		t.Errorf("accepted = %+v, the order must stand despite the email failure", accepted)
	}
}

func TestAcceptOfferIdempotent(t *testing.T) {
	f := newFixture(t, &fakeDirectory{}, nil, nil)
	seedFinalOffer(t, f.store, "t1")

	first, err := f.orch.AcceptOffer(context.Background(), "t1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.orch.AcceptOffer(context.Background(), "t1")
	if err != nil {
		t.Fatalf("second AcceptOffer() error = %v", err)
	}
	if second.PONumber != first.PONumber {
		t.Errorf("PONumber changed on re-accept: %q -> %q", first.PONumber, second.PONumber)
	}
	if got := len(f.sender.sent()); got != 1 {
		t.Errorf("PO emails = %d, re-accept must not resend", got)
	}
}
