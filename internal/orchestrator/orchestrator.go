// Package orchestrator runs quote campaigns end to end: discover suppliers,
// fan out RFQ emails, collect and parse replies, drive the negotiation state
// machine, and report best-effort results.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quotepilot/quotepilot/internal/core/domain"
	"github.com/quotepilot/quotepilot/internal/core/ports"
	"github.com/quotepilot/quotepilot/internal/dispatch"
	"github.com/quotepilot/quotepilot/internal/extract"
	"github.com/quotepilot/quotepilot/internal/negotiation"
	"github.com/quotepilot/quotepilot/internal/templates"
)

// Config holds the orchestrator's tunables.
type Config struct {
	// MaxSuppliers caps how many discovered suppliers one campaign contacts.
	MaxSuppliers int

	// ContactDomain is the mail domain used when deriving an address for a
	// supplier that discovery returned without one.
	ContactDomain string

	// SenderName signs outbound emails.
	SenderName string

	// AutoNegotiate enables automatic counter-offers on open replies.
	AutoNegotiate bool
}

// DefaultConfig returns the orchestrator defaults used when configuration
// provides none.
func DefaultConfig() Config {
	return Config{
		MaxSuppliers:  3,
		ContactDomain: "example.com",
		SenderName:    "Procurement Team",
		AutoNegotiate: true,
	}
}

// Orchestrator coordinates one campaign at a time per call; concurrent
// campaigns are safe because all shared state lives behind the store and the
// state machine.
type Orchestrator struct {
	directory ports.SupplierDirectory
	pipeline  *dispatch.Pipeline
	extractor *extract.Extractor
	machine   *negotiation.Machine
	offers    ports.OfferStore
	sender    ports.EmailSender
	clock     ports.Clock
	logger    *slog.Logger
	cfg       Config

	seqMu  sync.Mutex
	seqDay string
	seq    int
}

// New creates an orchestrator.
func New(
	directory ports.SupplierDirectory,
	pipeline *dispatch.Pipeline,
	extractor *extract.Extractor,
	machine *negotiation.Machine,
	offers ports.OfferStore,
	sender ports.EmailSender,
	clock ports.Clock,
	logger *slog.Logger,
	cfg Config,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxSuppliers <= 0 {
		cfg.MaxSuppliers = DefaultConfig().MaxSuppliers
	}
	if cfg.ContactDomain == "" {
		cfg.ContactDomain = DefaultConfig().ContactDomain
	}
	if cfg.SenderName == "" {
		cfg.SenderName = DefaultConfig().SenderName
	}
	return &Orchestrator{
		directory: directory,
		pipeline:  pipeline,
		extractor: extractor,
		machine:   machine,
		offers:    offers,
		sender:    sender,
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
	}
}

// RunCampaign executes the full discover/send/collect cycle for one spec.
// Every collaborator failure degrades rather than aborts: an unreachable
// directory yields a zero-supplier run and the result reports whatever
// succeeded.
func (o *Orchestrator) RunCampaign(ctx context.Context, spec string) (*domain.RunResult, error) {
	start := o.clock.Now()

	suppliers, err := o.directory.Find(ctx, spec, o.cfg.MaxSuppliers)
	if err != nil {
		o.logger.Warn("supplier discovery unavailable, run continues empty",
			slog.String("spec", spec),
			slog.String("error", err.Error()))
		suppliers = nil
	}
	o.logger.Info("campaign started",
		slog.String("spec", spec),
		slog.Int("suppliers", len(suppliers)))

	result := &domain.RunResult{Spec: spec, SuppliersFound: len(suppliers)}
	if len(suppliers) == 0 {
		result.Elapsed = o.clock.Now().Sub(start)
		return result, nil
	}

	byThread := make(map[string]domain.Supplier, len(suppliers))
	batch := make([]dispatch.Outbound, 0, len(suppliers))
	for _, sup := range suppliers {
		threadID := uuid.NewString()
		byThread[threadID] = sup

		body, err := templates.RenderRFQ(templates.RFQ{
			ThreadID: threadID,
			Spec:     spec,
			Sender:   o.cfg.SenderName,
		})
		if err != nil {
			return nil, err
		}
		batch = append(batch, dispatch.Outbound{
			ThreadID:     threadID,
			SupplierName: sup.Name,
			To:           o.contactAddress(sup),
			Subject:      templates.RFQSubject(threadID, spec),
			Body:         body,
		})
	}

	sent, failures := o.pipeline.Send(ctx, batch)
	result.Sent = len(sent)
	result.SendFailures = failures

	threadIDs := make([]string, 0, len(sent))
	for _, out := range sent {
		threadIDs = append(threadIDs, out.ThreadID)
	}

	var (
		parsedMu sync.Mutex
		parsed   int
	)
	poll := o.pipeline.Poll(ctx, threadIDs, func(ctx context.Context, msg domain.Message) error {
		ok, err := o.handleReply(ctx, spec, byThread[msg.ThreadID], msg)
		if ok {
			parsedMu.Lock()
			parsed++
			parsedMu.Unlock()
		}
		return err
	})
	result.Received = poll.Received
	result.Parsed = parsed

	for _, threadID := range threadIDs {
		offer, err := o.offers.LatestOffer(ctx, threadID)
		if err != nil {
			if errors.Is(err, domain.ErrUnknownThread) {
				continue
			}
			return nil, fmt.Errorf("collect offers: %w", err)
		}
		result.Offers = append(result.Offers, offer)
	}

	result.Elapsed = o.clock.Now().Sub(start)
	o.logger.Info("campaign finished",
		slog.String("spec", spec),
		slog.Int("sent", result.Sent),
		slog.Int("received", result.Received),
		slog.Int("parsed", result.Parsed),
		slog.Duration("elapsed", result.Elapsed))
	return result, nil
}

// HandleReply processes one inbound message outside of a campaign poll, e.g.
// from a standing inbox watcher.
func (o *Orchestrator) HandleReply(ctx context.Context, msg domain.Message) error {
	latest, err := o.offers.LatestOffer(ctx, msg.ThreadID)
	if err != nil {
		return fmt.Errorf("thread %s: %w", msg.ThreadID, err)
	}
	sup := domain.Supplier{Name: latest.SupplierName, Email: latest.SupplierEmail}
	_, err = o.handleReply(ctx, latest.Spec, sup, msg)
	return err
}

// handleReply parses a reply, applies it to the state machine, and when
// negotiation continues sends the counter email. It reports whether the reply
// yielded a parsed offer.
func (o *Orchestrator) handleReply(ctx context.Context, spec string, sup domain.Supplier, msg domain.Message) (bool, error) {
	incoming := &domain.Offer{
		ID:            uuid.NewString(),
		ThreadID:      msg.ThreadID,
		MessageID:     msg.ID,
		SupplierName:  sup.Name,
		SupplierEmail: firstNonEmpty(msg.From, sup.Email),
		Spec:          spec,
		RawBody:       msg.Body,
	}

	parsed := false
	res, err := o.extractor.Extract(msg.Body)
	switch {
	case err == nil:
		parsed = true
		incoming.Price = &res.Price
		incoming.Currency = res.Currency
		incoming.LeadTime = res.LeadTime
		incoming.LeadTimeUnit = res.LeadTimeUnit
	case errors.Is(err, domain.ErrUnparseable):
		o.logger.Warn("reply not parseable",
			slog.String("thread_id", msg.ThreadID),
			slog.String("supplier", sup.Name))
	default:
		return false, fmt.Errorf("extract reply: %w", err)
	}

	outcome, err := o.machine.ApplyReply(ctx, incoming)
	if err != nil {
		return parsed, fmt.Errorf("apply reply: %w", err)
	}

	if parsed && o.cfg.AutoNegotiate && outcome.Status == domain.StatusOpen {
		if err := o.counter(ctx, msg.ThreadID, sup, *incoming.Price, incoming.Currency); err != nil {
			o.logger.Warn("counter failed",
				slog.String("thread_id", msg.ThreadID),
				slog.String("error", err.Error()))
		}
	}
	return parsed, nil
}

// counter asks the state machine for the next move and emails the counter
// price when one is issued. Stale transitions are absorbed: a concurrent
// reply already advanced the thread.
func (o *Orchestrator) counter(ctx context.Context, threadID string, sup domain.Supplier, quoted float64, currency string) error {
	latest, err := o.offers.LatestOffer(ctx, threadID)
	if err != nil {
		return err
	}
	outcome, err := o.machine.Counter(ctx, latest)
	if err != nil {
		var stale *domain.StaleTransitionError
		if errors.As(err, &stale) {
			return nil
		}
		return err
	}
	if outcome.Status != domain.StatusCountered {
		return nil
	}

	body, err := templates.RenderCounter(templates.Counter{
		ThreadID:     threadID,
		SupplierName: sup.Name,
		Currency:     currency,
		QuotedPrice:  quoted,
		CounterPrice: outcome.CounterPrice,
		Sender:       o.cfg.SenderName,
	})
	if err != nil {
		return err
	}
	subject := "Re: " + templates.RFQSubject(threadID, latest.Spec)
	if err := o.sender.Send(ctx, o.contactAddress(sup), subject, body); err != nil {
		return &domain.SendError{Supplier: sup.Name, Err: err}
	}
	return nil
}

// AcceptOffer moves a final offer to ordered and emails the purchase order.
// The state change lands before the email; a send failure is reported but the
// order stands.
func (o *Orchestrator) AcceptOffer(ctx context.Context, threadID string) (*domain.Offer, error) {
	now := o.clock.Now()
	po := templates.PONumber(now, o.nextSeq(now))

	accepted, err := o.machine.Accept(ctx, threadID, po)
	if err != nil {
		return nil, err
	}
	if accepted.PONumber != po {
		// Idempotent re-accept: the order already went out under its own
		// number.
		return accepted, nil
	}

	var price float64
	if accepted.Price != nil {
		price = *accepted.Price
	}
	body, err := templates.RenderPurchaseOrder(templates.PurchaseOrder{
		ThreadID:     threadID,
		SupplierName: accepted.SupplierName,
		Spec:         accepted.Spec,
		Currency:     accepted.Currency,
		Price:        price,
		PONumber:     po,
		Sender:       o.cfg.SenderName,
	})
	if err != nil {
		return nil, err
	}

	subject := fmt.Sprintf("Purchase Order %s %s", po, templates.ThreadToken(threadID))
	if err := o.sender.Send(ctx, accepted.SupplierEmail, subject, body); err != nil {
		o.logger.Error("purchase order email failed",
			slog.String("thread_id", threadID),
			slog.String("po_number", po),
			slog.String("error", err.Error()))
		return accepted, &domain.SendError{Supplier: accepted.SupplierName, Err: err}
	}

	o.logger.Info("purchase order sent",
		slog.String("thread_id", threadID),
		slog.String("po_number", po))
	return accepted, nil
}

// contactAddress picks the supplier's address, deriving one from the display
// name when discovery found none.
func (o *Orchestrator) contactAddress(sup domain.Supplier) string {
	if sup.Email != "" {
		return sup.Email
	}
	return templates.SanitizeSupplierName(sup.Name) + "@" + o.cfg.ContactDomain
}

// nextSeq returns the next purchase-order sequence for the given day.
func (o *Orchestrator) nextSeq(now time.Time) int {
	day := now.Format("20060102")
	o.seqMu.Lock()
	defer o.seqMu.Unlock()
	if o.seqDay != day {
		o.seqDay = day
		o.seq = 0
	}
	o.seq++
	return o.seq
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
