// Package negotiation implements the per-thread offer state machine:
// open -> countered -> final -> ordered, with needs_user as the escalation
// status. Transitions are the sole mutation path for offer status; all other
// code observes offers read-only.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quotepilot/quotepilot/internal/core/domain"
	"github.com/quotepilot/quotepilot/internal/core/ports"
)

// allowed lists the automatic transitions. Terminal statuses have no entries:
// nothing automatic ever leaves needs_user or ordered.
var allowed = map[domain.NegotiationStatus][]domain.NegotiationStatus{
	domain.StatusOpen:      {domain.StatusCountered, domain.StatusFinal, domain.StatusNeedsUser, domain.StatusOpen},
	domain.StatusCountered: {domain.StatusOpen, domain.StatusCountered, domain.StatusFinal, domain.StatusNeedsUser},
	domain.StatusFinal:     {domain.StatusNeedsUser},
}

// Outcome describes what a transition decided.
type Outcome struct {
	Status       domain.NegotiationStatus `json:"status"`
	CounterPrice float64                  `json:"counter_price,omitempty"`
	Reason       string                   `json:"reason,omitempty"`
}

// Machine applies negotiation transitions. Concurrent replies for the same
// thread serialize on a per-thread lock so a read-modify-write of offer
// status can never race.
type Machine struct {
	store  ports.OfferStore
	clock  ports.Clock
	logger *slog.Logger

	policyMu sync.RWMutex
	policy   Policy

	mu      sync.Mutex
	threads map[string]*sync.Mutex
}

// New creates a machine over the given offer store.
func New(store ports.OfferStore, clock ports.Clock, logger *slog.Logger, policy Policy) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		store:   store,
		clock:   clock,
		logger:  logger,
		policy:  policy,
		threads: make(map[string]*sync.Mutex),
	}
}

// Policy returns the current negotiation policy.
func (m *Machine) Policy() Policy {
	m.policyMu.RLock()
	defer m.policyMu.RUnlock()
	return m.policy
}

// SetPolicy swaps the negotiation policy. Used by config hot-reload.
func (m *Machine) SetPolicy(p Policy) {
	m.policyMu.Lock()
	m.policy = p
	m.policyMu.Unlock()
}

// lockThread acquires the mutex for one conversation thread.
func (m *Machine) lockThread(threadID string) func() {
	m.mu.Lock()
	l, ok := m.threads[threadID]
	if !ok {
		l = &sync.Mutex{}
		m.threads[threadID] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// ApplyReply folds one supplier reply into the thread. The incoming offer is
// built by the orchestrator from the extraction result; a nil Price means
// extraction failed and the thread escalates to needs_user. Replies on
// terminal threads are logged and ignored, never an error.
func (m *Machine) ApplyReply(ctx context.Context, incoming *domain.Offer) (*Outcome, error) {
	unlock := m.lockThread(incoming.ThreadID)
	defer unlock()

	policy := m.Policy()
	now := m.clock.Now()

	latest, err := m.store.LatestOffer(ctx, incoming.ThreadID)
	if err != nil && !errors.Is(err, domain.ErrUnknownThread) {
		return nil, fmt.Errorf("load thread %s: %w", incoming.ThreadID, err)
	}

	if latest != nil && latest.Status.Terminal() {
		m.logger.Info("ignoring reply on terminal thread",
			slog.String("thread_id", incoming.ThreadID),
			slog.String("status", string(latest.Status)))
		return &Outcome{Status: latest.Status, Reason: "thread already terminal"}, nil
	}

	// Extraction failure in open or countered escalates; it is never dropped.
	if incoming.Price == nil {
		return m.escalateLocked(ctx, latest, incoming, now, "reply could not be parsed")
	}

	// First parsed offer on the thread. A final declaration counts even
	// before any counter went out.
	if latest == nil {
		offer := incoming.Clone()
		offer.Status = domain.StatusOpen
		reason := "new offer recorded"
		if policy.DeclaredFinal(incoming.RawBody) {
			offer.Status = domain.StatusFinal
			reason = "supplier declared price final"
		}
		offer.CounterRound = 0
		offer.CreatedAt = now
		offer.UpdatedAt = now
		if err := m.store.SaveOffer(ctx, offer); err != nil {
			return nil, fmt.Errorf("save opening offer: %w", err)
		}
		return &Outcome{Status: offer.Status, Reason: reason}, nil
	}

	next := latest.Clone()
	next.MessageID = incoming.MessageID
	next.RawBody = incoming.RawBody
	next.Price = incoming.Price
	next.Currency = incoming.Currency
	if incoming.LeadTime != nil {
		next.LeadTime = incoming.LeadTime
		next.LeadTimeUnit = incoming.LeadTimeUnit
	}
	next.UpdatedAt = now

	outcome := &Outcome{Status: domain.StatusOpen, Reason: "supplier revised quote"}

	switch {
	case latest.Status == domain.StatusFinal:
		m.logger.Info("ignoring reply on settled thread", slog.String("thread_id", incoming.ThreadID))
		return &Outcome{Status: domain.StatusFinal, Reason: "price already settled"}, nil

	case latest.Status == domain.StatusCountered && *incoming.Price <= *latest.Price:
		// latest.Price is our counter at this point: the supplier met it.
		outcome = &Outcome{Status: domain.StatusFinal, Reason: "supplier met counter-price"}

	case policy.DeclaredFinal(incoming.RawBody):
		outcome = &Outcome{Status: domain.StatusFinal, Reason: "supplier declared price final"}

	case latest.Status == domain.StatusCountered && policy.RepeatPriceIsFinal && m.repeatsPreviousPrice(ctx, latest, *incoming.Price):
		outcome = &Outcome{Status: domain.StatusFinal, Reason: "supplier repeated previous price"}
	}

	next.Status = outcome.Status
	if err := m.transition(ctx, latest, next); err != nil {
		return nil, err
	}
	return outcome, nil
}

// Counter evaluates the policy against the offer the orchestrator read and,
// when warranted, records a counter-price transition. The offer's counter
// round acts as an optimistic-concurrency token: a stale round is rejected
// with StaleTransitionError rather than applied.
func (m *Machine) Counter(ctx context.Context, offer *domain.Offer) (*Outcome, error) {
	unlock := m.lockThread(offer.ThreadID)
	defer unlock()

	policy := m.Policy()
	now := m.clock.Now()

	latest, err := m.store.LatestOffer(ctx, offer.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", offer.ThreadID, err)
	}

	if offer.CounterRound < latest.CounterRound {
		stale := &domain.StaleTransitionError{
			ThreadID:     offer.ThreadID,
			CurrentRound: latest.CounterRound,
			GotRound:     offer.CounterRound,
		}
		m.logger.Warn("rejected stale transition",
			slog.String("thread_id", offer.ThreadID),
			slog.Int("got_round", offer.CounterRound),
			slog.Int("current_round", latest.CounterRound))
		return nil, stale
	}

	if latest.Status.Terminal() || latest.Status == domain.StatusFinal {
		return &Outcome{Status: latest.Status, Reason: "no counter possible"}, nil
	}

	if latest.Price == nil {
		out, err := m.escalateLocked(ctx, latest, latest, now, "no price recorded for thread")
		return out, err
	}

	if policy.Acceptable(*latest.Price) {
		next := latest.Clone()
		next.Status = domain.StatusFinal
		next.UpdatedAt = now
		if err := m.transition(ctx, latest, next); err != nil {
			return nil, err
		}
		return &Outcome{Status: domain.StatusFinal, Reason: "price within acceptance threshold"}, nil
	}

	// Round limit reached without resolution: terminal escalation, the offer
	// must never linger in countered.
	if latest.CounterRound >= policy.MaxRounds {
		return m.escalateLocked(ctx, latest, latest, now, "counter round limit reached")
	}

	counterPrice := policy.CounterPrice(*latest.Price)
	next := latest.Clone()
	next.Status = domain.StatusCountered
	next.CounterRound = latest.CounterRound + 1
	next.Price = &counterPrice
	next.LastCounterAt = now
	next.CreatedAt = now
	next.UpdatedAt = now
	next.MessageID = ""
	next.RawBody = ""

	if err := m.transition(ctx, latest, next); err != nil {
		return nil, err
	}
	return &Outcome{
		Status:       domain.StatusCountered,
		CounterPrice: counterPrice,
		Reason:       fmt.Sprintf("counter round %d of %d", next.CounterRound, policy.MaxRounds),
	}, nil
}

// Escalate degrades a thread to needs_user, e.g. when a collaborator failed
// while handling it. Escalating an already terminal thread is a no-op.
func (m *Machine) Escalate(ctx context.Context, threadID, reason string) (*Outcome, error) {
	unlock := m.lockThread(threadID)
	defer unlock()

	latest, err := m.store.LatestOffer(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", threadID, err)
	}
	if latest.Status.Terminal() {
		return &Outcome{Status: latest.Status, Reason: "thread already terminal"}, nil
	}
	return m.escalateLocked(ctx, latest, latest, m.clock.Now(), reason)
}

// Accept is the one externally triggered transition: a human moves a final
// offer to ordered. Re-accepting an already ordered offer is a no-op, not an
// error.
func (m *Machine) Accept(ctx context.Context, threadID, poNumber string) (*domain.Offer, error) {
	unlock := m.lockThread(threadID)
	defer unlock()

	latest, err := m.store.LatestOffer(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", threadID, err)
	}

	if latest.Status == domain.StatusOrdered {
		return latest, nil
	}
	if latest.Status != domain.StatusFinal {
		return nil, &domain.InvalidTransitionError{
			ThreadID: threadID,
			From:     latest.Status,
			To:       domain.StatusOrdered,
		}
	}

	next := latest.Clone()
	next.Status = domain.StatusOrdered
	next.PONumber = poNumber
	next.UpdatedAt = m.clock.Now()
	if err := m.store.SaveOffer(ctx, next); err != nil {
		return nil, fmt.Errorf("save ordered offer: %w", err)
	}

	m.logger.Info("offer accepted",
		slog.String("thread_id", threadID),
		slog.String("po_number", poNumber))
	return next, nil
}

// escalateLocked records a needs_user transition. Callers hold the thread
// lock. latest may be nil when the thread has no stored offer yet, in which
// case the incoming offer seeds the escalated row.
func (m *Machine) escalateLocked(ctx context.Context, latest, incoming *domain.Offer, now time.Time, reason string) (*Outcome, error) {
	var next *domain.Offer
	if latest == nil {
		next = incoming.Clone()
		next.CounterRound = 0
		next.CreatedAt = now
	} else {
		next = latest.Clone()
		if incoming != latest {
			next.MessageID = incoming.MessageID
			next.RawBody = incoming.RawBody
		}
	}
	next.Status = domain.StatusNeedsUser
	next.UpdatedAt = now

	if err := m.store.SaveOffer(ctx, next); err != nil {
		return nil, fmt.Errorf("save escalation: %w", err)
	}
	m.logger.Warn("thread escalated",
		slog.String("thread_id", next.ThreadID),
		slog.String("reason", reason))
	return &Outcome{Status: domain.StatusNeedsUser, Reason: reason}, nil
}

// repeatsPreviousPrice reports whether price matches the supplier's quote from
// the round before our last counter.
func (m *Machine) repeatsPreviousPrice(ctx context.Context, latest *domain.Offer, price float64) bool {
	history, err := m.store.LoadThread(ctx, latest.ThreadID)
	if err != nil {
		return false
	}
	for _, o := range history {
		if o.CounterRound == latest.CounterRound-1 && o.Price != nil {
			return *o.Price == price
		}
	}
	return false
}

// transition validates and persists a status change. It enforces the allowed
// transition table and the monotonic round counter.
func (m *Machine) transition(ctx context.Context, from, to *domain.Offer) error {
	if !validTransition(from.Status, to.Status) {
		return &domain.InvalidTransitionError{ThreadID: to.ThreadID, From: from.Status, To: to.Status}
	}
	if to.CounterRound < from.CounterRound {
		return &domain.StaleTransitionError{
			ThreadID:     to.ThreadID,
			CurrentRound: from.CounterRound,
			GotRound:     to.CounterRound,
		}
	}
	if err := m.store.SaveOffer(ctx, to); err != nil {
		return fmt.Errorf("save transition %s -> %s: %w", from.Status, to.Status, err)
	}
	m.logger.Debug("offer transition",
		slog.String("thread_id", to.ThreadID),
		slog.String("from", string(from.Status)),
		slog.String("to", string(to.Status)),
		slog.Int("round", to.CounterRound))
	return nil
}

func validTransition(from, to domain.NegotiationStatus) bool {
	for _, t := range allowed[from] {
		if t == to {
			return true
		}
	}
	return false
}
