// Package memory keeps offers and clarification sessions in process memory.
// Used for development and tests; nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quotepilot/quotepilot/internal/core/domain"
	"github.com/quotepilot/quotepilot/internal/core/ports"
)

// Store holds everything behind one mutex; contention is irrelevant at the
// scale this store is meant for.
type Store struct {
	mu       sync.Mutex
	offers   map[string]map[int]*domain.Offer
	sessions map[string]*domain.ClarifySession
}

var (
	_ ports.OfferStore   = (*Store)(nil)
	_ ports.SessionStore = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		offers:   make(map[string]map[int]*domain.Offer),
		sessions: make(map[string]*domain.ClarifySession),
	}
}

// SaveOffer inserts or replaces the offer for (ThreadID, CounterRound).
func (s *Store) SaveOffer(_ context.Context, offer *domain.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rounds, ok := s.offers[offer.ThreadID]
	if !ok {
		rounds = make(map[int]*domain.Offer)
		s.offers[offer.ThreadID] = rounds
	}
	rounds[offer.CounterRound] = offer.Clone()
	return nil
}

// LoadThread returns the offer history ordered by counter round.
func (s *Store) LoadThread(_ context.Context, threadID string) ([]*domain.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rounds, ok := s.offers[threadID]
	if !ok || len(rounds) == 0 {
		return nil, fmt.Errorf("thread %s: %w", threadID, domain.ErrUnknownThread)
	}
	out := make([]*domain.Offer, 0, len(rounds))
	for _, o := range rounds {
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CounterRound < out[j].CounterRound })
	return out, nil
}

// LatestOffer returns the highest-round offer for a thread.
func (s *Store) LatestOffer(ctx context.Context, threadID string) (*domain.Offer, error) {
	history, err := s.LoadThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return history[len(history)-1], nil
}

// ListBySpec returns the newest offer of every matching thread, newest first.
func (s *Store) ListBySpec(_ context.Context, spec string) ([]*domain.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Offer
	for _, rounds := range s.offers {
		var latest *domain.Offer
		for _, o := range rounds {
			if latest == nil || o.CounterRound > latest.CounterRound {
				latest = o
			}
		}
		if latest != nil && strings.Contains(latest.Spec, spec) {
			out = append(out, latest.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// OfferStats aggregates across all priced offers.
func (s *Store) OfferStats(_ context.Context) (*domain.OfferStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &domain.OfferStats{}
	suppliers := make(map[string]struct{})
	specs := make(map[string]struct{})
	var priceSum, leadSum float64
	var leadCount int

	for _, rounds := range s.offers {
		for _, o := range rounds {
			if o.Price == nil {
				continue
			}
			stats.TotalOffers++
			suppliers[o.SupplierName] = struct{}{}
			specs[o.Spec] = struct{}{}
			priceSum += *o.Price
			if stats.MinPrice == nil || *o.Price < *stats.MinPrice {
				p := *o.Price
				stats.MinPrice = &p
			}
			if stats.MaxPrice == nil || *o.Price > *stats.MaxPrice {
				p := *o.Price
				stats.MaxPrice = &p
			}
			if o.LeadTime != nil {
				leadSum += float64(*o.LeadTime)
				leadCount++
			}
		}
	}

	stats.UniqueSuppliers = len(suppliers)
	stats.UniqueSpecs = len(specs)
	if stats.TotalOffers > 0 {
		avg := priceSum / float64(stats.TotalOffers)
		stats.AvgPrice = &avg
	}
	if leadCount > 0 {
		avg := leadSum / float64(leadCount)
		stats.AvgLeadTime = &avg
	}
	return stats, nil
}

// SaveSession inserts or replaces a session by id.
func (s *Store) SaveSession(_ context.Context, session *domain.ClarifySession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session.Clone()
	return nil
}

// GetSession loads one session by id.
func (s *Store) GetSession(_ context.Context, id string) (*domain.ClarifySession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrUnknownSession)
	}
	return session.Clone(), nil
}

// AbandonIdleSessions marks in-progress sessions idle since cutoff as
// abandoned.
func (s *Store) AbandonIdleSessions(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, session := range s.sessions {
		if session.Status == domain.SessionInProgress && session.LastActiveAt.Before(cutoff) {
			session.Status = domain.SessionAbandoned
			n++
		}
	}
	return n, nil
}

func (s *Store) Close() error { return nil }
