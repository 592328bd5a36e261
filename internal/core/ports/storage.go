package ports

import (
	"context"
	"time"

	"github.com/quotepilot/quotepilot/internal/core/domain"
)

// OfferStore persists the negotiation history of supplier threads. One row
// exists per (thread id, counter round): SaveOffer is an idempotent upsert on
// that key so at-least-once reply delivery cannot duplicate history entries.
type OfferStore interface {
	// SaveOffer inserts or updates the offer for (ThreadID, CounterRound).
	SaveOffer(ctx context.Context, offer *domain.Offer) error

	// LoadThread returns the offer history for a thread ordered by counter
	// round ascending. Returns domain.ErrUnknownThread when no offers exist.
	LoadThread(ctx context.Context, threadID string) ([]*domain.Offer, error)

	// LatestOffer returns the highest-round offer for a thread.
	LatestOffer(ctx context.Context, threadID string) (*domain.Offer, error)

	// ListBySpec returns the newest offer of every thread whose spec matches
	// the given text (substring match), newest first.
	ListBySpec(ctx context.Context, spec string) ([]*domain.Offer, error)

	// OfferStats aggregates across all priced offers.
	OfferStats(ctx context.Context) (*domain.OfferStats, error)

	Close() error
}

// SessionStore persists clarification sessions.
type SessionStore interface {
	// SaveSession inserts or replaces a session by id.
	SaveSession(ctx context.Context, s *domain.ClarifySession) error

	// GetSession returns domain.ErrUnknownSession for an unknown id.
	GetSession(ctx context.Context, id string) (*domain.ClarifySession, error)

	// AbandonIdleSessions moves every in_progress session whose LastActiveAt
	// is before cutoff to abandoned, returning how many changed. Used by the
	// background inactivity sweep.
	AbandonIdleSessions(ctx context.Context, cutoff time.Time) (int, error)

	Close() error
}
