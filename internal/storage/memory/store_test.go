package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quotepilot/quotepilot/internal/core/domain"
)

func offer(threadID string, round int, price float64, updated time.Time) *domain.Offer {
	p := price
	return &domain.Offer{
		ID:           threadID,
		ThreadID:     threadID,
		SupplierName: "Acme Supply",
		Spec:         "5000 paper cups",
		Price:        &p,
		Currency:     "USD",
		Status:       domain.StatusOpen,
		CounterRound: round,
		UpdatedAt:    updated,
	}
}

func TestStore_OfferRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	if err := s.SaveOffer(ctx, offer("t1", 0, 10.00, now)); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveOffer(ctx, offer("t1", 1, 9.00, now)); err != nil {
		t.Fatal(err)
	}

	latest, err := s.LatestOffer(ctx, "t1")
	if err != nil {
		t.Fatalf("LatestOffer() error = %v", err)
	}
	if latest.CounterRound != 1 || *latest.Price != 9.00 {
		t.Errorf("latest = round %d price %v", latest.CounterRound, *latest.Price)
	}

	history, err := s.LoadThread(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[0].CounterRound != 0 {
		t.Errorf("history = %+v, want ascending rounds", history)
	}
}

func TestStore_SaveOfferUpsertsByRound(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	if err := s.SaveOffer(ctx, offer("t1", 0, 10.00, now)); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveOffer(ctx, offer("t1", 0, 9.50, now)); err != nil {
		t.Fatal(err)
	}

	history, err := s.LoadThread(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || *history[0].Price != 9.50 {
		t.Errorf("history = %+v, want one updated row", history)
	}
}

func TestStore_UnknownThread(t *testing.T) {
	s := New()
	if _, err := s.LatestOffer(context.Background(), "missing"); !errors.Is(err, domain.ErrUnknownThread) {
		t.Errorf("LatestOffer() error = %v, want ErrUnknownThread", err)
	}
}

func TestStore_ListBySpecNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Now()

	if err := s.SaveOffer(ctx, offer("t1", 0, 10.00, base)); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveOffer(ctx, offer("t2", 0, 8.00, base.Add(time.Minute))); err != nil {
		t.Fatal(err)
	}
	other := offer("t3", 0, 3.00, base)
	other.Spec = "steel beams"
	if err := s.SaveOffer(ctx, other); err != nil {
		t.Fatal(err)
	}

	offers, err := s.ListBySpec(ctx, "paper cups")
	if err != nil {
		t.Fatalf("ListBySpec() error = %v", err)
	}
	if len(offers) != 2 {
		t.Fatalf("offers = %d, want 2", len(offers))
	}
	if offers[0].ThreadID != "t2" {
		t.Errorf("first = %s, want newest thread first", offers[0].ThreadID)
	}
}

func TestStore_OfferStatsSkipsUnpriced(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	if err := s.SaveOffer(ctx, offer("t1", 0, 10.00, now)); err != nil {
		t.Fatal(err)
	}
	unpriced := offer("t2", 0, 0, now)
	unpriced.Price = nil
	if err := s.SaveOffer(ctx, unpriced); err != nil {
		t.Fatal(err)
	}

	stats, err := s.OfferStats(ctx)
	if err != nil {
		t.Fatalf("OfferStats() error = %v", err)
	}
	if stats.TotalOffers != 1 {
		t.Errorf("TotalOffers = %d, want 1", stats.TotalOffers)
	}
	if stats.AvgPrice == nil || *stats.AvgPrice != 10.00 {
		t.Errorf("AvgPrice = %v, want 10.00", stats.AvgPrice)
	}
}

func TestStore_SessionLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Now()

	session := &domain.ClarifySession{
		ID:           "sess-1",
		OriginalText: "cups",
		Spec:         map[string]string{"product_type": "cups"},
		Status:       domain.SessionInProgress,
		LastActiveAt: base.Add(-time.Hour),
	}
	if err := s.SaveSession(ctx, session); err != nil {
		t.Fatal(err)
	}

	// Mutating the caller's copy must not leak into the store.
	session.Spec["product_type"] = "plates"
	got, err := s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Spec["product_type"] != "cups" {
		t.Errorf("stored spec = %v, aliasing detected", got.Spec)
	}

	n, err := s.AbandonIdleSessions(ctx, base.Add(-30*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("abandoned = %d, want 1", n)
	}
	got, _ = s.GetSession(ctx, "sess-1")
	if got.Status != domain.SessionAbandoned {
		t.Errorf("status = %v, want abandoned", got.Status)
	}

	if _, err := s.GetSession(ctx, "missing"); !errors.Is(err, domain.ErrUnknownSession) {
		t.Errorf("GetSession() error = %v, want ErrUnknownSession", err)
	}
}
