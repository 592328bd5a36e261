package rfq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/quotepilot/quotepilot/internal/core/domain"
)

type fakeClarifier struct {
	session *domain.ClarifySession
	err     error
}

func (f *fakeClarifier) Begin(context.Context, string) (*domain.ClarifySession, error) {
	return f.session, f.err
}

func (f *fakeClarifier) Answer(context.Context, string, string) (*domain.ClarifySession, error) {
	return f.session, f.err
}

type fakeOrchestrator struct {
	result *domain.RunResult
	offer  *domain.Offer
	err    error
}

func (f *fakeOrchestrator) RunCampaign(context.Context, string) (*domain.RunResult, error) {
	return f.result, f.err
}

func (f *fakeOrchestrator) AcceptOffer(context.Context, string) (*domain.Offer, error) {
	return f.offer, f.err
}

type fakeOffers struct {
	offers []*domain.Offer
	stats  *domain.OfferStats
	err    error
}

func (f *fakeOffers) SaveOffer(context.Context, *domain.Offer) error { return nil }

func (f *fakeOffers) LoadThread(context.Context, string) ([]*domain.Offer, error) {
	return nil, domain.ErrUnknownThread
}

func (f *fakeOffers) LatestOffer(context.Context, string) (*domain.Offer, error) {
	return nil, domain.ErrUnknownThread
}

func (f *fakeOffers) ListBySpec(context.Context, string) ([]*domain.Offer, error) {
	return f.offers, f.err
}

func (f *fakeOffers) OfferStats(context.Context) (*domain.OfferStats, error) {
	return f.stats, f.err
}

func (f *fakeOffers) Close() error { return nil }

func serve(h *Handler, method, path, body string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	h.Register(r)
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func testSession() *domain.ClarifySession {
	return &domain.ClarifySession{
		ID:     "sess-1",
		Spec:   map[string]string{"product_type": "paper cups"},
		Status: domain.SessionInProgress,
		Turns: []domain.Turn{
			{Role: domain.RoleRequester, Text: "paper cups", CreatedAt: time.Now()},
			{Role: domain.RoleAssistant, Text: "How many units do you need?", CreatedAt: time.Now()},
		},
	}
}

func newHandler(c Clarifier, o Orchestrator, offers *fakeOffers) *Handler {
	if offers == nil {
		offers = &fakeOffers{}
	}
	return NewHandler(c, o, offers, slog.New(slog.DiscardHandler))
}

func TestStartSession(t *testing.T) {
	h := newHandler(&fakeClarifier{session: testSession()}, &fakeOrchestrator{}, nil)

	rec := serve(h, "POST", "/rfq/start", `{"text":"I need paper cups"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}

	var resp sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.SessionID != "sess-1" {
		t.Errorf("session_id = %q", resp.SessionID)
	}
	if resp.Question != "How many units do you need?" {
		t.Errorf("question = %q", resp.Question)
	}
}

func TestStartSessionRequiresText(t *testing.T) {
	h := newHandler(&fakeClarifier{}, &fakeOrchestrator{}, nil)

	rec := serve(h, "POST", "/rfq/start", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAnswerSessionErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown session", domain.ErrUnknownSession, http.StatusNotFound},
		{"terminal session", domain.ErrSessionComplete, http.StatusConflict},
		{"internal", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandler(&fakeClarifier{err: tt.err}, &fakeOrchestrator{}, nil)
			rec := serve(h, "POST", "/rfq/answer", `{"session_id":"sess-1","text":"5000"}`)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRunCampaign(t *testing.T) {
	h := newHandler(&fakeClarifier{}, &fakeOrchestrator{result: &domain.RunResult{
		Spec:           "paper cups",
		SuppliersFound: 2,
		Sent:           2,
	}}, nil)

	rec := serve(h, "POST", "/campaigns", `{"spec":"paper cups"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"suppliers_found":2`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestRunCampaignDiscoveryDown(t *testing.T) {
	h := newHandler(&fakeClarifier{}, &fakeOrchestrator{
		err: domain.ErrDiscoveryUnavailable,
	}, nil)

	rec := serve(h, "POST", "/campaigns", `{"spec":"paper cups"}`)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestListOffers(t *testing.T) {
	price := 9.50
	h := newHandler(&fakeClarifier{}, &fakeOrchestrator{}, &fakeOffers{
		offers: []*domain.Offer{{ThreadID: "t1", SupplierName: "Acme", Price: &price, Status: domain.StatusCountered}},
	})

	rec := serve(h, "GET", "/offers?spec=cups", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"supplier_name":"Acme"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestListOffersEmptyIsArray(t *testing.T) {
	h := newHandler(&fakeClarifier{}, &fakeOrchestrator{}, &fakeOffers{})

	rec := serve(h, "GET", "/offers", "")
	if !strings.Contains(rec.Body.String(), `"offers":[]`) {
		t.Errorf("body = %s, want an empty array, not null", rec.Body.String())
	}
}

func TestOfferStats(t *testing.T) {
	avg := 12.50
	h := newHandler(&fakeClarifier{}, &fakeOrchestrator{}, &fakeOffers{
		stats: &domain.OfferStats{TotalOffers: 4, UniqueSuppliers: 3, AvgPrice: &avg},
	})

	rec := serve(h, "GET", "/offers/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"total_offers":4`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestAcceptOffer(t *testing.T) {
	h := newHandler(&fakeClarifier{}, &fakeOrchestrator{offer: &domain.Offer{
		ThreadID: "t1",
		Status:   domain.StatusOrdered,
		PONumber: "PO-20260314-0001",
	}}, nil)

	rec := serve(h, "POST", "/offers/t1/accept", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"po_number":"PO-20260314-0001"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestAcceptOfferNotFinal(t *testing.T) {
	h := newHandler(&fakeClarifier{}, &fakeOrchestrator{err: &domain.InvalidTransitionError{
		ThreadID: "t1",
		From:     domain.StatusOpen,
		To:       domain.StatusOrdered,
	}}, nil)

	rec := serve(h, "POST", "/offers/t1/accept", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestAcceptOfferEmailFailureStillSucceeds(t *testing.T) {
	h := newHandler(&fakeClarifier{}, &fakeOrchestrator{
		offer: &domain.Offer{ThreadID: "t1", Status: domain.StatusOrdered, PONumber: "PO-20260314-0002"},
		err:   &domain.SendError{Supplier: "Acme", Err: errors.New("smtp down")},
	}, nil)

	rec := serve(h, "POST", "/offers/t1/accept", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 when the order stands", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"warning"`) {
		t.Errorf("body = %s, want a delivery warning", rec.Body.String())
	}
}

func TestAcceptOfferUnknownThread(t *testing.T) {
	h := newHandler(&fakeClarifier{}, &fakeOrchestrator{err: domain.ErrUnknownThread}, nil)

	rec := serve(h, "POST", "/offers/t1/accept", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
