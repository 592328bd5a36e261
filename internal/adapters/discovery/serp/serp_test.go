package serp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quotepilot/quotepilot/internal/core/domain"
	"github.com/quotepilot/quotepilot/internal/testutil"
)

func TestFind(t *testing.T) {
	r, cleanup := testutil.NewVCRRecorder(t, "serp_search")
	defer cleanup()

	c := New("test-key", slog.New(slog.DiscardHandler), WithHTTPClient(testutil.VCRHTTPClient(r)))

	suppliers, err := c.Find(context.Background(), "paper cups", 3)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}

	if len(suppliers) != 3 {
		t.Fatalf("suppliers = %d, want the result cap honored", len(suppliers))
	}
	first := suppliers[0]
	if first.Name != "Acme Paper Cup Supply Co" {
		t.Errorf("Name = %q", first.Name)
	}
	if first.URL != "https://acmepapercups.example" {
		t.Errorf("URL = %q", first.URL)
	}
	if first.Source != "serpapi" {
		t.Errorf("Source = %q, want serpapi", first.Source)
	}
}

func TestFindBackendFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New("test-key", slog.New(slog.DiscardHandler), WithBaseURL(srv.URL))

	_, err := c.Find(context.Background(), "paper cups", 3)
	if !errors.Is(err, domain.ErrDiscoveryUnavailable) {
		t.Errorf("Find() error = %v, want ErrDiscoveryUnavailable", err)
	}
}

func TestFindEmptyResultsIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"organic_results":[]}`))
	}))
	defer srv.Close()

	c := New("test-key", slog.New(slog.DiscardHandler), WithBaseURL(srv.URL))

	suppliers, err := c.Find(context.Background(), "unobtainium", 3)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(suppliers) != 0 {
		t.Errorf("suppliers = %d, want 0", len(suppliers))
	}
}
