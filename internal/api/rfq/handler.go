// Package rfq exposes the quote workflow over HTTP: clarification sessions,
// campaign runs, offer queries, and offer acceptance.
package rfq

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quotepilot/quotepilot/internal/clarify"
	"github.com/quotepilot/quotepilot/internal/core/domain"
	"github.com/quotepilot/quotepilot/internal/core/ports"
	"github.com/quotepilot/quotepilot/internal/server"
)

// Clarifier is the slice of the clarification service the handlers need.
type Clarifier interface {
	Begin(ctx context.Context, text string) (*domain.ClarifySession, error)
	Answer(ctx context.Context, sessionID, text string) (*domain.ClarifySession, error)
}

// Orchestrator is the slice of the campaign service the handlers need.
type Orchestrator interface {
	RunCampaign(ctx context.Context, spec string) (*domain.RunResult, error)
	AcceptOffer(ctx context.Context, threadID string) (*domain.Offer, error)
}

// Handler serves the RFQ API.
type Handler struct {
	clarifier    Clarifier
	orchestrator Orchestrator
	offers       ports.OfferStore
	logger       *slog.Logger
}

// NewHandler creates the RFQ API handler.
func NewHandler(clarifier Clarifier, orchestrator Orchestrator, offers ports.OfferStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		clarifier:    clarifier,
		orchestrator: orchestrator,
		offers:       offers,
		logger:       logger,
	}
}

// Register mounts the API routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/rfq/start", h.startSession)
	r.Post("/rfq/answer", h.answerSession)
	r.Post("/campaigns", h.runCampaign)
	r.Get("/offers", h.listOffers)
	r.Get("/offers/stats", h.offerStats)
	r.Post("/offers/{threadID}/accept", h.acceptOffer)
}

type startRequest struct {
	Text string `json:"text"`
}

type answerRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

type sessionResponse struct {
	SessionID string            `json:"session_id"`
	Status    string            `json:"status"`
	Question  string            `json:"question,omitempty"`
	Spec      map[string]string `json:"spec"`
}

func sessionToResponse(s *domain.ClarifySession) sessionResponse {
	return sessionResponse{
		SessionID: s.ID,
		Status:    string(s.Status),
		Question:  clarify.LatestQuestion(s),
		Spec:      s.Spec,
	}
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	sess, err := h.clarifier.Begin(r.Context(), req.Text)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	server.AddLogField(r.Context(), "session_id", sess.ID)
	writeJSON(w, http.StatusCreated, sessionToResponse(sess))
}

func (h *Handler) answerSession(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	sess, err := h.clarifier.Answer(r.Context(), req.SessionID, req.Text)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	server.AddLogField(r.Context(), "session_id", sess.ID)
	writeJSON(w, http.StatusOK, sessionToResponse(sess))
}

type campaignRequest struct {
	Spec string `json:"spec"`
}

func (h *Handler) runCampaign(w http.ResponseWriter, r *http.Request) {
	var req campaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Spec == "" {
		writeError(w, http.StatusBadRequest, "spec is required")
		return
	}

	result, err := h.orchestrator.RunCampaign(r.Context(), req.Spec)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) listOffers(w http.ResponseWriter, r *http.Request) {
	spec := r.URL.Query().Get("spec")
	offers, err := h.offers.ListBySpec(r.Context(), spec)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if offers == nil {
		offers = []*domain.Offer{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"offers": offers})
}

func (h *Handler) offerStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.offers.OfferStats(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) acceptOffer(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	server.AddLogField(r.Context(), "thread_id", threadID)

	offer, err := h.orchestrator.AcceptOffer(r.Context(), threadID)

	// The purchase order stands even when its email could not be delivered;
	// report the offer with a warning instead of an error status.
	var sendErr *domain.SendError
	if errors.As(err, &sendErr) && offer != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"offer":   offer,
			"warning": "purchase order recorded but email delivery failed",
		})
		return
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"offer": offer})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var invalid *domain.InvalidTransitionError
	switch {
	case errors.Is(err, domain.ErrUnknownSession), errors.Is(err, domain.ErrUnknownThread):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrSessionComplete):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &invalid):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrDiscoveryUnavailable):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		h.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
