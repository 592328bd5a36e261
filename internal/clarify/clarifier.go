// Package clarify runs the specification-clarification dialogue that turns a
// requester's free-text request into a structured spec. The dialogue asks at
// most one question per turn and completes once every required field is
// filled.
package clarify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quotepilot/quotepilot/internal/core/domain"
	"github.com/quotepilot/quotepilot/internal/core/ports"
)

// fallbackQuestions cover the case where the generator extracts fields but
// offers no follow-up while the spec is still incomplete. Keyed by the first
// missing field.
var fallbackQuestions = map[string]string{
	"product_type": "What product are you looking to source?",
	"quantity":     "How many units do you need?",
	"timeline":     "When do you need the order delivered?",
	"budget":       "What is your target budget or unit price?",
}

// Config holds the clarifier's tunables.
type Config struct {
	// IdleTimeout is how long a session may sit without an answer before the
	// sweeper abandons it.
	IdleTimeout time.Duration

	// SweepInterval is how often the background sweep runs.
	SweepInterval time.Duration
}

// DefaultConfig returns the clarifier defaults used when configuration
// provides none.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:   30 * time.Minute,
		SweepInterval: 5 * time.Minute,
	}
}

// Clarifier drives clarification sessions against a session store and a
// question generator.
type Clarifier struct {
	sessions ports.SessionStore
	gen      ports.QuestionGenerator
	clock    ports.Clock
	logger   *slog.Logger
	cfg      Config
}

// New creates a clarifier.
func New(sessions ports.SessionStore, gen ports.QuestionGenerator, clock ports.Clock, logger *slog.Logger, cfg Config) *Clarifier {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultConfig().IdleTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	return &Clarifier{sessions: sessions, gen: gen, clock: clock, logger: logger, cfg: cfg}
}

// Begin opens a session from the requester's initial free text. The returned
// question is empty when the text already covers every required field, in
// which case the session is complete immediately.
func (c *Clarifier) Begin(ctx context.Context, text string) (*domain.ClarifySession, error) {
	now := c.clock.Now()
	session := &domain.ClarifySession{
		ID:           uuid.NewString(),
		OriginalText: text,
		Spec:         make(map[string]string),
		Status:       domain.SessionInProgress,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	session.Turns = append(session.Turns, domain.Turn{
		Role:      domain.RoleRequester,
		Text:      text,
		CreatedAt: now,
	})

	if err := c.advance(ctx, session, now); err != nil {
		return nil, err
	}
	if err := c.sessions.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	c.logger.Info("clarification session started",
		slog.String("session_id", session.ID),
		slog.String("status", string(session.Status)),
		slog.Int("missing_fields", len(session.MissingFields())))
	return session, nil
}

// Answer records the requester's reply and advances the dialogue. Terminal
// sessions reject further answers with domain.ErrSessionComplete.
func (c *Clarifier) Answer(ctx context.Context, sessionID, text string) (*domain.ClarifySession, error) {
	session, err := c.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrSessionComplete)
	}

	now := c.clock.Now()
	session.LastActiveAt = now
	session.Turns = append(session.Turns, domain.Turn{
		Role:      domain.RoleRequester,
		Text:      text,
		CreatedAt: now,
	})

	if err := c.advance(ctx, session, now); err != nil {
		return nil, err
	}
	if err := c.sessions.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return session, nil
}

// LatestQuestion returns the most recent assistant turn, or "" when the
// dialogue has none pending.
func LatestQuestion(s *domain.ClarifySession) string {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].Role == domain.RoleAssistant {
			return s.Turns[i].Text
		}
		if s.Turns[i].Role == domain.RoleRequester {
			return ""
		}
	}
	return ""
}

// advance runs the question generator over the dialogue so far, merges any
// extracted fields, and appends at most one assistant turn. A generator
// failure degrades to the canned question for the first missing field; it
// never aborts the dialogue.
func (c *Clarifier) advance(ctx context.Context, session *domain.ClarifySession, now time.Time) error {
	res, err := c.gen.NextQuestion(ctx, session.Spec, session.Turns)
	if err != nil {
		c.logger.Warn("question generator failed, using canned question",
			slog.String("session_id", session.ID),
			slog.String("error", err.Error()))
		res = &ports.QuestionResult{}
	}
	session.MergeSpec(res.Fields)

	missing := session.MissingFields()
	if len(missing) == 0 {
		session.Status = domain.SessionComplete
		return nil
	}

	question := res.Question
	if question == "" {
		question = fallbackQuestions[missing[0]]
	}
	session.Turns = append(session.Turns, domain.Turn{
		Role:      domain.RoleAssistant,
		Text:      question,
		CreatedAt: now,
	})
	return nil
}

// RunSweeper abandons idle sessions on a fixed interval until ctx is
// cancelled. Intended to run in its own goroutine.
func (c *Clarifier) RunSweeper(ctx context.Context) {
	ticker := c.clock.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			cutoff := c.clock.Now().Add(-c.cfg.IdleTimeout)
			n, err := c.sessions.AbandonIdleSessions(ctx, cutoff)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				c.logger.Error("inactivity sweep failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				c.logger.Info("abandoned idle sessions", slog.Int("count", n))
			}
		}
	}
}
