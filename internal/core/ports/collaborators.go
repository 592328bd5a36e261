package ports

import (
	"context"

	"github.com/quotepilot/quotepilot/internal/core/domain"
)

// SupplierDirectory finds candidate suppliers for a specification.
// Implementations: SerpAPI search (default), static fixture list for tests.
type SupplierDirectory interface {
	// Find returns up to maxResults suppliers. An unreachable backend is
	// reported as domain.ErrDiscoveryUnavailable; an empty result is not an
	// error.
	Find(ctx context.Context, spec string, maxResults int) ([]domain.Supplier, error)
}

// EmailSender delivers one outbound message. Delivery is at-least-once and
// non-transactional; callers must tolerate duplicates on the receiving end.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// InboxReader surfaces inbound messages for known RFQ threads. PollNew must be
// safe to call repeatedly: re-reads of the same underlying mailbox may return
// messages already seen, and callers deduplicate by message id.
type InboxReader interface {
	PollNew(ctx context.Context, threadIDs []string) ([]domain.Message, error)
}

// QuestionResult is the outcome of one question-generation call: any spec
// fields extracted from the latest answer, plus at most one follow-up
// question. An empty Question means the generator considers the spec resolved.
type QuestionResult struct {
	Fields    map[string]string
	Question  string
	Reasoning string
}

// QuestionGenerator turns a partially structured spec and the dialogue so far
// into extracted fields and an optional clarifying question. The last turn is
// always the requester's latest answer. Implementations: OpenAI chat
// completions (default), keyword heuristics.
type QuestionGenerator interface {
	NextQuestion(ctx context.Context, spec map[string]string, turns []domain.Turn) (*QuestionResult, error)
}
