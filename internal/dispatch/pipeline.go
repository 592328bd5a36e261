// Package dispatch fans RFQ emails out to suppliers and collects their
// replies. Sends run concurrently under a bounded semaphore; replies are
// gathered by a polling loop that deduplicates messages by id and always
// reports partial results.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quotepilot/quotepilot/internal/core/domain"
	"github.com/quotepilot/quotepilot/internal/core/ports"
)

// Outbound is one RFQ email ready to send.
type Outbound struct {
	ThreadID     string
	SupplierName string
	To           string
	Subject      string
	Body         string
}

// ReplyHandler processes one deduplicated inbound message. The caller decides
// what handling means; a handler error marks the message unhandled but never
// stops the poll loop.
type ReplyHandler func(ctx context.Context, msg domain.Message) error

// Config holds the pipeline's tunables.
type Config struct {
	// MaxConcurrent bounds simultaneous outbound sends.
	MaxConcurrent int

	// PollInterval is the pause between inbox polls.
	PollInterval time.Duration

	// PollTimeout bounds the whole reply-collection phase.
	PollTimeout time.Duration
}

// DefaultConfig returns the pipeline defaults used when configuration
// provides none.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 5,
		PollInterval:  2 * time.Second,
		PollTimeout:   2 * time.Minute,
	}
}

// PollResult summarizes one reply-collection phase.
type PollResult struct {
	// Received counts deduplicated messages seen.
	Received int

	// Handled counts messages the handler processed without error.
	Handled int
}

// Pipeline sends RFQs and polls for replies.
type Pipeline struct {
	sender ports.EmailSender
	inbox  ports.InboxReader
	clock  ports.Clock
	logger *slog.Logger
	cfg    Config
}

// New creates a pipeline.
func New(sender ports.EmailSender, inbox ports.InboxReader, clock ports.Clock, logger *slog.Logger, cfg Config) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultConfig().PollTimeout
	}
	return &Pipeline{sender: sender, inbox: inbox, clock: clock, logger: logger, cfg: cfg}
}

// Send dispatches every outbound message, at most MaxConcurrent in flight.
// Failures are collected per supplier; a failed send never aborts the batch.
// The returned slice order matches no particular input order.
func (p *Pipeline) Send(ctx context.Context, batch []Outbound) (sent []Outbound, failures []domain.SendFailure) {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, p.cfg.MaxConcurrent)
	)

	for _, out := range batch {
		wg.Add(1)
		go func(out Outbound) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				mu.Lock()
				failures = append(failures, domain.SendFailure{Supplier: out.SupplierName, Reason: ctx.Err().Error()})
				mu.Unlock()
				return
			}

			if err := p.sender.Send(ctx, out.To, out.Subject, out.Body); err != nil {
				p.logger.Warn("rfq send failed",
					slog.String("supplier", out.SupplierName),
					slog.String("to", out.To),
					slog.String("error", err.Error()))
				mu.Lock()
				failures = append(failures, domain.SendFailure{Supplier: out.SupplierName, Reason: err.Error()})
				mu.Unlock()
				return
			}

			mu.Lock()
			sent = append(sent, out)
			mu.Unlock()
		}(out)
	}
	wg.Wait()

	p.logger.Info("rfq batch dispatched",
		slog.Int("sent", len(sent)),
		slog.Int("failed", len(failures)))
	return sent, failures
}

// Poll collects replies for the given threads until every thread has replied
// or PollTimeout elapses. Messages are deduplicated by id across poll
// iterations. Handler errors and transient inbox errors are logged and the
// loop continues; the result always reflects whatever arrived.
func (p *Pipeline) Poll(ctx context.Context, threadIDs []string, handle ReplyHandler) PollResult {
	var res PollResult
	if len(threadIDs) == 0 {
		return res
	}

	seen := make(map[string]struct{})
	pending := make(map[string]struct{}, len(threadIDs))
	for _, id := range threadIDs {
		pending[id] = struct{}{}
	}

	deadline := p.clock.Now().Add(p.cfg.PollTimeout)
	ticker := p.clock.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		msgs, err := p.inbox.PollNew(ctx, threadIDs)
		if err != nil {
			p.logger.Warn("inbox poll failed", slog.String("error", err.Error()))
		}
		for _, msg := range msgs {
			if _, dup := seen[msg.ID]; dup {
				continue
			}
			seen[msg.ID] = struct{}{}
			res.Received++
			delete(pending, msg.ThreadID)

			if err := handle(ctx, msg); err != nil {
				p.logger.Warn("reply handler failed",
					slog.String("thread_id", msg.ThreadID),
					slog.String("message_id", msg.ID),
					slog.String("error", err.Error()))
				continue
			}
			res.Handled++
		}

		if len(pending) == 0 {
			return res
		}
		if !p.clock.Now().Before(deadline) {
			p.logger.Info("poll timeout reached",
				slog.Int("replied", len(threadIDs)-len(pending)),
				slog.Int("silent", len(pending)))
			return res
		}

		select {
		case <-ctx.Done():
			return res
		case <-ticker.C():
		}
	}
}
