package mailhog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quotepilot/quotepilot/internal/core/domain"
	"github.com/quotepilot/quotepilot/internal/core/ports"
	"github.com/quotepilot/quotepilot/internal/templates"
)

// InboxOption configures the inbox reader.
type InboxOption func(*Inbox)

// WithInboxHTTPClient sets a custom HTTP client.
func WithInboxHTTPClient(httpClient *http.Client) InboxOption {
	return func(i *Inbox) {
		i.httpClient = httpClient
	}
}

// Inbox reads supplier replies from the MailHog v2 API. Messages are matched
// to threads through the reference token in the subject line; mail sent by
// our own address is skipped so outbound RFQs are not misread as replies.
type Inbox struct {
	baseURL    string
	selfAddr   string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ ports.InboxReader = (*Inbox)(nil)

// NewInbox creates a MailHog inbox reader. baseURL points at the MailHog API,
// e.g. http://localhost:8025.
func NewInbox(baseURL, selfAddr string, logger *slog.Logger, opts ...InboxOption) *Inbox {
	if logger == nil {
		logger = slog.Default()
	}
	i := &Inbox{
		baseURL:    baseURL,
		selfAddr:   selfAddr,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

type mailhogMessages struct {
	Total int              `json:"total"`
	Items []mailhogMessage `json:"items"`
}

type mailhogMessage struct {
	ID      string `json:"ID"`
	From    mailhogPath
	Content mailhogContent
	Created time.Time
}

type mailhogPath struct {
	Mailbox string
	Domain  string
}

func (p mailhogPath) address() string {
	if p.Mailbox == "" {
		return ""
	}
	return p.Mailbox + "@" + p.Domain
}

type mailhogContent struct {
	Headers map[string][]string
	Body    string
}

// PollNew returns the messages currently in the mailbox that belong to one of
// the given threads. MailHog keeps messages until deleted, so the same
// message can be returned on every call; callers deduplicate by id.
func (i *Inbox) PollNew(ctx context.Context, threadIDs []string) ([]domain.Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.baseURL+"/api/v2/messages?limit=500", nil)
	if err != nil {
		return nil, fmt.Errorf("build messages request: %w", err)
	}

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mailhog returned %d", resp.StatusCode)
	}

	var body mailhogMessages
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	wanted := make(map[string]struct{}, len(threadIDs))
	for _, id := range threadIDs {
		wanted[id] = struct{}{}
	}

	var msgs []domain.Message
	for _, item := range body.Items {
		from := item.From.address()
		if from == i.selfAddr {
			continue
		}

		subject := firstHeader(item.Content.Headers, "Subject")
		threadID, ok := templates.ParseThreadRef(subject)
		if !ok {
			continue
		}
		if _, want := wanted[threadID]; !want {
			continue
		}

		msgs = append(msgs, domain.Message{
			ID:         item.ID,
			ThreadID:   threadID,
			From:       from,
			Subject:    subject,
			Body:       item.Content.Body,
			ReceivedAt: item.Created,
		})
	}

	i.logger.Debug("inbox polled",
		slog.Int("mailbox_total", body.Total),
		slog.Int("matched", len(msgs)))
	return msgs, nil
}

func firstHeader(headers map[string][]string, key string) string {
	if vals := headers[key]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}
