// Package mailhog sends RFQ mail over plain SMTP and reads replies back
// through the MailHog HTTP API. MailHog is the development mail sink the
// system runs against; any unauthenticated SMTP relay works for sending.
package mailhog

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/quotepilot/quotepilot/internal/core/ports"
)

// Sender delivers mail to one SMTP endpoint without auth or TLS.
type Sender struct {
	addr   string // host:port
	from   string
	logger *slog.Logger

	// sendMail is swappable for tests.
	sendMail func(addr, from string, to []string, msg []byte) error
}

var _ ports.EmailSender = (*Sender)(nil)

// NewSender creates an SMTP sender.
func NewSender(addr, from string, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		addr:   addr,
		from:   from,
		logger: logger,
		sendMail: func(addr, from string, to []string, msg []byte) error {
			return smtp.SendMail(addr, nil, from, to, msg)
		},
	}
}

// Send delivers one message. The context deadline is honored only up to the
// point the SMTP dial starts; the stdlib client does not take a context.
func (s *Sender) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if to == "" {
		return fmt.Errorf("empty recipient")
	}

	msg := buildMessage(s.from, to, subject, body)
	if err := s.sendMail(s.addr, s.from, []string{to}, msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}

	s.logger.Debug("mail sent",
		slog.String("to", to),
		slog.String("subject", subject))
	return nil
}

// buildMessage assembles a minimal RFC 5322 message. Bare LF in the body is
// normalized to CRLF for strict servers.
func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")

	normalized := strings.ReplaceAll(body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(normalized, "\n", "\r\n"))
	return []byte(b.String())
}
