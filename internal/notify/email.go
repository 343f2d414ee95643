package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/tbourn/contest-notifier/internal/contests"
	"github.com/tbourn/contest-notifier/internal/domain"
)

// mailSender is the subset of *mail.Client used by EmailChannel.
type mailSender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTPConfig holds the outbound mail settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// EmailChannel sends reminders over SMTP.
type EmailChannel struct {
	client  mailSender
	from    string
	baseURL string
}

// NewEmailChannel dials nothing up front; a connection is opened per send.
// baseURL is used for the unsubscribe link and may be empty.
func NewEmailChannel(cfg SMTPConfig, baseURL string) (*EmailChannel, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPortPolicy(mail.TLSMandatory),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	if cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(cfg.Timeout))
	}
	c, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	return newEmailChannel(c, from, baseURL), nil
}

func newEmailChannel(s mailSender, from, baseURL string) *EmailChannel {
	return &EmailChannel{client: s, from: from, baseURL: baseURL}
}

// Send implements Channel.
func (e *EmailChannel) Send(ctx context.Context, p domain.Principal, c contests.Contest, occurrence time.Time) error {
	to := strings.TrimSpace(p.Email)
	if to == "" {
		return fmt.Errorf("%w: email for %s", ErrMissingContact, p.ID)
	}
	m := mail.NewMsg()
	if err := m.From(e.from); err != nil {
		return fmt.Errorf("%w: from address: %w", ErrTransport, err)
	}
	if err := m.To(to); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrMissingContact, to, err)
	}
	m.Subject(Subject(c))
	m.SetBodyString(mail.TypeTextPlain, Body(p, c, occurrence, UnsubscribeURL(e.baseURL, to, c.Name)))

	if err := e.client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("%w: smtp: %w", ErrTransport, err)
	}
	return nil
}
