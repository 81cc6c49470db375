// Package email implements a mailbox channel: inbound mail is polled over
// IMAP and replies go out over SMTP.
package email

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/chanhub/internal/channel/adapter"
	"github.com/soyeahso/chanhub/internal/config"
	"github.com/soyeahso/chanhub/internal/domain"
	"github.com/soyeahso/chanhub/internal/logging"
)

const (
	defaultPollInterval = 30 * time.Second
	defaultMailbox      = "INBOX"
	defaultSubject      = "Re: your message"

	// Listen gives up after this many consecutive failed polls.
	maxPollFailures = 3
)

var errNoRecipient = errors.New("no recipient address")

// inboundMail is one unseen message pulled from the mailbox.
type inboundMail struct {
	ID      string
	From    string
	Subject string
	Body    string
}

// mailbox is the IMAP side of the channel.
type mailbox interface {
	// FetchUnseen returns unseen messages and marks them seen.
	FetchUnseen(ctx context.Context) ([]inboundMail, error)
	// Ping logs in and out again.
	Ping(ctx context.Context) error
}

// mailer is the SMTP side of the channel.
type mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Channel implements domain.Channel for email.
type Channel struct {
	adapter.Base
	cfg      config.EmailConfig
	interval time.Duration
	box      mailbox
	out      mailer
}

// New creates an email channel.
func New(cfg config.EmailConfig, log *logging.Logger) *Channel {
	c := &Channel{
		Base:     adapter.NewBase("email", cfg.ChannelOptions, log),
		cfg:      cfg,
		interval: cfg.PollInterval,
	}
	if c.interval <= 0 {
		c.interval = defaultPollInterval
	}
	c.box = newIMAPMailbox(cfg)
	c.out = newSMTPMailer(cfg)
	return c
}

// Listen polls the mailbox immediately and then every poll interval.
// Isolated poll failures are logged; a run of them ends Listen with an
// error so the registry can restart it.
func (c *Channel) Listen(ctx context.Context, out chan<- domain.ChannelMessage) error {
	c.Log().Info().
		Str("host", c.cfg.IMAPHost).
		Dur("interval", c.interval).
		Msg("polling mailbox")

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	failures := 0
	for {
		err := c.poll(ctx, out)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			failures++
			c.Log().Warn().Err(err).Int("failures", failures).Msg("mailbox poll failed")
			if failures >= maxPollFailures {
				return domain.NewTransportError(c.Name(), "listen", err)
			}
		default:
			failures = 0
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (c *Channel) poll(ctx context.Context, out chan<- domain.ChannelMessage) error {
	mails, err := c.box.FetchUnseen(ctx)
	if err != nil {
		return err
	}
	for _, m := range mails {
		text := m.Body
		if text == "" {
			text = m.Subject
		}
		if m.From == "" || text == "" {
			continue
		}
		if err := c.Emit(ctx, out, c.NewMessage(m.ID, m.From, m.From, text)); err != nil {
			return err
		}
	}
	return nil
}

// Send mails message to the recipient address.
func (c *Channel) Send(ctx context.Context, message, recipient string) error {
	if recipient == "" {
		return domain.NewTransportError(c.Name(), "send", adapter.Permanent(errNoRecipient))
	}
	subject := c.cfg.Subject
	if subject == "" {
		subject = defaultSubject
	}
	return c.Deliver(ctx, func(ctx context.Context) error {
		return c.out.Send(ctx, recipient, subject, message)
	})
}

// HealthCheck logs in to the IMAP server.
func (c *Channel) HealthCheck(ctx context.Context) bool {
	if err := c.box.Ping(ctx); err != nil {
		c.Log().Debug().Err(fmt.Errorf("imap: %w", err)).Msg("health check failed")
		return false
	}
	return true
}
