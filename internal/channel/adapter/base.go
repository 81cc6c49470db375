// Package adapter holds the plumbing shared by every platform adapter:
// allow-lists, message construction, backpressured emission and
// rate-limited, retried delivery.
package adapter

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/chanhub/internal/config"
	"github.com/soyeahso/chanhub/internal/domain"
	"github.com/soyeahso/chanhub/internal/logging"
	"golang.org/x/time/rate"
)

const defaultRetryBackoff = time.Second

// Base is embedded by concrete adapters.
type Base struct {
	name      string
	allowFrom []string
	limiter   *rate.Limiter // nil = unlimited
	retries   int
	backoff   time.Duration
	log       *logging.Logger
}

// NewBase builds the shared state for the adapter called name.
func NewBase(name string, opts config.ChannelOptions, log *logging.Logger) Base {
	b := Base{
		name:      name,
		allowFrom: opts.AllowFrom,
		retries:   opts.SendRetries,
		backoff:   opts.RetryBackoff,
		log:       log.Sub(name),
	}
	if b.backoff <= 0 {
		b.backoff = defaultRetryBackoff
	}
	if opts.RatePerSec > 0 {
		burst := int(math.Ceil(opts.RatePerSec))
		b.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}
	return b
}

// Name returns the adapter name.
func (b *Base) Name() string { return b.name }

// Log returns the adapter-scoped logger.
func (b *Base) Log() *logging.Logger { return b.log }

// IsAllowed checks senderID against the allow-list. An empty list allows
// everyone. Compound ids of the form "id|username" match on any part.
func (b *Base) IsAllowed(senderID string) bool {
	if len(b.allowFrom) == 0 {
		return true
	}
	for _, allowed := range b.allowFrom {
		if allowed == senderID {
			return true
		}
	}
	if !strings.Contains(senderID, "|") {
		return false
	}
	for _, part := range strings.Split(senderID, "|") {
		if part == "" {
			continue
		}
		for _, allowed := range b.allowFrom {
			if allowed == part {
				return true
			}
		}
	}
	return false
}

// NewMessage stamps a ChannelMessage for this adapter. An empty id is
// replaced with a random UUID.
func (b *Base) NewMessage(id, senderID, replyTo, text string) domain.ChannelMessage {
	if id == "" {
		id = uuid.NewString()
	}
	return domain.ChannelMessage{
		ID:          id,
		ChannelName: b.name,
		SenderID:    senderID,
		ReplyTo:     replyTo,
		Text:        text,
		ReceivedAt:  time.Now(),
	}
}

// Emit pushes msg onto out, blocking while out is full. Messages from
// senders outside the allow-list are dropped and Emit returns nil. The
// only error is ctx.Err() when cancelled while waiting.
func (b *Base) Emit(ctx context.Context, out chan<- domain.ChannelMessage, msg domain.ChannelMessage) error {
	if !b.IsAllowed(msg.SenderID) {
		b.log.Debug().Str("sender", msg.SenderID).Msg("sender not in allow-list, dropping message")
		return nil
	}
	select {
	case out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// permanentError marks a send failure that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Deliver does not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Deliver runs send under the adapter's rate limit, retrying transient
// failures up to the configured count. The final failure is returned as a
// *domain.TransportError.
func (b *Base) Deliver(ctx context.Context, send func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= b.retries; attempt++ {
		if attempt > 0 {
			b.log.Debug().Err(err).Int("attempt", attempt).Msg("retrying send")
			select {
			case <-time.After(b.backoff * time.Duration(attempt)):
			case <-ctx.Done():
				return domain.NewTransportError(b.name, "send", ctx.Err())
			}
		}
		if b.limiter != nil {
			if werr := b.limiter.Wait(ctx); werr != nil {
				return domain.NewTransportError(b.name, "send", werr)
			}
		}
		if err = send(ctx); err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) || ctx.Err() != nil {
			break
		}
	}
	return domain.NewTransportError(b.name, "send", err)
}
