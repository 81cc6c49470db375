// Package routing drains the shared inbox and answers each message through
// the adapter it came from.
package routing

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/soyeahso/chanhub/internal/channel"
	"github.com/soyeahso/chanhub/internal/domain"
	"github.com/soyeahso/chanhub/internal/hooks"
	"github.com/soyeahso/chanhub/internal/logging"
)

const defaultSendTimeout = 30 * time.Second

// Stats counts what the router has done since it was created.
type Stats struct {
	Received int64 `json:"received"`
	Replied  int64 `json:"replied"`
	Dropped  int64 `json:"dropped"`
	Failed   int64 `json:"failed"`
}

// Router routes inbound messages to the responder and replies to channels.
type Router struct {
	channels    *channel.Registry
	responder   Responder
	hooks       *hooks.Manager
	sendTimeout time.Duration
	log         *logging.Logger

	received atomic.Int64
	replied  atomic.Int64
	dropped  atomic.Int64
	failed   atomic.Int64
}

// NewRouter creates a message router. A sendTimeout of zero uses 30s.
func NewRouter(channels *channel.Registry, responder Responder, sendTimeout time.Duration, log *logging.Logger) *Router {
	if responder == nil {
		responder = NoopResponder{}
	}
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	return &Router{
		channels:    channels,
		responder:   responder,
		sendTimeout: sendTimeout,
		log:         log.Sub("routing"),
	}
}

// SetHooks attaches a hook manager for message events.
func (r *Router) SetHooks(h *hooks.Manager) {
	r.hooks = h
}

// Run handles messages from in one at a time until in is closed and
// drained. Cancelling ctx does not stop the loop: messages already queued
// when shutdown starts are still answered.
func (r *Router) Run(ctx context.Context, in <-chan domain.ChannelMessage) {
	r.log.Debug().Msg("dispatch loop started")
	for msg := range in {
		r.HandleInbound(ctx, msg)
	}
	r.log.Debug().Msg("dispatch loop finished")
}

// respondTimeout bounds a Respond call. Responders that carry their own
// timeout keep it; the rest share the send timeout.
func (r *Router) respondTimeout() time.Duration {
	if b, ok := r.responder.(interface{ RespondTimeout() time.Duration }); ok {
		if d := b.RespondTimeout(); d > 0 {
			return d
		}
	}
	return r.sendTimeout
}

// HandleInbound asks the responder for a reply to msg and sends it through
// the originating channel.
func (r *Router) HandleInbound(ctx context.Context, msg domain.ChannelMessage) {
	r.received.Add(1)
	ctx = context.WithoutCancel(ctx)

	r.log.Info().
		Str("channel", msg.ChannelName).
		Str("from", msg.SenderID).
		Str("id", msg.ID).
		Msg("routing inbound message")
	r.emit(ctx, hooks.EventMessageReceived, msg, nil)

	rctx, cancel := context.WithTimeout(ctx, r.respondTimeout())
	reply, err := r.responder.Respond(rctx, msg)
	cancel()
	if err != nil {
		r.failed.Add(1)
		r.log.Error().Err(err).
			Str("channel", msg.ChannelName).
			Str("from", msg.SenderID).
			Msg("responder failed")
		r.emit(ctx, hooks.EventMessageFailed, msg, map[string]any{"error": err.Error(), "stage": "respond"})
		return
	}
	if reply == "" {
		return
	}

	ch, ok := r.channels.Get(msg.ChannelName)
	if !ok {
		r.dropped.Add(1)
		r.log.Warn().Str("channel", msg.ChannelName).Msg("channel not found for reply, dropping")
		return
	}

	target := msg.Recipient()
	r.emit(ctx, hooks.EventMessageSending, msg, map[string]any{"to": target, "reply": reply})

	sctx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()
	start := time.Now()
	if err := ch.Send(sctx, reply, target); err != nil {
		r.failed.Add(1)
		r.log.Error().Err(err).
			Str("channel", msg.ChannelName).
			Str("to", target).
			Msg("failed to send reply")
		r.emit(ctx, hooks.EventMessageFailed, msg, map[string]any{"error": err.Error(), "stage": "send", "to": target})
		return
	}

	r.replied.Add(1)
	r.log.Info().
		Str("channel", msg.ChannelName).
		Str("to", target).
		Dur("duration", time.Since(start)).
		Msg("reply sent")
}

// SendTo sends text to recipient on the named channel.
func (r *Router) SendTo(ctx context.Context, channelName, recipient, text string) error {
	ch, ok := r.channels.Get(channelName)
	if !ok {
		return fmt.Errorf("channel not found: %s", channelName)
	}
	ctx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()
	return ch.Send(ctx, text, recipient)
}

// Stats returns a snapshot of the router counters.
func (r *Router) Stats() Stats {
	return Stats{
		Received: r.received.Load(),
		Replied:  r.replied.Load(),
		Dropped:  r.dropped.Load(),
		Failed:   r.failed.Load(),
	}
}

func (r *Router) emit(ctx context.Context, event string, msg domain.ChannelMessage, extra map[string]any) {
	if r.hooks == nil {
		return
	}
	data := map[string]any{
		"channel": msg.ChannelName,
		"sender":  msg.SenderID,
		"id":      msg.ID,
		"text":    msg.Text,
	}
	for k, v := range extra {
		data[k] = v
	}
	r.hooks.EmitAsync(ctx, event, data)
}
