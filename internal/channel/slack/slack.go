// Package slack implements the Slack channel over Socket Mode.
package slack

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"

	slackgo "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/soyeahso/chanhub/internal/channel/adapter"
	"github.com/soyeahso/chanhub/internal/config"
	"github.com/soyeahso/chanhub/internal/domain"
	"github.com/soyeahso/chanhub/internal/logging"
)

const maxMessageLen = 4000

var errNoRecipient = errors.New("no recipient channel id")

// Channel implements domain.Channel for Slack.
type Channel struct {
	adapter.Base
	cfg    config.SlackConfig
	apiURL string // empty uses the public Slack API

	mu        sync.Mutex
	web       *slackgo.Client
	botUserID string
}

// New creates a Slack channel.
func New(cfg config.SlackConfig, log *logging.Logger) *Channel {
	return &Channel{
		Base: adapter.NewBase("slack", cfg.ChannelOptions, log),
		cfg:  cfg,
	}
}

func (c *Channel) client() *slackgo.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.web == nil {
		opts := []slackgo.Option{slackgo.OptionAppLevelToken(c.cfg.AppToken)}
		if c.apiURL != "" {
			opts = append(opts, slackgo.OptionAPIURL(c.apiURL))
		}
		c.web = slackgo.New(c.cfg.BotToken, opts...)
	}
	return c.web
}

func (c *Channel) selfID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.botUserID
}

// Listen connects over Socket Mode and emits message and app_mention
// events until ctx is cancelled.
func (c *Channel) Listen(ctx context.Context, out chan<- domain.ChannelMessage) error {
	web := c.client()
	auth, err := web.AuthTestContext(ctx)
	if err != nil {
		return domain.NewTransportError(c.Name(), "listen", err)
	}
	c.mu.Lock()
	c.botUserID = auth.UserID
	c.mu.Unlock()
	c.Log().Info().Str("user", auth.UserID).Str("team", auth.Team).Msg("connected to Slack")

	sm := socketmode.New(web)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- sm.RunContext(runCtx) }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-runErr:
			if ctx.Err() != nil {
				return nil
			}
			if err == nil {
				err = errors.New("socket mode connection closed")
			}
			return domain.NewTransportError(c.Name(), "listen", err)
		case evt, ok := <-sm.Events:
			if !ok {
				return nil
			}
			if err := c.handleEvent(ctx, out, evt, func(req socketmode.Request) { sm.Ack(req) }); err != nil {
				return nil
			}
		}
	}
}

// handleEvent acknowledges Events API envelopes and emits the message
// they carry. It returns an error only when ctx is cancelled mid-emit.
func (c *Channel) handleEvent(ctx context.Context, out chan<- domain.ChannelMessage, evt socketmode.Event, ack func(socketmode.Request)) error {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		c.Log().Debug().Msg("connecting to Slack socket mode")
		return nil
	case socketmode.EventTypeInvalidAuth:
		c.Log().Error().Msg("Slack rejected the app token")
		return nil
	case socketmode.EventTypeEventsAPI:
	default:
		return nil
	}
	if evt.Request != nil {
		ack(*evt.Request)
	}
	api, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return nil
	}
	msg, ok := c.toMessage(api.InnerEvent)
	if !ok {
		return nil
	}
	return c.Emit(ctx, out, msg)
}

func (c *Channel) toMessage(ev slackevents.EventsAPIInnerEvent) (domain.ChannelMessage, bool) {
	self := c.selfID()
	var user, channel, text, ts, threadTS string
	switch e := ev.Data.(type) {
	case *slackevents.MessageEvent:
		if e.SubType != "" || e.BotID != "" {
			return domain.ChannelMessage{}, false
		}
		// Mentions in channels also arrive as app_mention; handle them once.
		if e.ChannelType != "im" && self != "" && strings.Contains(e.Text, "<@"+self+">") {
			return domain.ChannelMessage{}, false
		}
		user, channel, text, ts, threadTS = e.User, e.Channel, e.Text, e.TimeStamp, e.ThreadTimeStamp
	case *slackevents.AppMentionEvent:
		if e.BotID != "" {
			return domain.ChannelMessage{}, false
		}
		user, channel, text, ts, threadTS = e.User, e.Channel, e.Text, e.TimeStamp, e.ThreadTimeStamp
	default:
		return domain.ChannelMessage{}, false
	}
	if user == "" || channel == "" || user == self {
		return domain.ChannelMessage{}, false
	}
	text = stripMention(text, self)
	if text == "" {
		return domain.ChannelMessage{}, false
	}

	replyTo := channel
	if c.cfg.ReplyInThread {
		if threadTS == "" {
			threadTS = ts
		}
		replyTo = channel + ":" + threadTS
	}
	return c.NewMessage(ts, user, replyTo, text), true
}

func stripMention(text, id string) string {
	if id != "" {
		re := regexp.MustCompile(`<@` + regexp.QuoteMeta(id) + `>\s*`)
		text = re.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}

// splitRecipient parses "channel" or "channel:thread_ts".
func splitRecipient(recipient string) (channel, thread string) {
	channel, thread, _ = strings.Cut(recipient, ":")
	return channel, thread
}

// Send posts text to a channel, threading the reply when the recipient
// carries a thread timestamp.
func (c *Channel) Send(ctx context.Context, message, recipient string) error {
	channel, thread := splitRecipient(recipient)
	if channel == "" {
		return domain.NewTransportError(c.Name(), "send", adapter.Permanent(errNoRecipient))
	}
	web := c.client()
	for _, chunk := range adapter.SplitMessage(message, maxMessageLen) {
		opts := []slackgo.MsgOption{slackgo.MsgOptionText(chunk, false)}
		if thread != "" {
			opts = append(opts, slackgo.MsgOptionTS(thread))
		}
		if err := c.Deliver(ctx, func(ctx context.Context) error {
			_, _, err := web.PostMessageContext(ctx, channel, opts...)
			return classify(err)
		}); err != nil {
			return err
		}
	}
	return nil
}

// classify marks Slack API errors that retrying cannot fix.
func classify(err error) error {
	var se slackgo.SlackErrorResponse
	if errors.As(err, &se) {
		switch se.Err {
		case "channel_not_found", "not_in_channel", "invalid_auth", "not_authed", "account_inactive", "msg_too_long":
			return adapter.Permanent(err)
		}
	}
	return err
}

// HealthCheck calls auth.test.
func (c *Channel) HealthCheck(ctx context.Context) bool {
	if _, err := c.client().AuthTestContext(ctx); err != nil {
		c.Log().Debug().Err(err).Msg("health check failed")
		return false
	}
	return true
}
