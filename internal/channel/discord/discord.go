// Package discord implements the Discord bot channel on a gateway session.
package discord

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/soyeahso/chanhub/internal/channel/adapter"
	"github.com/soyeahso/chanhub/internal/config"
	"github.com/soyeahso/chanhub/internal/domain"
	"github.com/soyeahso/chanhub/internal/logging"
)

const maxMessageLen = 2000

var errNoRecipient = errors.New("no recipient channel id")

// session is the subset of *discordgo.Session the channel uses.
type session interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
}

// Channel implements domain.Channel for Discord.
type Channel struct {
	adapter.Base
	cfg        config.DiscordConfig
	newSession func(token string) (session, error)
	botID      atomic.Value // string

	mu   sync.Mutex
	sess session
}

// New creates a Discord channel.
func New(cfg config.DiscordConfig, log *logging.Logger) *Channel {
	return &Channel{
		Base:       adapter.NewBase("discord", cfg.ChannelOptions, log),
		cfg:        cfg,
		newSession: dialSession,
	}
}

func dialSession(token string) (session, error) {
	if !strings.HasPrefix(token, "Bot ") {
		token = "Bot " + token
	}
	s, err := discordgo.New(token)
	if err != nil {
		return nil, err
	}
	// Handlers run on the event loop in arrival order.
	s.SyncEvents = true
	s.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	return s, nil
}

func (c *Channel) currentSession() (session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		return c.sess, nil
	}
	s, err := c.newSession(c.cfg.Token)
	if err != nil {
		return nil, err
	}
	c.sess = s
	return s, nil
}

// Listen opens the gateway session and emits MESSAGE_CREATE events until
// ctx is cancelled.
func (c *Channel) Listen(ctx context.Context, out chan<- domain.ChannelMessage) error {
	s, err := c.newSession(c.cfg.Token)
	if err != nil {
		return domain.NewTransportError(c.Name(), "listen", err)
	}

	removeReady := s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		if r.User != nil {
			c.botID.Store(r.User.ID)
			c.Log().Info().Str("user", r.User.Username).Msg("connected to Discord")
		}
	})
	removeMsg := s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if msg, ok := c.toMessage(m); ok {
			_ = c.Emit(ctx, out, msg)
		}
	})
	defer removeReady()
	defer removeMsg()

	if err := s.Open(); err != nil {
		return domain.NewTransportError(c.Name(), "listen", err)
	}
	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()

	<-ctx.Done()
	if err := s.Close(); err != nil {
		c.Log().Debug().Err(err).Msg("closing Discord session")
	}
	return nil
}

func (c *Channel) selfID() string {
	id, _ := c.botID.Load().(string)
	return id
}

func (c *Channel) toMessage(m *discordgo.MessageCreate) (domain.ChannelMessage, bool) {
	if m == nil || m.Message == nil || m.Author == nil || m.Author.Bot {
		return domain.ChannelMessage{}, false
	}
	self := c.selfID()
	if self != "" && m.Author.ID == self {
		return domain.ChannelMessage{}, false
	}

	content := m.Content
	if m.GuildID != "" && c.cfg.MentionOnly {
		if !mentions(m.Mentions, self) {
			return domain.ChannelMessage{}, false
		}
		content = stripMention(content, self)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.ChannelMessage{}, false
	}
	return c.NewMessage(m.ID, m.Author.ID, m.ChannelID, content), true
}

func mentions(users []*discordgo.User, id string) bool {
	if id == "" {
		return false
	}
	for _, u := range users {
		if u != nil && u.ID == id {
			return true
		}
	}
	return false
}

func stripMention(content, id string) string {
	content = strings.ReplaceAll(content, "<@"+id+">", "")
	return strings.ReplaceAll(content, "<@!"+id+">", "")
}

// Send posts text to a Discord channel id in 2000-character chunks.
func (c *Channel) Send(ctx context.Context, message, recipient string) error {
	if recipient == "" {
		return domain.NewTransportError(c.Name(), "send", adapter.Permanent(errNoRecipient))
	}
	s, err := c.currentSession()
	if err != nil {
		return domain.NewTransportError(c.Name(), "send", err)
	}
	for _, chunk := range adapter.SplitMessage(message, maxMessageLen) {
		if err := c.Deliver(ctx, func(ctx context.Context) error {
			_, err := s.ChannelMessageSend(recipient, chunk, discordgo.WithContext(ctx))
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}

// HealthCheck fetches the bot's own user.
func (c *Channel) HealthCheck(ctx context.Context) bool {
	s, err := c.currentSession()
	if err != nil {
		return false
	}
	_, err = s.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		c.Log().Debug().Err(err).Msg("health check failed")
	}
	return err == nil
}
