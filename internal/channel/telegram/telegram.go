// Package telegram implements the Telegram bot channel using long polling.
//
// Delivery is best effort across shutdown: the poller confirms an update's
// offset when it fetches it, so updates fetched but not yet emitted when
// Listen is cancelled are not redelivered.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/soyeahso/chanhub/internal/channel/adapter"
	"github.com/soyeahso/chanhub/internal/config"
	"github.com/soyeahso/chanhub/internal/domain"
	"github.com/soyeahso/chanhub/internal/logging"
)

const (
	maxMessageLen      = 4000
	defaultPollTimeout = 30
)

var setLoggerOnce sync.Once

// Channel implements domain.Channel for Telegram.
type Channel struct {
	adapter.Base
	cfg    config.TelegramConfig
	client *http.Client

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

// New creates a Telegram channel. No network traffic happens until
// Listen, Send or HealthCheck is called.
func New(cfg config.TelegramConfig, log *logging.Logger) *Channel {
	c := &Channel{
		Base:   adapter.NewBase("telegram", cfg.ChannelOptions, log),
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(pollTimeout(cfg)+15) * time.Second},
	}
	setLoggerOnce.Do(func() {
		_ = tgbotapi.SetLogger(botLogger{log: c.Log()})
	})
	return c
}

func pollTimeout(cfg config.TelegramConfig) int {
	if cfg.PollTimeout > 0 {
		return cfg.PollTimeout
	}
	return defaultPollTimeout
}

func (c *Channel) endpoint() string {
	if c.cfg.APIEndpoint != "" {
		return c.cfg.APIEndpoint
	}
	return tgbotapi.APIEndpoint
}

// newBot authenticates against the Bot API. Each Listen call gets its own
// bot because stopping updates cannot be undone on an existing one.
func (c *Channel) newBot() (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(c.cfg.Token, c.endpoint(), c.client)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.bot = bot
	c.mu.Unlock()
	return bot, nil
}

func (c *Channel) currentBot() (*tgbotapi.BotAPI, error) {
	c.mu.Lock()
	bot := c.bot
	c.mu.Unlock()
	if bot != nil {
		return bot, nil
	}
	return c.newBot()
}

// Listen long-polls for updates until ctx is cancelled.
func (c *Channel) Listen(ctx context.Context, out chan<- domain.ChannelMessage) error {
	bot, err := c.newBot()
	if err != nil {
		return domain.NewTransportError(c.Name(), "listen", err)
	}
	c.Log().Info().Str("username", bot.Self.UserName).Msg("connected to Telegram")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout(c.cfg)
	updates := bot.GetUpdatesChan(u)
	defer bot.StopReceivingUpdates()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			msg, ok := c.toMessage(update)
			if !ok {
				continue
			}
			if err := c.Emit(ctx, out, msg); err != nil {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Channel) toMessage(update tgbotapi.Update) (domain.ChannelMessage, bool) {
	m := update.Message
	if m == nil || m.From == nil {
		return domain.ChannelMessage{}, false
	}
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	if text == "" {
		return domain.ChannelMessage{}, false
	}

	senderID := strconv.FormatInt(m.From.ID, 10)
	if m.From.UserName != "" {
		senderID += "|" + m.From.UserName
	}
	var chatID string
	if m.Chat != nil {
		chatID = strconv.FormatInt(m.Chat.ID, 10)
	}
	return c.NewMessage(strconv.Itoa(m.MessageID), senderID, chatID, text), true
}

// Send delivers text to a chat id, split into Telegram-sized chunks.
func (c *Channel) Send(ctx context.Context, message, recipient string) error {
	chatID, err := parseChatID(recipient)
	if err != nil {
		return domain.NewTransportError(c.Name(), "send", err)
	}
	bot, err := c.currentBot()
	if err != nil {
		return domain.NewTransportError(c.Name(), "send", err)
	}

	for _, chunk := range adapter.SplitMessage(message, maxMessageLen) {
		msg := tgbotapi.NewMessage(chatID, chunk)
		if err := c.Deliver(ctx, func(context.Context) error {
			_, err := bot.Send(msg)
			return err
		}); err != nil {
			return err
		}
	}
	c.Log().Debug().Int64("chat", chatID).Msg("sent Telegram message")
	return nil
}

// HealthCheck calls getMe.
func (c *Channel) HealthCheck(ctx context.Context) bool {
	bot, err := c.currentBot()
	if err != nil {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	_, err = bot.GetMe()
	return err == nil
}

// parseChatID accepts a chat id or a compound "id|username" sender id.
func parseChatID(s string) (int64, error) {
	id, _, _ := strings.Cut(s, "|")
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, adapter.Permanent(fmt.Errorf("invalid chat id %q", s))
	}
	return n, nil
}

// botLogger routes the Bot API library's own logging through zerolog.
type botLogger struct {
	log *logging.Logger
}

func (l botLogger) Println(v ...any) {
	l.log.Debug().Msg(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l botLogger) Printf(format string, v ...any) {
	l.log.Debug().Msgf(format, v...)
}
