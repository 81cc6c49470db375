// Package irc implements the IRC messaging channel using the girc library.
package irc

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/lrstanley/girc"
	"github.com/soyeahso/chanhub/internal/channel/adapter"
	"github.com/soyeahso/chanhub/internal/config"
	"github.com/soyeahso/chanhub/internal/domain"
	"github.com/soyeahso/chanhub/internal/logging"
	"github.com/soyeahso/chanhub/internal/version"
)

// IRC lines are limited to 512 bytes including the command prefix.
const maxLineLen = 400

var errNoTarget = errors.New("no target specified")

// Channel implements domain.Channel for IRC.
type Channel struct {
	adapter.Base
	cfg config.IRCConfig

	mu     sync.RWMutex
	client *girc.Client
}

// New creates an IRC channel from configuration.
func New(cfg config.IRCConfig, log *logging.Logger) *Channel {
	return &Channel{
		Base: adapter.NewBase("irc", cfg.ChannelOptions, log),
		cfg:  cfg,
	}
}

func (c *Channel) port() int {
	if c.cfg.Port != 0 {
		return c.cfg.Port
	}
	if c.cfg.UseTLS {
		return 6697
	}
	return 6667
}

func (c *Channel) clientConfig() girc.Config {
	gircCfg := girc.Config{
		Server:  c.cfg.Server,
		Port:    c.port(),
		Nick:    c.cfg.Nick,
		User:    c.cfg.Nick,
		Name:    "chanhub IRC bot",
		SSL:     c.cfg.UseTLS,
		Version: version.UserAgent(),
	}
	if c.cfg.UseTLS {
		gircCfg.TLSConfig = &tls.Config{ServerName: c.cfg.Server}
	}
	if c.cfg.SASL && c.cfg.Password != "" {
		gircCfg.SASL = &girc.SASLPlain{User: c.cfg.Nick, Pass: c.cfg.Password}
	} else if c.cfg.Password != "" {
		gircCfg.ServerPass = c.cfg.Password
	}
	return gircCfg
}

func (c *Channel) current() *girc.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

// Listen connects to the server, joins the configured channels and emits
// PRIVMSG lines until ctx is cancelled or the connection drops.
func (c *Channel) Listen(ctx context.Context, out chan<- domain.ChannelMessage) error {
	client := girc.New(c.clientConfig())

	client.Handlers.Add(girc.CONNECTED, func(cl *girc.Client, _ girc.Event) {
		c.Log().Info().Str("nick", cl.GetNick()).Msg("connected to IRC")
		for _, ch := range c.cfg.Channels {
			c.Log().Debug().Str("channel", ch).Msg("joining channel")
			cl.Cmd.Join(ch)
		}
	})
	client.Handlers.Add(girc.PRIVMSG, func(cl *girc.Client, e girc.Event) {
		msg, ok := c.toMessage(e, cl.GetNick())
		if !ok {
			return
		}
		_ = c.Emit(ctx, out, msg)
	})
	client.Handlers.Add(girc.DISCONNECTED, func(_ *girc.Client, _ girc.Event) {
		c.Log().Warn().Msg("disconnected from IRC")
	})

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	c.Log().Info().
		Str("server", c.cfg.Server).
		Int("port", c.port()).
		Str("nick", c.cfg.Nick).
		Strs("channels", c.cfg.Channels).
		Bool("tls", c.cfg.UseTLS).
		Msg("connecting to IRC")

	// Connect blocks until the connection ends.
	errCh := make(chan error, 1)
	go func() { errCh <- client.Connect() }()

	select {
	case err := <-errCh:
		if err != nil {
			return domain.NewTransportError(c.Name(), "listen", err)
		}
		return domain.NewTransportError(c.Name(), "listen", errors.New("connection closed by server"))
	case <-ctx.Done():
		if client.IsConnected() {
			client.Quit("chanhub shutting down")
		}
		client.Close()
		return nil
	}
}

// toMessage converts a PRIVMSG into a ChannelMessage. Channel lines reply
// to the channel, private lines reply to the sender's nick.
func (c *Channel) toMessage(e girc.Event, self string) (domain.ChannelMessage, bool) {
	if e.Source == nil || len(e.Params) == 0 {
		return domain.ChannelMessage{}, false
	}
	if strings.EqualFold(e.Source.Name, self) {
		return domain.ChannelMessage{}, false
	}

	body := e.Last()
	if e.IsAction() {
		body = e.StripAction()
	}

	replyTo := e.Source.Name
	if e.IsFromChannel() {
		replyTo = e.Params[0]
		if c.cfg.MentionOnly {
			stripped, ok := stripMention(body, self)
			if !ok {
				return domain.ChannelMessage{}, false
			}
			body = stripped
		}
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return domain.ChannelMessage{}, false
	}
	return c.NewMessage("", e.Source.Name, replyTo, body), true
}

// stripMention reports whether body addresses nick and removes a leading
// "nick:" or "nick," address.
func stripMention(body, nick string) (string, bool) {
	if nick == "" {
		return body, false
	}
	lower := strings.ToLower(body)
	lowerNick := strings.ToLower(nick)
	if !strings.Contains(lower, lowerNick) {
		return body, false
	}
	if strings.HasPrefix(lower, lowerNick) {
		rest := body[len(nick):]
		rest = strings.TrimLeft(rest, ":,")
		return strings.TrimSpace(rest), true
	}
	return body, true
}

// Send delivers a message to an IRC channel or nick. Each newline starts a
// new PRIVMSG since IRC has no multi-line messages.
func (c *Channel) Send(ctx context.Context, message, recipient string) error {
	if recipient == "" {
		return domain.NewTransportError(c.Name(), "send", adapter.Permanent(errNoTarget))
	}
	lines := splitLines(message, maxLineLen)
	for _, line := range lines {
		if err := c.Deliver(ctx, func(context.Context) error {
			client := c.current()
			if client == nil || !client.IsConnected() {
				return domain.ErrNotConnected
			}
			client.Cmd.Message(recipient, line)
			return nil
		}); err != nil {
			return err
		}
	}

	c.Log().Debug().
		Str("to", recipient).
		Int("lines", len(lines)).
		Msg("sent IRC message")
	return nil
}

// HealthCheck reports whether the client holds a live connection. Before
// Start it falls back to dialing the configured server.
func (c *Channel) HealthCheck(ctx context.Context) bool {
	if client := c.current(); client != nil {
		return client.IsConnected()
	}
	if c.cfg.Server == "" {
		return false
	}

	addr := net.JoinHostPort(c.cfg.Server, strconv.Itoa(c.port()))
	var (
		conn net.Conn
		err  error
	)
	if c.cfg.UseTLS {
		d := &tls.Dialer{Config: &tls.Config{ServerName: c.cfg.Server}}
		conn, err = d.DialContext(ctx, "tcp", addr)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		c.Log().Debug().Err(err).Str("addr", addr).Msg("health dial failed")
		return false
	}
	_ = conn.Close()
	return true
}

// splitLines breaks text into PRIVMSG-sized lines, dropping blank ones.
func splitLines(text string, maxLen int) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, adapter.SplitMessage(line, maxLen)...)
	}
	return lines
}
