// Package qq implements the QQ guild bot channel: a websocket gateway for
// inbound messages and the REST API for replies.
package qq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/soyeahso/chanhub/internal/channel/adapter"
	"github.com/soyeahso/chanhub/internal/config"
	"github.com/soyeahso/chanhub/internal/domain"
	"github.com/soyeahso/chanhub/internal/logging"
	"github.com/soyeahso/chanhub/internal/version"
	"golang.org/x/oauth2"
)

const (
	apiBase        = "https://api.sgroup.qq.com"
	sandboxAPIBase = "https://sandbox.api.sgroup.qq.com"
	tokenPath      = "/app/getAppAccessToken"

	defaultHeartbeat = 40 * time.Second
	maxMessageLen    = 2000

	// PUBLIC_GUILD_MESSAGES | DIRECT_MESSAGE
	intents = 1<<30 | 1<<12
)

// Gateway opcodes.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11
)

var (
	errNoRecipient = errors.New("no recipient channel id")
	leadingMention = regexp.MustCompile(`^\s*<@!?\w+>\s*`)
)

type payload struct {
	Op int             `json:"op"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
	D  json.RawMessage `json:"d,omitempty"`
}

type messageEvent struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	Author    struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Bot      bool   `json:"bot"`
	} `json:"author"`
}

// Channel implements domain.Channel for QQ.
type Channel struct {
	adapter.Base
	cfg       config.QQConfig
	apiBase   string
	client    *http.Client
	tokens    oauth2.TokenSource
	dialer    *websocket.Dialer
	heartbeat time.Duration
}

// New creates a QQ channel.
func New(cfg config.QQConfig, log *logging.Logger) *Channel {
	base := cfg.APIBase
	if base == "" {
		base = apiBase
		if cfg.Sandbox {
			base = sandboxAPIBase
		}
	}
	base = strings.TrimRight(base, "/")
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = base + tokenPath
	}
	client := &http.Client{Timeout: 15 * time.Second}
	return &Channel{
		Base:      adapter.NewBase("qq", cfg.ChannelOptions, log),
		cfg:       cfg,
		apiBase:   base,
		client:    client,
		tokens:    newTokenSource(tokenURL, cfg.AppID, cfg.AppSecret, &http.Client{Timeout: tokenTimeout}),
		dialer:    &websocket.Dialer{HandshakeTimeout: 15 * time.Second, Proxy: http.ProxyFromEnvironment},
		heartbeat: defaultHeartbeat,
	}
}

// authHeader waits for a token until ctx ends. An abandoned fetch keeps
// running in the background and still fills the cache.
func (c *Channel) authHeader(ctx context.Context) (string, error) {
	type result struct {
		tok *oauth2.Token
		err error
	}
	done := make(chan result, 1)
	go func() {
		tok, err := c.tokens.Token()
		done <- result{tok, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", r.err
		}
		return "QQBot " + r.tok.AccessToken, nil
	case <-ctx.Done():
		return "", fmt.Errorf("fetch access token: %w", ctx.Err())
	}
}

// do sends an authorized API request and returns the response body.
func (c *Channel) do(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	auth, err := c.authHeader(ctx)
	if err != nil {
		return nil, err
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("User-Agent", version.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		err := fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(raw)))
		if resp.StatusCode/100 == 4 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, adapter.Permanent(err)
		}
		return nil, err
	}
	return raw, nil
}

func (c *Channel) gatewayURL(ctx context.Context) (string, error) {
	raw, err := c.do(ctx, http.MethodGet, "/gateway", nil)
	if err != nil {
		return "", err
	}
	var result struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("decode gateway: %w", err)
	}
	if result.URL == "" {
		return "", errors.New("no url in gateway response")
	}
	return result.URL, nil
}

// Listen connects to the gateway, identifies and emits message events
// until ctx is cancelled or the gateway drops the session.
func (c *Channel) Listen(ctx context.Context, out chan<- domain.ChannelMessage) error {
	wsURL, err := c.gatewayURL(ctx)
	if err != nil {
		return domain.NewTransportError(c.Name(), "listen", err)
	}
	conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return domain.NewTransportError(c.Name(), "listen", fmt.Errorf("dial gateway: %w", err))
	}
	defer conn.Close()
	c.Log().Info().Str("url", wsURL).Msg("connected to QQ gateway")

	if err := c.identify(ctx, conn); err != nil {
		return domain.NewTransportError(c.Name(), "listen", err)
	}

	readCtx, stopRead := context.WithCancel(ctx)
	defer stopRead()
	frames := make(chan payload)
	readErr := make(chan error, 1)
	go c.readLoop(readCtx, conn, frames, readErr)

	heartbeat := time.NewTicker(c.heartbeat)
	defer heartbeat.Stop()
	var lastSeq *int64

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return nil

		case err := <-readErr:
			if ctx.Err() != nil {
				return nil
			}
			return domain.NewTransportError(c.Name(), "listen", err)

		case <-heartbeat.C:
			if err := conn.WriteJSON(map[string]interface{}{"op": opHeartbeat, "d": lastSeq}); err != nil {
				return domain.NewTransportError(c.Name(), "listen", fmt.Errorf("heartbeat: %w", err))
			}

		case p := <-frames:
			switch p.Op {
			case opHello:
				var hello struct {
					HeartbeatInterval int64 `json:"heartbeat_interval"`
				}
				if json.Unmarshal(p.D, &hello) == nil && hello.HeartbeatInterval > 0 {
					heartbeat.Reset(time.Duration(hello.HeartbeatInterval) * time.Millisecond)
				}
			case opDispatch:
				if p.S != nil {
					seq := *p.S
					lastSeq = &seq
				}
				if msg, ok := c.toMessage(p); ok {
					if err := c.Emit(ctx, out, msg); err != nil {
						return nil
					}
				}
			case opReconnect, opInvalidSession:
				return domain.NewTransportError(c.Name(), "listen", fmt.Errorf("gateway requested reconnect (op %d)", p.Op))
			case opHeartbeatAck:
			default:
				c.Log().Debug().Int("op", p.Op).Msg("ignoring gateway frame")
			}
		}
	}
}

func (c *Channel) identify(ctx context.Context, conn *websocket.Conn) error {
	auth, err := c.authHeader(ctx)
	if err != nil {
		return err
	}
	return conn.WriteJSON(map[string]interface{}{
		"op": opIdentify,
		"d": map[string]interface{}{
			"token":   auth,
			"intents": intents,
			"shard":   []int{0, 1},
			"properties": map[string]string{
				"$os":      "linux",
				"$browser": "chanhub",
				"$device":  "chanhub",
			},
		},
	})
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn, frames chan<- payload, errs chan<- error) {
	for {
		var p payload
		if err := conn.ReadJSON(&p); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				c.Log().Debug().Err(err).Msg("skipping malformed gateway frame")
				continue
			}
			errs <- err
			return
		}
		select {
		case frames <- p:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Channel) toMessage(p payload) (domain.ChannelMessage, bool) {
	if p.T != "AT_MESSAGE_CREATE" && p.T != "MESSAGE_CREATE" {
		return domain.ChannelMessage{}, false
	}
	var ev messageEvent
	if err := json.Unmarshal(p.D, &ev); err != nil {
		c.Log().Debug().Err(err).Msg("malformed message event")
		return domain.ChannelMessage{}, false
	}
	if ev.Author.Bot || ev.ChannelID == "" {
		return domain.ChannelMessage{}, false
	}
	text := strings.TrimSpace(leadingMention.ReplaceAllString(ev.Content, ""))
	if text == "" {
		return domain.ChannelMessage{}, false
	}
	sender := ev.Author.ID
	if sender == "" {
		sender = ev.ChannelID
	}
	return c.NewMessage(ev.ID, sender, ev.ChannelID, text), true
}

// Send posts text to a guild channel.
func (c *Channel) Send(ctx context.Context, message, recipient string) error {
	if recipient == "" {
		return domain.NewTransportError(c.Name(), "send", adapter.Permanent(errNoRecipient))
	}
	path := "/channels/" + url.PathEscape(recipient) + "/messages"
	for _, chunk := range adapter.SplitMessage(message, maxMessageLen) {
		if err := c.Deliver(ctx, func(ctx context.Context) error {
			_, err := c.do(ctx, http.MethodPost, path, map[string]string{"content": chunk})
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}

// HealthCheck fetches the bot's own user.
func (c *Channel) HealthCheck(ctx context.Context) bool {
	if _, err := c.do(ctx, http.MethodGet, "/users/@me", nil); err != nil {
		c.Log().Debug().Err(err).Msg("health check failed")
		return false
	}
	return true
}
