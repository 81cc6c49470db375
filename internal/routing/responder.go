package routing

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/soyeahso/chanhub/internal/config"
	"github.com/soyeahso/chanhub/internal/domain"
)

// Responder produces the reply to an inbound message. An empty reply means
// nothing is sent.
type Responder interface {
	Respond(ctx context.Context, msg domain.ChannelMessage) (string, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, msg domain.ChannelMessage) (string, error)

func (f ResponderFunc) Respond(ctx context.Context, msg domain.ChannelMessage) (string, error) {
	return f(ctx, msg)
}

// EchoResponder replies with the message text, optionally prefixed.
type EchoResponder struct {
	Prefix string
}

func (e EchoResponder) Respond(_ context.Context, msg domain.ChannelMessage) (string, error) {
	return e.Prefix + msg.Text, nil
}

// NoopResponder never replies.
type NoopResponder struct{}

func (NoopResponder) Respond(context.Context, domain.ChannelMessage) (string, error) {
	return "", nil
}

const defaultCommandTimeout = 30 * time.Second

// CommandResponder runs Command through sh -c with the message text on
// stdin. Trimmed stdout is the reply.
type CommandResponder struct {
	Command string
	Timeout time.Duration
}

// RespondTimeout is Timeout or the 30s default.
func (c CommandResponder) RespondTimeout() time.Duration {
	if c.Timeout <= 0 {
		return defaultCommandTimeout
	}
	return c.Timeout
}

func (c CommandResponder) Respond(ctx context.Context, msg domain.ChannelMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.RespondTimeout())
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", c.Command)
	cmd.Stdin = strings.NewReader(msg.Text)
	cmd.Env = append(os.Environ(),
		"CHANHUB_CHANNEL="+msg.ChannelName,
		"CHANHUB_SENDER="+msg.SenderID,
		"CHANHUB_MESSAGE_ID="+msg.ID,
		"CHANHUB_REPLY_TO="+msg.Recipient(),
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		if s := strings.TrimSpace(stderr.String()); s != "" {
			return "", fmt.Errorf("responder command: %w: %s", err, s)
		}
		return "", fmt.Errorf("responder command: %w", err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// NewResponder builds the responder selected by cfg.Mode.
func NewResponder(cfg config.ResponderConfig) (Responder, error) {
	switch cfg.Mode {
	case "", "echo":
		return EchoResponder{Prefix: cfg.Prefix}, nil
	case "command":
		if strings.TrimSpace(cfg.Command) == "" {
			return nil, &config.ConfigError{Message: "responder.command is required in command mode"}
		}
		return CommandResponder{Command: cfg.Command, Timeout: cfg.Timeout}, nil
	case "none":
		return NoopResponder{}, nil
	default:
		return nil, &config.ConfigError{Message: fmt.Sprintf("unknown responder mode %q", cfg.Mode)}
	}
}
