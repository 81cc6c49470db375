package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/soyeahso/chanhub/internal/config"
)

const defaultCommandTimeout = 10 * time.Second

// CommandHandler returns a handler that runs command through sh -c with
// the JSON-encoded payload on stdin. CHANHUB_EVENT carries the event name.
func CommandHandler(command string, timeout time.Duration) Handler {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	return func(ctx context.Context, p Payload) error {
		body, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		cmd.Stdin = bytes.NewReader(body)
		cmd.Env = append(os.Environ(), "CHANHUB_EVENT="+p.Event)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		cmd.WaitDelay = time.Second

		if err := cmd.Run(); err != nil {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return fmt.Errorf("hook command %q: %w: %s", command, err, msg)
			}
			return fmt.Errorf("hook command %q: %w", command, err)
		}
		return nil
	}
}

// RegisterCommands installs the command hooks listed in cfg and returns
// how many were registered.
func (m *Manager) RegisterCommands(cfg config.HooksConfig) int {
	byEvent := map[string][]config.HookEntry{
		EventGatewayStart:     cfg.GatewayStart,
		EventGatewayStop:      cfg.GatewayStop,
		EventMessageReceived:  cfg.MessageReceived,
		EventMessageSending:   cfg.MessageSending,
		EventMessageFailed:    cfg.MessageFailed,
		EventChannelFailed:    cfg.ChannelFailed,
		EventChannelUnhealthy: cfg.ChannelUnhealthy,
	}

	n := 0
	for _, event := range AllEvents {
		for i, entry := range byEvent[event] {
			if strings.TrimSpace(entry.Command) == "" {
				continue
			}
			m.On(event, fmt.Sprintf("command:%s:%d", event, i), CommandHandler(entry.Command, entry.Timeout))
			n++
		}
	}
	return n
}
