package routing

import (
	"context"
	"testing"
	"time"

	"github.com/soyeahso/chanhub/internal/config"
	"github.com/soyeahso/chanhub/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEchoResponder(t *testing.T) {
	reply, err := EchoResponder{Prefix: "> "}.Respond(context.Background(), domain.ChannelMessage{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "> hi", reply)
}

func TestCommandResponder(t *testing.T) {
	r := CommandResponder{Command: `printf '%s|%s|' "$CHANHUB_CHANNEL" "$CHANHUB_REPLY_TO"; tr a-z A-Z`}
	msg := domain.ChannelMessage{ChannelName: "irc", SenderID: "alice", ReplyTo: "#ops", Text: "status"}

	reply, err := r.Respond(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "irc|#ops|STATUS", reply)
}

func TestCommandResponder_Failure(t *testing.T) {
	r := CommandResponder{Command: "echo broken >&2; exit 3"}
	_, err := r.Respond(context.Background(), domain.ChannelMessage{Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestCommandResponder_Timeout(t *testing.T) {
	r := CommandResponder{Command: "sleep 5", Timeout: 50 * time.Millisecond}
	start := time.Now()
	_, err := r.Respond(context.Background(), domain.ChannelMessage{Text: "x"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestNewResponder(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.ResponderConfig
		want    Responder
		wantErr bool
	}{
		{"default is echo", config.ResponderConfig{}, EchoResponder{}, false},
		{"echo with prefix", config.ResponderConfig{Mode: "echo", Prefix: "bot: "}, EchoResponder{Prefix: "bot: "}, false},
		{"command", config.ResponderConfig{Mode: "command", Command: "cat", Timeout: time.Second}, CommandResponder{Command: "cat", Timeout: time.Second}, false},
		{"command without command", config.ResponderConfig{Mode: "command"}, nil, true},
		{"none", config.ResponderConfig{Mode: "none"}, NoopResponder{}, false},
		{"unknown", config.ResponderConfig{Mode: "llm"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewResponder(tt.cfg)
			if tt.wantErr {
				var ce *config.ConfigError
				assert.ErrorAs(t, err, &ce)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
