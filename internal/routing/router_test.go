package routing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/soyeahso/chanhub/internal/channel"
	"github.com/soyeahso/chanhub/internal/channel/channeltest"
	"github.com/soyeahso/chanhub/internal/config"
	"github.com/soyeahso/chanhub/internal/domain"
	"github.com/soyeahso/chanhub/internal/hooks"
	"github.com/soyeahso/chanhub/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

func newRegistry(t *testing.T, chans ...domain.Channel) *channel.Registry {
	t.Helper()
	reg := channel.NewRegistry(testLogger(), config.RuntimeConfig{})
	for _, ch := range chans {
		require.NoError(t, reg.Register(ch))
	}
	return reg
}

func inbound(channelName, sender, replyTo, text string) domain.ChannelMessage {
	return domain.ChannelMessage{
		ID:          "msg-1",
		ChannelName: channelName,
		SenderID:    sender,
		ReplyTo:     replyTo,
		Text:        text,
		ReceivedAt:  time.Now(),
	}
}

func TestRouter_HandleInbound_RepliesToSender(t *testing.T) {
	ch := channeltest.NewFake("telegram")
	router := NewRouter(newRegistry(t, ch), EchoResponder{}, 0, testLogger())

	router.HandleInbound(context.Background(), inbound("telegram", "alice", "", "Hi there"))

	sent := ch.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "alice", sent[0].Recipient)
	assert.Equal(t, "Hi there", sent[0].Text)
	assert.Equal(t, Stats{Received: 1, Replied: 1}, router.Stats())
}

func TestRouter_HandleInbound_ResponderTimeoutOutlivesSendTimeout(t *testing.T) {
	ch := channeltest.NewFake("irc")
	responder := CommandResponder{Command: "sleep 0.3; cat", Timeout: 2 * time.Minute}
	router := NewRouter(newRegistry(t, ch), responder, 50*time.Millisecond, testLogger())

	router.HandleInbound(context.Background(), inbound("irc", "bob", "#ops", "slow reply"))

	sent := ch.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "slow reply", sent[0].Text)
	assert.Equal(t, int64(0), router.Stats().Failed)
}

func TestRouter_HandleInbound_RepliesToChat(t *testing.T) {
	ch := channeltest.NewFake("irc")
	router := NewRouter(newRegistry(t, ch), EchoResponder{Prefix: "echo: "}, 0, testLogger())

	router.HandleInbound(context.Background(), inbound("irc", "bob", "#general", "Hello channel"))

	sent := ch.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "#general", sent[0].Recipient)
	assert.Equal(t, "echo: Hello channel", sent[0].Text)
}

func TestRouter_HandleInbound_UnknownChannel(t *testing.T) {
	ch := channeltest.NewFake("telegram")
	router := NewRouter(newRegistry(t, ch), EchoResponder{}, 0, testLogger())

	assert.NotPanics(t, func() {
		router.HandleInbound(context.Background(), inbound("matrix", "alice", "", "hi"))
	})
	assert.Empty(t, ch.Sent())
	assert.Equal(t, int64(1), router.Stats().Dropped)
}

func TestRouter_HandleInbound_EmptyReply(t *testing.T) {
	ch := channeltest.NewFake("telegram")
	router := NewRouter(newRegistry(t, ch), NoopResponder{}, 0, testLogger())

	router.HandleInbound(context.Background(), inbound("telegram", "alice", "", "hi"))
	assert.Empty(t, ch.Sent())
	assert.Equal(t, Stats{Received: 1}, router.Stats())
}

func TestRouter_HandleInbound_SendFailure(t *testing.T) {
	ch := channeltest.NewFake("telegram")
	ch.SendErr = errors.New("connection reset")
	router := NewRouter(newRegistry(t, ch), EchoResponder{}, 0, testLogger())

	failed := make(chan hooks.Payload, 1)
	hm := hooks.NewManager(testLogger())
	hm.On(hooks.EventMessageFailed, "test", func(_ context.Context, p hooks.Payload) error {
		failed <- p
		return nil
	})
	router.SetHooks(hm)

	router.HandleInbound(context.Background(), inbound("telegram", "alice", "", "hi"))
	assert.Equal(t, int64(1), router.Stats().Failed)

	select {
	case p := <-failed:
		assert.Equal(t, "telegram", p.Data["channel"])
		assert.Equal(t, "send", p.Data["stage"])
		assert.Contains(t, p.Data["error"], "connection reset")
	case <-time.After(2 * time.Second):
		t.Fatal("message_failed hook not emitted")
	}
}

func TestRouter_HandleInbound_ResponderError(t *testing.T) {
	ch := channeltest.NewFake("telegram")
	responder := ResponderFunc(func(context.Context, domain.ChannelMessage) (string, error) {
		return "", errors.New("backend down")
	})
	router := NewRouter(newRegistry(t, ch), responder, 0, testLogger())

	router.HandleInbound(context.Background(), inbound("telegram", "alice", "", "hi"))
	assert.Empty(t, ch.Sent())
	assert.Equal(t, int64(1), router.Stats().Failed)
}

func TestRouter_HandleInbound_Hooks(t *testing.T) {
	ch := channeltest.NewFake("telegram")
	router := NewRouter(newRegistry(t, ch), EchoResponder{}, 0, testLogger())

	events := make(chan string, 4)
	hm := hooks.NewManager(testLogger())
	for _, ev := range []string{hooks.EventMessageReceived, hooks.EventMessageSending} {
		ev := ev
		hm.On(ev, "test", func(_ context.Context, p hooks.Payload) error {
			events <- p.Event
			return nil
		})
	}
	router.SetHooks(hm)

	router.HandleInbound(context.Background(), inbound("telegram", "alice", "", "hi"))

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-events:
			got[ev] = true
		case <-time.After(2 * time.Second):
			t.Fatal("hook not emitted")
		}
	}
	assert.True(t, got[hooks.EventMessageReceived])
	assert.True(t, got[hooks.EventMessageSending])
}

func TestRouter_HandleInbound_CancelledContextStillReplies(t *testing.T) {
	ch := channeltest.NewFake("telegram")
	router := NewRouter(newRegistry(t, ch), EchoResponder{}, 0, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	router.HandleInbound(ctx, inbound("telegram", "alice", "", "queued before shutdown"))

	require.Len(t, ch.Sent(), 1)
}

func TestRouter_Run_DrainsInOrder(t *testing.T) {
	ch := channeltest.NewFake("telegram")
	router := NewRouter(newRegistry(t, ch), EchoResponder{}, 0, testLogger())

	in := make(chan domain.ChannelMessage, 3)
	in <- inbound("telegram", "a", "", "one")
	in <- inbound("telegram", "a", "", "two")
	in <- inbound("telegram", "a", "", "three")
	close(in)

	done := make(chan struct{})
	go func() {
		router.Run(context.Background(), in)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the inbox closed")
	}

	var texts []string
	for _, s := range ch.Sent() {
		texts = append(texts, s.Text)
	}
	assert.Equal(t, []string{"one", "two", "three"}, texts)
}

func TestRouter_SendTo(t *testing.T) {
	ch := channeltest.NewFake("slack")
	router := NewRouter(newRegistry(t, ch), nil, time.Second, testLogger())

	require.NoError(t, router.SendTo(context.Background(), "slack", "C1", "announcement"))
	assert.Equal(t, []channeltest.Sent{{Text: "announcement", Recipient: "C1"}}, ch.Sent())

	err := router.SendTo(context.Background(), "nonexistent", "C1", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel not found")
}

func TestRouter_EchoRoundTrip(t *testing.T) {
	echo := channeltest.NewEcho("echo")
	reg := newRegistry(t, echo)
	router := NewRouter(reg, ResponderFunc(func(_ context.Context, msg domain.ChannelMessage) (string, error) {
		if msg.Text == "ping" {
			return "pong", nil
		}
		return "", nil
	}), 0, testLogger())

	inbox, drain := channel.NewInbox(10)
	require.NoError(t, reg.StartAll(context.Background(), inbox))
	done := make(chan struct{})
	go func() {
		router.Run(context.Background(), drain)
		close(done)
	}()

	require.NoError(t, router.SendTo(context.Background(), "echo", "user-1", "ping"))
	// ping is answered with pong; pong itself gets no reply.
	require.Eventually(t, func() bool { return router.Stats().Received == 2 }, 2*time.Second, 5*time.Millisecond)

	reg.Shutdown(time.Second)
	<-done
	assert.Equal(t, int64(1), router.Stats().Replied)
}
