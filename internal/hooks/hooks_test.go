package hooks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soyeahso/chanhub/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager() *Manager {
	return NewManager(logging.New(nil, "silent"))
}

func TestEmit_RunsHandlersInOrder(t *testing.T) {
	m := testManager()
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return at }

	var order []string
	var got Payload
	m.On(EventMessageReceived, "first", func(_ context.Context, p Payload) error {
		order = append(order, "first")
		got = p
		return nil
	})
	m.On(EventMessageReceived, "second", func(context.Context, Payload) error {
		order = append(order, "second")
		return nil
	})

	m.Emit(context.Background(), EventMessageReceived, map[string]any{"channel": "irc"})

	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, EventMessageReceived, got.Event)
	assert.Equal(t, at, got.Time)
	assert.Equal(t, "irc", got.Data["channel"])
}

func TestEmit_FailuresDoNotStopLaterHandlers(t *testing.T) {
	m := testManager()

	var reached int
	m.On(EventGatewayStart, "errors", func(context.Context, Payload) error {
		return errors.New("exit status 1")
	})
	m.On(EventGatewayStart, "panics", func(context.Context, Payload) error {
		panic("nil map")
	})
	m.On(EventGatewayStart, "last", func(context.Context, Payload) error {
		reached++
		return nil
	})

	assert.NotPanics(t, func() { m.Emit(context.Background(), EventGatewayStart, nil) })
	assert.Equal(t, 1, reached)
}

func TestEmit_OtherEventsUntouched(t *testing.T) {
	m := testManager()
	called := false
	m.On(EventGatewayStop, "stop", func(context.Context, Payload) error {
		called = true
		return nil
	})

	m.Emit(context.Background(), EventGatewayStart, nil)
	assert.False(t, called)
}

func TestEmitAsync_Wait(t *testing.T) {
	m := testManager()

	var count atomic.Int32
	release := make(chan struct{})
	for _, name := range []string{"a", "b"} {
		m.On(EventChannelFailed, name, func(context.Context, Payload) error {
			<-release
			count.Add(1)
			return nil
		})
	}

	m.EmitAsync(context.Background(), EventChannelFailed, nil)

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Wait(short), context.DeadlineExceeded)

	close(release)
	require.NoError(t, m.Wait(context.Background()))
	assert.Equal(t, int32(2), count.Load())
}

func TestEmitAsync_RecoversPanics(t *testing.T) {
	m := testManager()
	m.On(EventChannelUnhealthy, "panics", func(context.Context, Payload) error {
		panic("boom")
	})

	m.EmitAsync(context.Background(), EventChannelUnhealthy, nil)
	require.NoError(t, m.Wait(context.Background()))
}

func TestWait_NothingPending(t *testing.T) {
	assert.NoError(t, testManager().Wait(context.Background()))
}

func TestCount(t *testing.T) {
	m := testManager()
	assert.Zero(t, m.Count(EventGatewayStart))

	noop := func(context.Context, Payload) error { return nil }
	m.On(EventGatewayStart, "h1", noop)
	m.On(EventGatewayStart, "h2", noop)
	m.On(EventGatewayStop, "h3", noop)
	assert.Equal(t, 2, m.Count(EventGatewayStart))
	assert.Equal(t, 1, m.Count(EventGatewayStop))
}

func TestAllEvents(t *testing.T) {
	assert.Len(t, AllEvents, 7)
	assert.Contains(t, AllEvents, EventChannelUnhealthy)
}
