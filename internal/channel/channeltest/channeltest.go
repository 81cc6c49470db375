// Package channeltest provides in-memory adapters for exercising the
// registry and the dispatch loop without a platform.
package channeltest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soyeahso/chanhub/internal/domain"
)

// Sent records one Send call.
type Sent struct {
	Text      string
	Recipient string
}

// Fake is a scriptable adapter. Configure the exported fields before the
// registry starts it.
type Fake struct {
	name string

	// Script is emitted, in order, at the start of every Listen call.
	Script []string
	// ListenErr is returned by Listen right after the script.
	ListenErr error
	// ListenPanic makes Listen panic after the script.
	ListenPanic bool
	// IgnoreCancel makes Listen block past cancellation until Release.
	IgnoreCancel bool

	SendErr     error
	Unhealthy   bool
	HealthDelay time.Duration
	HealthPanic bool

	mu       sync.Mutex
	sent     []Sent
	listens  atomic.Int32
	release  chan struct{}
	released sync.Once
}

// NewFake returns a healthy fake adapter called name.
func NewFake(name string) *Fake {
	return &Fake{name: name, release: make(chan struct{})}
}

func (f *Fake) Name() string { return f.name }

func (f *Fake) Send(_ context.Context, message, recipient string) error {
	if f.SendErr != nil {
		return domain.NewTransportError(f.name, "send", f.SendErr)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, Sent{Text: message, Recipient: recipient})
	return nil
}

func (f *Fake) Listen(ctx context.Context, out chan<- domain.ChannelMessage) error {
	f.listens.Add(1)
	for i, text := range f.Script {
		msg := domain.ChannelMessage{
			ID:          fmt.Sprintf("%s-%d", f.name, i),
			ChannelName: f.name,
			SenderID:    "user-" + f.name,
			Text:        text,
			ReceivedAt:  time.Now(),
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return nil
		}
	}
	if f.ListenPanic {
		panic(f.name + " listener exploded")
	}
	if f.ListenErr != nil {
		return f.ListenErr
	}
	if f.IgnoreCancel {
		<-f.release
		return nil
	}
	<-ctx.Done()
	return nil
}

func (f *Fake) HealthCheck(ctx context.Context) bool {
	if f.HealthPanic {
		panic(f.name + " health check exploded")
	}
	if f.HealthDelay > 0 {
		select {
		case <-time.After(f.HealthDelay):
		case <-ctx.Done():
			return false
		}
	}
	return !f.Unhealthy
}

// Sent returns a copy of every message passed to Send.
func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Sent, len(f.sent))
	copy(out, f.sent)
	return out
}

// ListenCalls reports how many times Listen has been entered.
func (f *Fake) ListenCalls() int { return int(f.listens.Load()) }

// Release unblocks a Listen stuck because of IgnoreCancel.
func (f *Fake) Release() { f.released.Do(func() { close(f.release) }) }

// Echo surfaces every Send as a subsequent inbound message.
type Echo struct {
	name string
	loop chan domain.ChannelMessage
	seq  atomic.Int64
}

// NewEcho returns an echo adapter called name.
func NewEcho(name string) *Echo {
	return &Echo{name: name, loop: make(chan domain.ChannelMessage, 64)}
}

func (e *Echo) Name() string { return e.name }

func (e *Echo) Send(ctx context.Context, message, recipient string) error {
	msg := domain.ChannelMessage{
		ID:          fmt.Sprintf("%s-%d", e.name, e.seq.Add(1)),
		ChannelName: e.name,
		SenderID:    recipient,
		Text:        message,
		ReceivedAt:  time.Now(),
	}
	select {
	case e.loop <- msg:
		return nil
	case <-ctx.Done():
		return domain.NewTransportError(e.name, "send", ctx.Err())
	}
}

func (e *Echo) Listen(ctx context.Context, out chan<- domain.ChannelMessage) error {
	for {
		select {
		case msg := <-e.loop:
			select {
			case out <- msg:
			case <-ctx.Done():
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}
