// Package hooks lets operators observe the gateway: lifecycle changes,
// every routed message and adapter failures are published as named events
// to in-process handlers and configured shell commands.
package hooks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/soyeahso/chanhub/internal/logging"
)

const (
	EventGatewayStart     = "gateway_start"
	EventGatewayStop      = "gateway_stop"
	EventMessageReceived  = "message_received"
	EventMessageSending   = "message_sending"
	EventMessageFailed    = "message_failed"
	EventChannelFailed    = "channel_failed"
	EventChannelUnhealthy = "channel_unhealthy"
)

// AllEvents is every event the gateway publishes, in config order.
var AllEvents = []string{
	EventGatewayStart,
	EventGatewayStop,
	EventMessageReceived,
	EventMessageSending,
	EventMessageFailed,
	EventChannelFailed,
	EventChannelUnhealthy,
}

// Payload is what a handler receives. Command hooks get it as JSON.
type Payload struct {
	Event string         `json:"event"`
	Time  time.Time      `json:"time"`
	Data  map[string]any `json:"data,omitempty"`
}

// Handler observes one event. A returned error or a panic is logged and
// never reaches the emitter.
type Handler func(ctx context.Context, p Payload) error

type registration struct {
	name string
	fn   Handler
}

// Manager fans events out to registered handlers.
type Manager struct {
	log *logging.Logger
	now func() time.Time

	mu   sync.RWMutex
	regs map[string][]registration

	// async tracks EmitAsync handlers still running.
	async sync.WaitGroup
}

func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		log:  log.Sub("hooks"),
		now:  time.Now,
		regs: make(map[string][]registration),
	}
}

// On adds fn for event. name only labels log lines.
func (m *Manager) On(event, name string, fn Handler) {
	m.mu.Lock()
	m.regs[event] = append(m.regs[event], registration{name: name, fn: fn})
	m.mu.Unlock()
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

// Count is the number of handlers registered for event.
func (m *Manager) Count(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.regs[event])
}

func (m *Manager) snapshot(event string) []registration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.regs[event]) == 0 {
		return nil
	}
	return append([]registration(nil), m.regs[event]...)
}

// Emit runs the handlers for event one after another in registration order
// and returns when the last one has finished.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	regs := m.snapshot(event)
	if regs == nil {
		return
	}
	p := Payload{Event: event, Time: m.now(), Data: data}
	for _, r := range regs {
		m.run(ctx, r, p)
	}
}

// EmitAsync starts every handler for event in its own goroutine and returns
// immediately. Wait blocks until they are done.
func (m *Manager) EmitAsync(ctx context.Context, event string, data map[string]any) {
	regs := m.snapshot(event)
	if regs == nil {
		return
	}
	p := Payload{Event: event, Time: m.now(), Data: data}
	m.async.Add(len(regs))
	for _, r := range regs {
		go func() {
			defer m.async.Done()
			m.run(ctx, r, p)
		}()
	}
}

// Wait blocks until handlers started by EmitAsync have returned or ctx
// ends, whichever is first.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.async.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) run(ctx context.Context, r registration, p Payload) {
	err := func() (err error) {
		defer func() {
			if v := recover(); v != nil {
				err = fmt.Errorf("panic: %v", v)
			}
		}()
		return r.fn(ctx, p)
	}()
	if err != nil {
		m.log.Warn().Err(err).
			Str("event", p.Event).
			Str("handler", r.name).
			Msg("hook failed")
	}
}
