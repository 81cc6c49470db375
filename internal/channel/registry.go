// Package channel builds, supervises and health-checks the set of
// messaging adapters.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/soyeahso/chanhub/internal/config"
	"github.com/soyeahso/chanhub/internal/domain"
	"github.com/soyeahso/chanhub/internal/hooks"
	"github.com/soyeahso/chanhub/internal/logging"
)

// State is the lifecycle phase of a Registry.
type State int32

const (
	StateUninitialized State = iota
	StateBuilding
	StateRunning
	StateDraining
	StateStopped
)

var stateNames = [...]string{"uninitialized", "building", "running", "draining", "stopped"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrAlreadyStarted = errors.New("channel registry already started")
	ErrDuplicateName  = errors.New("duplicate channel name")
)

// Registry manages the set of messaging adapters built at startup.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	channels map[string]domain.Channel
	status   map[string]*listenerState
	log      *logging.Logger
	rt       config.RuntimeConfig
	hooks    *hooks.Manager
	state    State

	cancel   context.CancelFunc
	out      chan<- domain.ChannelMessage
	sealed   chan struct{}
	listenWG sync.WaitGroup
	fwdWG    sync.WaitGroup
}

// listenerState is guarded by Registry.mu, except done which is closed
// once by the supervising goroutine.
type listenerState struct {
	running  bool
	restarts int
	lastErr  string
	done     chan struct{}
}

// NewRegistry creates an empty channel registry.
func NewRegistry(log *logging.Logger, rt config.RuntimeConfig) *Registry {
	return &Registry{
		channels: make(map[string]domain.Channel),
		status:   make(map[string]*listenerState),
		log:      log.Sub("channels"),
		rt:       rt,
	}
}

// SetHooks attaches a hook manager that receives channel_failed events.
func (r *Registry) SetHooks(h *hooks.Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = h
}

// Register adds a channel to the registry. Names must be unique and
// registration closes once StartAll has been called.
func (r *Registry) Register(ch domain.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state >= StateRunning {
		return ErrAlreadyStarted
	}
	name := ch.Name()
	if _, exists := r.channels[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	r.state = StateBuilding
	r.channels[name] = ch
	r.order = append(r.order, name)
	r.log.Info().Str("channel", name).Msg("channel registered")
	return nil
}

// Get returns a channel by name.
func (r *Registry) Get(name string) (domain.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[name]
	return ch, ok
}

// List returns all channel names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Channels returns the registered instances in registration order.
func (r *Registry) Channels() []domain.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chans := make([]domain.Channel, 0, len(r.order))
	for _, name := range r.order {
		chans = append(chans, r.channels[name])
	}
	return chans
}

// Count returns the number of registered channels.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// State returns the current lifecycle phase.
func (r *Registry) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Status returns the status of all registered channels.
func (r *Registry) Status() []domain.ChannelStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	statuses := make([]domain.ChannelStatus, 0, len(r.order))
	for _, name := range r.order {
		st := domain.ChannelStatus{Name: name, Enabled: true}
		if ls, ok := r.status[name]; ok {
			st.Running = ls.running
			st.Restarts = ls.restarts
			st.LastErr = ls.lastErr
		}
		statuses = append(statuses, st)
	}
	return statuses
}

// Probe health-checks every registered channel with the configured timeout.
func (r *Registry) Probe(ctx context.Context) []domain.HealthResult {
	return Probe(ctx, r.Channels(), r.rt.HealthTimeout)
}

// StartAll launches one supervised listener per channel, all feeding out,
// and returns immediately. The registry owns out from here on and closes
// it at the end of Shutdown.
func (r *Registry) StartAll(ctx context.Context, out chan<- domain.ChannelMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state >= StateRunning {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.out = out
	r.sealed = make(chan struct{})
	r.state = StateRunning

	for _, name := range r.order {
		ch := r.channels[name]
		ls := &listenerState{running: true, done: make(chan struct{})}
		r.status[name] = ls

		// Each adapter writes to its own channel; a single forwarder per
		// adapter keeps its messages in order on the way to out.
		private := make(chan domain.ChannelMessage)
		r.listenWG.Add(1)
		r.fwdWG.Add(1)
		go r.supervise(ctx, ch, ls, private)
		go r.forward(private, ls.done)

		r.log.Info().Str("channel", name).Msg("starting channel")
	}
	return nil
}

// Shutdown cancels every listener, waits up to grace for them to return,
// then closes the inbox. Listeners still running after grace are abandoned
// and their names returned.
func (r *Registry) Shutdown(grace time.Duration) []string {
	r.mu.Lock()
	if r.state != StateRunning {
		if r.state < StateRunning {
			r.state = StateStopped
		}
		r.mu.Unlock()
		return nil
	}
	r.state = StateDraining
	cancel := r.cancel
	r.mu.Unlock()

	r.log.Info().Dur("grace", grace).Msg("draining channels")
	cancel()

	stopped := make(chan struct{})
	go func() {
		r.listenWG.Wait()
		close(stopped)
	}()

	var abandoned []string
	select {
	case <-stopped:
	case <-time.After(grace):
		abandoned = r.abandoned()
		for _, name := range abandoned {
			r.log.Warn().Str("channel", name).Dur("grace", grace).Msg("listener did not stop in time, abandoning")
		}
	}

	close(r.sealed)
	r.fwdWG.Wait()
	close(r.out)

	r.mu.Lock()
	r.state = StateStopped
	r.mu.Unlock()
	r.log.Info().Int("abandoned", len(abandoned)).Msg("channels stopped")
	return abandoned
}

func (r *Registry) abandoned() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for _, name := range r.order {
		ls, ok := r.status[name]
		if !ok {
			continue
		}
		select {
		case <-ls.done:
		default:
			names = append(names, name)
		}
	}
	return names
}
