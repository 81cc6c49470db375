package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/soyeahso/chanhub/internal/config"
	"github.com/soyeahso/chanhub/internal/domain"
	"github.com/soyeahso/chanhub/internal/hooks"
)

// supervise runs ch.Listen until the context is cancelled, restarting it
// after failures when the restart policy allows.
func (r *Registry) supervise(ctx context.Context, ch domain.Channel, ls *listenerState, private chan<- domain.ChannelMessage) {
	defer r.listenWG.Done()
	defer close(ls.done)

	name := ch.Name()
	log := r.log.With("channel", name)

	for {
		err := runListener(ctx, ch, private)
		if ctx.Err() != nil {
			r.markStopped(ls, nil)
			log.Debug().Msg("listener stopped")
			return
		}

		if err == nil {
			log.Warn().Msg("listener exited")
		} else {
			err = domain.NewTransportError(name, "listen", err)
			log.Warn().Err(err).Msg("listener failed")
			r.emitFailed(ctx, name, err)
		}

		if !r.shouldRestart(ls, err) {
			r.markStopped(ls, err)
			return
		}

		r.mu.Lock()
		ls.restarts++
		ls.lastErr = err.Error()
		attempt := ls.restarts
		r.mu.Unlock()

		log.Info().Int("attempt", attempt).Dur("backoff", r.rt.RestartBackoff).Msg("restarting listener")
		select {
		case <-time.After(r.rt.RestartBackoff):
		case <-ctx.Done():
			r.markStopped(ls, nil)
			return
		}
	}
}

// runListener converts a panic inside Listen into an error.
func runListener(ctx context.Context, ch domain.Channel, out chan<- domain.ChannelMessage) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return ch.Listen(ctx, out)
}

func (r *Registry) shouldRestart(ls *listenerState, err error) bool {
	if err == nil || r.rt.Restart != config.RestartOnFailure {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rt.MaxRestarts < 0 || ls.restarts < r.rt.MaxRestarts
}

func (r *Registry) markStopped(ls *listenerState, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ls.running = false
	if err != nil {
		ls.lastErr = err.Error()
	}
}

func (r *Registry) emitFailed(ctx context.Context, name string, err error) {
	r.mu.RLock()
	h := r.hooks
	r.mu.RUnlock()
	if h == nil {
		return
	}
	h.EmitAsync(context.WithoutCancel(ctx), hooks.EventChannelFailed, map[string]any{
		"channel": name,
		"error":   err.Error(),
	})
}

// forward moves messages from one adapter's private channel to the shared
// inbox until the listener is done or the registry seals the inbox.
func (r *Registry) forward(private <-chan domain.ChannelMessage, done <-chan struct{}) {
	defer r.fwdWG.Done()
	for {
		select {
		case msg := <-private:
			r.out <- msg
		case <-done:
			return
		case <-r.sealed:
			return
		}
	}
}
