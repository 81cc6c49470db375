// Package app wires the long-running chanhub process using go.uber.org/dig.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/dig"
	"golang.org/x/sync/errgroup"

	"github.com/soyeahso/chanhub/internal/channel"
	"github.com/soyeahso/chanhub/internal/config"
	"github.com/soyeahso/chanhub/internal/domain"
	"github.com/soyeahso/chanhub/internal/gateway"
	"github.com/soyeahso/chanhub/internal/hooks"
	"github.com/soyeahso/chanhub/internal/logging"
	"github.com/soyeahso/chanhub/internal/monitor"
	"github.com/soyeahso/chanhub/internal/routing"
)

// App holds the resolved services of one gateway process. Monitor and
// Status are nil when disabled in config.
type App struct {
	Config   config.Config
	Log      *logging.Logger
	Hooks    *hooks.Manager
	Channels *channel.Registry
	Router   *routing.Router
	Monitor  *monitor.Monitor
	Status   *gateway.Server

	// BuildErr joins the construction errors of adapters whose sub-config
	// was invalid. Those adapters are skipped; the rest run.
	BuildErr error

	notify func(state string)
}

// buildErrors carries non-fatal adapter construction failures through dig.
type buildErrors struct{ err error }

// Option customises New.
type Option func(*App)

// WithNotifier replaces the systemd notifier.
func WithNotifier(fn func(state string)) Option {
	return func(a *App) { a.notify = fn }
}

// WithChannels registers extra adapters next to the configured ones.
func WithChannels(chans ...domain.Channel) Option {
	return func(a *App) {
		for _, ch := range chans {
			if err := a.Channels.Register(ch); err != nil {
				a.BuildErr = errors.Join(a.BuildErr, err)
			}
		}
	}
}

// New builds every service from cfg.
func New(cfg config.Config, log *logging.Logger, opts ...Option) (*App, error) {
	d := dig.New()

	if err := d.Provide(func() config.Config { return cfg }); err != nil {
		return nil, err
	}
	if err := d.Provide(func() *logging.Logger { return log }); err != nil {
		return nil, err
	}
	if err := d.Provide(newHooks); err != nil {
		return nil, err
	}
	if err := d.Provide(newRegistry); err != nil {
		return nil, err
	}
	if err := d.Provide(newResponder); err != nil {
		return nil, err
	}
	if err := d.Provide(newRouter); err != nil {
		return nil, err
	}
	if err := d.Provide(newMonitor); err != nil {
		return nil, err
	}
	if err := d.Provide(newStatusServer); err != nil {
		return nil, err
	}

	var result *App
	err := d.Invoke(func(
		hm *hooks.Manager,
		reg *channel.Registry,
		be buildErrors,
		router *routing.Router,
		mon *monitor.Monitor,
		status *gateway.Server,
	) {
		result = &App{
			Config:   cfg,
			Log:      log,
			Hooks:    hm,
			Channels: reg,
			Router:   router,
			Monitor:  mon,
			Status:   status,
			BuildErr: be.err,
			notify:   sdNotify(log),
		}
	})
	if err != nil {
		return nil, dig.RootCause(err)
	}
	for _, opt := range opts {
		opt(result)
	}
	return result, nil
}

func newHooks(cfg config.Config, log *logging.Logger) *hooks.Manager {
	hm := hooks.NewManager(log)
	if n := hm.RegisterCommands(cfg.Hooks); n > 0 {
		log.Info().Int("hooks", n).Msg("command hooks registered")
	}
	return hm
}

func newRegistry(cfg config.Config, log *logging.Logger, hm *hooks.Manager) (*channel.Registry, buildErrors, error) {
	reg := channel.NewRegistry(log, cfg.Channels.Defaults)
	reg.SetHooks(hm)

	chans, buildErr := channel.BuildFromConfig(&cfg.Channels, log)
	for _, ch := range chans {
		if err := reg.Register(ch); err != nil {
			return nil, buildErrors{}, fmt.Errorf("registering %s: %w", ch.Name(), err)
		}
	}
	return reg, buildErrors{err: buildErr}, nil
}

func newResponder(cfg config.Config) (routing.Responder, error) {
	return routing.NewResponder(cfg.Responder)
}

func newRouter(cfg config.Config, log *logging.Logger, reg *channel.Registry, responder routing.Responder, hm *hooks.Manager) *routing.Router {
	r := routing.NewRouter(reg, responder, cfg.Channels.Defaults.SendTimeout, log)
	r.SetHooks(hm)
	return r
}

func newMonitor(cfg config.Config, log *logging.Logger, reg *channel.Registry, hm *hooks.Manager) (*monitor.Monitor, error) {
	spec := cfg.Channels.Defaults.HealthSchedule
	if spec == "" {
		return nil, nil
	}
	m, err := monitor.New(reg, spec, log)
	if err != nil {
		return nil, err
	}
	m.SetHooks(hm)
	return m, nil
}

func newStatusServer(cfg config.Config, log *logging.Logger, reg *channel.Registry, router *routing.Router, mon *monitor.Monitor) *gateway.Server {
	if !cfg.Gateway.Enabled {
		return nil
	}
	opts := []gateway.ServerOption{
		gateway.WithChannels(reg),
		gateway.WithRouter(router),
	}
	if mon != nil {
		opts = append(opts, gateway.WithMonitor(mon))
	}
	return gateway.New(cfg.Gateway, log, opts...)
}

// RunOptions tune Run.
type RunOptions struct {
	// ConfigPath, when set, is watched for edits. Changes are logged; the
	// running registry is never rebuilt.
	ConfigPath string
}

// Run starts every adapter and the dispatch loop, blocks until ctx is
// cancelled (or the status server fails), then drains: listeners get the
// shutdown grace to stop, and every message already in the inbox is
// dispatched before Run returns.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	rt := a.Config.Channels.Defaults
	send, recv := channel.NewInbox(rt.InboxCapacity)

	if a.Channels.Count() == 0 {
		a.Log.Warn().Msg("no channels configured")
	}
	if err := a.Channels.StartAll(ctx, send); err != nil {
		return fmt.Errorf("starting channels: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	routerDone := make(chan struct{})
	go func() {
		defer close(routerDone)
		a.Router.Run(ctx, recv)
	}()

	if a.Status != nil {
		g.Go(func() error { return a.Status.Start(gctx) })
	}
	if opts.ConfigPath != "" {
		g.Go(func() error {
			err := config.Watch(gctx, opts.ConfigPath, a.onConfigChange)
			if err != nil {
				a.Log.Warn().Err(err).Msg("config watcher stopped")
			}
			return nil
		})
	}
	if a.Monitor != nil {
		a.Monitor.Start()
	}

	a.Hooks.Emit(ctx, hooks.EventGatewayStart, map[string]any{"channels": a.Channels.List()})
	a.Log.Info().
		Strs("channels", a.Channels.List()).
		Int("inbox", rt.InboxCapacity).
		Msg("gateway running")
	a.notify(daemon.SdNotifyReady)

	<-gctx.Done()

	a.notify(daemon.SdNotifyStopping)
	a.Log.Info().Msg("gateway stopping")

	if a.Monitor != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), rt.HealthTimeout)
		a.Monitor.Stop(stopCtx)
		cancel()
	}

	abandoned := a.Channels.Shutdown(rt.ShutdownGrace)
	<-routerDone

	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	stats := a.Router.Stats()
	a.Hooks.Emit(context.Background(), hooks.EventGatewayStop, map[string]any{
		"abandoned": abandoned,
		"received":  stats.Received,
		"replied":   stats.Replied,
	})
	hookCtx, cancelHooks := context.WithTimeout(context.Background(), rt.ShutdownGrace)
	if err := a.Hooks.Wait(hookCtx); err != nil {
		a.Log.Warn().Msg("async hooks still running at exit")
	}
	cancelHooks()
	a.Log.Info().
		Int64("received", stats.Received).
		Int64("replied", stats.Replied).
		Int64("failed", stats.Failed).
		Strs("abandoned", abandoned).
		Msg("gateway stopped")
	return runErr
}

func (a *App) onConfigChange(_ config.Config, err error) {
	if err != nil {
		a.Log.Warn().Err(err).Msg("config file changed but does not load")
		return
	}
	a.Log.Warn().Msg("config file changed; restart to apply")
}

// sdNotify reports state to systemd when running under a unit with
// Type=notify, and is a no-op otherwise.
func sdNotify(log *logging.Logger) func(string) {
	return func(state string) {
		sent, err := daemon.SdNotify(false, state)
		if err != nil {
			log.Debug().Err(err).Str("state", state).Msg("sd_notify failed")
			return
		}
		if sent {
			log.Debug().Str("state", state).Msg("sd_notify sent")
		}
	}
}

// Doctor builds throwaway adapters from cfg and probes each once. The
// registry is never started.
func Doctor(ctx context.Context, cfg config.Config, timeout time.Duration, log *logging.Logger) ([]domain.HealthResult, error) {
	chans, buildErr := channel.BuildFromConfig(&cfg.Channels, log)
	return channel.Probe(ctx, chans, timeout), buildErr
}
