// Package monitor runs adapter health checks on a cron schedule and
// reports adapters that turn unhealthy.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/soyeahso/chanhub/internal/config"
	"github.com/soyeahso/chanhub/internal/domain"
	"github.com/soyeahso/chanhub/internal/hooks"
	"github.com/soyeahso/chanhub/internal/logging"
)

// Prober checks every adapter once. *channel.Registry satisfies it.
type Prober interface {
	Probe(ctx context.Context) []domain.HealthResult
}

// Monitor periodically probes adapters.
type Monitor struct {
	prober   Prober
	schedule cron.Schedule
	hooks    *hooks.Manager
	log      *logging.Logger
	cron     *cron.Cron

	mu        sync.RWMutex
	lastRun   time.Time
	last      []domain.HealthResult
	unhealthy map[string]bool
}

// New creates a monitor for spec, a five-field cron expression or a
// descriptor such as "@every 5m".
func New(prober Prober, spec string, log *logging.Logger) (*Monitor, error) {
	sched, err := config.ParseHealthSchedule(spec)
	if err != nil {
		return nil, &config.ConfigError{Message: "invalid health schedule " + spec + ": " + err.Error()}
	}
	m := &Monitor{
		prober:    prober,
		schedule:  sched,
		log:       log.Sub("monitor"),
		unhealthy: make(map[string]bool),
	}
	cl := cronLogger{log: m.log}
	m.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	m.cron.Schedule(sched, cron.FuncJob(func() { m.RunOnce(context.Background()) }))
	return m, nil
}

// SetHooks attaches a hook manager that receives channel_unhealthy events.
func (m *Monitor) SetHooks(h *hooks.Manager) {
	m.hooks = h
}

// Start begins running checks in the background.
func (m *Monitor) Start() {
	m.log.Info().Time("next", m.schedule.Next(time.Now())).Msg("health monitor started")
	m.cron.Start()
}

// Stop halts the schedule and waits for a running check up to ctx.
func (m *Monitor) Stop(ctx context.Context) {
	select {
	case <-m.cron.Stop().Done():
	case <-ctx.Done():
		m.log.Warn().Msg("health check still running at shutdown")
	}
}

// RunOnce probes every adapter now. An adapter that was healthy (or not yet
// checked) and is now unhealthy triggers channel_unhealthy once.
func (m *Monitor) RunOnce(ctx context.Context) []domain.HealthResult {
	results := m.prober.Probe(ctx)

	m.mu.Lock()
	m.lastRun = time.Now()
	m.last = results
	var turned []domain.HealthResult
	for _, r := range results {
		was := m.unhealthy[r.Name]
		switch {
		case !r.Healthy && !was:
			turned = append(turned, r)
		case r.Healthy && was:
			m.log.Info().Str("channel", r.Name).Msg("channel healthy again")
		}
		m.unhealthy[r.Name] = !r.Healthy
	}
	m.mu.Unlock()

	for _, r := range turned {
		ev := m.log.Warn().Str("channel", r.Name).Dur("latency", r.Latency)
		if r.Err != nil {
			ev = ev.Err(r.Err)
		}
		ev.Msg("channel unhealthy")

		if m.hooks != nil {
			data := map[string]any{"channel": r.Name, "latency": r.Latency.String()}
			if r.Err != nil {
				data["error"] = r.Err.Error()
			}
			m.hooks.EmitAsync(context.WithoutCancel(ctx), hooks.EventChannelUnhealthy, data)
		}
	}
	return results
}

// Last returns the most recent results and when they were taken.
func (m *Monitor) Last() (time.Time, []domain.HealthResult) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.HealthResult, len(m.last))
	copy(out, m.last)
	return m.lastRun, out
}

// cronLogger routes cron's own logging through zerolog.
type cronLogger struct {
	log *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
