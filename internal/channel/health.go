package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/soyeahso/chanhub/internal/config"
	"github.com/soyeahso/chanhub/internal/domain"
)

// CheckHealth probes ch, treating adapters without a health check as healthy.
func CheckHealth(ctx context.Context, ch domain.Channel) bool {
	hc, ok := ch.(domain.HealthChecker)
	if !ok {
		return true
	}
	return hc.HealthCheck(ctx)
}

// Probe health-checks every channel concurrently. Each check is bounded by
// timeout; a hanging or panicking adapter is reported unhealthy without
// delaying the others.
func Probe(ctx context.Context, chans []domain.Channel, timeout time.Duration) []domain.HealthResult {
	if timeout <= 0 {
		timeout = config.DefaultRuntime().HealthTimeout
	}
	results := make([]domain.HealthResult, len(chans))
	var wg sync.WaitGroup
	for i, ch := range chans {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = probeOne(ctx, ch, timeout)
		}()
	}
	wg.Wait()
	return results
}

// HealthCheckAll is Probe reduced to name -> healthy.
func HealthCheckAll(ctx context.Context, chans []domain.Channel, timeout time.Duration) map[string]bool {
	out := make(map[string]bool, len(chans))
	for _, res := range Probe(ctx, chans, timeout) {
		out[res.Name] = res.Healthy
	}
	return out
}

type probeOutcome struct {
	healthy bool
	err     error
}

func probeOne(ctx context.Context, ch domain.Channel, timeout time.Duration) domain.HealthResult {
	name := ch.Name()
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Buffered so an abandoned check can still finish without blocking.
	done := make(chan probeOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- probeOutcome{err: domain.NewTransportError(name, "health", fmt.Errorf("panic: %v", p))}
			}
		}()
		done <- probeOutcome{healthy: CheckHealth(ctx, ch)}
	}()

	select {
	case o := <-done:
		// A check that gave up because its deadline passed is a timeout.
		if o.healthy || o.err != nil || ctx.Err() == nil {
			return domain.HealthResult{Name: name, Healthy: o.healthy, Latency: time.Since(start), Err: o.err}
		}
	case <-ctx.Done():
	}

	res := domain.HealthResult{Name: name, Latency: time.Since(start)}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.Err = &domain.TimeoutError{Channel: name, After: timeout}
	} else {
		res.Err = domain.NewTransportError(name, "health", ctx.Err())
	}
	return res
}
