package domain

import (
	"context"
	"time"
)

// Channel is the contract every messaging adapter implements.
type Channel interface {
	// Name returns the stable, unique adapter identifier (e.g. "telegram").
	// It never changes after construction.
	Name() string

	// Send delivers text to a platform-specific recipient. It must be safe
	// to call while Listen is running.
	Send(ctx context.Context, message, recipient string) error

	// Listen receives platform events and pushes one ChannelMessage per
	// event onto out until ctx is cancelled or the transport fails. When
	// out is full, Listen blocks.
	Listen(ctx context.Context, out chan<- ChannelMessage) error
}

// HealthChecker is implemented by adapters that can probe their platform.
// Adapters without it are considered healthy.
type HealthChecker interface {
	HealthCheck(ctx context.Context) bool
}

// ChannelStatus reports whether a platform is configured, and for running
// registries, whether its listener is alive.
type ChannelStatus struct {
	Name     string `json:"name"`
	Enabled  bool   `json:"enabled"`
	Running  bool   `json:"running,omitempty"`
	Restarts int    `json:"restarts,omitempty"`
	LastErr  string `json:"lastError,omitempty"`
}

// HealthResult is the outcome of probing one adapter.
type HealthResult struct {
	Name    string        `json:"name"`
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Err     error         `json:"-"`
}

// Error returns the probe error text, or "" when there is none.
func (r HealthResult) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
