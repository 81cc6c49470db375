package config

import (
	"fmt"
	"time"
)

// ConfigError represents a configuration error. Channel is set when the
// problem is confined to one platform's sub-configuration.
type ConfigError struct {
	Channel string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Channel != "" {
		return fmt.Sprintf("config: channels.%s: %s", e.Channel, e.Message)
	}
	return fmt.Sprintf("config: %s", e.Message)
}

// Restart policies for listener tasks.
const (
	RestartNever     = "never"
	RestartOnFailure = "on-failure"
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Channels: ChannelsConfig{
			Defaults: DefaultRuntime(),
		},
		Responder: ResponderConfig{
			Mode:    "echo",
			Timeout: 30 * time.Second,
		},
		Gateway: GatewayConfig{
			Port: 18790,
			Bind: "loopback",
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
	}
}

// DefaultRuntime returns the default registry and dispatch knobs.
func DefaultRuntime() RuntimeConfig {
	return RuntimeConfig{
		InboxCapacity:  100,
		HealthTimeout:  5 * time.Second,
		ShutdownGrace:  10 * time.Second,
		SendTimeout:    30 * time.Second,
		Restart:        RestartNever,
		RestartBackoff: 5 * time.Second,
		MaxRestarts:    3,
	}
}
