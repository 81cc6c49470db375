package config

import (
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so passwords and tokens can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Gateway.Token = expandEnvVars(cfg.Gateway.Token)

	ch := &cfg.Channels
	if ch.Telegram != nil {
		ch.Telegram.Token = expandEnvVars(ch.Telegram.Token)
	}
	if ch.Discord != nil {
		ch.Discord.Token = expandEnvVars(ch.Discord.Token)
	}
	if ch.Slack != nil {
		ch.Slack.BotToken = expandEnvVars(ch.Slack.BotToken)
		ch.Slack.AppToken = expandEnvVars(ch.Slack.AppToken)
	}
	if ch.IRC != nil {
		ch.IRC.Password = expandEnvVars(ch.IRC.Password)
	}
	if ch.Email != nil {
		ch.Email.Password = expandEnvVars(ch.Email.Password)
	}
	if ch.QQ != nil {
		ch.QQ.AppSecret = expandEnvVars(ch.QQ.AppSecret)
	}
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, applyEnvOverrides(&cfg)
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	if err := applyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	rt := &cfg.Channels.Defaults
	def := DefaultRuntime()
	if rt.InboxCapacity == 0 {
		rt.InboxCapacity = def.InboxCapacity
	}
	if rt.HealthTimeout == 0 {
		rt.HealthTimeout = def.HealthTimeout
	}
	if rt.ShutdownGrace == 0 {
		rt.ShutdownGrace = def.ShutdownGrace
	}
	if rt.SendTimeout == 0 {
		rt.SendTimeout = def.SendTimeout
	}
	if rt.Restart == "" {
		rt.Restart = def.Restart
	}
	if rt.RestartBackoff == 0 {
		rt.RestartBackoff = def.RestartBackoff
	}
	if rt.MaxRestarts == 0 {
		rt.MaxRestarts = def.MaxRestarts
	}
	if cfg.Responder.Mode == "" {
		cfg.Responder.Mode = "echo"
	}
	if cfg.Responder.Timeout == 0 {
		cfg.Responder.Timeout = 30 * time.Second
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18790
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = "loopback"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = "pretty"
	}
}

// envOverrides lists the CHANHUB_* variables that override file values.
// Zero values mean "not set".
type envOverrides struct {
	LogLevel      string        `env:"CHANHUB_LOG_LEVEL"`
	GatewayPort   int           `env:"CHANHUB_GATEWAY_PORT"`
	GatewayBind   string        `env:"CHANHUB_GATEWAY_BIND"`
	GatewayToken  string        `env:"CHANHUB_GATEWAY_TOKEN"`
	InboxCapacity int           `env:"CHANHUB_INBOX_CAPACITY"`
	HealthTimeout time.Duration `env:"CHANHUB_HEALTH_TIMEOUT"`
	ShutdownGrace time.Duration `env:"CHANHUB_SHUTDOWN_GRACE"`
	Responder     string        `env:"CHANHUB_RESPONDER"`
}

// applyEnvOverrides reads CHANHUB_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return &ConfigError{Message: "invalid environment override: " + err.Error()}
	}

	if o.LogLevel != "" {
		cfg.Logging.Level = strings.ToLower(o.LogLevel)
	}
	if o.GatewayPort != 0 {
		cfg.Gateway.Port = o.GatewayPort
	}
	if o.GatewayBind != "" {
		cfg.Gateway.Bind = o.GatewayBind
	}
	if o.GatewayToken != "" {
		cfg.Gateway.Token = o.GatewayToken
	}
	if o.InboxCapacity != 0 {
		cfg.Channels.Defaults.InboxCapacity = o.InboxCapacity
	}
	if o.HealthTimeout != 0 {
		cfg.Channels.Defaults.HealthTimeout = o.HealthTimeout
	}
	if o.ShutdownGrace != 0 {
		cfg.Channels.Defaults.ShutdownGrace = o.ShutdownGrace
	}
	if o.Responder != "" {
		cfg.Responder.Mode = o.Responder
	}
	return nil
}
