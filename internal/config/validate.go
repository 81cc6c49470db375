package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/robfig/cron/v3"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// healthScheduleParser accepts standard five-field specs and descriptors
// such as "@every 5m".
var healthScheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseHealthSchedule parses the channels.defaults.healthSchedule spec.
func ParseHealthSchedule(spec string) (cron.Schedule, error) {
	return healthScheduleParser.Parse(spec)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	// Gateway validation
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Gateway.Port),
		})
	}

	validBinds := []string{"loopback", "lan", "custom"}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.bind",
			Message: fmt.Sprintf("must be one of %v, got %q", validBinds, cfg.Gateway.Bind),
		})
	}

	// Logging validation
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}

	validConsoleStyles := []string{"pretty", "compact", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.consoleStyle",
			Message: fmt.Sprintf("must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle),
		})
	}

	// Responder validation
	validModes := []string{"echo", "command", "none"}
	if cfg.Responder.Mode != "" && !slices.Contains(validModes, cfg.Responder.Mode) {
		issues = append(issues, ValidationIssue{
			Path:    "responder.mode",
			Message: fmt.Sprintf("must be one of %v, got %q", validModes, cfg.Responder.Mode),
		})
	}
	if cfg.Responder.Mode == "command" && strings.TrimSpace(cfg.Responder.Command) == "" {
		issues = append(issues, ValidationIssue{
			Path:    "responder.command",
			Message: "required when responder.mode is command",
		})
	}

	issues = append(issues, validateRuntime(&cfg.Channels.Defaults)...)
	issues = append(issues, ValidateChannels(&cfg.Channels)...)
	return issues
}

func validateRuntime(rt *RuntimeConfig) []ValidationIssue {
	var issues []ValidationIssue

	if rt.InboxCapacity < -1 {
		issues = append(issues, ValidationIssue{
			Path:    "channels.defaults.inboxCapacity",
			Message: fmt.Sprintf("must be -1 (unbounded) or positive, got %d", rt.InboxCapacity),
		})
	}
	if rt.HealthTimeout < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "channels.defaults.healthTimeout",
			Message: "must not be negative",
		})
	}
	if rt.ShutdownGrace < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "channels.defaults.shutdownGrace",
			Message: "must not be negative",
		})
	}

	validRestart := []string{RestartNever, RestartOnFailure}
	if rt.Restart != "" && !slices.Contains(validRestart, rt.Restart) {
		issues = append(issues, ValidationIssue{
			Path:    "channels.defaults.restart",
			Message: fmt.Sprintf("must be one of %v, got %q", validRestart, rt.Restart),
		})
	}
	if rt.MaxRestarts < -1 {
		issues = append(issues, ValidationIssue{
			Path:    "channels.defaults.maxRestarts",
			Message: fmt.Sprintf("must be -1 (unlimited) or positive, got %d", rt.MaxRestarts),
		})
	}

	if rt.HealthSchedule != "" {
		if _, err := ParseHealthSchedule(rt.HealthSchedule); err != nil {
			issues = append(issues, ValidationIssue{
				Path:    "channels.defaults.healthSchedule",
				Message: err.Error(),
			})
		}
	}
	return issues
}

// ValidateChannels checks every present platform sub-configuration.
func ValidateChannels(ch *ChannelsConfig) []ValidationIssue {
	var issues []ValidationIssue
	if ch.Telegram != nil {
		issues = append(issues, ch.Telegram.Validate()...)
	}
	if ch.Discord != nil {
		issues = append(issues, ch.Discord.Validate()...)
	}
	if ch.Slack != nil {
		issues = append(issues, ch.Slack.Validate()...)
	}
	if ch.IRC != nil {
		issues = append(issues, ch.IRC.Validate()...)
	}
	if ch.Email != nil {
		issues = append(issues, ch.Email.Validate()...)
	}
	if ch.QQ != nil {
		issues = append(issues, ch.QQ.Validate()...)
	}
	return issues
}

// ChannelError folds a platform's validation issues into one ConfigError,
// or returns nil when there are none.
func ChannelError(channel string, issues []ValidationIssue) error {
	if len(issues) == 0 {
		return nil
	}
	msgs := make([]string, len(issues))
	for i, issue := range issues {
		msgs[i] = strings.TrimPrefix(issue.Path, "channels."+channel+".") + ": " + issue.Message
	}
	return &ConfigError{Channel: channel, Message: strings.Join(msgs, "; ")}
}

func required(path, value string) []ValidationIssue {
	if strings.TrimSpace(value) != "" {
		return nil
	}
	return []ValidationIssue{{Path: path, Message: "required"}}
}

func validPort(path string, port int) []ValidationIssue {
	if port >= 0 && port <= 65535 {
		return nil
	}
	return []ValidationIssue{{Path: path, Message: fmt.Sprintf("port must be 0-65535, got %d", port)}}
}

func (o ChannelOptions) validate(prefix string) []ValidationIssue {
	var issues []ValidationIssue
	if o.RatePerSec < 0 {
		issues = append(issues, ValidationIssue{Path: prefix + ".ratePerSec", Message: "must not be negative"})
	}
	if o.SendRetries < 0 {
		issues = append(issues, ValidationIssue{Path: prefix + ".sendRetries", Message: "must not be negative"})
	}
	return issues
}

// Validate checks the Telegram sub-configuration.
func (c *TelegramConfig) Validate() []ValidationIssue {
	issues := required("channels.telegram.token", c.Token)
	if c.PollTimeout < 0 {
		issues = append(issues, ValidationIssue{Path: "channels.telegram.pollTimeout", Message: "must not be negative"})
	}
	return append(issues, c.ChannelOptions.validate("channels.telegram")...)
}

// Validate checks the Discord sub-configuration.
func (c *DiscordConfig) Validate() []ValidationIssue {
	issues := required("channels.discord.token", c.Token)
	return append(issues, c.ChannelOptions.validate("channels.discord")...)
}

// Validate checks the Slack sub-configuration.
func (c *SlackConfig) Validate() []ValidationIssue {
	issues := required("channels.slack.botToken", c.BotToken)
	issues = append(issues, required("channels.slack.appToken", c.AppToken)...)
	if c.AppToken != "" && !strings.HasPrefix(c.AppToken, "xapp-") {
		issues = append(issues, ValidationIssue{Path: "channels.slack.appToken", Message: "must be an app-level token (xapp-...)"})
	}
	return append(issues, c.ChannelOptions.validate("channels.slack")...)
}

// Validate checks the IRC sub-configuration.
func (c *IRCConfig) Validate() []ValidationIssue {
	var issues []ValidationIssue
	if c.Server == "" {
		issues = append(issues, ValidationIssue{Path: "channels.irc.server", Message: "server is required"})
	}
	if c.Nick == "" {
		issues = append(issues, ValidationIssue{Path: "channels.irc.nick", Message: "nick is required"})
	}
	issues = append(issues, validPort("channels.irc.port", c.Port)...)
	if c.SASL && c.Password == "" {
		issues = append(issues, ValidationIssue{Path: "channels.irc.sasl", Message: "SASL requires a password to be set"})
	}
	return append(issues, c.ChannelOptions.validate("channels.irc")...)
}

// Validate checks the email sub-configuration.
func (c *EmailConfig) Validate() []ValidationIssue {
	issues := required("channels.email.imapHost", c.IMAPHost)
	issues = append(issues, required("channels.email.username", c.Username)...)
	issues = append(issues, required("channels.email.password", c.Password)...)
	issues = append(issues, required("channels.email.smtpHost", c.SMTPHost)...)
	issues = append(issues, required("channels.email.from", c.From)...)
	issues = append(issues, validPort("channels.email.imapPort", c.IMAPPort)...)
	issues = append(issues, validPort("channels.email.smtpPort", c.SMTPPort)...)
	if c.PollInterval < 0 {
		issues = append(issues, ValidationIssue{Path: "channels.email.pollInterval", Message: "must not be negative"})
	}
	return append(issues, c.ChannelOptions.validate("channels.email")...)
}

// Validate checks the QQ sub-configuration.
func (c *QQConfig) Validate() []ValidationIssue {
	issues := required("channels.qq.appId", c.AppID)
	issues = append(issues, required("channels.qq.appSecret", c.AppSecret)...)
	return append(issues, c.ChannelOptions.validate("channels.qq")...)
}
