package config

import "time"

// Config is the root configuration for chanhub.
type Config struct {
	Channels  ChannelsConfig  `yaml:"channels,omitempty"`
	Responder ResponderConfig `yaml:"responder,omitempty"`
	Gateway   GatewayConfig   `yaml:"gateway,omitempty"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
	Hooks     HooksConfig     `yaml:"hooks,omitempty"`
}

// ChannelsConfig holds one optional record per supported platform.
// A nil pointer means the platform is disabled.
type ChannelsConfig struct {
	Defaults RuntimeConfig   `yaml:"defaults,omitempty"`
	Telegram *TelegramConfig `yaml:"telegram,omitempty"`
	Discord  *DiscordConfig  `yaml:"discord,omitempty"`
	Slack    *SlackConfig    `yaml:"slack,omitempty"`
	IRC      *IRCConfig      `yaml:"irc,omitempty"`
	Email    *EmailConfig    `yaml:"email,omitempty"`
	QQ       *QQConfig       `yaml:"qq,omitempty"`
}

// RuntimeConfig carries the registry and dispatch knobs.
type RuntimeConfig struct {
	InboxCapacity  int           `yaml:"inboxCapacity,omitempty"` // -1 = unbounded
	HealthTimeout  time.Duration `yaml:"healthTimeout,omitempty"`
	ShutdownGrace  time.Duration `yaml:"shutdownGrace,omitempty"`
	SendTimeout    time.Duration `yaml:"sendTimeout,omitempty"`
	Restart        string        `yaml:"restart,omitempty"` // "never" | "on-failure"
	RestartBackoff time.Duration `yaml:"restartBackoff,omitempty"`
	MaxRestarts    int           `yaml:"maxRestarts,omitempty"`    // -1 = unlimited
	HealthSchedule string        `yaml:"healthSchedule,omitempty"` // cron spec, empty disables
}

// ChannelOptions are settings every adapter understands.
type ChannelOptions struct {
	AllowFrom    []string      `yaml:"allowFrom,omitempty"` // empty = allow all
	RatePerSec   float64       `yaml:"ratePerSec,omitempty"`
	SendRetries  int           `yaml:"sendRetries,omitempty"`
	RetryBackoff time.Duration `yaml:"retryBackoff,omitempty"`
}

// TelegramConfig configures the Telegram bot adapter.
type TelegramConfig struct {
	ChannelOptions `yaml:",inline"`
	Token          string `yaml:"token"`
	APIEndpoint    string `yaml:"apiEndpoint,omitempty"` // override for self-hosted Bot API servers
	PollTimeout    int    `yaml:"pollTimeout,omitempty"` // long-poll seconds
}

// DiscordConfig configures the Discord bot adapter.
type DiscordConfig struct {
	ChannelOptions `yaml:",inline"`
	Token          string `yaml:"token"`
	MentionOnly    bool   `yaml:"mentionOnly,omitempty"`
}

// SlackConfig configures the Slack socket-mode adapter.
type SlackConfig struct {
	ChannelOptions `yaml:",inline"`
	BotToken       string `yaml:"botToken"`
	AppToken       string `yaml:"appToken"`
	ReplyInThread  bool   `yaml:"replyInThread,omitempty"`
}

// IRCConfig defines IRC channel settings.
type IRCConfig struct {
	ChannelOptions `yaml:",inline"`
	Server         string   `yaml:"server"`
	Port           int      `yaml:"port,omitempty"`
	Nick           string   `yaml:"nick"`
	Password       string   `yaml:"password,omitempty"`
	Channels       []string `yaml:"channels"`
	UseTLS         bool     `yaml:"useTLS,omitempty"`
	SASL           bool     `yaml:"sasl,omitempty"`
	MentionOnly    bool     `yaml:"mentionOnly,omitempty"` // only accept channel lines that mention the nick
}

// EmailConfig configures the IMAP/SMTP adapter.
type EmailConfig struct {
	ChannelOptions `yaml:",inline"`
	IMAPHost       string        `yaml:"imapHost"`
	IMAPPort       int           `yaml:"imapPort,omitempty"`
	IMAPUseTLS     *bool         `yaml:"imapUseTLS,omitempty"` // defaults to true
	Mailbox        string        `yaml:"mailbox,omitempty"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	SMTPHost       string        `yaml:"smtpHost"`
	SMTPPort       int           `yaml:"smtpPort,omitempty"`
	From           string        `yaml:"from"`
	Subject        string        `yaml:"subject,omitempty"`
	PollInterval   time.Duration `yaml:"pollInterval,omitempty"`
}

// QQConfig configures the QQ guild bot adapter.
type QQConfig struct {
	ChannelOptions `yaml:",inline"`
	AppID          string `yaml:"appId"`
	AppSecret      string `yaml:"appSecret"`
	Sandbox        bool   `yaml:"sandbox,omitempty"`
	APIBase        string `yaml:"apiBase,omitempty"`
	TokenURL       string `yaml:"tokenUrl,omitempty"`
}

// ResponderConfig selects the business logic that answers inbound messages.
type ResponderConfig struct {
	Mode    string        `yaml:"mode,omitempty"` // "echo" | "command" | "none"
	Prefix  string        `yaml:"prefix,omitempty"`
	Command string        `yaml:"command,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// GatewayConfig controls the HTTP status server.
type GatewayConfig struct {
	Enabled        bool     `yaml:"enabled,omitempty"`
	Port           int      `yaml:"port,omitempty"`
	Bind           string   `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string   `yaml:"customBindHost,omitempty"`
	Token          string   `yaml:"token,omitempty"`
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "compact" | "json"
}

// HooksConfig defines command hooks per event.
type HooksConfig struct {
	GatewayStart     []HookEntry `yaml:"gatewayStart,omitempty"`
	GatewayStop      []HookEntry `yaml:"gatewayStop,omitempty"`
	MessageReceived  []HookEntry `yaml:"messageReceived,omitempty"`
	MessageSending   []HookEntry `yaml:"messageSending,omitempty"`
	MessageFailed    []HookEntry `yaml:"messageFailed,omitempty"`
	ChannelFailed    []HookEntry `yaml:"channelFailed,omitempty"`
	ChannelUnhealthy []HookEntry `yaml:"channelUnhealthy,omitempty"`
}

// HookEntry defines a single hook action.
type HookEntry struct {
	Command string        `yaml:"command"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}
