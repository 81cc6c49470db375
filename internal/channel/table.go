package channel

import (
	"errors"

	"github.com/soyeahso/chanhub/internal/channel/discord"
	"github.com/soyeahso/chanhub/internal/channel/email"
	"github.com/soyeahso/chanhub/internal/channel/irc"
	"github.com/soyeahso/chanhub/internal/channel/qq"
	"github.com/soyeahso/chanhub/internal/channel/slack"
	"github.com/soyeahso/chanhub/internal/channel/telegram"
	"github.com/soyeahso/chanhub/internal/config"
	"github.com/soyeahso/chanhub/internal/domain"
	"github.com/soyeahso/chanhub/internal/logging"
)

// Factory describes one supported platform.
type Factory struct {
	Name string
	// DisplayName replaces Name in listings when set.
	DisplayName string
	// Present reports whether the platform's sub-config exists.
	Present func(cfg *config.ChannelsConfig) bool
	// Build validates the sub-config and constructs the adapter. It is only
	// called when Present returns true.
	Build func(cfg *config.ChannelsConfig, log *logging.Logger) (domain.Channel, error)
}

func (f Factory) label() string {
	if f.DisplayName != "" {
		return f.DisplayName
	}
	return f.Name
}

// Table lists every supported platform in display order.
var Table = []Factory{
	{
		Name:    "telegram",
		Present: func(c *config.ChannelsConfig) bool { return c.Telegram != nil },
		Build: func(c *config.ChannelsConfig, log *logging.Logger) (domain.Channel, error) {
			if err := config.ChannelError("telegram", c.Telegram.Validate()); err != nil {
				return nil, err
			}
			return telegram.New(*c.Telegram, log), nil
		},
	},
	{
		Name:    "discord",
		Present: func(c *config.ChannelsConfig) bool { return c.Discord != nil },
		Build: func(c *config.ChannelsConfig, log *logging.Logger) (domain.Channel, error) {
			if err := config.ChannelError("discord", c.Discord.Validate()); err != nil {
				return nil, err
			}
			return discord.New(*c.Discord, log), nil
		},
	},
	{
		Name:    "slack",
		Present: func(c *config.ChannelsConfig) bool { return c.Slack != nil },
		Build: func(c *config.ChannelsConfig, log *logging.Logger) (domain.Channel, error) {
			if err := config.ChannelError("slack", c.Slack.Validate()); err != nil {
				return nil, err
			}
			return slack.New(*c.Slack, log), nil
		},
	},
	{
		Name:    "irc",
		Present: func(c *config.ChannelsConfig) bool { return c.IRC != nil },
		Build: func(c *config.ChannelsConfig, log *logging.Logger) (domain.Channel, error) {
			if err := config.ChannelError("irc", c.IRC.Validate()); err != nil {
				return nil, err
			}
			return irc.New(*c.IRC, log), nil
		},
	},
	{
		Name:    "email",
		Present: func(c *config.ChannelsConfig) bool { return c.Email != nil },
		Build: func(c *config.ChannelsConfig, log *logging.Logger) (domain.Channel, error) {
			if err := config.ChannelError("email", c.Email.Validate()); err != nil {
				return nil, err
			}
			return email.New(*c.Email, log), nil
		},
	},
	{
		Name:    "qq",
		Present: func(c *config.ChannelsConfig) bool { return c.QQ != nil },
		Build: func(c *config.ChannelsConfig, log *logging.Logger) (domain.Channel, error) {
			if err := config.ChannelError("qq", c.QQ.Validate()); err != nil {
				return nil, err
			}
			return qq.New(*c.QQ, log), nil
		},
	},
}

// BuildFromConfig constructs one adapter per present sub-config, in table
// order. An invalid sub-config is reported in the joined error and skipped;
// the remaining adapters are still returned.
func BuildFromConfig(cfg *config.ChannelsConfig, log *logging.Logger) ([]domain.Channel, error) {
	if cfg == nil {
		return nil, nil
	}
	var (
		chans []domain.Channel
		errs  []error
	)
	for _, f := range Table {
		if !f.Present(cfg) {
			continue
		}
		ch, err := f.Build(cfg, log)
		if err != nil {
			log.Warn().Err(err).Str("channel", f.Name).Msg("skipping misconfigured channel")
			errs = append(errs, err)
			continue
		}
		chans = append(chans, ch)
	}
	return chans, errors.Join(errs...)
}

// ListStatus reports which platforms are enabled, without building any.
func ListStatus(cfg *config.ChannelsConfig) []domain.ChannelStatus {
	out := make([]domain.ChannelStatus, 0, len(Table))
	for _, f := range Table {
		out = append(out, domain.ChannelStatus{
			Name:    f.label(),
			Enabled: cfg != nil && f.Present(cfg),
		})
	}
	return out
}
