package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/chanhub/internal/channel"
	"github.com/soyeahso/chanhub/internal/config"
	"github.com/soyeahso/chanhub/internal/domain"
	"github.com/soyeahso/chanhub/internal/routing"
	"github.com/spf13/cobra"
)

func newMessageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Send one-off messages through a channel",
	}

	cmd.AddCommand(newMessageSendCmd())
	return cmd
}

func newMessageSendCmd() *cobra.Command {
	var (
		channelName string
		to          string
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send --channel <name> --to <recipient> <text...>",
		Short: "Send text to a recipient without starting the gateway",
		Long: "send builds the named adapter from the config file and delivers one message.\n" +
			"Adapters that need a live session to send (irc) report \"not connected\".",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}

			chans, buildErr := channel.BuildFromConfig(&cfg.Channels, log)
			reg := channel.NewRegistry(log, cfg.Channels.Defaults)
			for _, ch := range chans {
				if ch.Name() == channelName {
					if err := reg.Register(ch); err != nil {
						return err
					}
				}
			}
			if reg.Count() == 0 && buildErr != nil {
				var cfgErr *config.ConfigError
				for _, e := range unjoin(buildErr) {
					if errors.As(e, &cfgErr) && cfgErr.Channel == channelName {
						return e
					}
				}
			}

			router := routing.NewRouter(reg, nil, timeout, log)
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if err := router.SendTo(ctx, channelName, to, strings.Join(args, " ")); err != nil {
				if errors.Is(err, domain.ErrNotConnected) {
					return fmt.Errorf("%s cannot send outside a running gateway: %w", channelName, err)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent via %s to %s\n", channelName, to)
			return nil
		},
	}

	cmd.Flags().StringVarP(&channelName, "channel", "c", "", "channel name (telegram, discord, slack, irc, email, qq)")
	cmd.Flags().StringVarP(&to, "to", "t", "", "platform-specific recipient id")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "send timeout")
	cmd.MarkFlagRequired("channel")
	cmd.MarkFlagRequired("to")

	return cmd
}
