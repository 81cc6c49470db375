package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/soyeahso/chanhub/internal/app"
	"github.com/soyeahso/chanhub/internal/logging"
	"github.com/spf13/cobra"
)

func newGatewayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Run the chanhub gateway",
	}

	cmd.AddCommand(newGatewayRunCmd("run"))
	return cmd
}

// newStartCmd is the top-level shorthand for "gateway run".
func newStartCmd() *cobra.Command {
	cmd := newGatewayRunCmd("start")
	cmd.Short = "Start every configured channel (same as gateway run)"
	return cmd
}

func newGatewayRunCmd(use string) *cobra.Command {
	var (
		port    int
		bind    string
		noWatch bool
	)

	cmd := &cobra.Command{
		Use:   use,
		Short: "Start every configured channel and the dispatch loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if port != 0 {
				cfg.Gateway.Port = port
				cfg.Gateway.Enabled = true
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}

			level := cfg.Logging.Level
			if logLevel != "" {
				level = logLevel
			}
			runLog, closer, err := logging.NewWithOptions(logging.Options{
				Level: level,
				Style: cfg.Logging.ConsoleStyle,
				File:  cfg.Logging.File,
			})
			if err != nil {
				return fmt.Errorf("opening log file: %w", err)
			}
			defer closer.Close()

			a, err := app.New(cfg, runLog)
			if err != nil {
				return err
			}
			if a.BuildErr != nil {
				runLog.Warn().Err(a.BuildErr).Msg("some channels were not started")
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			opts := app.RunOptions{}
			if !noWatch {
				opts.ConfigPath = paths.Config
			}
			return a.Run(ctx, opts)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "serve the status API on this port (enables it)")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, custom)")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not watch the config file for edits")

	return cmd
}
