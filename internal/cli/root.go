package cli

import (
	"fmt"
	"strings"

	"github.com/soyeahso/chanhub/internal/config"
	"github.com/soyeahso/chanhub/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string

	// loaded at init time
	paths config.Paths
	log   *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chanhub",
		Short: "chanhub connects a bot to many chat platforms at once",
		Long: "chanhub runs one adapter per configured platform (Telegram, Discord, Slack, IRC, email, QQ),\n" +
			"funnels every inbound message into a single dispatch loop and sends replies back\n" +
			"through the adapter the message came from.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			level := logLevel
			if level == "" {
				level = "warn"
			}
			log = logging.New(cmd.ErrOrStderr(), level)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.chanhub/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newGatewayCmd())
	cmd.AddCommand(newStartCmd())
	cmd.AddCommand(newChannelsCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newMessageCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

// loadConfig reads the config file and fails on validation issues outside
// the per-platform sub-configs. A broken platform record only disables that
// adapter, so those issues are logged and skipped.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	var fatal []config.ValidationIssue
	for _, issue := range config.Validate(&cfg) {
		if isPlatformIssue(issue.Path) {
			log.Warn().Str("path", issue.Path).Msg(issue.Message)
			continue
		}
		log.Error().Str("path", issue.Path).Msg(issue.Message)
		fatal = append(fatal, issue)
	}
	if len(fatal) > 0 {
		return cfg, fmt.Errorf("config validation failed with %d issue(s): %w", len(fatal),
			&config.ConfigError{Message: fatal[0].String()})
	}
	return cfg, nil
}

func isPlatformIssue(path string) bool {
	return strings.HasPrefix(path, "channels.") && !strings.HasPrefix(path, "channels.defaults")
}
