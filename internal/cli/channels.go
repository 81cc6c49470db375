package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/soyeahso/chanhub/internal/app"
	"github.com/soyeahso/chanhub/internal/channel"
	"github.com/soyeahso/chanhub/internal/config"
	"github.com/soyeahso/chanhub/internal/domain"
	"github.com/spf13/cobra"
)

func newChannelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "channels",
		Aliases: []string{"channel"},
		Short:   "Inspect the configured channels",
	}

	cmd.AddCommand(newChannelsListCmd())
	cmd.AddCommand(newChannelsDoctorCmd())
	return cmd
}

func newChannelsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every supported platform and whether it is configured",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			printStatusTable(cmd.OutOrStdout(), channel.ListStatus(&cfg.Channels))
			return nil
		},
	}
}

func printStatusTable(out io.Writer, statuses []domain.ChannelStatus) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tENABLED")
	for _, st := range statuses {
		fmt.Fprintf(tw, "%s\t%s\n", st.Name, yesNo(st.Enabled))
	}
	tw.Flush()
}

func newChannelsDoctorCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Build each configured channel and run one health check",
		Long: "doctor constructs a throwaway adapter for every configured platform and\n" +
			"probes it once. Nothing is started. The command fails when a channel is\n" +
			"unhealthy or its configuration is invalid.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			if timeout <= 0 {
				timeout = cfg.Channels.Defaults.HealthTimeout
			}

			out := cmd.OutOrStdout()
			results, buildErr := app.Doctor(cmd.Context(), cfg, timeout, log)
			if len(results) == 0 && buildErr == nil {
				fmt.Fprintln(out, "no channels configured")
				return nil
			}

			unhealthy := printDoctorTable(out, results)
			if buildErr != nil {
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Invalid configuration:")
				for _, e := range unjoin(buildErr) {
					fmt.Fprintf(out, "  - %v\n", e)
				}
			}

			switch {
			case unhealthy > 0:
				return fmt.Errorf("%d of %d channels unhealthy", unhealthy, len(results))
			case buildErr != nil:
				return fmt.Errorf("invalid channel configuration")
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-channel health check timeout (default channels.defaults.healthTimeout)")
	return cmd
}

func printDoctorTable(out io.Writer, results []domain.HealthResult) int {
	unhealthy := 0
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tHEALTHY\tLATENCY\tERROR")
	for _, r := range results {
		if !r.Healthy {
			unhealthy++
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Name, yesNo(r.Healthy), r.Latency.Round(time.Millisecond), r.Error())
	}
	tw.Flush()
	return unhealthy
}

// unjoin splits an errors.Join result back into its parts.
func unjoin(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
