package cli

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/soyeahso/chanhub/internal/channel"
	"github.com/soyeahso/chanhub/internal/config"
	"github.com/soyeahso/chanhub/internal/gateway"
	"github.com/soyeahso/chanhub/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show chanhub status and configuration summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "chanhub %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:    %s\n", paths.Config)
			fmt.Fprintf(out, "Logs:      %s\n", paths.Logs)
			fmt.Fprintln(out)

			if _, err := os.Stat(paths.Config); os.IsNotExist(err) {
				fmt.Fprintln(out, "Config:    not found (using defaults)")
			}
			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:    error loading: %v\n", err)
				return nil
			}

			rt := cfg.Channels.Defaults
			fmt.Fprintf(out, "Responder: mode=%s\n", orDefault(cfg.Responder.Mode, "echo"))
			fmt.Fprintf(out, "Runtime:   inbox=%d restart=%s grace=%s health=%s\n",
				rt.InboxCapacity, rt.Restart, rt.ShutdownGrace, orDefault(rt.HealthSchedule, "off"))
			if cfg.Gateway.Enabled {
				fmt.Fprintf(out, "Gateway:   port=%d bind=%s auth=%v\n",
					cfg.Gateway.Port, orDefault(cfg.Gateway.Bind, "loopback"), cfg.Gateway.Token != "")
			} else {
				fmt.Fprintln(out, "Gateway:   status API disabled")
			}
			fmt.Fprintln(out)

			var enabled []string
			for _, st := range channel.ListStatus(&cfg.Channels) {
				if st.Enabled {
					enabled = append(enabled, st.Name)
				}
			}
			if len(enabled) > 0 {
				fmt.Fprintf(out, "Channels:  %s\n", strings.Join(enabled, ", "))
			} else {
				fmt.Fprintln(out, "Channels:  (none configured)")
			}

			if cfg.Gateway.Enabled {
				printLiveStatus(cmd, cfg.Gateway)
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			return nil
		},
	}

	return cmd
}

// printLiveStatus asks a running gateway for its channel table.
func printLiveStatus(cmd *cobra.Command, gw config.GatewayConfig) {
	out := cmd.OutOrStdout()
	host := "127.0.0.1"
	if gw.Bind == "custom" && gw.CustomBindHost != "" {
		host = gw.CustomBindHost
	}
	url := "http://" + net.JoinHostPort(host, fmt.Sprint(gw.Port)) + "/channels"

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
	if err != nil {
		return
	}
	if gw.Token != "" {
		req.Header.Set("Authorization", "Bearer "+gw.Token)
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintln(out, "Running:   no (gateway not reachable)")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(out, "Running:   unknown (HTTP %d)\n", resp.StatusCode)
		return
	}

	var body gateway.ChannelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		fmt.Fprintf(out, "Running:   unknown (%v)\n", err)
		return
	}
	fmt.Fprintf(out, "Running:   %s\n", body.State)
	for _, st := range body.Channels {
		line := fmt.Sprintf("  %-9s running=%v restarts=%d", st.Name, st.Running, st.Restarts)
		if st.LastErr != "" {
			line += " error=" + st.LastErr
		}
		fmt.Fprintln(out, line)
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
