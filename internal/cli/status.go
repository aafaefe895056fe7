package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/soyeahso/xiaoji/internal/apiclient"
	"github.com/soyeahso/xiaoji/internal/config"
	"github.com/soyeahso/xiaoji/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show xiaoji status and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n\n", version.Get())

			// Show paths
			fmt.Fprintf(out, "Config:   %s\n", paths.Config)
			fmt.Fprintf(out, "Logs:     %s\n", paths.Logs)
			fmt.Fprintln(out)

			cfg, err := loadedConfig()
			if err != nil {
				fmt.Fprintf(out, "Config:   error loading: %v\n", err)
				return nil
			}
			if _, statErr := os.Stat(paths.Config); os.IsNotExist(statErr) {
				fmt.Fprintln(out, "Config:   not found (using defaults and environment)")
			}

			redacted := config.Redacted(cfg)
			fmt.Fprintf(out, "Env:      %s\n", cfg.Env)
			fmt.Fprintf(out, "Gateway:  port=%d bind=%s metrics=%v static=%q\n",
				cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.Metrics, cfg.Gateway.StaticDir)
			fmt.Fprintf(out, "Upstream: %s app=%s key=%s\n",
				cfg.Upstream.BaseURL, cfg.Upstream.AppID, redacted.Upstream.APIKey)
			fmt.Fprintf(out, "Speech:   %s dev_pid=%d\n", cfg.Speech.BaseURL, cfg.Speech.DevPID)
			fmt.Fprintf(out, "Session:  store=%s\n", cfg.Session.Store)
			if cfg.Telemetry.OTLPEndpoint != "" {
				fmt.Fprintf(out, "Tracing:  %s (sampling %.2f)\n", cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.SamplingRate)
			}

			// Probe a running server
			if server == "" {
				server = cfg.ServerURL()
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
			defer cancel()
			health, err := apiclient.New(server, 0, log).Health(ctx)
			if err != nil {
				fmt.Fprintf(out, "Server:   %s unreachable (%v)\n", server, err)
			} else {
				fmt.Fprintf(out, "Server:   %s %s, version %s, up %s, %d conversation(s)\n",
					server, health.Status, health.Version,
					(time.Duration(health.Uptime) * time.Second).String(), health.ConversationsCount)
			}

			// Validation
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

	cmd.Flags().StringVar(&server, "server", "", "server base URL to probe (default from config)")
	return cmd
}
