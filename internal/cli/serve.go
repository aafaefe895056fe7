package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/soyeahso/xiaoji/internal/config"
	"github.com/soyeahso/xiaoji/internal/gateway"
	"github.com/soyeahso/xiaoji/internal/hooks"
	"github.com/soyeahso/xiaoji/internal/session"
	"github.com/soyeahso/xiaoji/internal/store"
	"github.com/soyeahso/xiaoji/internal/telemetry"
	"github.com/soyeahso/xiaoji/internal/upstream"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		port      int
		bind      string
		staticDir string
		metrics   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat proxy server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadedConfig()
			if err != nil {
				return err
			}

			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}
			if staticDir != "" {
				cfg.Gateway.StaticDir = staticDir
			}
			if metrics {
				cfg.Gateway.Metrics = true
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides config)")
	cmd.Flags().StringVar(&bind, "bind", "", "bind mode: loopback, lan, custom (overrides config)")
	cmd.Flags().StringVar(&staticDir, "static", "", "directory of widget files served at /")
	cmd.Flags().BoolVar(&metrics, "metrics", false, "expose Prometheus metrics at /metrics")

	return cmd
}

// runServer wires the session registry, upstream clients and gateway, and
// blocks until ctx is cancelled.
func runServer(ctx context.Context, cfg config.Config) error {
	shutdownTracing, err := telemetry.Setup(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	hookMgr := hooks.NewManager(log)
	hookMgr.OnAll("audit", hooks.AuditLog(log.Sub("audit")))

	sessions, closeStore, err := openSessionStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	conversations := upstream.NewClient(cfg.Upstream, log)
	registry := session.NewRegistry(conversations, sessions, log, session.WithHooks(hookMgr))
	speech := upstream.NewSpeechClient(cfg, log)

	srv := gateway.New(cfg, registry, conversations, speech, log, gateway.WithHooks(hookMgr))

	log.Info().
		Str("store", cfg.Session.Store).
		Str("upstream", cfg.Upstream.BaseURL).
		Str("env", cfg.Env).
		Msg("starting xiaoji")

	return srv.Start(ctx)
}

// openSessionStore returns the configured session backend and its closer.
func openSessionStore(cfg config.Config) (session.Store, func() error, error) {
	if cfg.Session.Store != "sqlite" {
		return session.NewMemoryStore(), func() error { return nil }, nil
	}

	db, err := store.Open(cfg.Session.DSN, log)
	if err != nil {
		return nil, nil, fmt.Errorf("opening session store: %w", err)
	}
	return store.NewConversationStore(db), db.Close, nil
}
