package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CloudCompile/cloudgptapi-sub000/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway",
		Long: `Start the gateway and serve the OpenAI-compatible API until
interrupted.

Examples:
  cloudgpt serve
  cloudgpt serve --addr :9090 --config ./cloudgpt.yaml`,
		RunE: runServe,
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	logger := newLogger(cmd, cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := buildStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	logger.Info("gateway configured",
		"providers", len(cfg.Providers),
		"quota", cfg.Quota.Backend,
		"usage", cfg.Usage.Sink,
		"memory", cfg.Memory.URL != "",
		"fast_path", cfg.FastPath.Provider,
	)

	if st.sweeper != nil {
		go sweepQuota(ctx, st.sweeper, cfg.Quota.SweepInterval, logger.With("component", "quota"))
	}

	srv := server.New(st.router, st.limiter, st.resolver,
		server.WithLogger(logger),
		server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
	)
	return srv.Run(ctx, cfg.Server.Addr)
}
