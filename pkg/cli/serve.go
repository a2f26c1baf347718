package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"poetry-feed/pkg/api"
	"poetry-feed/pkg/logger"
)

const (
	evictionInterval = time.Minute
	shutdownTimeout  = 15 * time.Second
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if port > 0 {
				cfg.Service.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, log, appOptions{storage: true})
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				a.closeAll(closeCtx)
			}()

			go a.manager.Run(ctx, evictionInterval)

			srv := api.NewServer(api.Config{
				Port:            cfg.Service.Port,
				Debug:           cfg.Service.Debug,
				SessionRPS:      float64(cfg.RateLimit.RPS),
				SessionBurst:    cfg.RateLimit.Burst,
				ShutdownTimeout: shutdownTimeout,
			}, api.Deps{
				Sessions: a.manager,
				Platform: a.platform,
				Metrics:  a.metrics.Handler(),
				Observer: a.metrics,
				Logger:   log,
			})

			log.Info("Starting poetry feed service",
				logger.Int("port", cfg.Service.Port),
				logger.Bool("platform", a.platform != nil),
			)
			return srv.Run(ctx)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "override the configured port")
	return cmd
}
