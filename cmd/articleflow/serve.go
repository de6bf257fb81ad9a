package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/articleflow/config"
	"github.com/mohammad-safakhou/articleflow/internal/logging"
	"github.com/mohammad-safakhou/articleflow/internal/server"
	"github.com/mohammad-safakhou/articleflow/internal/store"
)

func serveCmd(cfg func() *config.Config) *cobra.Command {
	var (
		addr        string
		autoMigrate bool
		migDir      string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			log := logging.Component("serve")

			if autoMigrate {
				if err := store.Migrate(migDir, c.Storage.Postgres.DSN(), "up", 0); err != nil {
					return err
				}
			}
			a, err := buildApp(ctx, c, appOptions{RequireStore: true})
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			if c.Knowledge.ReindexCron != "" && c.Knowledge.DocsDir != "" {
				if err := a.indexer.Schedule(ctx, c.Knowledge.ReindexCron); err != nil {
					return err
				}
				log.WithField("cron", c.Knowledge.ReindexCron).Info("knowledge reindex scheduled")
			}

			opts := server.Options{
				Articles:  a.store,
				States:    a.repos.State,
				Runner:    a.orch,
				Themes:    a.themes,
				Metrics:   a.metrics,
				JWTSecret: c.Server.JWTSecret,
				Logger:    logging.Component("http"),
			}
			if a.repos.Progress != nil {
				opts.Progress = a.repos.Progress
			}
			srv, err := server.New(opts)
			if err != nil {
				return err
			}
			if c.Server.JWTSecret == "" {
				log.Warn("server.jwt_secret is empty; the API is unauthenticated")
			}

			if addr == "" {
				addr = c.Server.Address
			}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start(addr) }()
			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			log.Info("shutting down")
			shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
			defer stop()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.address)")
	cmd.Flags().BoolVar(&autoMigrate, "migrate", false, "apply migrations before serving")
	cmd.Flags().StringVar(&migDir, "migrations", "file://migrations", "migrations source")
	return cmd
}
