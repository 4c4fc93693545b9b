package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/open-sauced/pizza/release/pkg/database"
	"github.com/open-sauced/pizza/release/pkg/providers"
	"github.com/open-sauced/pizza/release/pkg/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve release reports over http",
		Long:  "Serves POST /notes, GET /notes/latest, GET /ping and GET /metrics. Repositories are fetched with the configured git provider and reports are stored when a database is configured.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			provider, err := providers.NewProvider(cfg.Server, logger)
			if err != nil {
				return err
			}

			var store server.ReportStore
			if cfg.Database.Enabled() {
				db := cfg.Database
				handler, err := database.Connect(ctx, db.Host, db.Port, db.User, db.Password, db.DBName)
				if err != nil {
					return err
				}
				defer handler.Close()
				store = handler
			} else {
				logger.Info("No database configured, reports are not stored")
			}

			return server.NewReleaseServer(store, provider, hostFactory(cfg, logger), cfg, logger).Run(ctx)
		},
	}
}
