package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/gentlevisitor/internal/database"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime(opts)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			params := cfg.DatabaseParams()
			if err := database.RunMigrations(params); err != nil {
				return fmt.Errorf("migrate %s: %w", params.Driver, err)
			}
			logger.Info("schema up to date", zap.String("driver", params.Driver))
			return nil
		},
	}
}
