package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/gentlevisitor/internal/config"
	"github.com/JakeFAU/gentlevisitor/internal/database"
	"github.com/JakeFAU/gentlevisitor/internal/importer"
)

func newImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Bulk load targets from a file",
		Long: `Reads one URL per line and stores each as a valid target. Blank lines and
lines starting with '#' are skipped; malformed lines are reported and skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime(opts)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			_, err = importTargets(cmd.Context(), cfg, args[0], logger)
			return err
		},
	}
}

func importTargets(ctx context.Context, cfg config.Config, path string, logger *zap.Logger) (int, error) {
	if cfg.Database.Driver == database.DriverMemory {
		return 0, errors.New("import needs a persistent database driver (postgres or sqlite)")
	}
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return 0, err
	}
	defer st.close()

	count, err := importer.LoadFile(ctx, path, st.records)
	var lineErr *importer.LineError
	if err != nil && !errors.As(err, &lineErr) {
		return count, fmt.Errorf("import %s: %w", path, err)
	}
	if err != nil {
		logger.Warn("skipped malformed lines", zap.String("file", path), zap.Error(err))
	}
	logger.Info("targets imported", zap.String("file", path), zap.Int("count", count))
	return count, nil
}
