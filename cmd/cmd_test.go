package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/gentlevisitor/internal/config"
	"github.com/JakeFAU/gentlevisitor/internal/database"
	collyfetcher "github.com/JakeFAU/gentlevisitor/internal/fetcher/colly"
	"github.com/JakeFAU/gentlevisitor/internal/policy/classify"
	"github.com/JakeFAU/gentlevisitor/internal/policy/ratelimit"
	"github.com/JakeFAU/gentlevisitor/internal/policy/simple"
	"github.com/JakeFAU/gentlevisitor/internal/storage/memory"
	"github.com/JakeFAU/gentlevisitor/internal/storage/sqlite"
)

func baseConfig() config.Config {
	return config.Config{
		Schedule: config.ScheduleConfig{StartTime: "00:00", EndTime: "23:59", ActiveWeekday: "*"},
		Database: config.DatabaseConfig{Driver: database.DriverMemory},
		Crawler: config.CrawlerConfig{
			MaxInFlight:       2,
			TimeoutSeconds:    5,
			TerminalThreshold: 600,
			Fetcher:           config.FetcherColly,
		},
		Policy: config.PolicyConfig{Kind: config.PolicySimple},
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	for _, name := range []string{"run", "import", "migrate"} {
		sub, _, err := root.Find([]string{name})
		require.NoError(t, err)
		require.Equal(t, name, sub.Name())
	}
	require.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestBuildController(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	require.IsType(t, &simple.Controller{}, buildController(cfg, zap.NewNop()))

	cfg.Policy.Kind = config.PolicyClassify
	require.IsType(t, &classify.Controller{}, buildController(cfg, zap.NewNop()))

	cfg.Policy.FailureStreak = 3
	require.IsType(t, &ratelimit.Controller{}, buildController(cfg, zap.NewNop()))
}

func TestBuildFetcherDefaultsToColly(t *testing.T) {
	t.Parallel()

	fetcher, cleanup, err := buildFetcher(baseConfig())
	require.NoError(t, err)
	defer cleanup()
	require.IsType(t, &collyfetcher.Fetcher{}, fetcher)
}

func TestBuildPublisherDisabled(t *testing.T) {
	t.Parallel()

	pub, cleanup, err := buildPublisher(context.Background(), baseConfig())
	require.NoError(t, err)
	defer cleanup()
	require.Nil(t, pub)
}

func TestOpenStoresMemory(t *testing.T) {
	t.Parallel()

	st, err := openStores(context.Background(), baseConfig(), zap.NewNop())
	require.NoError(t, err)
	defer st.close()
	require.IsType(t, &memory.Store{}, st.records)
	require.NoError(t, st.ping(context.Background()))
}

func TestImportTargetsIntoSQLite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "visitor.db")
	listPath := filepath.Join(dir, "urls.txt")
	content := "# seed list\nhttps://example.com/a\n\nhttps://example.com/b?x=1\nnot a url\n"
	require.NoError(t, os.WriteFile(listPath, []byte(content), 0o600))

	cfg := baseConfig()
	cfg.Database.Driver = database.DriverSQLite
	cfg.Database.Name = dbPath

	count, err := importTargets(context.Background(), cfg, listPath, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 2, count)

	store, err := sqlite.New(context.Background(), dbPath, 0)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	next, err := store.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "https://example.com/a", next.String())
}

func TestImportTargetsRejectsMemoryDriver(t *testing.T) {
	t.Parallel()

	_, err := importTargets(context.Background(), baseConfig(), "unused.txt", zap.NewNop())
	require.ErrorContains(t, err, "persistent database")
}

func TestImportTargetsMissingFile(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Database.Driver = database.DriverSQLite
	cfg.Database.Name = filepath.Join(t.TempDir(), "visitor.db")

	_, err := importTargets(context.Background(), cfg, filepath.Join(t.TempDir(), "missing.txt"), zap.NewNop())
	require.Error(t, err)
}

func TestRunVisitorStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, runVisitor(ctx, baseConfig(), zap.NewNop()))
}
