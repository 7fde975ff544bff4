package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/gentlevisitor/internal/config"
	"github.com/JakeFAU/gentlevisitor/internal/database"
	collyfetcher "github.com/JakeFAU/gentlevisitor/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/gentlevisitor/internal/fetcher/headless"
	"github.com/JakeFAU/gentlevisitor/internal/policy/classify"
	"github.com/JakeFAU/gentlevisitor/internal/policy/ratelimit"
	"github.com/JakeFAU/gentlevisitor/internal/policy/simple"
	pubsubpublisher "github.com/JakeFAU/gentlevisitor/internal/publisher/pubsub"
	"github.com/JakeFAU/gentlevisitor/internal/storage/memory"
	"github.com/JakeFAU/gentlevisitor/internal/storage/postgres"
	"github.com/JakeFAU/gentlevisitor/internal/storage/sqlite"
	"github.com/JakeFAU/gentlevisitor/internal/visitor"
)

// recordStore is the single backend serving both targets and sessions.
type recordStore interface {
	visitor.TargetStore
	visitor.SessionStore
}

type stores struct {
	records recordStore
	ping    func(ctx context.Context) error
	close   func()
}

func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (*stores, error) {
	threshold := cfg.Crawler.TerminalThreshold
	params := cfg.DatabaseParams()

	switch cfg.Database.Driver {
	case database.DriverMemory:
		logger.Warn("using in-memory record store; targets and sessions are lost on exit")
		return &stores{
			records: memory.NewStore(threshold),
			ping:    func(context.Context) error { return nil },
			close:   func() {},
		}, nil

	case database.DriverSQLite:
		dsn, err := params.DSN()
		if err != nil {
			return nil, err
		}
		store, err := sqlite.New(ctx, dsn, threshold)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return &stores{
			records: store,
			ping:    store.Ping,
			close: func() {
				if err := store.Close(); err != nil {
					logger.Warn("close sqlite store", zap.Error(err))
				}
			},
		}, nil

	case database.DriverPostgres:
		if cfg.Database.MigrateOnStart {
			if err := database.RunMigrations(params); err != nil {
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		dsn, err := params.DSN()
		if err != nil {
			return nil, err
		}
		store, err := postgres.New(ctx, postgres.Config{
			DSN:       dsn,
			MaxConns:  cfg.Database.MaxConns,
			Threshold: threshold,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return &stores{records: store, ping: store.Ping, close: store.Close}, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

// buildFetcher returns the configured fetch collaborator and its cleanup.
func buildFetcher(cfg config.Config) (visitor.Fetcher, func(), error) {
	switch cfg.Crawler.Fetcher {
	case config.FetcherHeadless:
		fetcher, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Crawler.MaxInFlight,
			NavigationTimeout: cfg.FetchTimeout(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init headless fetcher: %w", err)
		}
		return fetcher, fetcher.Close, nil
	default:
		fetcher := collyfetcher.New(collyfetcher.Config{
			RespectRobots: cfg.Crawler.RespectRobots,
			Timeout:       cfg.FetchTimeout(),
		})
		return fetcher, func() {}, nil
	}
}

func buildController(cfg config.Config, logger *zap.Logger) visitor.Controller {
	var controller visitor.Controller
	switch cfg.Policy.Kind {
	case config.PolicyClassify:
		controller = classify.New(logger.Named("classify"))
	default:
		controller = simple.New()
	}
	if cfg.Policy.RateLimitRPS > 0 || cfg.Policy.FailureStreak > 0 {
		controller = ratelimit.New(controller, ratelimit.Config{
			DefaultRPS:    cfg.Policy.RateLimitRPS,
			DefaultBurst:  cfg.Policy.RateLimitBurst,
			FailureStreak: cfg.Policy.FailureStreak,
			Cooldown:      cfg.Policy.FailureCooldown,
		}, logger.Named("ratelimit"))
	}
	return controller
}

// buildPublisher returns nil when notifications are not configured.
func buildPublisher(ctx context.Context, cfg config.Config) (visitor.Publisher, func(), error) {
	if cfg.PubSub.ProjectID == "" {
		return nil, func() {}, nil
	}
	pub, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	return pub, func() {
		if err := pub.Close(); err != nil {
			zap.L().Warn("close pubsub publisher", zap.Error(err))
		}
	}, nil
}
