package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/gentlevisitor/internal/api"
	"github.com/JakeFAU/gentlevisitor/internal/clock/system"
	"github.com/JakeFAU/gentlevisitor/internal/config"
	"github.com/JakeFAU/gentlevisitor/internal/history"
	"github.com/JakeFAU/gentlevisitor/internal/id/uuid"
	"github.com/JakeFAU/gentlevisitor/internal/rotation"
	"github.com/JakeFAU/gentlevisitor/internal/schedule"
	"github.com/JakeFAU/gentlevisitor/internal/scheduler"
)

const shutdownTimeout = 10 * time.Second

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the scheduling loop",
		Long: `Runs the visitor until interrupted. Each cycle selects the target with the
fewest attempts, lets the configured policy gate it, and dispatches a fetch.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime(opts)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return runVisitor(cmd.Context(), cfg, logger)
		},
	}
}

func runVisitor(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	window, err := schedule.New(cfg.ScheduleSpec())
	if err != nil {
		return fmt.Errorf("build activity window: %w", err)
	}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	fetcher, closeFetcher, err := buildFetcher(cfg)
	if err != nil {
		return err
	}
	defer closeFetcher()

	publisher, closePublisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	defer closePublisher()

	clock := system.New()
	proxies := rotation.NewProxyPool(cfg.ProxyList())
	identities := rotation.NewIdentityPool(cfg.Identities, nil)

	sched, err := scheduler.New(scheduler.Deps{
		Window:     window,
		Targets:    st.records,
		Sessions:   st.records,
		Proxies:    proxies,
		Identities: identities,
		History:    history.New(cfg.Crawler.HistoryCapacity),
		Controller: buildController(cfg, logger),
		Fetcher:    fetcher,
		Clock:      clock,
		IDs:        uuid.New(),
		Publisher:  publisher,
	}, scheduler.Config{
		Every:        cfg.Schedule.Every,
		PollInterval: cfg.Crawler.PollInterval,
		MaxInFlight:  cfg.Crawler.MaxInFlight,
		Topic:        cfg.PubSub.TopicName,
	}, logger.Named("scheduler"))
	if err != nil {
		return fmt.Errorf("build scheduler: %w", err)
	}

	logger.Info("visitor configured",
		zap.Stringer("window", window),
		zap.String("database", cfg.Database.Driver),
		zap.String("fetcher", cfg.Crawler.Fetcher),
		zap.String("policy", cfg.Policy.Kind),
		zap.Int("proxies", proxies.Len()),
		zap.Int("identities", len(identities.Catalog())),
	)

	var srv *http.Server
	if cfg.Server.Enabled {
		apiServer, err := api.NewServer(api.Deps{
			Scheduler: sched,
			Window:    window,
			Clock:     clock,
			Ready:     st.ping,
			APIKey:    cfg.Server.APIKey,
		}, logger.Named("api"))
		if err != nil {
			return fmt.Errorf("build api server: %w", err)
		}
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("http server started", zap.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", zap.Error(err))
			}
		}()
	}

	sched.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
	return nil
}
