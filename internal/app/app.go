package app

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"commissiond/internal/alerting"
	"commissiond/internal/config"
	"commissiond/internal/fetcher"
	"commissiond/internal/scheduler"
	"commissiond/internal/server"
	"commissiond/internal/service"
	"commissiond/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		Out:    os.Stdout,
	}
}

// backend is everything a command needs to query aggregates.
type backend struct {
	store   *storage.Store
	source  fetcher.Aggregates
	service *service.Service
	close   func()
}

func (a *App) openBackend(ctx context.Context) (*backend, error) {
	if a.Config.Database.DSN == "" {
		return nil, errors.New("database.dsn not configured; cannot query aggregates")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}
	store := storage.NewStore(pool, a.Config.Database.UserID)
	b := &backend{store: store, source: store, close: store.Close}

	if a.Config.Cache.Enabled {
		cache, err := fetcher.NewRedisCache(ctx, fetcher.RedisOptions{
			Address:  a.Config.Cache.Address,
			Password: a.Config.Cache.Password,
			DB:       a.Config.Cache.DB,
		})
		if err != nil {
			a.Logger.Warn().Err(err).Msg("redis unavailable; querying database directly")
		} else {
			b.source = fetcher.NewCached(store, cache, a.Config.Cache.TTL, a.Config.Cache.Prefix, a.Logger)
			b.close = func() {
				_ = cache.Close()
				store.Close()
			}
		}
	}

	b.service = service.New(b.source, service.Options{
		QueryTimeout:    a.Config.Analytics.QueryTimeout,
		MaxOffsetMonths: a.Config.Analytics.MaxOffsetMonths,
		CohortLookback:  a.Config.Analytics.CohortLookback,
	}, a.Logger)
	return b, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled || !a.Config.Alerting.Telegram.Enabled {
		return nil
	}
	cfg := a.Config.Alerting.Telegram
	return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
}

// Run executes the long-running heat digest loop.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	b, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	sched, err := scheduler.New(scheduler.Options{
		Interval:     a.Config.Digest.Interval,
		AlignToStart: a.Config.Digest.AlignToBucket,
		StartupDelay: a.Config.Digest.StartupDelay,
		RunOnStart:   a.Config.Digest.RunOnStart,
	}, a.Logger)
	if err != nil {
		return err
	}

	notifier := a.newNotifier()
	if notifier == nil {
		a.Logger.Warn().Msg("no digest channel enabled; digests will only be logged")
	}

	digest := service.NewDigest(b.service, sched, notifier, b.store, service.DigestOptions{
		TopN:    a.Config.Digest.TopN,
		LockKey: a.Config.Digest.AdvisoryLockKey,
	}, a.Logger)

	a.Logger.Info().Dur("interval", a.Config.Digest.Interval).Msg("starting heat digest loop")
	err = digest.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("digest loop terminated with error")
		return err
	}

	a.Logger.Info().Msg("heat digest loop stopped")
	return nil
}

// Serve runs the JSON API until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	b, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	api := server.NewWebAPI(a.Logger, server.Config{
		Addr:            a.Config.Server.Addr,
		ReadTimeout:     a.Config.Server.ReadTimeout,
		WriteTimeout:    a.Config.Server.WriteTimeout,
		ShutdownTimeout: a.Config.Server.ShutdownTimeout,
		MaxOffsetMonths: a.Config.Analytics.MaxOffsetMonths,
		CohortLookback:  a.Config.Analytics.CohortLookback,
		Health:          b.store.Ping,
	}, b.service)

	return api.Start(ctx)
}
