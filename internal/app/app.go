package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"marketwatch/internal/alerting"
	"marketwatch/internal/config"
	"marketwatch/internal/fetcher"
	"marketwatch/internal/service"
	"marketwatch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newGateway() *fetcher.Gateway {
	return fetcher.NewGateway(fetcher.GatewayOptions{
		BaseURL:           a.Config.Gateway.BaseURL,
		APIKey:            a.Config.Gateway.APIKey,
		Timeout:           a.Config.Gateway.RequestTimeout,
		UserAgent:         a.Config.Gateway.UserAgent,
		RequestsPerSecond: a.Config.Gateway.RequestsPerSecond,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

// openStore returns the rule store and a closer. An empty DSN falls back
// to the in-memory store so the service still runs without Postgres.
func (a *App) openStore(ctx context.Context) (storage.RuleStore, func(), error) {
	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; using in-memory store")
		return storage.NewMemoryStore(), func() {}, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	return store, store.Close, nil
}

// openPersistentStore is openStore without the in-memory fallback, for
// commands that only make sense against durable data.
func (a *App) openPersistentStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database not configured")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	return store, store.Close, nil
}

// Run executes the long-running watcher service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := service.New(a.Config, a.newGateway(), store, a.newNotifier(), a.Logger)

	a.Logger.Info().Msg("starting watcher service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("watcher service stopped")
	return nil
}

// ExportOptions hold parameters for exporting one asset's price history.
type ExportOptions struct {
	Slug      string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Slug      string
	Limit     int
	Triggered bool
}

// CleanupOptions configure the history cleanup job.
type CleanupOptions struct {
	Retention time.Duration
}
