package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"marketwatch/internal/alert"
	"marketwatch/internal/alerting"
	"marketwatch/internal/broadcast"
	"marketwatch/internal/cache"
	"marketwatch/internal/config"
	"marketwatch/internal/fetcher"
	"marketwatch/internal/metrics"
	"marketwatch/internal/scheduler"
	"marketwatch/internal/storage"
	"marketwatch/internal/syncer"
)

// Service orchestrates the sync, evaluation, and broadcast loops around
// the shared snapshot cache, and dispatches outbound events to the
// notifier.
type Service struct {
	cfg         *config.Config
	snapshots   *cache.SnapshotCache
	syncer      *syncer.Syncer
	engine      *alert.Engine
	broadcaster *broadcast.Scheduler
	store       storage.RuleStore
	notifier    alerting.Notifier
	events      chan alerting.Event
	logger      zerolog.Logger
}

// New wires the core components together. notifier may be nil; events
// are then logged and discarded.
func New(cfg *config.Config, source fetcher.RateSource, store storage.RuleStore, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	snapshots := cache.New()
	events := make(chan alerting.Event, 64)

	var history storage.PriceHistoryStore
	if cfg.History.Enabled {
		history = store
	}

	sync := syncer.New(source, snapshots, history, syncer.Options{
		RetryCount:  cfg.Sync.RetryCount,
		BackoffBase: cfg.Sync.BackoffBase,
	}, logger)

	engine := alert.New(store, events, logger)

	broadcaster := broadcast.New(store, events, broadcast.GlobalOptions{
		ChatID:   cfg.Broadcast.GlobalChatID,
		Interval: cfg.Broadcast.GlobalInterval,
	}, logger)

	return &Service{
		cfg:         cfg,
		snapshots:   snapshots,
		syncer:      sync,
		engine:      engine,
		broadcaster: broadcaster,
		store:       store,
		notifier:    notifier,
		events:      events,
		logger:      logger.With().Str("component", "service").Logger(),
	}
}

// Snapshots exposes the shared cache (read-only use).
func (s *Service) Snapshots() *cache.SnapshotCache {
	return s.snapshots
}

// Run starts all loops and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	// Warm the cache before the first aligned tick so early evaluation
	// and summaries have data to work with.
	if err := s.syncer.Tick(ctx, time.Now().UTC()); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn().Err(err).Msg("initial sync failed; continuing with empty cache")
	}

	g.Go(func() error {
		return s.dispatch(ctx)
	})

	g.Go(func() error {
		sched := scheduler.New(scheduler.Options{
			Name:         "sync",
			Interval:     s.cfg.Sync.Interval,
			AlignToStart: s.cfg.Sync.AlignToBucket,
			StartupDelay: s.cfg.Sync.StartupDelay,
		}, s.logger)
		return sched.Run(ctx, s.syncer.Tick)
	})

	g.Go(func() error {
		sched := scheduler.New(scheduler.Options{
			Name:     "alert",
			Interval: s.cfg.Alerting.EvalInterval,
		}, s.logger)
		return sched.Run(ctx, func(ctx context.Context, now time.Time) error {
			return s.engine.EvaluateAll(ctx, s.snapshots.Read(), now)
		})
	})

	g.Go(func() error {
		sched := scheduler.New(scheduler.Options{
			Name:     "broadcast",
			Interval: s.cfg.Broadcast.TickInterval,
		}, s.logger)
		return sched.Run(ctx, func(ctx context.Context, now time.Time) error {
			return s.broadcaster.Tick(ctx, s.snapshots.Read(), now)
		})
	})

	g.Go(func() error {
		return metrics.Serve(ctx, s.cfg.Metrics.ListenAddr, s.logger)
	})

	return g.Wait()
}

// dispatch forwards outbound events to the notifier. Delivery failures
// are logged and dropped: suppression state already advanced, and the
// transport owns its own retries.
func (s *Service) dispatch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-s.events:
			if s.notifier == nil {
				s.logger.Warn().Str("kind", string(event.Kind)).
					Int64("chat_id", event.DestinationID).
					Msg("no notifier configured; event dropped")
				continue
			}
			if err := s.notifier.Notify(ctx, event); err != nil {
				s.logger.Error().Err(err).Str("kind", string(event.Kind)).
					Int64("chat_id", event.DestinationID).
					Msg("event delivery failed")
			}
		}
	}
}

// PortfolioValuation prices an owner's holdings against a snapshot.
// Entries whose asset cannot be resolved are reported unpriced rather
// than silently dropped.
type PortfolioValuation struct {
	Total    decimal.Decimal
	Lines    []ValuationLine
	Unpriced []storage.PortfolioEntry
}

// ValuationLine is one priced holding.
type ValuationLine struct {
	Entry storage.PortfolioEntry
	Price decimal.Decimal
	Value decimal.Decimal
}

// ValuePortfolio computes the toman value of everything the owner holds
// against the current snapshot.
func (s *Service) ValuePortfolio(ctx context.Context, ownerID int64) (PortfolioValuation, error) {
	entries, err := s.store.GetPortfolio(ctx, ownerID)
	if err != nil {
		return PortfolioValuation{}, fmt.Errorf("list portfolio: %w", err)
	}
	snap := s.snapshots.Read()
	val := PortfolioValuation{Total: decimal.Zero}
	for _, entry := range entries {
		price, ok := snap.Resolve(entry.Category, entry.Slug)
		if !ok {
			val.Unpriced = append(val.Unpriced, entry)
			continue
		}
		value := price.Mul(entry.Amount)
		val.Lines = append(val.Lines, ValuationLine{Entry: entry, Price: price, Value: value})
		val.Total = val.Total.Add(value)
	}
	return val, nil
}
