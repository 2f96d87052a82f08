package syncer

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"marketwatch/internal/cache"
	"marketwatch/internal/fetcher"
	"marketwatch/internal/market"
	"marketwatch/internal/metrics"
	"marketwatch/internal/storage"
)

// Options tune the refresh cycle.
type Options struct {
	// RetryCount is the maximum number of attempts per category.
	RetryCount int
	// BackoffBase seeds the exponential backoff between attempts.
	BackoffBase time.Duration
}

// Syncer drives the periodic refresh of all categories into the snapshot
// cache. A refresh cycle is single-flight: a tick arriving while the
// previous one is still running is dropped, not queued.
type Syncer struct {
	source  fetcher.RateSource
	cache   *cache.SnapshotCache
	history storage.PriceHistoryStore
	opts    Options
	logger  zerolog.Logger

	running atomic.Bool
}

// New constructs a Syncer. history may be nil to disable persistence.
func New(source fetcher.RateSource, snapshots *cache.SnapshotCache, history storage.PriceHistoryStore, opts Options, logger zerolog.Logger) *Syncer {
	if opts.RetryCount <= 0 {
		opts.RetryCount = 3
	}
	if opts.BackoffBase < 0 {
		opts.BackoffBase = 0
	}
	return &Syncer{
		source:  source,
		cache:   snapshots,
		history: history,
		opts:    opts,
		logger:  logger.With().Str("component", "syncer").Logger(),
	}
}

// Tick runs one refresh cycle. Per-category failures are logged and
// isolated: a category that exhausts its retries keeps its previous
// cached data and does not block the others. Tick never returns an error
// for fetch failures; only context cancellation surfaces.
func (s *Syncer) Tick(ctx context.Context, now time.Time) error {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Info().Msg("refresh already in flight; tick skipped")
		metrics.TicksSkipped.WithLabelValues("sync").Inc()
		return nil
	}
	defer s.running.Store(false)

	refreshed := make([]market.Category, 0, 3)
	for _, cat := range market.Categories() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		assets, err := s.fetchWithRetry(ctx, cat)
		if err != nil {
			metrics.FetchFailures.WithLabelValues(string(cat)).Inc()
			s.logger.Error().Err(err).Str("category", string(cat)).Msg("category refresh failed; keeping stale data")
			continue
		}

		if s.cache.Publish(cat, assets, now) {
			metrics.SnapshotPublishes.WithLabelValues(string(cat)).Inc()
			refreshed = append(refreshed, cat)
		} else {
			s.logger.Warn().Str("category", string(cat)).Msg("upstream returned empty payload; publish skipped")
		}
	}

	if len(refreshed) > 0 {
		s.appendHistory(ctx, refreshed, now)
	}

	return nil
}

func (s *Syncer) fetchWithRetry(ctx context.Context, cat market.Category) (market.AssetMap, error) {
	var lastErr error
	for attempt := 1; attempt <= s.opts.RetryCount; attempt++ {
		metrics.FetchAttempts.WithLabelValues(string(cat)).Inc()

		assets, err := s.source.Fetch(ctx, cat)
		if err == nil {
			if attempt > 1 {
				s.logger.Info().Str("category", string(cat)).Int("attempt", attempt).Msg("fetch recovered after retry")
			}
			return assets, nil
		}
		lastErr = err

		if !fetcher.IsTransient(err) {
			s.logger.Warn().Err(err).Str("category", string(cat)).Msg("permanent fetch error; not retrying this cycle")
			return nil, err
		}
		if attempt == s.opts.RetryCount {
			break
		}

		delay := s.backoff(attempt)
		s.logger.Debug().Err(err).Str("category", string(cat)).
			Int("attempt", attempt).Dur("backoff", delay).Msg("transient fetch error; backing off")

		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// backoff computes base * 2^(attempt-1) plus up to half the base of
// jitter.
func (s *Syncer) backoff(attempt int) time.Duration {
	base := s.opts.BackoffBase
	if base <= 0 {
		return 0
	}
	delay := base << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(base)/2 + 1))
	return delay + jitter
}

func (s *Syncer) appendHistory(ctx context.Context, refreshed []market.Category, now time.Time) {
	if s.history == nil {
		return
	}

	snap := s.cache.Read()
	points := make([]storage.PricePoint, 0)
	for _, cat := range refreshed {
		for _, rec := range snap.Assets[cat] {
			price, ok := rec.CurrentPrice()
			if !ok {
				continue
			}
			points = append(points, storage.PricePoint{
				Category:   cat,
				Slug:       rec.Slug,
				Name:       rec.Name,
				Price:      price,
				RecordedAt: now,
			})
		}
	}

	if len(points) == 0 {
		return
	}
	if err := s.history.AppendPricePoints(ctx, points); err != nil {
		s.logger.Error().Err(err).Int("points", len(points)).Msg("failed to append price history")
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
