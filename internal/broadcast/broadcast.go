package broadcast

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"marketwatch/internal/alerting"
	"marketwatch/internal/market"
	"marketwatch/internal/metrics"
	"marketwatch/internal/storage"
)

// GlobalOptions configure the singleton broadcast channel destination. It
// follows the same interval logic as stored subscriptions but lives
// outside the store; a zero ChatID disables it.
type GlobalOptions struct {
	ChatID   int64
	Interval time.Duration
}

// Scheduler emits periodic summary events per subscribed destination.
// lastSentAt is advanced before the event is emitted: at-most-one-send
// per interval takes priority over guaranteed delivery, so a slow or
// failed send cannot burst on the next tick.
type Scheduler struct {
	store  storage.SubscriptionStore
	events chan<- alerting.Event
	global GlobalOptions
	logger zerolog.Logger

	globalLastSent time.Time
	running        atomic.Bool
}

// New constructs a Scheduler.
func New(store storage.SubscriptionStore, events chan<- alerting.Event, global GlobalOptions, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		store:  store,
		events: events,
		global: global,
		logger: logger.With().Str("component", "broadcast").Logger(),
	}
}

// Tick evaluates every enabled subscription against the clock. Ticks are
// single-flight; an overlapping tick is dropped.
func (b *Scheduler) Tick(ctx context.Context, snap market.Snapshot, now time.Time) error {
	if !b.running.CompareAndSwap(false, true) {
		b.logger.Info().Msg("broadcast tick already in flight; skipped")
		metrics.TicksSkipped.WithLabelValues("broadcast").Inc()
		return nil
	}
	defer b.running.Store(false)

	subs, err := b.store.ListEnabledSubscriptions(ctx)
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to list subscriptions")
		return nil
	}

	for _, sub := range subs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !due(sub.LastSentAt, sub.Interval(), now) {
			continue
		}

		// Stamp first. A failed delivery must not cause a resend burst.
		if err := b.store.TouchSubscription(ctx, sub.ChatID, now); err != nil {
			b.logger.Error().Err(err).Int64("chat_id", sub.ChatID).Msg("failed to stamp subscription; skipping send")
			continue
		}

		if err := b.emit(ctx, sub.ChatID, snap, now); err != nil {
			return err
		}
	}

	if b.global.ChatID != 0 && b.global.Interval > 0 {
		var last *time.Time
		if !b.globalLastSent.IsZero() {
			last = &b.globalLastSent
		}
		if due(last, b.global.Interval, now) {
			b.globalLastSent = now
			if err := b.emit(ctx, b.global.ChatID, snap, now); err != nil {
				return err
			}
		}
	}

	return nil
}

// due treats a nil lastSentAt as infinitely old: a fresh subscription is
// eligible on its first tick.
func due(lastSentAt *time.Time, interval time.Duration, now time.Time) bool {
	if interval <= 0 {
		return false
	}
	if lastSentAt == nil {
		return true
	}
	return now.Sub(*lastSentAt) >= interval
}

func (b *Scheduler) emit(ctx context.Context, chatID int64, snap market.Snapshot, now time.Time) error {
	metrics.SummariesSent.Inc()
	b.logger.Info().Int64("chat_id", chatID).Msg("summary due")

	select {
	case b.events <- alerting.Event{
		Kind:          alerting.KindSummary,
		DestinationID: chatID,
		Summary: &alerting.SummaryPayload{
			Snapshot:    snap,
			GeneratedAt: now,
		},
	}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
