package alert

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"marketwatch/internal/alerting"
	"marketwatch/internal/market"
	"marketwatch/internal/metrics"
	"marketwatch/internal/storage"
)

// Engine evaluates armed threshold rules against snapshots. Evaluation
// runs are serialized: a tick arriving while the previous run is still
// going is dropped. The armed-to-triggered transition goes through the
// store's conditional update, so a rule fires at most once even if two
// runs ever race on the same rule.
type Engine struct {
	store  storage.AlertStore
	events chan<- alerting.Event
	logger zerolog.Logger

	running atomic.Bool
}

// New constructs an Engine emitting trigger events on the given channel.
func New(store storage.AlertStore, events chan<- alerting.Event, logger zerolog.Logger) *Engine {
	return &Engine{
		store:  store,
		events: events,
		logger: logger.With().Str("component", "alert_engine").Logger(),
	}
}

// EvaluateAll runs one evaluation pass over all armed rules. Rules whose
// asset is absent from the snapshot, or whose price is unusable, are
// skipped for this tick without any state change.
func (e *Engine) EvaluateAll(ctx context.Context, snap market.Snapshot, now time.Time) error {
	if !e.running.CompareAndSwap(false, true) {
		e.logger.Info().Msg("evaluation already in flight; tick skipped")
		metrics.TicksSkipped.WithLabelValues("alert").Inc()
		return nil
	}
	defer e.running.Store(false)

	rules, err := e.store.ListActiveAlerts(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to list armed rules")
		return nil
	}

	for _, rule := range rules {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		price, ok := snap.Resolve(rule.Category, rule.Slug)
		if !ok {
			// Transient data gap; the rule stays armed for the next tick.
			continue
		}

		if !conditionMet(rule.Direction, price, rule.TargetPrice) {
			continue
		}

		transitioned, err := e.store.MarkAlertTriggered(ctx, rule.ID, now)
		if err != nil {
			e.logger.Error().Err(err).Int64("rule_id", rule.ID).Msg("failed to mark rule triggered")
			continue
		}
		if !transitioned {
			// Another run already fired this rule.
			continue
		}

		metrics.AlertsTriggered.Inc()
		e.logger.Info().Int64("rule_id", rule.ID).
			Str("slug", rule.Slug).
			Str("direction", string(rule.Direction)).
			Str("target", rule.TargetPrice.String()).
			Str("price", price.String()).
			Msg("alert triggered")

		rule.State = storage.AlertTriggered
		ts := now
		rule.TriggeredAt = &ts

		select {
		case e.events <- alerting.Event{
			Kind:          alerting.KindAlertTriggered,
			DestinationID: rule.ChatID,
			Alert: &alerting.AlertPayload{
				Rule:          rule,
				ObservedPrice: price,
				ObservedAt:    now,
			},
		}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// conditionMet uses inclusive comparisons: a price exactly at the target
// counts as triggered. This mirrors the historical behaviour and is kept
// deliberately.
func conditionMet(dir storage.Direction, price, target decimal.Decimal) bool {
	switch dir {
	case storage.DirectionAbove:
		return price.GreaterThanOrEqual(target)
	case storage.DirectionBelow:
		return price.LessThanOrEqual(target)
	}
	return false
}
