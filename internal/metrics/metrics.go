package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// FetchAttempts counts upstream requests per category, including retries.
	FetchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketwatch_fetch_attempts_total",
		Help: "Upstream fetch attempts per category, retries included.",
	}, []string{"category"})

	// FetchFailures counts categories whose refresh exhausted all retries.
	FetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketwatch_fetch_failures_total",
		Help: "Category refreshes that exhausted all retry attempts.",
	}, []string{"category"})

	// SnapshotPublishes counts successful category publishes into the cache.
	SnapshotPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketwatch_snapshot_publishes_total",
		Help: "Successful per-category snapshot publishes.",
	}, []string{"category"})

	// TicksSkipped counts single-flight drops per loop.
	TicksSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketwatch_ticks_skipped_total",
		Help: "Scheduler ticks dropped because the previous run was still in flight.",
	}, []string{"loop"})

	// AlertsTriggered counts armed-to-triggered transitions.
	AlertsTriggered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketwatch_alerts_triggered_total",
		Help: "Alert rules transitioned to triggered.",
	})

	// SummariesSent counts emitted summary events.
	SummariesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketwatch_summaries_sent_total",
		Help: "Summary delivery events emitted.",
	})
)

// Serve exposes /metrics until the context is cancelled. A blank address
// disables the listener.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	if addr == "" {
		<-ctx.Done()
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info().Str("addr", addr).Msg("metrics listener started")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
