package broadcast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"marketwatch/internal/alerting"
	"marketwatch/internal/market"
	"marketwatch/internal/storage"
)

func drain(events chan alerting.Event) []alerting.Event {
	var out []alerting.Event
	for {
		select {
		case ev := <-events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestSubscriptionFiresOncePerInterval(t *testing.T) {
	store := storage.NewMemoryStore()
	events := make(chan alerting.Event, 16)
	sched := New(store, events, GlobalOptions{}, zerolog.Nop())
	ctx := context.Background()

	if err := store.UpsertSubscription(ctx, 42, 60); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	// A fresh subscription (nil lastSentAt) is eligible immediately.
	if err := sched.Tick(ctx, market.Snapshot{}, t0); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := drain(events); len(got) != 1 || got[0].DestinationID != 42 {
		t.Fatalf("expected first-tick send, got %+v", got)
	}

	// Minute-by-minute ticks through the hour: nothing until T0+60m.
	fired := 0
	for m := 1; m <= 120; m++ {
		now := t0.Add(time.Duration(m) * time.Minute)
		if err := sched.Tick(ctx, market.Snapshot{}, now); err != nil {
			t.Fatalf("tick at +%dm: %v", m, err)
		}
		for _, ev := range drain(events) {
			fired++
			if m != 60 && m != 120 {
				t.Fatalf("unexpected send at +%dm (%+v)", m, ev)
			}
		}
	}
	if fired != 2 {
		t.Fatalf("expected sends at +60m and +120m only, got %d", fired)
	}

	subs, _ := store.ListEnabledSubscriptions(ctx)
	if subs[0].LastSentAt == nil || !subs[0].LastSentAt.Equal(t0.Add(120*time.Minute)) {
		t.Fatalf("lastSentAt must track the latest send, got %v", subs[0].LastSentAt)
	}
}

// touchFailStore wraps the memory store to fail TouchSubscription.
type touchFailStore struct {
	*storage.MemoryStore
}

func (s *touchFailStore) TouchSubscription(context.Context, int64, time.Time) error {
	return errors.New("store unavailable")
}

func TestStampFailureSuppressesSend(t *testing.T) {
	inner := storage.NewMemoryStore()
	store := &touchFailStore{MemoryStore: inner}
	events := make(chan alerting.Event, 4)
	sched := New(store, events, GlobalOptions{}, zerolog.Nop())
	ctx := context.Background()

	_ = inner.UpsertSubscription(ctx, 42, 60)

	if err := sched.Tick(ctx, market.Snapshot{}, time.Now()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := drain(events); len(got) != 0 {
		t.Fatal("a send must not be emitted when the stamp fails")
	}
}

func TestGlobalChannelFollowsOwnInterval(t *testing.T) {
	store := storage.NewMemoryStore()
	events := make(chan alerting.Event, 16)
	sched := New(store, events, GlobalOptions{ChatID: -1001, Interval: 30 * time.Minute}, zerolog.Nop())
	ctx := context.Background()

	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	if err := sched.Tick(ctx, market.Snapshot{}, t0); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := drain(events); len(got) != 1 || got[0].DestinationID != -1001 {
		t.Fatalf("global channel must fire on first tick, got %+v", got)
	}

	if err := sched.Tick(ctx, market.Snapshot{}, t0.Add(29*time.Minute)); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := drain(events); len(got) != 0 {
		t.Fatal("global channel fired before its interval elapsed")
	}

	if err := sched.Tick(ctx, market.Snapshot{}, t0.Add(30*time.Minute)); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := drain(events); len(got) != 1 {
		t.Fatal("global channel must fire once its interval elapses")
	}
}

func TestDisabledGlobalChannelNeverFires(t *testing.T) {
	store := storage.NewMemoryStore()
	events := make(chan alerting.Event, 4)
	sched := New(store, events, GlobalOptions{}, zerolog.Nop())

	if err := sched.Tick(context.Background(), market.Snapshot{}, time.Now()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := drain(events); len(got) != 0 {
		t.Fatalf("zero global chat id must disable the channel, got %+v", got)
	}
}
