package alert

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"marketwatch/internal/alerting"
	"marketwatch/internal/market"
	"marketwatch/internal/storage"
)

func snapshotWith(cat market.Category, slug string, price int64) market.Snapshot {
	rec := market.AssetRecord{Category: cat, Slug: slug}
	switch cat {
	case market.CategoryGold:
		rec.Gold = &market.GoldQuote{Price: decimal.NewFromInt(price)}
	case market.CategoryCrypto:
		rec.Crypto = &market.CryptoQuote{Toman: decimal.NewFromInt(price)}
	case market.CategoryCurrency:
		rec.Currency = &market.CurrencyQuote{Sell: decimal.NewFromInt(price)}
	}
	return market.Snapshot{
		Assets:        map[market.Category]market.AssetMap{cat: {slug: rec}},
		LastUpdatedAt: time.Now(),
	}
}

func armRule(t *testing.T, store *storage.MemoryStore, dir storage.Direction, slug string, target int64) storage.AlertRule {
	t.Helper()
	rule, err := store.CreateAlert(context.Background(), storage.AlertRule{
		OwnerID:     1,
		ChatID:      10,
		Slug:        slug,
		Category:    market.CategoryCurrency,
		Direction:   dir,
		TargetPrice: decimal.NewFromInt(target),
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	return rule
}

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

func TestAboveTriggersInclusivelyAndOnlyOnce(t *testing.T) {
	store := storage.NewMemoryStore()
	events := make(chan alerting.Event, 8)
	engine := New(store, events, zerolog.Nop())
	ctx := context.Background()

	armRule(t, store, storage.DirectionAbove, "usd", 100)

	// Below target: no trigger.
	if err := engine.EvaluateAll(ctx, snapshotWith(market.CategoryCurrency, "usd", 99), time.Now()); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if got := drain(events); len(got) != 0 {
		t.Fatalf("price below target must not trigger, got %d events", len(got))
	}

	// Exactly at target: inclusive comparison fires.
	now := time.Now().UTC()
	if err := engine.EvaluateAll(ctx, snapshotWith(market.CategoryCurrency, "usd", 100), now); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	got := drain(events)
	if len(got) != 1 {
		t.Fatalf("expected exactly one trigger event, got %d", len(got))
	}
	ev := got[0]
	if ev.Kind != alerting.KindAlertTriggered || ev.DestinationID != 10 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if !ev.Alert.ObservedPrice.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("event must carry the observed price, got %s", ev.Alert.ObservedPrice)
	}

	// Price dips below and rises again: no re-trigger, the rule is terminal.
	for _, price := range []int64{80, 150, 200} {
		if err := engine.EvaluateAll(ctx, snapshotWith(market.CategoryCurrency, "usd", price), time.Now()); err != nil {
			t.Fatalf("evaluate: %v", err)
		}
	}
	if got := drain(events); len(got) != 0 {
		t.Fatalf("triggered rule must never fire again, got %d events", len(got))
	}
}

func TestBelowTriggersInclusively(t *testing.T) {
	store := storage.NewMemoryStore()
	events := make(chan alerting.Event, 8)
	engine := New(store, events, zerolog.Nop())
	ctx := context.Background()

	armRule(t, store, storage.DirectionBelow, "usd", 50)

	if err := engine.EvaluateAll(ctx, snapshotWith(market.CategoryCurrency, "usd", 51), time.Now()); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if got := drain(events); len(got) != 0 {
		t.Fatal("price above a below-target must not trigger")
	}

	if err := engine.EvaluateAll(ctx, snapshotWith(market.CategoryCurrency, "usd", 50), time.Now()); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if got := drain(events); len(got) != 1 {
		t.Fatalf("price equal to a below-target must trigger, got %d events", len(got))
	}
}

func TestMissingAssetSkipsRuleUntilItReappears(t *testing.T) {
	store := storage.NewMemoryStore()
	events := make(chan alerting.Event, 8)
	engine := New(store, events, zerolog.Nop())
	ctx := context.Background()

	armRule(t, store, storage.DirectionAbove, "usd", 100)

	// The snapshot only has gold: the usd rule is a no-op, repeatedly.
	for i := 0; i < 3; i++ {
		if err := engine.EvaluateAll(ctx, snapshotWith(market.CategoryGold, "sekkeh", 500), time.Now()); err != nil {
			t.Fatalf("evaluate: %v", err)
		}
	}
	if got := drain(events); len(got) != 0 {
		t.Fatal("unresolvable rule must not trigger")
	}
	active, _ := store.ListActiveAlerts(ctx)
	if len(active) != 1 {
		t.Fatal("skipped rule must stay armed")
	}

	// Asset reappears with a qualifying price: the rule fires.
	if err := engine.EvaluateAll(ctx, snapshotWith(market.CategoryCurrency, "usd", 120), time.Now()); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if got := drain(events); len(got) != 1 {
		t.Fatalf("reappeared asset must trigger, got %d events", len(got))
	}
}

func TestZeroPriceIsDataGapNotTrigger(t *testing.T) {
	store := storage.NewMemoryStore()
	events := make(chan alerting.Event, 8)
	engine := New(store, events, zerolog.Nop())

	armRule(t, store, storage.DirectionBelow, "usd", 50)

	// A zero price would satisfy "below 50" numerically but is a data
	// resolution failure and must be skipped.
	if err := engine.EvaluateAll(context.Background(), snapshotWith(market.CategoryCurrency, "usd", 0), time.Now()); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if got := drain(events); len(got) != 0 {
		t.Fatal("zero price must be treated as a data gap")
	}
}

func TestEmptySnapshotIsHarmless(t *testing.T) {
	store := storage.NewMemoryStore()
	events := make(chan alerting.Event, 8)
	engine := New(store, events, zerolog.Nop())

	armRule(t, store, storage.DirectionAbove, "usd", 100)

	if err := engine.EvaluateAll(context.Background(), market.Snapshot{}, time.Now()); err != nil {
		t.Fatalf("evaluate over empty snapshot: %v", err)
	}
	if got := drain(events); len(got) != 0 {
		t.Fatal("empty snapshot must not trigger anything")
	}
}
