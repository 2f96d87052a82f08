package syncer

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"marketwatch/internal/cache"
	"marketwatch/internal/fetcher"
	"marketwatch/internal/market"
	"marketwatch/internal/storage"
)

// scriptedSource serves a per-category queue of responses.
type scriptedSource struct {
	mu      sync.Mutex
	scripts map[market.Category][]fetchResult
	calls   map[market.Category]int
}

type fetchResult struct {
	assets market.AssetMap
	err    error
}

func newScriptedSource() *scriptedSource {
	return &scriptedSource{
		scripts: make(map[market.Category][]fetchResult),
		calls:   make(map[market.Category]int),
	}
}

func (s *scriptedSource) push(cat market.Category, assets market.AssetMap, err error) {
	s.scripts[cat] = append(s.scripts[cat], fetchResult{assets: assets, err: err})
}

func (s *scriptedSource) Fetch(_ context.Context, cat market.Category) (market.AssetMap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[cat]++
	queue := s.scripts[cat]
	if len(queue) == 0 {
		return nil, &fetcher.UpstreamError{Status: http.StatusServiceUnavailable, Transient: true}
	}
	next := queue[0]
	s.scripts[cat] = queue[1:]
	return next.assets, next.err
}

func (s *scriptedSource) callCount(cat market.Category) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[cat]
}

func assetsFor(cat market.Category, slug string, price int64) market.AssetMap {
	rec := market.AssetRecord{Category: cat, Slug: slug, Name: slug}
	switch cat {
	case market.CategoryGold:
		rec.Gold = &market.GoldQuote{Price: decimal.NewFromInt(price)}
	case market.CategoryCrypto:
		rec.Crypto = &market.CryptoQuote{Toman: decimal.NewFromInt(price)}
	case market.CategoryCurrency:
		rec.Currency = &market.CurrencyQuote{Sell: decimal.NewFromInt(price)}
	}
	return market.AssetMap{slug: rec}
}

func transientErr() error {
	return &fetcher.UpstreamError{Status: http.StatusBadGateway, Transient: true}
}

func permanentErr() error {
	return &fetcher.UpstreamError{Status: http.StatusBadRequest, Transient: false}
}

func newTestSyncer(source fetcher.RateSource, snapshots *cache.SnapshotCache, history storage.PriceHistoryStore) *Syncer {
	return New(source, snapshots, history, Options{RetryCount: 3, BackoffBase: 0}, zerolog.Nop())
}

func TestTickPublishesAllCategories(t *testing.T) {
	source := newScriptedSource()
	source.push(market.CategoryGold, assetsFor(market.CategoryGold, "sekkeh", 100), nil)
	source.push(market.CategoryCrypto, assetsFor(market.CategoryCrypto, "btc", 200), nil)
	source.push(market.CategoryCurrency, assetsFor(market.CategoryCurrency, "usd", 300), nil)

	snapshots := cache.New()
	s := newTestSyncer(source, snapshots, nil)

	if err := s.Tick(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	snap := snapshots.Read()
	if snap.AssetCount() != 3 {
		t.Fatalf("expected 3 published assets, got %d", snap.AssetCount())
	}
}

func TestRetryRecoversWithinBudget(t *testing.T) {
	source := newScriptedSource()
	// Gold fails twice, then succeeds on attempt 3 (retry budget 3).
	source.push(market.CategoryGold, nil, transientErr())
	source.push(market.CategoryGold, nil, transientErr())
	source.push(market.CategoryGold, assetsFor(market.CategoryGold, "sekkeh", 100), nil)
	source.push(market.CategoryCrypto, assetsFor(market.CategoryCrypto, "btc", 200), nil)
	source.push(market.CategoryCurrency, assetsFor(market.CategoryCurrency, "usd", 300), nil)

	snapshots := cache.New()
	s := newTestSyncer(source, snapshots, nil)

	if err := s.Tick(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if got := source.callCount(market.CategoryGold); got != 3 {
		t.Fatalf("expected 3 gold attempts, got %d", got)
	}
	if _, ok := snapshots.Read().Resolve(market.CategoryGold, "sekkeh"); !ok {
		t.Fatal("recovered fetch must publish")
	}
}

func TestExhaustedRetriesLeavePriorDataAndIsolateCategories(t *testing.T) {
	snapshots := cache.New()
	t0 := time.Now().UTC()
	snapshots.Publish(market.CategoryGold, assetsFor(market.CategoryGold, "sekkeh", 100), t0)

	source := newScriptedSource()
	// Gold fails on every attempt; the other categories still publish.
	source.push(market.CategoryGold, nil, transientErr())
	source.push(market.CategoryGold, nil, transientErr())
	source.push(market.CategoryGold, nil, transientErr())
	source.push(market.CategoryCrypto, assetsFor(market.CategoryCrypto, "btc", 200), nil)
	source.push(market.CategoryCurrency, assetsFor(market.CategoryCurrency, "usd", 300), nil)

	s := newTestSyncer(source, snapshots, nil)
	if err := s.Tick(context.Background(), t0.Add(time.Minute)); err != nil {
		t.Fatalf("tick: %v", err)
	}

	snap := snapshots.Read()
	price, ok := snap.Resolve(market.CategoryGold, "sekkeh")
	if !ok || !price.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("failed category must keep stale data, got %s ok=%v", price, ok)
	}
	if !snap.Freshness[market.CategoryGold].Equal(t0) {
		t.Fatal("failed category must keep its old freshness stamp")
	}
	if _, ok := snap.Resolve(market.CategoryCrypto, "btc"); !ok {
		t.Fatal("gold failure must not block crypto publish")
	}
	if got := source.callCount(market.CategoryGold); got != 3 {
		t.Fatalf("expected retries exhausted at 3 attempts, got %d", got)
	}
}

func TestPermanentErrorFailsWithoutRetry(t *testing.T) {
	source := newScriptedSource()
	source.push(market.CategoryGold, nil, permanentErr())
	source.push(market.CategoryCrypto, assetsFor(market.CategoryCrypto, "btc", 200), nil)
	source.push(market.CategoryCurrency, assetsFor(market.CategoryCurrency, "usd", 300), nil)

	s := newTestSyncer(source, cache.New(), nil)
	if err := s.Tick(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if got := source.callCount(market.CategoryGold); got != 1 {
		t.Fatalf("permanent error must not be retried, got %d attempts", got)
	}
}

// blockingSource parks the first Fetch until released.
type blockingSource struct {
	started chan struct{}
	release chan struct{}
	calls   atomic32
}

type atomic32 struct {
	mu sync.Mutex
	n  int
}

func (a *atomic32) inc() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.n++
	return a.n
}

func (a *atomic32) get() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.n
}

func (b *blockingSource) Fetch(_ context.Context, cat market.Category) (market.AssetMap, error) {
	if b.calls.inc() == 1 {
		close(b.started)
		<-b.release
	}
	return assetsFor(cat, "x", 1), nil
}

func TestTickIsSingleFlight(t *testing.T) {
	source := &blockingSource{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	s := newTestSyncer(source, cache.New(), nil)

	done := make(chan struct{})
	go func() {
		_ = s.Tick(context.Background(), time.Now().UTC())
		close(done)
	}()

	<-source.started
	// Second tick while the first is mid-fetch: dropped, no network I/O.
	before := source.calls.get()
	if err := s.Tick(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("skipped tick must not error: %v", err)
	}
	if source.calls.get() != before {
		t.Fatal("overlapping tick must not fetch")
	}

	close(source.release)
	<-done

	if source.calls.get() != 3 {
		t.Fatalf("first tick should fetch all 3 categories, got %d", source.calls.get())
	}
}

func TestHistoryAppendedForRefreshedCategories(t *testing.T) {
	source := newScriptedSource()
	source.push(market.CategoryGold, assetsFor(market.CategoryGold, "sekkeh", 100), nil)
	source.push(market.CategoryCrypto, nil, permanentErr())
	source.push(market.CategoryCurrency, assetsFor(market.CategoryCurrency, "usd", 300), nil)

	store := storage.NewMemoryStore()
	s := newTestSyncer(source, cache.New(), store)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := s.Tick(context.Background(), now); err != nil {
		t.Fatalf("tick: %v", err)
	}

	gold, _ := store.ListPriceHistory(context.Background(), "sekkeh", now.Add(-time.Hour), now.Add(time.Hour))
	if len(gold) != 1 || !gold[0].Price.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("refreshed gold must be recorded: %+v", gold)
	}
	if btc, _ := store.ListPriceHistory(context.Background(), "btc", now.Add(-time.Hour), now.Add(time.Hour)); len(btc) != 0 {
		t.Fatal("failed category must not be recorded")
	}
}
