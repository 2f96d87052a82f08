package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"marketwatch/internal/alert"
	"marketwatch/internal/alerting"
	"marketwatch/internal/market"
)

// SimulateAlert 用给定的价格构造一份合成快照，对已武装的规则走一遍完整的
// 评估和投递流程。
func (a *App) SimulateAlert(ctx context.Context, category market.Category, slug string, price decimal.Decimal) error {
	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	slug = market.NormalizeSlug(slug)
	now := time.Now().UTC()

	record := market.AssetRecord{Category: category, Slug: slug, Name: slug}
	switch category {
	case market.CategoryGold:
		record.Gold = &market.GoldQuote{Price: price}
	case market.CategoryCrypto:
		record.Crypto = &market.CryptoQuote{Toman: price}
	case market.CategoryCurrency:
		record.Currency = &market.CurrencyQuote{Sell: price}
	}

	snap := market.Snapshot{
		Assets:        map[market.Category]market.AssetMap{category: {slug: record}},
		Freshness:     map[market.Category]time.Time{category: now},
		LastUpdatedAt: now,
	}

	events := make(chan alerting.Event, 64)
	engine := alert.New(store, events, a.Logger)

	if err := engine.EvaluateAll(ctx, snap, now); err != nil {
		return err
	}
	close(events)

	delivered := 0
	for event := range events {
		if err := notifier.Notify(ctx, event); err != nil {
			return err
		}
		delivered++
	}

	if delivered == 0 {
		a.Logger.Info().Str("slug", slug).Str("category", string(category)).Msg("no armed rule matched the simulated price")
		return nil
	}

	a.Logger.Info().Int("delivered", delivered).Msg("simulated evaluation complete")
	return nil
}
