package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"marketwatch/internal/market"
)

const (
	goldPath     = "/market/acgold"
	cryptoPath   = "/market/accrypto"
	currencyPath = "/market/accurrencies"
)

// GatewayOptions parameterise the price gateway client.
type GatewayOptions struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	UserAgent         string
	RequestsPerSecond float64
}

// Gateway fetches category data from the upstream price gateway. Requests
// are spaced by a rate limiter and guarded by a circuit breaker so a
// misbehaving upstream trips fast instead of burning retries.
type Gateway struct {
	opts    GatewayOptions
	logger  zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	baseURL string
}

// NewGateway constructs a gateway client.
func NewGateway(opts GatewayOptions, logger zerolog.Logger) *Gateway {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")

	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "price-gateway",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Gateway{
		opts:    opts,
		logger:  logger.With().Str("component", "gateway").Logger(),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		breaker: breaker,
		baseURL: baseURL,
	}
}

func categoryPath(cat market.Category) (string, error) {
	switch cat {
	case market.CategoryGold:
		return goldPath, nil
	case market.CategoryCrypto:
		return cryptoPath, nil
	case market.CategoryCurrency:
		return currencyPath, nil
	}
	return "", fmt.Errorf("unknown category %q", cat)
}

// Fetch retrieves one category's assets.
func (g *Gateway) Fetch(ctx context.Context, cat market.Category) (market.AssetMap, error) {
	if g.baseURL == "" {
		return nil, fmt.Errorf("gateway base url not configured")
	}

	path, err := categoryPath(cat)
	if err != nil {
		return nil, err
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.request(ctx, path)
	})
	if err != nil {
		return nil, err
	}

	payload := result.([]byte)
	assets, err := parseAssets(cat, payload, g.logger)
	if err != nil {
		return nil, err
	}

	g.logger.Debug().Str("category", string(cat)).Int("assets", len(assets)).Msg("category fetched")
	return assets, nil
}

func (g *Gateway) request(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if g.opts.APIKey != "" {
		req.Header.Set("x-api-key", g.opts.APIKey)
	}
	if ua := strings.TrimSpace(g.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "marketwatch/1.0")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, newUpstreamError(resp.StatusCode, body)
	}

	return body, nil
}

// The gateway returns either an array of items or an object keyed by slug;
// both collapse to the item list.
func itemList(payload []byte) ([]json.RawMessage, error) {
	var asArray []json.RawMessage
	if err := json.Unmarshal(payload, &asArray); err == nil {
		return asArray, nil
	}

	var asObject map[string]json.RawMessage
	if err := json.Unmarshal(payload, &asObject); err != nil {
		return nil, fmt.Errorf("malformed gateway payload: %w", err)
	}

	items := make([]json.RawMessage, 0, len(asObject))
	for _, raw := range asObject {
		items = append(items, raw)
	}
	return items, nil
}

type goldItem struct {
	Slug      string          `json:"slug"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	DayChange decimal.Decimal `json:"dayChange"`
}

type cryptoItem struct {
	Slug     string          `json:"slug"`
	Name     string          `json:"name"`
	USD      decimal.Decimal `json:"price"`
	Toman    decimal.Decimal `json:"toman"`
	Change1h decimal.Decimal `json:"change_1h"`
	Change24 decimal.Decimal `json:"change_24h"`
	Change7d decimal.Decimal `json:"change_7d"`
}

type currencyItem struct {
	Slug      string          `json:"slug"`
	Name      string          `json:"name"`
	Sell      decimal.Decimal `json:"sell"`
	Buy       decimal.Decimal `json:"buy"`
	USDRate   decimal.Decimal `json:"dolar_rate"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	DayChange decimal.Decimal `json:"dayChange"`
}

func parseAssets(cat market.Category, payload []byte, logger zerolog.Logger) (market.AssetMap, error) {
	items, err := itemList(payload)
	if err != nil {
		return nil, err
	}

	assets := make(market.AssetMap, len(items))
	for _, raw := range items {
		rec, ok := parseItem(cat, raw)
		if !ok {
			logger.Debug().Str("category", string(cat)).RawJSON("item", raw).Msg("skipping unparseable item")
			continue
		}
		assets[rec.Slug] = rec
	}
	return assets, nil
}

func parseItem(cat market.Category, raw json.RawMessage) (market.AssetRecord, bool) {
	switch cat {
	case market.CategoryGold:
		var item goldItem
		if err := json.Unmarshal(raw, &item); err != nil || item.Slug == "" {
			return market.AssetRecord{}, false
		}
		return market.AssetRecord{
			Category: cat,
			Slug:     market.NormalizeSlug(item.Slug),
			Name:     item.Name,
			Gold: &market.GoldQuote{
				Price:        item.Price,
				Open:         item.Open,
				High:         item.High,
				Low:          item.Low,
				DayChangePct: item.DayChange,
			},
		}, true
	case market.CategoryCrypto:
		var item cryptoItem
		if err := json.Unmarshal(raw, &item); err != nil || item.Slug == "" {
			return market.AssetRecord{}, false
		}
		return market.AssetRecord{
			Category: cat,
			Slug:     market.NormalizeSlug(item.Slug),
			Name:     item.Name,
			Crypto: &market.CryptoQuote{
				USD:          item.USD,
				Toman:        item.Toman,
				Change1hPct:  item.Change1h,
				Change24hPct: item.Change24,
				Change7dPct:  item.Change7d,
			},
		}, true
	case market.CategoryCurrency:
		var item currencyItem
		if err := json.Unmarshal(raw, &item); err != nil || item.Slug == "" {
			return market.AssetRecord{}, false
		}
		return market.AssetRecord{
			Category: cat,
			Slug:     market.NormalizeSlug(item.Slug),
			Name:     item.Name,
			Currency: &market.CurrencyQuote{
				Sell:         item.Sell,
				Buy:          item.Buy,
				USDRate:      item.USDRate,
				Open:         item.Open,
				High:         item.High,
				Low:          item.Low,
				DayChangePct: item.DayChange,
			},
		}, true
	}
	return market.AssetRecord{}, false
}

var _ RateSource = (*Gateway)(nil)
