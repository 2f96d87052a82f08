package market

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Category identifies one of the tracked asset classes.
type Category string

const (
	CategoryGold     Category = "gold"
	CategoryCrypto   Category = "crypto"
	CategoryCurrency Category = "currency"
)

// Categories returns all tracked categories in refresh order.
func Categories() []Category {
	return []Category{CategoryGold, CategoryCrypto, CategoryCurrency}
}

// ParseCategory validates a user-supplied category string.
func ParseCategory(s string) (Category, error) {
	switch Category(strings.ToLower(strings.TrimSpace(s))) {
	case CategoryGold:
		return CategoryGold, nil
	case CategoryCrypto:
		return CategoryCrypto, nil
	case CategoryCurrency:
		return CategoryCurrency, nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// NormalizeSlug canonicalises an asset slug. Slugs are case-insensitive
// and unique per category.
func NormalizeSlug(slug string) string {
	return strings.ToLower(strings.TrimSpace(slug))
}

// GoldQuote carries the fields reported for gold and coin assets.
type GoldQuote struct {
	Price        decimal.Decimal
	Open         decimal.Decimal
	High         decimal.Decimal
	Low          decimal.Decimal
	DayChangePct decimal.Decimal
}

// CryptoQuote carries the fields reported for cryptocurrencies.
type CryptoQuote struct {
	USD          decimal.Decimal
	Toman        decimal.Decimal
	Change1hPct  decimal.Decimal
	Change24hPct decimal.Decimal
	Change7dPct  decimal.Decimal
}

// CurrencyQuote carries the fields reported for fiat currencies.
type CurrencyQuote struct {
	Sell         decimal.Decimal
	Buy          decimal.Decimal
	USDRate      decimal.Decimal
	Open         decimal.Decimal
	High         decimal.Decimal
	Low          decimal.Decimal
	DayChangePct decimal.Decimal
}

// AssetRecord is one asset's latest quote. Exactly one of the quote
// pointers is set, matching Category.
type AssetRecord struct {
	Category Category
	Slug     string
	Name     string

	Gold     *GoldQuote
	Crypto   *CryptoQuote
	Currency *CurrencyQuote
}

// CurrentPrice projects the record onto the single comparable price used
// by alert evaluation and portfolio valuation: gold assets quote in toman,
// crypto uses its toman conversion, currencies use the sell rate. The
// second return is false when the record carries no usable price.
func (r AssetRecord) CurrentPrice() (decimal.Decimal, bool) {
	var price decimal.Decimal
	switch r.Category {
	case CategoryGold:
		if r.Gold == nil {
			return decimal.Decimal{}, false
		}
		price = r.Gold.Price
	case CategoryCrypto:
		if r.Crypto == nil {
			return decimal.Decimal{}, false
		}
		price = r.Crypto.Toman
	case CategoryCurrency:
		if r.Currency == nil {
			return decimal.Decimal{}, false
		}
		price = r.Currency.Sell
	default:
		return decimal.Decimal{}, false
	}
	if price.Sign() <= 0 {
		return decimal.Decimal{}, false
	}
	return price, true
}

// AssetMap holds one category's assets keyed by normalized slug. Maps are
// treated as immutable once published into a snapshot.
type AssetMap map[string]AssetRecord

// Snapshot is the last-known-good view of all categories. A snapshot is a
// value: once returned by the cache it never mutates.
type Snapshot struct {
	Assets        map[Category]AssetMap
	Freshness     map[Category]time.Time
	LastUpdatedAt time.Time
}

// Lookup finds an asset by category and slug.
func (s Snapshot) Lookup(cat Category, slug string) (AssetRecord, bool) {
	assets, ok := s.Assets[cat]
	if !ok {
		return AssetRecord{}, false
	}
	rec, ok := assets[NormalizeSlug(slug)]
	return rec, ok
}

// Resolve combines Lookup and CurrentPrice: it yields the comparable
// price for an asset, or false when the asset is absent or priceless.
func (s Snapshot) Resolve(cat Category, slug string) (decimal.Decimal, bool) {
	rec, ok := s.Lookup(cat, slug)
	if !ok {
		return decimal.Decimal{}, false
	}
	return rec.CurrentPrice()
}

// AssetCount reports how many assets the snapshot holds across categories.
func (s Snapshot) AssetCount() int {
	total := 0
	for _, assets := range s.Assets {
		total += len(assets)
	}
	return total
}
