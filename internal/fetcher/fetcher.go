package fetcher

import (
	"context"

	"marketwatch/internal/market"
)

// RateSource retrieves one category's assets from the upstream gateway.
type RateSource interface {
	Fetch(ctx context.Context, cat market.Category) (market.AssetMap, error)
}
