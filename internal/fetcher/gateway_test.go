package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"marketwatch/internal/market"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newTestGateway(baseURL string) *Gateway {
	return NewGateway(GatewayOptions{
		BaseURL:           baseURL,
		APIKey:            "secret",
		Timeout:           time.Second,
		UserAgent:         "test",
		RequestsPerSecond: 1000,
	}, noopLogger())
}

func TestFetchMissingBaseURL(t *testing.T) {
	g := NewGateway(GatewayOptions{}, noopLogger())
	if _, err := g.Fetch(context.Background(), market.CategoryGold); err == nil {
		t.Fatal("missing base url must error")
	}
}

func TestFetchGoldObjectPayload(t *testing.T) {
	var gotKey, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sekkeh": map[string]any{
				"slug": "Sekkeh", "name": "Emami Coin",
				"price": 42000000, "open": 41500000, "high": 42100000, "low": 41400000,
				"dayChange": 1.2,
			},
			"junk": map[string]any{"name": "no slug"},
		})
	}))
	defer srv.Close()

	g := newTestGateway(srv.URL)
	assets, err := g.Fetch(context.Background(), market.CategoryGold)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	if gotKey != "secret" {
		t.Fatalf("x-api-key header missing, got %q", gotKey)
	}
	if gotPath != "/market/acgold" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if len(assets) != 1 {
		t.Fatalf("expected 1 asset (slugless item skipped), got %d", len(assets))
	}

	rec, ok := assets["sekkeh"]
	if !ok {
		t.Fatal("slug must be normalized to lower case")
	}
	if price, ok := rec.CurrentPrice(); !ok || !price.Equal(decimal.NewFromInt(42_000_000)) {
		t.Fatalf("unexpected gold price %s", price)
	}
}

func TestFetchCurrencyArrayPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"slug": "usd", "name": "US Dollar", "sell": "61500", "buy": "61000", "dolar_rate": 1},
			{"slug": "eur", "name": "Euro", "sell": 67000, "buy": 66500, "dolar_rate": 1.08},
		})
	}))
	defer srv.Close()

	g := newTestGateway(srv.URL)
	assets, err := g.Fetch(context.Background(), market.CategoryCurrency)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(assets) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(assets))
	}
	if price, ok := assets["usd"].CurrentPrice(); !ok || !price.Equal(decimal.NewFromInt(61_500)) {
		t.Fatalf("string-encoded sell should parse, got %s ok=%v", price, ok)
	}
}

func TestFetchErrorClassification(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
	}

	for _, tc := range cases {
		status := tc.status
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"boom"}`))
		}))

		g := newTestGateway(srv.URL)
		_, err := g.Fetch(context.Background(), market.CategoryCrypto)
		srv.Close()

		if err == nil {
			t.Fatalf("status %d must error", status)
		}
		var upstream *UpstreamError
		if !errors.As(err, &upstream) {
			t.Fatalf("status %d: expected UpstreamError, got %v", status, err)
		}
		if IsTransient(err) != tc.transient {
			t.Fatalf("status %d: transient classification = %v, want %v", status, IsTransient(err), tc.transient)
		}
	}
}

func TestFetchMalformedPayloadIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	g := newTestGateway(srv.URL)
	_, err := g.Fetch(context.Background(), market.CategoryGold)
	if err == nil {
		t.Fatal("malformed payload must error")
	}
	if IsTransient(err) {
		t.Fatal("malformed payload must be classified permanent")
	}
}

func TestNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	g := newTestGateway(srv.URL)
	_, err := g.Fetch(context.Background(), market.CategoryGold)
	if err == nil {
		t.Fatal("closed server must error")
	}
	if !IsTransient(err) {
		t.Fatalf("network error must be transient: %v", err)
	}
}
