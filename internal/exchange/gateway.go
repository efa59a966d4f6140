// Package exchange defines the Exchange Gateway port: the uniform façade
// the trading engine uses to talk to whichever venue is configured, and
// the venue-agnostic types that cross that boundary.
package exchange

import "context"

// Gateway is the façade the engine drives. A concrete venue adapter (e.g.
// internal/exchange/binance) implements it; the engine never imports a
// venue package directly.
type Gateway interface {
	// Initialize prepares the adapter and validates API key permissions,
	// returning an error when the key is missing or can withdraw. It must be
	// called once before any other method. It does not load market
	// metadata, and sandbox selection is fixed when the adapter is
	// constructed, not here.
	Initialize(ctx context.Context) error

	// ValidateApiKeyPermissions reports whether the configured credentials
	// are safe to trade with. It returns false when the key can withdraw
	// funds; the engine refuses to start in that case.
	ValidateApiKeyPermissions(ctx context.Context) (bool, error)

	// FetchTickers returns one ticker per tradable symbol with last > 0.
	FetchTickers(ctx context.Context) ([]Ticker, error)

	// FetchOHLCV returns up to limit candles for symbol at the given
	// timeframe, oldest first. A per-symbol failure returns a nil slice
	// and a non-nil error; callers treat that as non-fatal.
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)

	// GetBalance returns free/locked/total per asset.
	GetBalance(ctx context.Context) (map[string]Balance, error)

	// PlaceOrder submits a market order (the only order type the engine
	// issues) and returns the fill.
	PlaceOrder(ctx context.Context, req OrderRequest) (FilledOrder, error)
}

// RateLimitReporter is an optional capability a Gateway adapter may
// implement to expose its outbound rate-limit usage. The engine surfaces
// this on the BotLog stream so the operator sees it without tailing
// server logs.
type RateLimitReporter interface {
	RateLimitUsage() (used, limit int, percentage float64)
}

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderRequest captures a market-order intent.
type OrderRequest struct {
	Symbol string
	Side   Side
	Amount float64 // base-asset quantity
}

// FilledOrder is the venue's ack for a submitted order.
type FilledOrder struct {
	ID      string
	Price   float64 // limit/last price, if the venue reports one
	Average float64 // average fill price
	Filled  float64 // executed base-asset quantity
	Amount  float64 // requested base-asset quantity
	Cost    float64 // quote-asset notional actually spent/received
}

// Ticker is a single symbol's latest market snapshot.
type Ticker struct {
	Symbol      string
	Last        float64
	BaseVolume  float64
	QuoteVolume float64
	Percentage  float64 // 24h change, percent
}

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime  int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime int64
}

// Balance is a single asset's account balance.
type Balance struct {
	Free   float64
	Locked float64
	Total  float64
}
