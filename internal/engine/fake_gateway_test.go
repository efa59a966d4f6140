package engine

import (
	"context"
	"errors"
	"sync"

	"spotbot/internal/exchange"
)

// fakeGateway is a scriptable exchange.Gateway for exercising the engine
// without a network call. Every return value is set directly by the test;
// PlaceOrder calls are recorded for assertions.
type fakeGateway struct {
	mu sync.Mutex

	initErr error

	balances map[string]exchange.Balance
	tickers  []exchange.Ticker
	candles  map[string][]exchange.Candle

	placeOrderErr   error
	placeOrderFn    func(req exchange.OrderRequest) exchange.FilledOrder
	placedOrders    []exchange.OrderRequest
}

func (f *fakeGateway) Initialize(ctx context.Context) error { return f.initErr }

func (f *fakeGateway) ValidateApiKeyPermissions(ctx context.Context) (bool, error) {
	return true, nil
}

func (f *fakeGateway) FetchTickers(ctx context.Context) ([]exchange.Ticker, error) {
	return f.tickers, nil
}

func (f *fakeGateway) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]exchange.Candle, error) {
	return f.candles[symbol], nil
}

func (f *fakeGateway) GetBalance(ctx context.Context) (map[string]exchange.Balance, error) {
	return f.balances, nil
}

func (f *fakeGateway) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.FilledOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placedOrders = append(f.placedOrders, req)
	if f.placeOrderErr != nil {
		return exchange.FilledOrder{}, f.placeOrderErr
	}
	if f.placeOrderFn != nil {
		return f.placeOrderFn(req), nil
	}
	return exchange.FilledOrder{}, errors.New("fakeGateway: no PlaceOrder behavior configured")
}

func (f *fakeGateway) orders() []exchange.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]exchange.OrderRequest(nil), f.placedOrders...)
}

var _ exchange.Gateway = (*fakeGateway)(nil)
