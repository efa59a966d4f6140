package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"spotbot/internal/events"
	"spotbot/internal/exchange"
	"spotbot/pkg/db"
)

func newTestEngine(t *testing.T, gw *fakeGateway) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spotbot.db")
	database, err := db.New(path)
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}
	return New(gw, database, events.NewBus())
}

func ptr(f float64) *float64 { return &f }

func TestInitializeTransitionsToStoppedOnSuccess(t *testing.T) {
	gw := &fakeGateway{balances: map[string]exchange.Balance{
		"USDT": {Free: 1000, Total: 1000},
	}}
	e := newTestEngine(t, gw)

	if err := e.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if got := e.Status(); got != StatusStopped {
		t.Fatalf("expected STOPPED, got %s", got)
	}
}

func TestInitializeTransitionsToErrorOnGatewayFailure(t *testing.T) {
	gw := &fakeGateway{initErr: errors.New("boom")}
	e := newTestEngine(t, gw)

	if err := e.Initialize(context.Background()); err == nil {
		t.Fatal("expected an error")
	}
	if got := e.Status(); got != StatusError {
		t.Fatalf("expected ERROR, got %s", got)
	}
}

func TestStartRejectsFromNonStoppedStatus(t *testing.T) {
	gw := &fakeGateway{}
	e := newTestEngine(t, gw) // still INITIALIZING, never Initialize()'d

	if err := e.Start(context.Background()); err == nil {
		t.Fatal("expected Start to reject from INITIALIZING")
	}
}

func TestUpdateSettingsRejectsInvalidSettings(t *testing.T) {
	gw := &fakeGateway{balances: map[string]exchange.Balance{"USDT": {Free: 1000, Total: 1000}}}
	e := newTestEngine(t, gw)
	if err := e.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	bad := DefaultSettings()
	bad.SMAShortPeriod = bad.SMALongPeriod // violates smaShort < smaLong
	if err := e.UpdateSettings(context.Background(), bad); err == nil {
		t.Fatal("expected invalid settings to be rejected")
	}
	// The previously valid settings must remain in effect.
	if got := e.Settings(); got.SMAShortPeriod == got.SMALongPeriod {
		t.Fatal("rejected settings must not replace the current ones")
	}
}

// setMarketPrice injects a single Coin into marketData directly, bypassing
// scanMarketLocked/indicator computation so sell-path tests can drive exact
// prices deterministically.
func setMarketPrice(e *Engine, pair string, price float64) {
	e.marketData = []Coin{{Symbol: pair, Price: price}}
}

func TestSellPathTakeProfitClosesPosition(t *testing.T) {
	gw := &fakeGateway{balances: map[string]exchange.Balance{
		"USDT": {Free: 1000, Total: 1000},
		"LTC":  {Free: 10, Total: 10},
	}}
	gw.placeOrderFn = func(req exchange.OrderRequest) exchange.FilledOrder {
		return exchange.FilledOrder{ID: "1", Price: 115, Filled: req.Amount, Cost: req.Amount * 115}
	}
	e := newTestEngine(t, gw)
	if err := e.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	e.mu.Lock()
	e.activeTrades["LTCUSDT"] = &ActiveTrade{PurchasePrice: 100, Amount: 10, Timestamp: 1}
	if err := e.refreshAccountLocked(context.Background()); err != nil {
		t.Fatalf("refreshAccountLocked: %v", err)
	}
	setMarketPrice(e, "LTC/USDT", 115) // above target (default 3% => 103)
	e.executeStrategySellLocked(context.Background())
	_, stillOpen := e.activeTrades["LTCUSDT"]
	e.mu.Unlock()

	if stillOpen {
		t.Fatal("expected take-profit to close the LTCUSDT position")
	}
	ledger := e.Ledger(1)
	if len(ledger) != 1 || ledger[0].Type != TradeSell {
		t.Fatal("expected exactly one SELL ledger entry")
	}
	if ledger[0].ProfitAmount == nil || *ledger[0].ProfitAmount <= 0 {
		t.Fatalf("expected positive profit on take-profit, got %+v", ledger[0].ProfitAmount)
	}
}

func TestSellPathStopLossClosesPosition(t *testing.T) {
	gw := &fakeGateway{balances: map[string]exchange.Balance{
		"USDT": {Free: 1000, Total: 1000},
		"LTC":  {Free: 10, Total: 10},
	}}
	gw.placeOrderFn = func(req exchange.OrderRequest) exchange.FilledOrder {
		return exchange.FilledOrder{ID: "1", Price: 97, Filled: req.Amount, Cost: req.Amount * 97}
	}
	e := newTestEngine(t, gw)
	if err := e.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	e.mu.Lock()
	e.activeTrades["LTCUSDT"] = &ActiveTrade{PurchasePrice: 100, Amount: 10, Timestamp: 1}
	if err := e.refreshAccountLocked(context.Background()); err != nil {
		t.Fatalf("refreshAccountLocked: %v", err)
	}
	setMarketPrice(e, "LTC/USDT", 97) // below stop (default 2% => 98)
	e.executeStrategySellLocked(context.Background())
	e.mu.Unlock()

	ledger := e.Ledger(1)
	if len(ledger) != 1 || ledger[0].Type != TradeSell {
		t.Fatal("expected exactly one SELL ledger entry")
	}
	if ledger[0].ProfitAmount == nil || *ledger[0].ProfitAmount >= 0 {
		t.Fatalf("expected a loss on stop-loss exit, got %+v", ledger[0].ProfitAmount)
	}
}

func TestSellPathHoldsBetweenStopAndTarget(t *testing.T) {
	gw := &fakeGateway{
		balances:      map[string]exchange.Balance{"USDT": {Free: 1000, Total: 1000}, "LTC": {Free: 10, Total: 10}},
		placeOrderErr: errors.New("must not sell while price is between stop and target"),
	}
	e := newTestEngine(t, gw)
	if err := e.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	e.mu.Lock()
	e.activeTrades["LTCUSDT"] = &ActiveTrade{PurchasePrice: 100, Amount: 10, Timestamp: 1}
	if err := e.refreshAccountLocked(context.Background()); err != nil {
		t.Fatalf("refreshAccountLocked: %v", err)
	}
	setMarketPrice(e, "LTC/USDT", 101)
	e.executeStrategySellLocked(context.Background())
	_, stillOpen := e.activeTrades["LTCUSDT"]
	e.mu.Unlock()

	if !stillOpen {
		t.Fatal("expected the position to remain open between stop and target")
	}
	if len(gw.orders()) != 0 {
		t.Fatal("expected no PlaceOrder call while holding")
	}
}

func TestSellPathReconciliationDropsTradeWithoutSelling(t *testing.T) {
	gw := &fakeGateway{
		balances:      map[string]exchange.Balance{"USDT": {Free: 1000, Total: 1000}}, // no LTC balance at all
		placeOrderErr: errors.New("reconciliation must never call PlaceOrder"),
	}
	e := newTestEngine(t, gw)
	if err := e.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	e.mu.Lock()
	e.activeTrades["LTCUSDT"] = &ActiveTrade{PurchasePrice: 100, Amount: 10, Timestamp: 1}
	if err := e.refreshAccountLocked(context.Background()); err != nil {
		t.Fatalf("refreshAccountLocked: %v", err)
	}
	setMarketPrice(e, "LTC/USDT", 115)
	e.executeStrategySellLocked(context.Background())
	_, stillOpen := e.activeTrades["LTCUSDT"]
	ledgerLen := len(e.tradeLedger)
	e.mu.Unlock()

	if stillOpen {
		t.Fatal("expected the unreconciled active trade to be dropped")
	}
	if ledgerLen != 0 {
		t.Fatal("reconciliation must never emit a ledger SELL entry")
	}
	if len(gw.orders()) != 0 {
		t.Fatal("reconciliation must never call PlaceOrder")
	}
}

func TestBuyPathAdmissionControlBlocksAtMaxOpenTrades(t *testing.T) {
	gw := &fakeGateway{
		balances:      map[string]exchange.Balance{"USDT": {Free: 1000, Total: 1000}},
		placeOrderErr: errors.New("must not buy once maxOpenTrades is reached"),
	}
	e := newTestEngine(t, gw)
	if err := e.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	settings := DefaultSettings()
	settings.MaxOpenTrades = 1
	if err := e.UpdateSettings(context.Background(), settings); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	e.mu.Lock()
	e.activeTrades["ETHUSDT"] = &ActiveTrade{PurchasePrice: 1, Amount: 1, Timestamp: 1}
	e.marketData = []Coin{{
		Symbol: "LTC/USDT", Price: 5, QuoteVolume: 1,
		RSI: ptr(10), SMAShort: ptr(2), SMALong: ptr(1),
	}}
	e.executeStrategyBuyLocked(context.Background())
	e.mu.Unlock()

	if len(gw.orders()) != 0 {
		t.Fatal("expected admission control to block the buy at maxOpenTrades capacity")
	}
}

func TestBuyPathAdmissionControlBlocksOnInsufficientBalance(t *testing.T) {
	gw := &fakeGateway{
		balances:      map[string]exchange.Balance{"USDT": {Free: 1, Total: 1}},
		placeOrderErr: errors.New("must not buy with insufficient quote balance"),
	}
	e := newTestEngine(t, gw)
	if err := e.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	e.mu.Lock()
	e.marketData = []Coin{{
		Symbol: "LTC/USDT", Price: 5, QuoteVolume: 1,
		RSI: ptr(10), SMAShort: ptr(2), SMALong: ptr(1),
	}}
	e.executeStrategyBuyLocked(context.Background())
	e.mu.Unlock()

	if len(gw.orders()) != 0 {
		t.Fatal("expected admission control to block the buy on insufficient balance")
	}
}

func TestBuyPathOpensPositionWhenAdmitted(t *testing.T) {
	gw := &fakeGateway{balances: map[string]exchange.Balance{"USDT": {Free: 1000, Total: 1000}}}
	gw.placeOrderFn = func(req exchange.OrderRequest) exchange.FilledOrder {
		return exchange.FilledOrder{ID: "1", Price: 5, Filled: req.Amount, Cost: req.Amount * 5}
	}
	e := newTestEngine(t, gw)
	if err := e.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	e.mu.Lock()
	e.marketData = []Coin{{
		Symbol: "LTC/USDT", Price: 5, QuoteVolume: 1,
		RSI: ptr(10), SMAShort: ptr(2), SMALong: ptr(1),
	}}
	e.executeStrategyBuyLocked(context.Background())
	_, open := e.activeTrades["LTCUSDT"]
	e.mu.Unlock()

	if !open {
		t.Fatal("expected a new LTCUSDT position to be opened")
	}
	ledger := e.Ledger(1)
	if len(ledger) != 1 || ledger[0].Type != TradeBuy {
		t.Fatal("expected exactly one BUY ledger entry")
	}
}

func TestStopIsIdempotentAndAwaitsInFlightLoop(t *testing.T) {
	gw := &fakeGateway{balances: map[string]exchange.Balance{"USDT": {Free: 1000, Total: 1000}}}
	e := newTestEngine(t, gw)
	if err := e.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Stop(true); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := e.Status(); got != StatusStopped {
		t.Fatalf("expected STOPPED after Stop, got %s", got)
	}
	// A second Stop call must be a harmless no-op.
	if err := e.Stop(false); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
