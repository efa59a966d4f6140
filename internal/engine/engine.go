package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"spotbot/internal/events"
	"spotbot/internal/exchange"
	"spotbot/internal/indicators"
	"spotbot/pkg/db"
)

const (
	quoteAsset          = "USDT"
	candidatePoolSize   = 30
	ohlcvTimeframe      = "15m"
	ohlcvWindow         = 50
	minTradeValueQuote  = 10.0
	ledgerMemoryCap     = 500
	ledgerLoadOnStartup = 100
)

// excludedSymbols is the fixed universe exclusion set: majors the strategy
// never trades.
var excludedSymbols = map[string]bool{
	"BTCUSDT": true,
	"ETHUSDT": true,
	"BNBUSDT": true,
}

// Engine owns every mutable piece of domain state and is the sole mutator
// of it. All reads and writes to settings, activeTrades, portfolio,
// usdtBalance, marketData and tradeLedger happen under mu; isStopping is
// the one signal observable without it.
type Engine struct {
	mu sync.Mutex

	gateway exchange.Gateway
	store   *db.Database
	bus     *events.Bus

	status       Status
	settings     Settings
	activeTrades map[string]*ActiveTrade
	portfolio    map[string]PortfolioItem
	usdtBalance  float64
	marketData   []Coin
	tradeLedger  []CompletedTrade

	loopGen  chan struct{} // closed to stop the current scheduled loop
	loopDone sync.WaitGroup

	isScanning atomic.Bool
	isStopping atomic.Bool
}

// New builds an Engine in its initial INITIALIZING state.
func New(gateway exchange.Gateway, store *db.Database, bus *events.Bus) *Engine {
	return &Engine{
		gateway:      gateway,
		store:        store,
		bus:          bus,
		status:       StatusInitializing,
		settings:     DefaultSettings(),
		activeTrades: make(map[string]*ActiveTrade),
		portfolio:    make(map[string]PortfolioItem),
	}
}

// Initialize performs gateway init + permission check + the first
// RefreshAccount, loads persisted settings/trades/ledger, and transitions
// to STOPPED on success or ERROR on failure. It is called exactly once.
func (e *Engine) Initialize(ctx context.Context) error {
	if err := e.loadPersisted(); err != nil {
		e.mu.Lock()
		e.status = StatusError
		e.mu.Unlock()
		e.publishStatus()
		e.logf(LogError, "failed to load persisted state: %v", err)
		return err
	}

	if err := e.gateway.Initialize(ctx); err != nil {
		e.mu.Lock()
		e.status = StatusError
		e.mu.Unlock()
		e.publishStatus()
		e.logf(LogError, "gateway initialization failed: %v", err)
		return err
	}

	e.mu.Lock()
	err := e.refreshAccountLocked(ctx)
	if err != nil {
		e.status = StatusError
	} else {
		e.status = StatusStopped
	}
	e.mu.Unlock()

	e.publishStatus()
	if err != nil {
		e.logf(LogError, "initial account refresh failed: %v", err)
		return err
	}
	e.logf(LogSuccess, "engine initialized")
	return nil
}

func (e *Engine) loadPersisted() error {
	var settings Settings
	if err := e.store.LoadSettings(&settings); err == nil {
		if verr := settings.Validate(); verr == nil {
			e.mu.Lock()
			e.settings = settings
			e.mu.Unlock()
		}
	}

	raw, err := e.store.LoadActiveTrades()
	if err != nil {
		return fmt.Errorf("load active trades: %w", err)
	}
	trades := make(map[string]*ActiveTrade, len(raw))
	for symbol, data := range raw {
		var t ActiveTrade
		if err := json.Unmarshal(data, &t); err != nil {
			log.Printf("⚠️ skipping corrupt active trade row for %s: %v", symbol, err)
			continue
		}
		trades[symbol] = &t
	}
	e.mu.Lock()
	e.activeTrades = trades
	e.mu.Unlock()

	items, err := e.store.LoadLedger(ledgerLoadOnStartup)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	// LoadLedger returns newest first; tradeLedger is kept oldest first.
	ledger := make([]CompletedTrade, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		raw := items[i]
		var t CompletedTrade
		if err := json.Unmarshal(raw, &t); err != nil {
			log.Printf("⚠️ skipping corrupt ledger row: %v", err)
			continue
		}
		ledger = append(ledger, t)
	}
	e.mu.Lock()
	e.tradeLedger = ledger
	e.mu.Unlock()

	return nil
}

// Start transitions STOPPED -> RUNNING and begins the scheduled loop.
// Calling Start while already RUNNING logs a WARNING and returns nil.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.status == StatusRunning {
		e.mu.Unlock()
		e.logf(LogWarning, "Start called while already RUNNING")
		return nil
	}
	if e.status != StatusStopped {
		e.mu.Unlock()
		return fmt.Errorf("cannot start from status %s", e.status)
	}
	e.status = StatusRunning
	e.isStopping.Store(false)
	interval := e.settings.ScanIntervalMs
	e.mu.Unlock()

	e.publishStatus()
	e.logf(LogInfo, "bot started")
	e.startLoop(ctx, interval)

	// One immediate iteration outside the critical section that set up
	// the timer; ExecuteLoop re-acquires the mutex itself.
	go e.ExecuteLoop(ctx)
	return nil
}

// Stop transitions RUNNING/ERROR -> STOPPED. Calling it twice is a no-op.
// hard=true cancels the timer immediately but still awaits any in-flight
// order placement via the normal isStopping/mutex protocol.
func (e *Engine) Stop(hard bool) error {
	e.isStopping.Store(true)

	e.mu.Lock()
	if e.status != StatusRunning && e.status != StatusError {
		e.mu.Unlock()
		e.isStopping.Store(false)
		return nil
	}
	e.stopLoopLocked()
	e.status = StatusStopped
	e.mu.Unlock()

	e.loopDone.Wait()
	e.isStopping.Store(false)
	e.publishStatus()
	return nil
}

// UpdateSettings validates and persists a new settings snapshot, then
// restarts the scheduled loop with the new interval if currently RUNNING.
func (e *Engine) UpdateSettings(ctx context.Context, settings Settings) error {
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	e.mu.Lock()
	if err := e.store.SaveSettings(settings); err != nil {
		e.mu.Unlock()
		e.logf(LogError, "failed to persist settings: %v", err)
		return err
	}
	e.settings = settings
	running := e.status == StatusRunning
	if running {
		e.stopLoopLocked()
	}
	e.mu.Unlock()

	if running {
		e.startLoop(ctx, settings.ScanIntervalMs)
	}
	e.logf(LogInfo, "settings updated")
	return nil
}

func (e *Engine) startLoop(ctx context.Context, intervalMs int) {
	gen := make(chan struct{})
	e.mu.Lock()
	e.loopGen = gen
	e.mu.Unlock()

	e.loopDone.Add(1)
	go func() {
		defer e.loopDone.Done()
		ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-gen:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.ExecuteLoop(ctx)
			}
		}
	}()
}

// stopLoopLocked must be called with mu held.
func (e *Engine) stopLoopLocked() {
	if e.loopGen != nil {
		close(e.loopGen)
		e.loopGen = nil
	}
}

// ExecuteLoop is invoked on every timer tick. A previous invocation still
// running causes this one to return immediately (isScanning fast path).
func (e *Engine) ExecuteLoop(ctx context.Context) {
	if !e.isScanning.CompareAndSwap(false, true) {
		return
	}
	defer e.isScanning.Store(false)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isStopping.Load() || e.status != StatusRunning {
		return
	}

	if err := e.refreshAccountLocked(ctx); err != nil {
		e.logf(LogError, "refresh account failed: %v", err)
		return
	}
	if e.isStopping.Load() {
		return
	}

	if err := e.scanMarketLocked(ctx); err != nil {
		e.logf(LogError, "scan market failed: %v", err)
		return
	}
	if e.isStopping.Load() {
		return
	}

	e.executeStrategySellLocked(ctx)
	if e.isStopping.Load() {
		return
	}
	e.executeStrategyBuyLocked(ctx)
}

// refreshAccountLocked pulls balances and rebuilds portfolio/usdtBalance.
// Caller holds mu.
func (e *Engine) refreshAccountLocked(ctx context.Context) error {
	balances, err := e.gateway.GetBalance(ctx)
	if err != nil {
		return err
	}

	portfolio := make(map[string]PortfolioItem)
	for asset, bal := range balances {
		if bal.Total <= 0 {
			continue
		}
		if asset == quoteAsset {
			e.usdtBalance = bal.Free
			continue
		}
		symbol := asset + "/" + quoteAsset
		item := PortfolioItem{
			Symbol:     symbol,
			BaseAsset:  asset,
			QuoteAsset: quoteAsset,
			Free:       bal.Free,
			Locked:     bal.Locked,
		}
		rawSymbol := asset + quoteAsset
		if trade, ok := e.activeTrades[rawSymbol]; ok {
			price := trade.PurchasePrice
			ts := trade.Timestamp
			item.AvgPurchasePrice = &price
			item.PurchaseTimestamp = &ts
		}
		portfolio[symbol] = item
	}
	e.portfolio = portfolio
	e.publishPortfolio()
	return nil
}

// scanMarketLocked refreshes marketData from the top-30 candidate pool by
// quote volume, attaching indicator values computed from 15m klines.
// Caller holds mu.
func (e *Engine) scanMarketLocked(ctx context.Context) error {
	tickers, err := e.gateway.FetchTickers(ctx)
	if err != nil {
		return err
	}

	type candidate struct {
		ticker exchange.Ticker
		base   string
	}
	var pool []candidate
	for _, t := range tickers {
		if !strings.HasSuffix(t.Symbol, quoteAsset) {
			continue
		}
		if t.Last <= 0 || t.QuoteVolume <= 0 {
			continue
		}
		if excludedSymbols[t.Symbol] {
			continue
		}
		pool = append(pool, candidate{ticker: t, base: strings.TrimSuffix(t.Symbol, quoteAsset)})
	}

	sort.Slice(pool, func(i, j int) bool {
		return pool[i].ticker.QuoteVolume > pool[j].ticker.QuoteVolume
	})
	if len(pool) > candidatePoolSize {
		pool = pool[:candidatePoolSize]
	}

	coins := make([]Coin, 0, len(pool))
	for _, c := range pool {
		coin := Coin{
			Symbol:            c.base + "/" + quoteAsset,
			BaseAsset:         c.base,
			QuoteAsset:        quoteAsset,
			Price:             c.ticker.Last,
			PriceChange24hPct: c.ticker.Percentage,
			BaseVolume:        c.ticker.BaseVolume,
			QuoteVolume:       c.ticker.QuoteVolume,
		}

		candles, err := e.gateway.FetchOHLCV(ctx, c.ticker.Symbol, ohlcvTimeframe, ohlcvWindow)
		if err != nil {
			e.logf(LogDebug, "ohlcv fetch failed for %s: %v", c.ticker.Symbol, err)
		} else if len(candles) > 0 {
			closes := make([]float64, len(candles))
			for i, k := range candles {
				closes[i] = k.Close
			}
			if series := indicators.RSI(closes, e.settings.RSIPeriod); len(series) > 0 {
				v := series[len(series)-1]
				coin.RSI = &v
			}
			if series := indicators.SMA(closes, e.settings.SMAShortPeriod); len(series) > 0 {
				v := series[len(series)-1]
				coin.SMAShort = &v
			}
			if series := indicators.SMA(closes, e.settings.SMALongPeriod); len(series) > 0 {
				v := series[len(series)-1]
				coin.SMALong = &v
			}
		}

		coins = append(coins, coin)
	}

	sort.Slice(coins, func(i, j int) bool { return coins[i].Price < coins[j].Price })
	e.marketData = coins
	e.publishMarket()

	e.reportRateLimitUsage()
	return nil
}

// reportRateLimitUsage surfaces the gateway's outbound rate-limit usage on
// the BotLog stream once it crosses a warning/critical threshold, for
// adapters that implement exchange.RateLimitReporter. Caller holds mu.
func (e *Engine) reportRateLimitUsage() {
	reporter, ok := e.gateway.(exchange.RateLimitReporter)
	if !ok {
		return
	}
	used, limit, percentage := reporter.RateLimitUsage()
	switch {
	case percentage >= 95:
		e.logf(LogWarning, "exchange rate limit critical: %d/%d (%.1f%%)", used, limit, percentage)
	case percentage >= 80:
		e.logf(LogWarning, "exchange rate limit warning: %d/%d (%.1f%%)", used, limit, percentage)
	}
}

// executeStrategySellLocked evaluates every open position for take-profit,
// stop-loss, trailing-stop and reconciliation. Caller holds mu.
func (e *Engine) executeStrategySellLocked(ctx context.Context) {
	symbols := make([]string, 0, len(e.activeTrades))
	for symbol := range e.activeTrades {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols) // deterministic iteration order

	for _, symbol := range symbols {
		if e.isStopping.Load() {
			return
		}
		trade := e.activeTrades[symbol]
		if trade == nil {
			continue
		}

		price, ok := e.priceForSymbol(symbol)
		if !ok {
			continue // price not refreshed this cycle
		}

		portSymbol := toPairSymbol(symbol)
		item, hasBalance := e.portfolio[portSymbol]
		if !hasBalance || item.Free <= 0 {
			e.logf(LogWarning, "no balance for %s, dropping unreconciled active trade", symbol)
			delete(e.activeTrades, symbol)
			if err := e.store.DeleteActiveTrade(symbol); err != nil {
				e.logf(LogError, "failed to persist active trade deletion for %s: %v", symbol, err)
			}
			continue
		}

		initialStop := trade.PurchasePrice * (1 - e.settings.StopLossPct/100)
		target := trade.PurchasePrice * (1 + e.settings.TargetProfitPct/100)
		effectiveStop := initialStop

		if e.settings.UseTrailingStop {
			high := trade.PurchasePrice
			if trade.HighestPriceSinceBuy != nil {
				high = *trade.HighestPriceSinceBuy
			}
			if price > high {
				high = price
				trade.HighestPriceSinceBuy = &high
				if err := e.store.SaveActiveTrade(symbol, trade); err != nil {
					e.logf(LogError, "failed to persist trailing-stop high for %s: %v", symbol, err)
				}
			}
			if high > trade.PurchasePrice*(1+e.settings.TrailingStopArmPct/100) {
				trailingStop := high * (1 - e.settings.TrailingStopOffsetPct/100)
				if trailingStop > effectiveStop {
					effectiveStop = trailingStop
				}
			}
		}

		var reason string
		switch {
		case price >= target:
			reason = "Take Profit"
		case price <= effectiveStop:
			reason = "Stop Loss"
		default:
			continue
		}

		e.sellLocked(ctx, symbol, trade, item.Free, price, reason)
	}
}

func (e *Engine) sellLocked(ctx context.Context, symbol string, trade *ActiveTrade, amountToSell, price float64, reason string) {
	if amountToSell*price < minTradeValueQuote {
		e.logf(LogWarning, "skipping sell of %s: notional %.4f below dust threshold", symbol, amountToSell*price)
		return
	}

	order, err := e.gateway.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol: symbol,
		Side:   exchange.SideSell,
		Amount: amountToSell,
	})
	if err != nil {
		e.logf(LogError, "sell order failed for %s (%s): %v", symbol, reason, err)
		return
	}

	execPrice := firstNonZero(order.Average, order.Price, price)
	filled := order.Filled
	if filled == 0 {
		filled = firstNonZero(order.Amount, amountToSell)
	}
	cost := order.Cost
	if cost == 0 {
		cost = filled * execPrice
	}

	profit := cost - trade.PurchasePrice*filled
	profitPct := 0.0
	if trade.PurchasePrice*filled != 0 {
		profitPct = profit / (trade.PurchasePrice * filled) * 100
	}
	purchasePrice := trade.PurchasePrice

	entry := CompletedTrade{
		ID:                   uuid.NewString(),
		Timestamp:            nowMillis(),
		Type:                 TradeSell,
		Pair:                 symbol,
		Price:                execPrice,
		Amount:               filled,
		Cost:                 cost,
		OrderID:              order.ID,
		ProfitAmount:         &profit,
		ProfitPercent:        &profitPct,
		PurchasePriceForSell: &purchasePrice,
	}
	e.appendLedgerLocked(entry)

	delete(e.activeTrades, symbol)
	if err := e.store.DeleteActiveTrade(symbol); err != nil {
		e.logf(LogError, "failed to persist active trade deletion for %s: %v", symbol, err)
	}

	e.logf(LogSell, "sold %s @ %.8f (%s), profit %.2f%%", symbol, execPrice, reason, profitPct)
}

// executeStrategyBuyLocked picks at most one candidate per iteration and
// opens a new position if admission control allows it. Caller holds mu.
func (e *Engine) executeStrategyBuyLocked(ctx context.Context) {
	var best *Coin
	for i := range e.marketData {
		coin := &e.marketData[i]
		rawSymbol := toRawSymbol(coin.Symbol)
		if _, open := e.activeTrades[rawSymbol]; open {
			continue
		}
		if excludedSymbols[rawSymbol] {
			continue
		}
		if coin.Price > e.settings.MaxCoinPrice {
			continue
		}
		if coin.RSI == nil || coin.SMAShort == nil || coin.SMALong == nil {
			continue
		}
		if *coin.RSI >= e.settings.RSIBuyThreshold {
			continue
		}
		if *coin.SMAShort <= *coin.SMALong {
			continue
		}
		if best == nil || coin.QuoteVolume > best.QuoteVolume {
			best = coin
		}
	}
	if best == nil {
		return
	}

	if len(e.activeTrades) >= e.settings.MaxOpenTrades {
		return
	}
	if e.usdtBalance < e.settings.TradeAmountQuote {
		return
	}

	symbol := toRawSymbol(best.Symbol)
	amount := e.settings.TradeAmountQuote / best.Price

	order, err := e.gateway.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol: symbol,
		Side:   exchange.SideBuy,
		Amount: amount,
	})
	if err != nil {
		e.logf(LogError, "buy order failed for %s: %v", symbol, err)
		return
	}

	execPrice := firstNonZero(order.Average, order.Price, best.Price)
	filled := order.Filled
	if filled == 0 {
		filled = firstNonZero(order.Amount, amount)
	}
	cost := order.Cost
	if cost == 0 {
		cost = filled * execPrice
	}

	now := nowMillis()
	trade := &ActiveTrade{
		PurchasePrice:        execPrice,
		Amount:               filled,
		Timestamp:            now,
		HighestPriceSinceBuy: &execPrice,
	}
	e.activeTrades[symbol] = trade
	if err := e.store.SaveActiveTrade(symbol, trade); err != nil {
		e.logf(LogError, "failed to persist active trade for %s: %v", symbol, err)
	}

	entry := CompletedTrade{
		ID:        uuid.NewString(),
		Timestamp: now,
		Type:      TradeBuy,
		Pair:      symbol,
		Price:     execPrice,
		Amount:    filled,
		Cost:      cost,
		OrderID:   order.ID,
	}
	e.appendLedgerLocked(entry)

	e.logf(LogBuy, "bought %s @ %.8f, amount %.8f", symbol, execPrice, filled)
}

func (e *Engine) appendLedgerLocked(entry CompletedTrade) {
	if err := e.store.SaveLedgerItem(entry.ID, entry.Timestamp, entry); err != nil {
		e.logf(LogError, "failed to persist ledger entry %s: %v", entry.ID, err)
	}
	e.tradeLedger = append(e.tradeLedger, entry)
	if len(e.tradeLedger) > ledgerMemoryCap {
		e.tradeLedger = e.tradeLedger[len(e.tradeLedger)-ledgerMemoryCap:]
	}
	e.publishLedger()
}

func (e *Engine) priceForSymbol(rawSymbol string) (float64, bool) {
	pair := toPairSymbol(rawSymbol)
	for _, c := range e.marketData {
		if c.Symbol == pair {
			return c.Price, true
		}
	}
	return 0, false
}

// toPairSymbol converts a raw exchange symbol like "LTCUSDT" into the
// canonical "LTC/USDT" form used by Coin/PortfolioItem.
func toPairSymbol(rawSymbol string) string {
	if strings.Contains(rawSymbol, "/") {
		return rawSymbol
	}
	base := strings.TrimSuffix(rawSymbol, quoteAsset)
	return base + "/" + quoteAsset
}

// toRawSymbol converts a canonical "LTC/USDT" pair back into the exchange's
// "LTCUSDT" form.
func toRawSymbol(pair string) string {
	return strings.ReplaceAll(pair, "/", "")
}

func firstNonZero(vals ...float64) float64 {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

func nowMillis() int64 { return time.Now().UnixMilli() }
