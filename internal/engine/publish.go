package engine

import (
	"fmt"
	"log"

	"github.com/google/uuid"

	"spotbot/internal/events"
)

// logf records a BotLog entry and mirrors it to the console, matching the
// operator-visible behavior every error/warning path in the engine relies
// on.
func (e *Engine) logf(kind LogType, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	entry := BotLog{
		ID:        uuid.NewString(),
		Timestamp: nowMillis(),
		Type:      kind,
		Message:   msg,
	}

	switch kind {
	case LogError:
		log.Printf("❌ %s", msg)
	case LogWarning:
		log.Printf("⚠️ %s", msg)
	case LogSuccess:
		log.Printf("✓ %s", msg)
	default:
		log.Printf("%s", msg)
	}

	e.bus.Publish(events.EventLog, entry)
}

func (e *Engine) publishStatus() {
	e.mu.Lock()
	status := e.status
	e.mu.Unlock()
	e.bus.Publish(events.EventStatus, status)
}

func (e *Engine) publishMarket() {
	// Caller already holds mu; copy under lock conceptually by value since
	// marketData is replaced wholesale each scan, not mutated in place.
	e.bus.Publish(events.EventMarket, append([]Coin(nil), e.marketData...))
}

// portfolioUpdate is the outbound payload shape for the portfolio_update
// event: the derived balances plus the quote-asset cash balance.
type portfolioUpdate struct {
	Portfolio   []PortfolioItem `json:"portfolio"`
	USDTBalance float64         `json:"usdtBalance"`
}

func (e *Engine) publishPortfolio() {
	items := make([]PortfolioItem, 0, len(e.portfolio))
	for _, item := range e.portfolio {
		items = append(items, item)
	}
	e.bus.Publish(events.EventPortfolio, portfolioUpdate{Portfolio: items, USDTBalance: e.usdtBalance})
}

func (e *Engine) publishLedger() {
	e.bus.Publish(events.EventLedger, append([]CompletedTrade(nil), e.tradeLedger...))
}

// Snapshot is the composite initial_state payload sent to a new subscriber.
type Snapshot struct {
	BotStatus   Status           `json:"botStatus"`
	Settings    Settings         `json:"settings"`
	Logs        []BotLog         `json:"logs"`
	Portfolio   []PortfolioItem  `json:"portfolio"`
	USDTBalance float64          `json:"usdtBalance"`
	TradeLedger []CompletedTrade `json:"tradeLedger"`
	MarketData  []Coin           `json:"marketData"`
}

// Snapshot returns the current value of every piece of domain state, for
// the transport layer to send on subscribe.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	items := make([]PortfolioItem, 0, len(e.portfolio))
	for _, item := range e.portfolio {
		items = append(items, item)
	}

	return Snapshot{
		BotStatus:   e.status,
		Settings:    e.settings,
		Logs:        nil,
		Portfolio:   items,
		USDTBalance: e.usdtBalance,
		TradeLedger: append([]CompletedTrade(nil), e.tradeLedger...),
		MarketData:  append([]Coin(nil), e.marketData...),
	}
}

// Status returns the current lifecycle state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Settings returns the current settings snapshot.
func (e *Engine) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// Ledger returns up to limit of the most recent ledger rows, newest first.
func (e *Engine) Ledger(limit int) []CompletedTrade {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.tradeLedger)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]CompletedTrade, limit)
	for i := 0; i < limit; i++ {
		out[i] = e.tradeLedger[n-1-i]
	}
	return out
}
