// Package engine implements the Trading Engine: the scheduled scan/decide/
// execute loop, its lifecycle and mutual-exclusion protocol, the
// indicator-based entry/exit rules, the trailing-stop state machine, and
// the event fan-out to subscribers.
package engine

import (
	"errors"
	"fmt"
)

// Status is the engine's lifecycle state.
type Status string

const (
	StatusInitializing Status = "INITIALIZING"
	StatusStopped      Status = "STOPPED"
	StatusRunning      Status = "RUNNING"
	StatusError        Status = "ERROR"
)

// Settings is the immutable configuration snapshot the engine trades
// against; a new value replaces the old one atomically via UpdateSettings.
type Settings struct {
	MaxCoinPrice          float64 `json:"maxCoinPrice"`
	TradeAmountQuote      float64 `json:"tradeAmountQuote"`
	ScanIntervalMs        int     `json:"scanIntervalMs"`
	TargetProfitPct       float64 `json:"targetProfitPct"`
	StopLossPct           float64 `json:"stopLossPct"`
	MaxOpenTrades         int     `json:"maxOpenTrades"`
	RSIPeriod             int     `json:"rsiPeriod"`
	RSIBuyThreshold       float64 `json:"rsiBuyThreshold"`
	SMAShortPeriod        int     `json:"smaShortPeriod"`
	SMALongPeriod         int     `json:"smaLongPeriod"`
	UseTrailingStop       bool    `json:"useTrailingStop"`
	TrailingStopArmPct    float64 `json:"trailingStopArmPct"`
	TrailingStopOffsetPct float64 `json:"trailingStopOffsetPct"`
}

// Validate enforces the invariants from the data model: smaShortPeriod <
// smaLongPeriod, all periods >= 2, all percentages > 0, scanIntervalMs >=
// 2000.
func (s Settings) Validate() error {
	if s.SMAShortPeriod >= s.SMALongPeriod {
		return errors.New("smaShortPeriod must be less than smaLongPeriod")
	}
	if s.RSIPeriod < 2 || s.SMAShortPeriod < 2 || s.SMALongPeriod < 2 {
		return errors.New("all periods must be at least 2")
	}
	if s.TargetProfitPct <= 0 || s.StopLossPct <= 0 || s.RSIBuyThreshold <= 0 {
		return errors.New("all percentages must be greater than 0")
	}
	if s.TrailingStopArmPct <= 0 || s.TrailingStopOffsetPct <= 0 {
		return errors.New("trailing stop percentages must be greater than 0")
	}
	if s.ScanIntervalMs < 2000 {
		return errors.New("scanIntervalMs must be at least 2000")
	}
	if s.MaxOpenTrades < 1 {
		return errors.New("maxOpenTrades must be at least 1")
	}
	return nil
}

// DefaultSettings mirrors the operator defaults a fresh install starts
// with before any UpdateSettings call.
func DefaultSettings() Settings {
	return Settings{
		MaxCoinPrice:          10,
		TradeAmountQuote:      10,
		ScanIntervalMs:        30000,
		TargetProfitPct:       3,
		StopLossPct:           2,
		MaxOpenTrades:         3,
		RSIPeriod:             14,
		RSIBuyThreshold:       30,
		SMAShortPeriod:        9,
		SMALongPeriod:         21,
		UseTrailingStop:       true,
		TrailingStopArmPct:    1,
		TrailingStopOffsetPct: 0.5,
	}
}

// Coin is a recomputed-every-scan market snapshot for one trading pair.
// It is never persisted.
type Coin struct {
	Symbol            string   `json:"symbol"`
	BaseAsset         string   `json:"baseAsset"`
	QuoteAsset        string   `json:"quoteAsset"`
	Price             float64  `json:"price"`
	PriceChange24hPct float64  `json:"priceChange24hPct"`
	BaseVolume        float64  `json:"baseVolume"`
	QuoteVolume       float64  `json:"quoteVolume"`
	RSI               *float64 `json:"rsi,omitempty"`
	SMAShort          *float64 `json:"smaShort,omitempty"`
	SMALong           *float64 `json:"smaLong,omitempty"`
}

// PortfolioItem is a derived exchange balance, joined against the bot's
// own activeTrades when a matching position exists.
type PortfolioItem struct {
	Symbol            string   `json:"symbol"`
	BaseAsset         string   `json:"baseAsset"`
	QuoteAsset        string   `json:"quoteAsset"`
	Free              float64  `json:"free"`
	Locked            float64  `json:"locked"`
	AvgPurchasePrice  *float64 `json:"avgPurchasePrice,omitempty"`
	PurchaseTimestamp *int64   `json:"purchaseTimestamp,omitempty"`
}

// ActiveTrade is one open, bot-managed long position, keyed by symbol.
type ActiveTrade struct {
	PurchasePrice        float64  `json:"purchasePrice"`
	Amount               float64  `json:"amount"`
	Timestamp            int64    `json:"timestamp"`
	HighestPriceSinceBuy *float64 `json:"highestPriceSinceBuy,omitempty"`
}

// TradeType distinguishes ledger entry direction.
type TradeType string

const (
	TradeBuy  TradeType = "BUY"
	TradeSell TradeType = "SELL"
)

// CompletedTrade is one immutable, append-only ledger row.
type CompletedTrade struct {
	ID                   string    `json:"id"`
	Timestamp            int64     `json:"timestamp"`
	Type                 TradeType `json:"type"`
	Pair                 string    `json:"pair"`
	Price                float64   `json:"price"`
	Amount               float64   `json:"amount"`
	Cost                 float64   `json:"cost"`
	OrderID              string    `json:"orderId,omitempty"`
	FeeAmount            *float64  `json:"feeAmount,omitempty"`
	FeeCurrency          string    `json:"feeCurrency,omitempty"`
	ProfitAmount         *float64  `json:"profitAmount,omitempty"`
	ProfitPercent        *float64  `json:"profitPercent,omitempty"`
	PurchasePriceForSell *float64  `json:"purchasePriceForSell,omitempty"`
}

// LogType classifies a BotLog entry.
type LogType string

const (
	LogInfo         LogType = "INFO"
	LogSuccess      LogType = "SUCCESS"
	LogWarning      LogType = "WARNING"
	LogError        LogType = "ERROR"
	LogBuy          LogType = "BUY"
	LogSell         LogType = "SELL"
	LogAPIKey       LogType = "API_KEY"
	LogStrategyInfo LogType = "STRATEGY_INFO"
	LogDebug        LogType = "DEBUG"
)

// BotLog is an ephemeral, broadcast-only operator log entry.
type BotLog struct {
	ID        string  `json:"id"`
	Timestamp int64   `json:"timestamp"`
	Type      LogType `json:"type"`
	Message   string  `json:"message"`
}

func (e ConfigurationError) Error() string { return fmt.Sprintf("configuration error: %s", e.Reason) }

// ConfigurationError models missing credentials where required.
type ConfigurationError struct{ Reason string }

// PermissionError models a gateway refusing to start due to withdrawal
// capability on the configured API key.
type PermissionError struct{ Reason string }

func (e PermissionError) Error() string { return fmt.Sprintf("permission error: %s", e.Reason) }
