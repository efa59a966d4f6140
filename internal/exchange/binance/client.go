// Package binance adapts Binance's spot REST API to the exchange.Gateway
// port.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"spotbot/internal/exchange"
)

// Config holds Binance credentials and venue selection.
type Config struct {
	APIKey     string
	APISecret  string
	Sandbox    bool
	RecvWindow int64 // ms, default 5000
}

// Client is a Binance spot Gateway adapter.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	timeSync   *timeSync
	limiter    *weightLimiter
}

// New constructs a Client. Call Initialize before using it.
func New(cfg Config) *Client {
	base := "https://api.binance.com"
	if cfg.Sandbox {
		base = "https://testnet.binance.vision"
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	c := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    newWeightLimiter(1200, time.Minute),
	}
	c.timeSync = newTimeSync(c.serverTime)
	return c
}

// Initialize synchronizes the clock against the venue and validates that
// the configured credentials cannot withdraw.
func (c *Client) Initialize(ctx context.Context) error {
	c.timeSync.start(ctx)

	ok, err := c.ValidateApiKeyPermissions(ctx)
	if err != nil {
		return fmt.Errorf("validate api key permissions: %w", err)
	}
	if !ok {
		return errors.New("binance: API key permits withdrawals, refusing to initialize")
	}
	return nil
}

// ValidateApiKeyPermissions returns false when the key can withdraw funds.
func (c *Client) ValidateApiKeyPermissions(ctx context.Context) (bool, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return false, errors.New("binance: API key/secret required")
	}
	params := url.Values{}
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/account", params)
	if err != nil {
		return false, err
	}
	var info struct {
		CanTrade         bool `json:"canTrade"`
		CanWithdraw      bool `json:"canWithdraw"`
		EnableWithdrawals bool `json:"enableWithdrawals"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return false, fmt.Errorf("decode account permissions: %w", err)
	}
	if info.CanWithdraw || info.EnableWithdrawals {
		return false, nil
	}
	return true, nil
}

// FetchTickers returns every 24h ticker with a positive last price.
func (c *Client) FetchTickers(ctx context.Context) ([]exchange.Ticker, error) {
	body, err := c.doPublic(ctx, "/api/v3/ticker/24hr", nil)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Symbol             string `json:"symbol"`
		LastPrice          string `json:"lastPrice"`
		QuoteVolume        string `json:"quoteVolume"`
		Volume             string `json:"volume"`
		PriceChangePercent string `json:"priceChangePercent"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode tickers: %w", err)
	}

	out := make([]exchange.Ticker, 0, len(raw))
	for _, r := range raw {
		last := parseFloat(r.LastPrice)
		if last <= 0 {
			continue
		}
		out = append(out, exchange.Ticker{
			Symbol:      r.Symbol,
			Last:        last,
			BaseVolume:  parseFloat(r.Volume),
			QuoteVolume: parseFloat(r.QuoteVolume),
			Percentage:  parseFloat(r.PriceChangePercent),
		})
	}
	return out, nil
}

// FetchOHLCV returns up to limit klines for symbol/timeframe, oldest first.
func (c *Client) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]exchange.Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", timeframe)
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.doPublic(ctx, "/api/v3/klines", params)
	if err != nil {
		return nil, err
	}

	var raw [][]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode klines for %s: %w", symbol, err)
	}

	candles := make([]exchange.Candle, 0, len(raw))
	for _, row := range raw {
		if len(row) < 7 {
			continue
		}
		candles = append(candles, exchange.Candle{
			OpenTime:  toInt64(row[0]),
			Open:      toFloat(row[1]),
			High:      toFloat(row[2]),
			Low:       toFloat(row[3]),
			Close:     toFloat(row[4]),
			Volume:    toFloat(row[5]),
			CloseTime: toInt64(row[6]),
		})
	}
	return candles, nil
}

// GetBalance returns free/locked/total per asset with a nonzero total.
func (c *Client) GetBalance(ctx context.Context) (map[string]exchange.Balance, error) {
	params := url.Values{}
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/account", params)
	if err != nil {
		return nil, err
	}

	var info struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode account balances: %w", err)
	}

	out := make(map[string]exchange.Balance)
	for _, b := range info.Balances {
		free := parseFloat(b.Free)
		locked := parseFloat(b.Locked)
		total := free + locked
		if total <= 0 {
			continue
		}
		out[b.Asset] = exchange.Balance{Free: free, Locked: locked, Total: total}
	}
	return out, nil
}

// PlaceOrder submits a market order and returns its fill.
func (c *Client) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.FilledOrder, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return exchange.FilledOrder{}, errors.New("binance: API key/secret required")
	}

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", "MARKET")
	params.Set("quantity", formatFloat(req.Amount))

	body, err := c.doSigned(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return exchange.FilledOrder{}, err
	}

	var resp struct {
		OrderID       int64  `json:"orderId"`
		ExecutedQty   string `json:"executedQty"`
		CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
		Fills         []struct {
			Price string `json:"price"`
			Qty   string `json:"qty"`
		} `json:"fills"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return exchange.FilledOrder{}, fmt.Errorf("decode order response: %w", err)
	}

	filled := parseFloat(resp.ExecutedQty)
	cost := parseFloat(resp.CummulativeQuoteQty)

	var average float64
	if filled > 0 && cost > 0 {
		average = cost / filled
	} else if len(resp.Fills) > 0 {
		average = parseFloat(resp.Fills[0].Price)
	}

	return exchange.FilledOrder{
		ID:      strconv.FormatInt(resp.OrderID, 10),
		Price:   average,
		Average: average,
		Filled:  filled,
		Amount:  req.Amount,
		Cost:    cost,
	}, nil
}

// RateLimitUsage reports the current outbound weight usage, implementing
// exchange.RateLimitReporter.
func (c *Client) RateLimitUsage() (used, limit int, percentage float64) {
	return c.limiter.usage()
}

func (c *Client) serverTime(ctx context.Context) (int64, error) {
	body, err := c.doPublic(ctx, "/api/v3/time", nil)
	if err != nil {
		return 0, err
	}
	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, err
	}
	return res.ServerTime, nil
}

func (c *Client) doPublic(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.wait(ctx); err != nil {
		return nil, err
	}
	endpoint := c.baseURL + path
	if params != nil && len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// doSigned signs params with the API secret and performs the request.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.wait(ctx); err != nil {
		return nil, err
	}

	timestamp := time.Now().UnixMilli()
	if c.timeSync.offsetMs() != 0 {
		timestamp = c.timeSync.now()
	}
	params.Set("timestamp", strconv.FormatInt(timestamp, 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	params.Set("signature", sign(params.Encode(), c.cfg.APISecret))

	endpoint := c.baseURL + path
	encoded := params.Encode()

	var req *http.Request
	var err error
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	c.limiter.updateFromHeader(res.Header.Get("X-MBX-USED-WEIGHT-1M"))

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("binance %s %s status %d: %s", req.Method, req.URL.Path, res.StatusCode, string(body))
	}
	return body, nil
}

func sign(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case string:
		return parseFloat(t)
	case float64:
		return t
	default:
		return 0
	}
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case int64:
		return t
	default:
		return 0
	}
}
