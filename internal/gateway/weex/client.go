// Package weex implements exchange.Exchange against the WEEX USDT-M
// contract REST API.
// 中文说明：
// 写路径（下单/撤单/改止损）从不自动重试——超时后订单可能已经成交，
// 盲目重发会变成双倍仓位。只有幂等读取在重试预算内重试。所有请求
// 都过熔断器，交易所连续抽风时快速失败。
package weex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"orca/internal/gateway/exchange"
	"orca/internal/logger"
	"orca/internal/pkg/circuit"
	symbolutil "orca/internal/pkg/symbol"
	"orca/internal/types"

	"github.com/tidwall/gjson"
)

type Config struct {
	BaseURL          string
	APIKey           string
	APISecret        string
	Passphrase       string
	Timeout          time.Duration
	RetryBudget      int
	BreakerThreshold int
	BreakerReset     time.Duration
}

type Client struct {
	cfg        Config
	baseURL    *url.URL
	httpClient *http.Client
	breaker    *circuit.Breaker
	nowFn      func() time.Time
}

func NewClient(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("weex base url cannot be empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing weex base url failed: %w", err)
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("weex credentials are not configured")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	threshold := cfg.BreakerThreshold
	if threshold <= 0 {
		threshold = 5
	}
	reset := cfg.BreakerReset
	if reset <= 0 {
		reset = time.Minute
	}
	return &Client{
		cfg:        cfg,
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    circuit.NewBreaker("weex", threshold, reset),
		nowFn:      time.Now,
	}, nil
}

func (c *Client) Name() string { return "weex" }

// retryable 请求封装：仅用于读路径。
func (c *Client) getJSON(ctx context.Context, path string, params url.Values) (gjson.Result, error) {
	var out gjson.Result
	var lastErr error
	attempts := c.cfg.RetryBudget + 1
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return out, ctx.Err()
			case <-time.After(time.Duration(i) * 500 * time.Millisecond):
			}
		}
		out, lastErr = c.doRequest(ctx, http.MethodGet, path, params, nil)
		if lastErr == nil {
			return out, nil
		}
	}
	return out, lastErr
}

// postJSON 写路径：一次请求定胜负，失败交给上层决定。
func (c *Client) postJSON(ctx context.Context, path string, payload any) (gjson.Result, error) {
	return c.doRequest(ctx, http.MethodPost, path, nil, payload)
}

func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, payload any) (gjson.Result, error) {
	if !c.breaker.Allow() {
		return gjson.Result{}, fmt.Errorf("weex: %w", circuit.ErrOpen)
	}

	requestPath := path
	if len(params) > 0 {
		requestPath += "?" + params.Encode()
	}
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return gjson.Result{}, err
		}
	}

	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, err
	}
	ts := strconv.FormatInt(c.nowFn().UnixMilli(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("ACCESS-KEY", c.cfg.APIKey)
	req.Header.Set("ACCESS-SIGN", Sign(c.cfg.APISecret, ts, method, requestPath, string(body)))
	req.Header.Set("ACCESS-TIMESTAMP", ts)
	if c.cfg.Passphrase != "" {
		req.Header.Set("ACCESS-PASSPHRASE", c.cfg.Passphrase)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		return gjson.Result{}, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.breaker.RecordFailure()
		return gjson.Result{}, err
	}
	if resp.StatusCode != http.StatusOK {
		c.breaker.RecordFailure()
		return gjson.Result{}, fmt.Errorf("weex %s %s: status=%d body=%s", method, path, resp.StatusCode, snippet(raw))
	}
	doc := gjson.ParseBytes(raw)
	if code := doc.Get("code").String(); code != "" && code != "00000" && code != "0" {
		c.breaker.RecordFailure()
		return gjson.Result{}, fmt.Errorf("weex %s %s: code=%s msg=%s", method, path, code, doc.Get("msg").String())
	}
	c.breaker.RecordSuccess()
	return doc.Get("data"), nil
}

func snippet(raw []byte) string {
	s := string(raw)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

// --- exchange.Exchange ---

func (c *Client) OpenPosition(ctx context.Context, req exchange.OpenRequest) (*exchange.OpenResult, error) {
	side := "open_long"
	if req.Side == types.SideShort {
		side = "open_short"
	}
	payload := map[string]any{
		"symbol":           symbolutil.Normalize(req.Symbol),
		"marginCoin":       "USDT",
		"size":             strconv.FormatFloat(req.Size, 'f', -1, 64),
		"side":             side,
		"orderType":        "market",
		"leverage":         strconv.Itoa(req.Leverage),
		"presetStopLoss":   strconv.FormatFloat(req.StopLoss, 'f', -1, 64),
		"presetTakeProfit": strconv.FormatFloat(req.TakeProfit, 'f', -1, 64),
	}
	if req.Tag != "" {
		payload["clientOid"] = req.Tag
	}
	data, err := c.postJSON(ctx, "/api/v2/mix/order/place-order", payload)
	if err != nil {
		return nil, err
	}
	res := &exchange.OpenResult{
		OrderID:    data.Get("orderId").String(),
		FillPrice:  data.Get("fillPrice").Float(),
		FilledSize: data.Get("fillSize").Float(),
	}
	if res.OrderID == "" {
		return nil, fmt.Errorf("weex open: no order id in response")
	}
	logger.Infof("weex: opened %s %s size=%v order=%s", req.Symbol, req.Side, req.Size, res.OrderID)
	return res, nil
}

func (c *Client) ClosePosition(ctx context.Context, req exchange.CloseRequest) error {
	side := "close_long"
	if req.Side == types.SideShort {
		side = "close_short"
	}
	payload := map[string]any{
		"symbol":     symbolutil.Normalize(req.Symbol),
		"marginCoin": "USDT",
		"side":       side,
		"orderType":  "market",
	}
	if req.Size > 0 {
		payload["size"] = strconv.FormatFloat(req.Size, 'f', -1, 64)
	}
	_, err := c.postJSON(ctx, "/api/v2/mix/order/close-position", payload)
	if err != nil {
		return err
	}
	logger.Infof("weex: closed %s %s size=%v reason=%s", req.Symbol, req.Side, req.Size, req.Reason)
	return nil
}

func (c *Client) UpdateStop(ctx context.Context, req exchange.StopRequest) error {
	holdSide := "long"
	if req.Side == types.SideShort {
		holdSide = "short"
	}
	payload := map[string]any{
		"symbol":       symbolutil.Normalize(req.Symbol),
		"marginCoin":   "USDT",
		"holdSide":     holdSide,
		"triggerPrice": strconv.FormatFloat(req.StopLoss, 'f', -1, 64),
		"planType":     "loss_plan",
	}
	_, err := c.postJSON(ctx, "/api/v2/mix/order/modify-tpsl-order", payload)
	return err
}

func (c *Client) ListOpenPositions(ctx context.Context) ([]exchange.Position, error) {
	params := url.Values{}
	params.Set("marginCoin", "USDT")
	data, err := c.getJSON(ctx, "/api/v2/mix/position/all-position", params)
	if err != nil {
		return nil, err
	}
	var out []exchange.Position
	data.ForEach(func(_, item gjson.Result) bool {
		size := item.Get("total").Float()
		if size <= 0 {
			return true
		}
		side := types.SideLong
		if item.Get("holdSide").String() == "short" {
			side = types.SideShort
		}
		out = append(out, exchange.Position{
			Symbol:       item.Get("symbol").String(),
			Side:         side,
			Size:         size,
			EntryPrice:   item.Get("openPriceAvg").Float(),
			MarkPrice:    item.Get("markPrice").Float(),
			MarginUSD:    item.Get("marginSize").Float(),
			Leverage:     int(item.Get("leverage").Int()),
			UnrealizedPn: item.Get("unrealizedPL").Float(),
		})
		return true
	})
	return out, nil
}

func (c *Client) GetBalance(ctx context.Context) (exchange.Balance, error) {
	params := url.Values{}
	params.Set("marginCoin", "USDT")
	data, err := c.getJSON(ctx, "/api/v2/mix/account/account", params)
	if err != nil {
		return exchange.Balance{}, err
	}
	bal := exchange.Balance{
		TotalUSD:     data.Get("accountEquity").Float(),
		AvailableUSD: data.Get("available").Float(),
		UsedUSD:      data.Get("locked").Float(),
	}
	if bal.TotalUSD <= 0 && bal.AvailableUSD <= 0 {
		return exchange.Balance{}, fmt.Errorf("weex balance: empty account payload")
	}
	return bal, nil
}

func (c *Client) GetPrice(ctx context.Context, symbol string) (exchange.PriceQuote, error) {
	params := url.Values{}
	params.Set("symbol", symbolutil.Normalize(symbol))
	data, err := c.getJSON(ctx, "/api/v2/mix/market/ticker", params)
	if err != nil {
		return exchange.PriceQuote{}, err
	}
	quote := exchange.PriceQuote{
		Symbol: symbol,
		Last:   data.Get("lastPr").Float(),
		Bid:    data.Get("bidPr").Float(),
		Ask:    data.Get("askPr").Float(),
	}
	if quote.Last <= 0 {
		return exchange.PriceQuote{}, fmt.Errorf("weex ticker %s: no last price", symbol)
	}
	return quote, nil
}

func (c *Client) GetFilters(ctx context.Context, symbol string) (exchange.Filters, error) {
	params := url.Values{}
	params.Set("symbol", symbolutil.Normalize(symbol))
	data, err := c.getJSON(ctx, "/api/v2/mix/market/contracts", params)
	if err != nil {
		return exchange.Filters{}, err
	}
	first := data
	if data.IsArray() {
		first = data.Array()[0]
	}
	f := exchange.Filters{
		SizeStep: first.Get("sizeMultiplier").Float(),
		MinSize:  first.Get("minTradeNum").Float(),
	}
	if f.SizeStep <= 0 {
		f.SizeStep = 0.001
	}
	return f, nil
}

