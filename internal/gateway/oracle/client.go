// Package oracle fetches the on-chain / sentiment / flow aggregates
// the personas vote on. The service is best-effort by contract: any
// failure degrades to a nil snapshot and the affected persona abstains,
// it never blocks the decision cycle.
package oracle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"orca/internal/logger"
	"orca/internal/pkg/circuit"

	"github.com/tidwall/gjson"
)

// Snapshot 是一次指标快照。字段缺失时保留零值，Has* 标志位区分
// "值为零"和"没拿到"。
type Snapshot struct {
	Symbol       string
	WhaleScore   float64
	WhaleSignal  string
	HasWhale     bool
	Sentiment    float64
	SocialVolume float64
	HasSentiment bool
	FundingRate  float64
	OIChangePct  float64
	TakerRatio   float64
	HasFlow      bool
	FetchedAt    time.Time
}

type Config struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	RetryBudget int
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *circuit.Breaker
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("oracle base url cannot be empty")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid oracle base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	if cfg.RetryBudget < 0 {
		cfg.RetryBudget = 0
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    circuit.NewBreaker("oracle", 5, time.Minute),
	}, nil
}

// Fetch 拉取一个标的的指标快照。GET 幂等，允许在重试预算内重试；
// 预算耗尽返回错误，由上层降级为弃权。
func (c *Client) Fetch(ctx context.Context, symbol string) (*Snapshot, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if !c.breaker.Allow() {
		return nil, fmt.Errorf("oracle: %w", circuit.ErrOpen)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/metrics?symbol=" + url.QueryEscape(symbol)
	var lastErr error
	for attempt := 0; attempt <= c.cfg.RetryBudget; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
		body, err := c.get(ctx, endpoint)
		if err != nil {
			lastErr = err
			logger.Warnf("oracle: fetch %s attempt %d failed: %v", symbol, attempt+1, err)
			continue
		}
		c.breaker.RecordSuccess()
		return parseSnapshot(symbol, body), nil
	}
	c.breaker.RecordFailure()
	return nil, fmt.Errorf("oracle fetch %s exhausted retries: %w", symbol, lastErr)
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oracle status=%d body=%s", resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

// parseSnapshot 容忍部分字段缺失：拿到多少算多少，缺的分组置 Has*=false。
func parseSnapshot(symbol string, body []byte) *Snapshot {
	doc := gjson.ParseBytes(body)
	snap := &Snapshot{
		Symbol:    symbol,
		FetchedAt: time.Now().UTC(),
	}
	if whale := doc.Get("whale"); whale.Exists() {
		snap.WhaleScore = whale.Get("score").Float()
		snap.WhaleSignal = whale.Get("signal").String()
		snap.HasWhale = whale.Get("score").Exists()
	}
	if sent := doc.Get("sentiment"); sent.Exists() {
		snap.Sentiment = sent.Get("score").Float()
		snap.SocialVolume = sent.Get("social_volume").Float()
		snap.HasSentiment = sent.Get("score").Exists()
	}
	if flow := doc.Get("flow"); flow.Exists() {
		snap.FundingRate = flow.Get("funding_rate").Float()
		snap.OIChangePct = flow.Get("oi_change_pct").Float()
		snap.TakerRatio = flow.Get("taker_ratio").Float()
		snap.HasFlow = flow.Get("taker_ratio").Exists()
	}
	return snap
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
