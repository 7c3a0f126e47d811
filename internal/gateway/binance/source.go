// Package binance implements market.Source on top of Binance USD-M
// futures public endpoints. Only read paths are used; execution goes
// through the exchange gateway, never here.
package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"orca/internal/market"
	symbolutil "orca/internal/pkg/symbol"
	"orca/internal/scheduler"

	"github.com/adshao/go-binance/v2/futures"
)

const maxHistoryLimit = 1500

type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.RESTBaseURL) == "" {
		c.RESTBaseURL = "https://fapi.binance.com"
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	return c
}

// Source 基于 go-binance SDK 实现 market.Source。
type Source struct {
	cfg    Config
	client *futures.Client

	statsMu sync.Mutex
	stats   market.SourceStats
}

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	client := futures.NewClient("", "")
	client.BaseURL = strings.TrimSpace(final.RESTBaseURL)
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Source{
		cfg:    final,
		client: client,
	}, nil
}

func (s *Source) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	symbol = symbolutil.Normalize(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	svc := s.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit)
	kls, err := svc.Do(ctx)
	s.record(err)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	if dur, ok := scheduler.ParseIntervalDuration(interval); ok {
		out = scheduler.DropUnclosedKline(out, dur)
	}
	return out, nil
}

// FetchChangeStats 组合 24h ticker 与 1h K 线：24h 涨幅直接取交易所口径，
// 4h/1h 用收盘价自行推算，保持三个窗口同源同刻。
func (s *Source) FetchChangeStats(ctx context.Context, symbol string) (market.ChangeStats, error) {
	symbol = symbolutil.Normalize(symbol)
	if symbol == "" {
		return market.ChangeStats{}, fmt.Errorf("symbol is required")
	}
	tickers, err := s.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	s.record(err)
	if err != nil {
		return market.ChangeStats{}, err
	}
	if len(tickers) == 0 || tickers[0] == nil {
		return market.ChangeStats{}, fmt.Errorf("empty 24h ticker for %s", symbol)
	}
	stats := market.ChangeStats{
		Symbol:    symbol,
		Change24h: parseFloat(tickers[0].PriceChangePercent),
		LastPrice: parseFloat(tickers[0].LastPrice),
	}

	candles, err := s.FetchHistory(ctx, symbol, "1h", 6)
	if err != nil {
		return market.ChangeStats{}, err
	}
	if len(candles) < 5 {
		return market.ChangeStats{}, fmt.Errorf("not enough 1h candles for %s (%d)", symbol, len(candles))
	}
	last := candles[len(candles)-1].Close
	ref4h := candles[len(candles)-5].Close
	ref1h := candles[len(candles)-2].Close
	if ref4h <= 0 || ref1h <= 0 || last <= 0 {
		return market.ChangeStats{}, fmt.Errorf("invalid closes for %s", symbol)
	}
	stats.Change4h = (last - ref4h) / ref4h * 100
	stats.Change1h = (last - ref1h) / ref1h * 100
	return stats, nil
}

func (s *Source) LastPrice(ctx context.Context, symbol string) (float64, error) {
	symbol = symbolutil.Normalize(symbol)
	if symbol == "" {
		return 0, fmt.Errorf("symbol is required")
	}
	prices, err := s.client.NewListPricesService().Symbol(symbol).Do(ctx)
	s.record(err)
	if err != nil {
		return 0, err
	}
	if len(prices) == 0 || prices[0] == nil {
		return 0, fmt.Errorf("empty price for %s", symbol)
	}
	price := parseFloat(prices[0].Price)
	if price <= 0 {
		return 0, fmt.Errorf("non-positive price for %s", symbol)
	}
	return price, nil
}

func (s *Source) Stats() market.SourceStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Source) Close() error {
	return nil
}

func (s *Source) record(err error) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.stats.Requests++
	if err != nil {
		s.stats.Failures++
		s.stats.LastError = err.Error()
	}
}


func parseFloat(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0
	}
	return f
}
