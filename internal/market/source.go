package market

import "context"

// ChangeStats 是一个标的在三个窗口上的涨跌幅（百分比）。
type ChangeStats struct {
	Symbol    string
	Change24h float64
	Change4h  float64
	Change1h  float64
	LastPrice float64
}

type SourceStats struct {
	Requests  int
	Failures  int
	LastError string
}

// Source 是只读行情源。所有方法都是幂等读取，调用方可以带重试预算。
type Source interface {
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	FetchChangeStats(ctx context.Context, symbol string) (ChangeStats, error)

	LastPrice(ctx context.Context, symbol string) (float64, error)

	Stats() SourceStats

	Close() error
}
