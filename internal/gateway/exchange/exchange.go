// Package exchange defines the abstraction over the futures venue.
// The decision core only ever talks to this interface; the concrete
// WEEX client (and the paper trader in tests) live behind it.
package exchange

import (
	"context"

	"orca/internal/types"
)

type Exchange interface {
	Name() string

	// OpenPosition places a market entry with its protective orders.
	OpenPosition(ctx context.Context, req OpenRequest) (*OpenResult, error)

	// ClosePosition market-closes all or part of a position.
	ClosePosition(ctx context.Context, req CloseRequest) error

	// UpdateStop replaces the stop-loss of an open position. Used for
	// breakeven moves and opposite-signal tightening.
	UpdateStop(ctx context.Context, req StopRequest) error

	ListOpenPositions(ctx context.Context) ([]Position, error)

	GetBalance(ctx context.Context) (Balance, error)

	GetPrice(ctx context.Context, symbol string) (PriceQuote, error)

	// GetFilters returns the venue's size constraints for a symbol.
	GetFilters(ctx context.Context, symbol string) (Filters, error)
}

// Position 是交易所视角的一笔持仓，字段口径以交易所为准。
type Position struct {
	Symbol       string
	Side         types.Side
	Size         float64
	EntryPrice   float64
	MarkPrice    float64
	MarginUSD    float64
	Leverage     int
	UnrealizedPn float64
}

type Balance struct {
	TotalUSD     float64
	AvailableUSD float64
	UsedUSD      float64
}

type PriceQuote struct {
	Symbol string
	Last   float64
	Bid    float64
	Ask    float64
}

type Filters struct {
	SizeStep float64
	MinSize  float64
}

type OpenRequest struct {
	Symbol     string
	Side       types.Side
	Size       float64
	MarginUSD  float64
	Leverage   int
	StopLoss   float64
	TakeProfit float64
	Tag        string
}

type CloseRequest struct {
	Symbol string
	Side   types.Side
	Size   float64 // 0 = close all
	Reason string
}

type StopRequest struct {
	Symbol   string
	Side     types.Side
	StopLoss float64
}

type OpenResult struct {
	OrderID    string
	FillPrice  float64
	FilledSize float64
}
