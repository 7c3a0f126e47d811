// Package types holds the shared vocabulary of the decision core:
// persona votes, market regime, consensus decisions and position state.
package types

import (
	"fmt"
	"strings"
	"time"
)

// Signal 是单个角色给出的方向判断。SKIP 表示"数据不可用，弃权"，
// 与 NEUTRAL（看了数据但不站边）含义不同，共识计算时会被剔除。
type Signal string

const (
	SignalLong    Signal = "LONG"
	SignalShort   Signal = "SHORT"
	SignalNeutral Signal = "NEUTRAL"
	SignalSkip    Signal = "SKIP"
)

func (s Signal) Valid() bool {
	switch s {
	case SignalLong, SignalShort, SignalNeutral, SignalSkip:
		return true
	}
	return false
}

// Countable reports whether the signal participates in consensus arithmetic.
func (s Signal) Countable() bool {
	return s == SignalLong || s == SignalShort || s == SignalNeutral
}

// Vote 是一个角色对一个标的的一次投票。
type Vote struct {
	Persona    string  `json:"persona"`
	Signal     Signal  `json:"signal"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

func (v Vote) String() string {
	return fmt.Sprintf("%s=%s(%.2f) %s", v.Persona, v.Signal, v.Confidence, v.Rationale)
}

// Trend 是 BTC 大环境的三态判定。
type Trend string

const (
	TrendBullish Trend = "BULLISH"
	TrendBearish Trend = "BEARISH"
	TrendNeutral Trend = "NEUTRAL"
)

// Regime 描述一次环境判定的输入与结论。Spike 表示 1h 急变触发了
// 免等待期的快速切换。
type Regime struct {
	Trend     Trend     `json:"trend"`
	Change24h float64   `json:"change_24h"`
	Change4h  float64   `json:"change_4h"`
	Change1h  float64   `json:"change_1h"`
	Spike     bool      `json:"spike"`
	Since     time.Time `json:"since"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r Regime) String() string {
	spike := ""
	if r.Spike {
		spike = " SPIKE"
	}
	return fmt.Sprintf("%s (24h=%.2f%% 4h=%.2f%% 1h=%.2f%%%s)", r.Trend, r.Change24h, r.Change4h, r.Change1h, spike)
}

// Action 是共识裁决的最终动作。
type Action string

const (
	ActionOpenLong  Action = "OPEN_LONG"
	ActionOpenShort Action = "OPEN_SHORT"
	ActionWait      Action = "WAIT"
)

// Decision 是一次完整裁决的产物。Action==WAIT 时 Reason 必填，
// 记录第一条触发的拒绝原因。
type Decision struct {
	TraceID    string    `json:"trace_id"`
	Symbol     string    `json:"symbol"`
	Action     Action    `json:"action"`
	Confidence float64   `json:"confidence"`
	ATRPct     float64   `json:"atr_pct,omitempty"`
	Votes      []Vote    `json:"votes"`
	Regime     Regime    `json:"regime"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Side 是持仓方向。同一标的允许多空各持一单，互不挤占。
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// SideFromAction maps an open action to the position side it creates.
func SideFromAction(a Action) (Side, bool) {
	switch a {
	case ActionOpenLong:
		return SideLong, true
	case ActionOpenShort:
		return SideShort, true
	}
	return "", false
}

// PositionState 是持仓生命周期状态机的节点。
type PositionState string

const (
	StateOpening PositionState = "OPENING"
	StateOpen    PositionState = "OPEN"
	StateScaling PositionState = "SCALING"
	StateClosing PositionState = "CLOSING"
	StateClosed  PositionState = "CLOSED"
)

// Position 是一笔受管理的持仓。PeakPnLPct 只增不减，
// 回撤止盈与移动止损都基于它计算。
type Position struct {
	Symbol          string        `json:"symbol"`
	Side            Side          `json:"side"`
	State           PositionState `json:"state"`
	Tier            string        `json:"tier"`
	EntryPrice      float64       `json:"entry_price"`
	Size            float64       `json:"size"`
	Margin          float64       `json:"margin"`
	Leverage        int           `json:"leverage"`
	StopLoss        float64       `json:"stop_loss"`
	TakeProfit      float64       `json:"take_profit"`
	TrailingPct     float64       `json:"trailing_pct"`
	EntryConfidence float64       `json:"entry_confidence"`
	PeakPnLPct      float64       `json:"peak_pnl_pct"`
	Adds            int           `json:"adds"`
	BreakevenMoved  bool          `json:"breakeven_moved"`
	OpenedAt        time.Time     `json:"opened_at"`
	UpdatedAt       time.Time     `json:"updated_at"`

	// 平仓后补写
	ClosedAt    time.Time `json:"closed_at,omitempty"`
	CloseReason string    `json:"close_reason,omitempty"`
	ClosePrice  float64   `json:"close_price,omitempty"`
	RealizedPnL float64   `json:"realized_pnl,omitempty"`
}

// Key returns the canonical "symbol:side" identity used by the state file.
func (p Position) Key() string {
	return PositionKey(p.Symbol, p.Side)
}

func PositionKey(symbol string, side Side) string {
	return fmt.Sprintf("%s:%s", strings.ToUpper(strings.TrimSpace(symbol)), side)
}

// PnLPct returns the leveraged return on margin at the given mark price.
func (p Position) PnLPct(markPrice float64) float64 {
	if p.EntryPrice <= 0 || markPrice <= 0 {
		return 0
	}
	move := (markPrice - p.EntryPrice) / p.EntryPrice
	if p.Side == SideShort {
		move = -move
	}
	return move * float64(p.Leverage) * 100
}

// MarkPeak lifts PeakPnLPct if the current pnl exceeds it. Never lowers.
func (p *Position) MarkPeak(pnlPct float64) {
	if pnlPct > p.PeakPnLPct {
		p.PeakPnLPct = pnlPct
	}
}

var stateTransitions = map[PositionState][]PositionState{
	StateOpening: {StateOpen, StateClosed},
	StateOpen:    {StateScaling, StateClosing},
	StateScaling: {StateOpen, StateClosing},
	StateClosing: {StateClosed},
	StateClosed:  {},
}

// CanTransition reports whether the lifecycle allows moving from -> to.
// OPENING may go straight to CLOSED when the entry order is rejected.
func CanTransition(from, to PositionState) bool {
	for _, next := range stateTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the position to the next state or reports the violation.
func (p *Position) Transition(to PositionState) error {
	if !CanTransition(p.State, to) {
		return fmt.Errorf("position %s: illegal transition %s -> %s", p.Key(), p.State, to)
	}
	p.State = to
	return nil
}
