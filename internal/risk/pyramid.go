package risk

import (
	"fmt"

	"orca/internal/types"
)

// 中文说明：
// 加仓是可选能力：默认给 NoopPyramider，开了配置开关才换成真实现。
// 真实现的铁律：先把止损挪到保本线，成功之后才允许加第一笔，
// 每个 (symbol, side) 最多一笔未完成加仓。

const (
	breakevenLongFactor  = 1.001
	breakevenShortFactor = 0.999
)

// Pyramider plans position adds. Implementations must be side-effect
// free; execution happens in the trader.
type Pyramider interface {
	Enabled() bool
	// Plan returns an ADD or MOVE_STOP verdict when the position
	// qualifies, or ok=false to do nothing.
	Plan(pos types.Position, pnlPct float64, in CheckInput) (Verdict, bool)
}

// NoopPyramider 关闭加仓能力。
type NoopPyramider struct{}

func (NoopPyramider) Enabled() bool { return false }
func (NoopPyramider) Plan(types.Position, float64, CheckInput) (Verdict, bool) {
	return Verdict{}, false
}

// BreakevenPyramider 是默认真实现：浮盈超过触发线、最近一轮信号
// 仍给出比入场更有把握的同向裁决、且还没加过仓时，先发 MOVE_STOP
// 把止损挪到保本线；止损已在保本线之上时发 ADD。
type BreakevenPyramider struct {
	TriggerPnLPct float64 // 触发加仓的杠杆后浮盈百分比
	MaxAdds       int
}

func NewBreakevenPyramider(triggerPnLPct float64, maxAdds int) *BreakevenPyramider {
	if triggerPnLPct <= 0 {
		triggerPnLPct = 3.0
	}
	if maxAdds < 1 {
		maxAdds = 1
	}
	return &BreakevenPyramider{TriggerPnLPct: triggerPnLPct, MaxAdds: maxAdds}
}

func (p *BreakevenPyramider) Enabled() bool { return true }

func (p *BreakevenPyramider) Plan(pos types.Position, pnlPct float64, in CheckInput) (Verdict, bool) {
	if pos.Adds >= p.MaxAdds {
		return Verdict{}, false
	}
	if pos.State == types.StateScaling {
		// 已有一笔未完成加仓
		return Verdict{}, false
	}
	if pnlPct < p.TriggerPnLPct {
		return Verdict{}, false
	}
	// 加仓要新鲜弹药：最近一轮信号必须给出比入场更有把握的同向裁决
	if !in.HasFreshSignal || in.FreshConfidence <= pos.EntryConfidence {
		return Verdict{}, false
	}

	breakeven := BreakevenStop(pos)
	if !pos.BreakevenMoved {
		return Verdict{
			Kind:     VerdictMoveStop,
			Reason:   fmt.Sprintf("breakeven before add (pnl %.2f%%)", pnlPct),
			StopLoss: breakeven,
		}, true
	}
	return Verdict{
		Kind:     VerdictAdd,
		Reason:   fmt.Sprintf("pyramid add (pnl %.2f%%)", pnlPct),
		StopLoss: breakeven,
	}, true
}

// BreakevenStop 返回保本止损价：入场价上下各让一个手续费垫。
func BreakevenStop(pos types.Position) float64 {
	if pos.Side == types.SideLong {
		return pos.EntryPrice * breakevenLongFactor
	}
	return pos.EntryPrice * breakevenShortFactor
}
