// Package risk owns the position lifecycle: exit checks in a fixed
// precedence order, slot accounting, cooldowns and pyramiding.
// 中文说明：
// 出场检查的优先级是写死的：尘埃仓 > 持仓超时 > 止损止盈/移动止损 >
// 利润保护 > 环境反转 > 加仓 > 反向信号。一次检查只返回第一条命中的
// 裁决，绝不叠加执行。
package risk

import (
	"fmt"
	"time"

	"orca/internal/config"
	"orca/internal/settings"
	"orca/internal/strategy"
	"orca/internal/types"
)

type VerdictKind string

const (
	VerdictHold     VerdictKind = "HOLD"
	VerdictClose    VerdictKind = "CLOSE"
	VerdictAdd      VerdictKind = "ADD"
	VerdictMoveStop VerdictKind = "MOVE_STOP"
)

// 平仓原因进状态文件和通知，措辞保持稳定。
const (
	ReasonEmergencyExit = "emergency exit"
	ReasonDust          = "dust position"
	ReasonMaxHold       = "max hold time"
	ReasonStopLoss      = "stop loss"
	ReasonTakeProfit    = "take profit"
	ReasonTrailingStop  = "trailing stop"
	ReasonProfitFade    = "profit fade from peak"
	ReasonRegimeFlip    = "regime flip"
)

// Verdict 是一次检查的结论。Kind 决定哪些附加字段有效。
type Verdict struct {
	Kind     VerdictKind
	Reason   string
	StopLoss float64 // MOVE_STOP / ADD 时的新止损价
	Position types.Position
}

// CheckInput 是监控循环对单个持仓的一次检查材料。Fresh* 带的是
// 最近一轮信号循环里同向裁决的置信度，给加仓检查用。
type CheckInput struct {
	Position        types.Position
	MarkPrice       float64
	WhaleScore      float64
	HasWhale        bool
	FreshConfidence float64
	HasFreshSignal  bool
	Regime          types.Regime
	Settings        settings.Settings
	Now             time.Time
}

type Manager struct {
	cfg       config.RiskConfig
	tiers     *strategy.Tiers
	pyramider Pyramider
}

func NewManager(cfg config.RiskConfig, tiers *strategy.Tiers, pyramider Pyramider) *Manager {
	if pyramider == nil {
		pyramider = NoopPyramider{}
	}
	return &Manager{cfg: cfg, tiers: tiers, pyramider: pyramider}
}

// Check 对一个持仓跑完整条优先级链，同时推进 PeakPnLPct 水位。
// 返回的 Position 带着更新后的峰值，调用方负责落盘。
func (m *Manager) Check(in CheckInput) Verdict {
	pos := in.Position
	pnl := pos.PnLPct(in.MarkPrice)
	pos.MarkPeak(pnl)
	pos.UpdatedAt = in.Now.UTC()

	hold := func() Verdict {
		return Verdict{Kind: VerdictHold, Position: pos}
	}
	closeWith := func(reason string) Verdict {
		return Verdict{Kind: VerdictClose, Reason: reason, Position: pos}
	}

	if in.Settings.EmergencyExitAll {
		return closeWith(ReasonEmergencyExit)
	}

	// 1. 尘埃仓：保证金小到不值得管，直接清掉释放槽位
	if pos.Margin < m.cfg.DustMarginUSD {
		return closeWith(fmt.Sprintf("%s (margin %.2f < %.2f)", ReasonDust, pos.Margin, m.cfg.DustMarginUSD))
	}

	// 2. 持仓超时
	tier, ok := m.tiers.ByName(pos.Tier)
	if !ok {
		tier = m.tiers.ForSymbol(pos.Symbol)
	}
	if held := in.Now.Sub(pos.OpenedAt); held > tier.MaxHold() {
		return closeWith(fmt.Sprintf("%s (%s > %s)", ReasonMaxHold, held.Truncate(time.Minute), tier.MaxHold()))
	}

	// 3. 止损 / 止盈 / 移动止损
	if crossedStop(pos, in.MarkPrice) {
		return closeWith(fmt.Sprintf("%s @ %.6g", ReasonStopLoss, pos.StopLoss))
	}
	if crossedTakeProfit(pos, in.MarkPrice) {
		return closeWith(fmt.Sprintf("%s @ %.6g", ReasonTakeProfit, pos.TakeProfit))
	}
	if trailingHit(pos, in.MarkPrice, tier.TrailingPct) {
		return closeWith(fmt.Sprintf("%s (peak %.2f%%)", ReasonTrailingStop, pos.PeakPnLPct))
	}

	// 4. 利润保护：峰值不足不启动；大户还在吸筹不启动；
	//    回撤超过峰值的 fade 比例才平。
	if guard := m.profitGuard(pos, pnl, in); guard != nil {
		return *guard
	}

	// 5. 环境反转：反向环境本身不掀桌子。浮亏越过阈值、持仓熬过
	//    保护期才出场；1h 急变（spike）免保护期。盈利的逆势仓留给
	//    止损和利润保护去管。
	if counterRegime(pos.Side, in.Regime.Trend) {
		losing := pnl <= -m.cfg.RegimeFlipLossPct
		aged := in.Now.Sub(pos.OpenedAt) >= time.Duration(m.cfg.RegimeFlipAgeMinutes)*time.Minute
		if losing && (aged || in.Regime.Spike) {
			return closeWith(fmt.Sprintf("%s (%s vs %s %s, pnl %.2f%%)",
				ReasonRegimeFlip, pos.Side, in.Regime.Trend, spikeNote(in.Regime), pnl))
		}
	}

	// 6. 加仓
	if m.cfg.PyramidingEnabled && m.pyramider.Enabled() {
		if v, ok := m.pyramider.Plan(pos, pnl, in); ok {
			v.Position = pos
			return v
		}
	}

	return hold()
}

func (m *Manager) profitGuard(pos types.Position, pnl float64, in CheckInput) *Verdict {
	if pos.PeakPnLPct < m.cfg.ProfitGuardMinPeak {
		return nil
	}
	if in.HasWhale && in.WhaleScore > m.cfg.ProfitGuardWhaleCap {
		return nil
	}
	if pnl < pos.PeakPnLPct*(1-m.cfg.ProfitGuardFade) {
		return &Verdict{
			Kind:     VerdictClose,
			Reason:   fmt.Sprintf("%s (%.2f%% of peak %.2f%%)", ReasonProfitFade, pnl, pos.PeakPnLPct),
			Position: pos,
		}
	}
	return nil
}

func crossedStop(pos types.Position, mark float64) bool {
	if pos.StopLoss <= 0 {
		return false
	}
	if pos.Side == types.SideLong {
		return mark <= pos.StopLoss
	}
	return mark >= pos.StopLoss
}

func crossedTakeProfit(pos types.Position, mark float64) bool {
	if pos.TakeProfit <= 0 {
		return false
	}
	if pos.Side == types.SideLong {
		return mark >= pos.TakeProfit
	}
	return mark <= pos.TakeProfit
}

// trailingHit 用峰值价回算：从最高浮盈价回撤超过 trailingPct 即触发。
// 峰值没超过激活线（trailingPct 本身）之前不启用。
func trailingHit(pos types.Position, mark, trailingPct float64) bool {
	if trailingPct <= 0 || pos.Leverage <= 0 {
		return false
	}
	// 峰值对应的价格位移（未加杠杆）
	peakMove := pos.PeakPnLPct / 100 / float64(pos.Leverage)
	if peakMove < trailingPct {
		return false
	}
	if pos.Side == types.SideLong {
		peakPrice := pos.EntryPrice * (1 + peakMove)
		return mark <= peakPrice*(1-trailingPct)
	}
	peakPrice := pos.EntryPrice * (1 - peakMove)
	return mark >= peakPrice*(1+trailingPct)
}

func counterRegime(side types.Side, trend types.Trend) bool {
	switch trend {
	case types.TrendBearish:
		return side == types.SideLong
	case types.TrendBullish:
		return side == types.SideShort
	}
	return false
}

func spikeNote(r types.Regime) string {
	if r.Spike {
		return "spike"
	}
	return "confirmed"
}
