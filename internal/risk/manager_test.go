package risk

import (
	"testing"
	"time"

	"orca/internal/config"
	"orca/internal/settings"
	"orca/internal/strategy"
	"orca/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTiersYAML = []byte(`
version: 1
default: T1
tiers:
  - name: T1
    leverage: 10
    stop_loss_pct: 0.025
    take_profit_pct: 0.12
    trailing_pct: 0.015
    max_hold_minutes: 5760
    symbols: [BTCUSDT]
`)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		BaseSlots:            5,
		BonusSlots:           2,
		DustMarginUSD:        5.0,
		RegimeFlipLossPct:    1.0,
		RegimeFlipAgeMinutes: 120,
		CooldownMinutes:      60,
		PyramidingEnabled:    true,
		ProfitGuardMinPeak:   1.5,
		ProfitGuardFade:      0.40,
		ProfitGuardWhaleCap:  70,
	}
}

func testManager(t *testing.T) *Manager {
	t.Helper()
	tiers, err := strategy.ParseTiers(testTiersYAML)
	require.NoError(t, err)
	return NewManager(testRiskConfig(), tiers, NewBreakevenPyramider(3.0, 1))
}

func openPosition() types.Position {
	return types.Position{
		Symbol:          "BTCUSDT",
		Side:            types.SideLong,
		State:           types.StateOpen,
		Tier:            "T1",
		EntryPrice:      100.0,
		Size:            1,
		Margin:          100,
		Leverage:        10,
		StopLoss:        97.5,
		TakeProfit:      112.0,
		EntryConfidence: 0.70,
		OpenedAt:        time.Now().UTC().Add(-time.Hour),
	}
}

func checkInput(pos types.Position, mark float64) CheckInput {
	return CheckInput{
		Position:  pos,
		MarkPrice: mark,
		Regime:    types.Regime{Trend: types.TrendBullish},
		Settings:  settings.Defaults(),
		Now:       time.Now().UTC(),
	}
}

func TestManager_EmergencyExitBeatsEverything(t *testing.T) {
	in := checkInput(openPosition(), 100)
	in.Settings.EmergencyExitAll = true
	v := testManager(t).Check(in)
	assert.Equal(t, VerdictClose, v.Kind)
	assert.Equal(t, ReasonEmergencyExit, v.Reason)
}

func TestManager_DustCloses(t *testing.T) {
	pos := openPosition()
	pos.Margin = 4.99
	v := testManager(t).Check(checkInput(pos, 100))
	assert.Equal(t, VerdictClose, v.Kind)
	assert.Contains(t, v.Reason, ReasonDust)
}

func TestManager_MaxHoldCloses(t *testing.T) {
	pos := openPosition()
	pos.OpenedAt = time.Now().UTC().Add(-97 * time.Hour)
	v := testManager(t).Check(checkInput(pos, 100))
	assert.Equal(t, VerdictClose, v.Kind)
	assert.Contains(t, v.Reason, ReasonMaxHold)
}

func TestManager_StopLossCloses(t *testing.T) {
	v := testManager(t).Check(checkInput(openPosition(), 97.4))
	assert.Equal(t, VerdictClose, v.Kind)
	assert.Contains(t, v.Reason, ReasonStopLoss)
}

func TestManager_TakeProfitCloses(t *testing.T) {
	v := testManager(t).Check(checkInput(openPosition(), 112.5))
	assert.Equal(t, VerdictClose, v.Kind)
	assert.Contains(t, v.Reason, ReasonTakeProfit)
}

func TestManager_ShortStopCrossesUpward(t *testing.T) {
	pos := openPosition()
	pos.Side = types.SideShort
	pos.StopLoss = 102.5
	pos.TakeProfit = 88.0
	v := testManager(t).Check(checkInput(pos, 103))
	assert.Equal(t, VerdictClose, v.Kind)
	assert.Contains(t, v.Reason, ReasonStopLoss)
}

func TestManager_TrailingStopFromPeak(t *testing.T) {
	pos := openPosition()
	// 峰值浮盈 30%（杠杆 10x，价格位移 3%，超过 1.5% 激活线）
	pos.PeakPnLPct = 30
	// 峰值价 103，回撤 1.5% 到 101.455 以下触发
	v := testManager(t).Check(checkInput(pos, 101.4))
	require.Equal(t, VerdictClose, v.Kind)
	assert.Contains(t, v.Reason, ReasonTrailingStop)
}

func TestManager_TrailingInactiveBelowActivation(t *testing.T) {
	pos := openPosition()
	pos.PeakPnLPct = 10 // 位移 1% < 1.5%，未激活
	pos.Adds = 1
	pos.BreakevenMoved = true
	// pnl 7% 在利润保护的回撤容忍内，走到 HOLD
	v := testManager(t).Check(checkInput(pos, 100.7))
	assert.Equal(t, VerdictHold, v.Kind)
}

func TestManager_ProfitGuardFade(t *testing.T) {
	pos := openPosition()
	pos.PeakPnLPct = 10
	pos.BreakevenMoved = true
	pos.Adds = 1
	// pnl = (100.5-100)/100*10*100 = 5%，低于 10%×0.6=6% 触发
	v := testManager(t).Check(checkInput(pos, 100.5))
	require.Equal(t, VerdictClose, v.Kind)
	assert.Contains(t, v.Reason, ReasonProfitFade)
}

func TestManager_ProfitGuardHeldByWhale(t *testing.T) {
	pos := openPosition()
	pos.PeakPnLPct = 10
	pos.BreakevenMoved = true
	pos.Adds = 1
	in := checkInput(pos, 100.5)
	in.HasWhale = true
	in.WhaleScore = 75 // 大户还在吸筹，回撤也拿住
	v := testManager(t).Check(in)
	assert.Equal(t, VerdictHold, v.Kind)
}

func TestManager_ProfitGuardNeedsMinimumPeak(t *testing.T) {
	pos := openPosition()
	pos.PeakPnLPct = 1.0 // 低于 1.5% 不启动
	pos.Adds = 1
	v := testManager(t).Check(checkInput(pos, 100.01))
	assert.Equal(t, VerdictHold, v.Kind)
}

func TestManager_RegimeFlipClosesLosingAgedPosition(t *testing.T) {
	pos := openPosition()
	pos.OpenedAt = time.Now().UTC().Add(-5 * time.Hour)
	// pnl = -2%，亏过 1% 阈值，且持仓早过了 120 分钟保护期
	in := checkInput(pos, 99.8)
	in.Regime = types.Regime{Trend: types.TrendBearish}
	v := testManager(t).Check(in)
	require.Equal(t, VerdictClose, v.Kind)
	assert.Contains(t, v.Reason, ReasonRegimeFlip)
}

func TestManager_RegimeFlipHoldsWinningPosition(t *testing.T) {
	// 赚钱的逆势仓不因为环境反转被掀掉，交给止损和利润保护
	pos := openPosition()
	pos.Side = types.SideShort
	pos.StopLoss = 102.5
	pos.TakeProfit = 88.0
	pos.OpenedAt = time.Now().UTC().Add(-30 * time.Minute)
	in := checkInput(pos, 99.95) // short 浮盈 +0.5%
	in.Regime = types.Regime{Trend: types.TrendBullish}
	v := testManager(t).Check(in)
	assert.Equal(t, VerdictHold, v.Kind)
}

func TestManager_RegimeFlipHoldsInsideGrace(t *testing.T) {
	pos := openPosition()
	pos.OpenedAt = time.Now().UTC().Add(-time.Hour) // 还在 120 分钟保护期内
	in := checkInput(pos, 99.8)
	in.Regime = types.Regime{Trend: types.TrendBearish}
	v := testManager(t).Check(in)
	assert.Equal(t, VerdictHold, v.Kind)
}

func TestManager_RegimeFlipSpikeBypassesGrace(t *testing.T) {
	pos := openPosition()
	pos.OpenedAt = time.Now().UTC().Add(-time.Hour)
	in := checkInput(pos, 99.8)
	in.Regime = types.Regime{Trend: types.TrendBearish, Spike: true}
	v := testManager(t).Check(in)
	require.Equal(t, VerdictClose, v.Kind)
	assert.Contains(t, v.Reason, ReasonRegimeFlip)
	assert.Contains(t, v.Reason, "spike")
}

func TestManager_StopLossBeatsRegimeFlip(t *testing.T) {
	pos := openPosition()
	in := checkInput(pos, 97.0)
	in.Regime = types.Regime{Trend: types.TrendBearish}
	v := testManager(t).Check(in)
	assert.Contains(t, v.Reason, ReasonStopLoss)
}

// freshInput 在检查材料里带上一张比入场更有把握的同向新裁决。
func freshInput(pos types.Position, mark float64) CheckInput {
	in := checkInput(pos, mark)
	in.HasFreshSignal = true
	in.FreshConfidence = 0.80
	return in
}

func TestManager_PyramidMovesStopFirst(t *testing.T) {
	pos := openPosition()
	// pnl = 0.4%×10 = 4% > 3% 触发线，还没挪保本
	v := testManager(t).Check(freshInput(pos, 100.4))
	require.Equal(t, VerdictMoveStop, v.Kind)
	assert.InDelta(t, 100.1, v.StopLoss, 1e-9)
}

func TestManager_PyramidAddsAfterBreakeven(t *testing.T) {
	pos := openPosition()
	pos.BreakevenMoved = true
	pos.StopLoss = 100.1
	v := testManager(t).Check(freshInput(pos, 100.4))
	assert.Equal(t, VerdictAdd, v.Kind)
}

func TestManager_PyramidNeedsFreshSignal(t *testing.T) {
	// 浮盈够了但最近一轮信号没有同向裁决：不加仓
	pos := openPosition()
	pos.BreakevenMoved = true
	pos.StopLoss = 100.1
	v := testManager(t).Check(checkInput(pos, 100.4))
	assert.Equal(t, VerdictHold, v.Kind)
}

func TestManager_PyramidNeedsStrongerConviction(t *testing.T) {
	// 新裁决置信度不超过入场置信度：不加仓
	pos := openPosition()
	pos.BreakevenMoved = true
	pos.StopLoss = 100.1
	in := freshInput(pos, 100.4)
	in.FreshConfidence = pos.EntryConfidence
	v := testManager(t).Check(in)
	assert.Equal(t, VerdictHold, v.Kind)
}

func TestManager_PyramidRespectsMaxAdds(t *testing.T) {
	pos := openPosition()
	pos.BreakevenMoved = true
	pos.StopLoss = 100.1
	pos.Adds = 1
	v := testManager(t).Check(freshInput(pos, 100.4))
	assert.Equal(t, VerdictHold, v.Kind)
}

func TestManager_PeakMonotonicallyRises(t *testing.T) {
	pos := openPosition()
	pos.PeakPnLPct = 2.0
	pos.Adds = 1 // 关掉加仓路径，专注水位
	pos.BreakevenMoved = true

	v := testManager(t).Check(checkInput(pos, 100.13)) // pnl 1.3% < 峰值
	require.Equal(t, VerdictHold, v.Kind)
	assert.InDelta(t, 2.0, v.Position.PeakPnLPct, 1e-9)

	v = testManager(t).Check(checkInput(pos, 100.3)) // pnl 3% > 峰值
	assert.InDelta(t, 3.0, v.Position.PeakPnLPct, 1e-9)
}
