package persona

import (
	"context"
	"fmt"

	"orca/internal/types"
)

// 中文说明：
// FLOW 角色：盘口与持仓资金流。主逻辑看主动买卖比 + 持仓量变化，
// 资金费率走极端时反向修正（挤仓风险）。RSI 超买超卖只做置信度
// 折减，不单独给方向。

const (
	takerBullish = 1.20
	takerBearish = 0.83
	fundingCap   = 0.0008
)

type Flow struct{}

func (f *Flow) Name() string { return NameFlow }

func (f *Flow) Evaluate(_ context.Context, in Input) types.Vote {
	if in.Oracle == nil || !in.Oracle.HasFlow {
		return degradedVote(NameFlow, "flow feed unavailable, degraded to neutral")
	}
	taker := in.Oracle.TakerRatio
	oi := in.Oracle.OIChangePct
	funding := in.Oracle.FundingRate

	signal := types.SignalNeutral
	conf := 0.5
	why := fmt.Sprintf("taker %.2f, oi %+.1f%%", taker, oi)

	switch {
	case taker >= takerBullish && oi > 0:
		signal = types.SignalLong
		conf = 0.55 + (taker-takerBullish)*0.5 + minf(oi, 10)/50
	case taker <= takerBearish && oi > 0:
		signal = types.SignalShort
		conf = 0.55 + (takerBearish-taker)*0.6 + minf(oi, 10)/50
	}

	// 资金费率极端时，顺费率方向的票要打折
	if signal == types.SignalLong && funding > fundingCap {
		conf -= 0.10
		why += fmt.Sprintf(", funding %.4f%% crowded long", funding*100)
	}
	if signal == types.SignalShort && funding < -fundingCap {
		conf -= 0.10
		why += fmt.Sprintf(", funding %.4f%% crowded short", funding*100)
	}

	// RSI 极值折减
	if in.HasRSI {
		if signal == types.SignalLong && in.RSI > 75 {
			conf -= 0.05
			why += fmt.Sprintf(", rsi %.0f overbought", in.RSI)
		}
		if signal == types.SignalShort && in.RSI < 25 {
			conf -= 0.05
			why += fmt.Sprintf(", rsi %.0f oversold", in.RSI)
		}
	}

	if signal == types.SignalNeutral {
		return types.Vote{Persona: NameFlow, Signal: signal, Confidence: 0.5, Rationale: why}
	}
	return types.Vote{
		Persona:    NameFlow,
		Signal:     signal,
		Confidence: clampConfidence(conf),
		Rationale:  why,
	}
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
