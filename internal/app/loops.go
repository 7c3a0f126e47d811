package app

import (
	"context"
	"time"

	"orca/internal/gateway/oracle"
	"orca/internal/judge"
	"orca/internal/logger"
	"orca/internal/market"
	"orca/internal/persona"
	"orca/internal/risk"
	"orca/internal/settings"
	"orca/internal/types"
)

const historyDepth = 120

// signalCycle 是信号循环的一跳：环境判定 -> 每个标的投票 -> 共识
// 裁决 -> 开仓。单个标的失败不影响其余标的。
func (a *App) signalCycle(ctx context.Context) {
	a.stats.signalCycles.Add(1)
	s := a.settings.Get()

	regime := a.evaluateRegime(ctx)
	logger.Infof("signal: regime=%s 24h=%.2f%% 4h=%.2f%% 1h=%.2f%%",
		regime.Trend, regime.Change24h, regime.Change4h, regime.Change1h)

	for _, symbol := range a.cfg.Market.Symbols {
		if ctx.Err() != nil {
			return
		}
		a.judgeSymbol(ctx, symbol, regime, s)
	}
}

func (a *App) evaluateRegime(ctx context.Context) types.Regime {
	stats, err := a.source.FetchChangeStats(ctx, a.cfg.Market.RegimeSymbol)
	if err != nil {
		// 行情拿不到就沿用上一次判定，宁可保守也不中断循环
		logger.Warnf("signal: regime stats unavailable, keeping previous: %v", err)
		return a.regime.Current()
	}
	return a.regime.Evaluate(stats)
}

func (a *App) judgeSymbol(ctx context.Context, symbol string, regime types.Regime, s settings.Settings) {
	var snap *oracle.Snapshot
	if a.oracle != nil {
		var err error
		snap, err = a.oracle.Fetch(ctx, symbol)
		if err != nil {
			// 数据源降级：带 nil 快照继续，缺数据的席位自己降级
			logger.Warnf("signal: oracle degraded for %s: %v", symbol, err)
			snap = nil
		}
	}

	in := persona.Input{Symbol: symbol, Oracle: snap, Regime: regime}
	var atrPct float64
	candles, err := a.source.FetchHistory(ctx, symbol, a.cfg.Loops.SignalInterval, historyDepth)
	if err != nil {
		logger.Warnf("signal: history unavailable for %s: %v", symbol, err)
	} else {
		if rsi, rerr := market.RSI(candles); rerr == nil {
			in.RSI = rsi
			in.HasRSI = true
		}
		if atr, aerr := market.ATRPct(candles); aerr == nil {
			atrPct = atr
		}
	}

	bench := persona.Bench()
	votes := make([]types.Vote, 0, len(bench))
	for _, ev := range bench {
		votes = append(votes, ev.Evaluate(ctx, in))
	}

	d := a.judge.Decide(ctx, symbol, votes, regime, s)
	d.ATRPct = atrPct
	a.recordDecision(d)
	a.stats.decisions.Add(1)

	logger.LogDecisionTrace(symbol, d.TraceID, judge.FormatVotes(votes),
		string(regime.Trend), decisionSummary(d))
	if err := a.decisions.Append(ctx, d); err != nil {
		logger.Warnf("signal: decision log append failed: %v", err)
	}

	if _, ok := types.SideFromAction(d.Action); !ok {
		return
	}
	if err := a.trader.Open(ctx, d); err != nil {
		logger.Warnf("signal: open %s skipped: %v", symbol, err)
		return
	}
	a.stats.opens.Add(1)
}

// recordDecision 记下每个标的最近一次裁决，供监控循环回看。
func (a *App) recordDecision(d types.Decision) {
	a.lastMu.Lock()
	defer a.lastMu.Unlock()
	if a.lastDecisions == nil {
		a.lastDecisions = make(map[string]types.Decision)
	}
	a.lastDecisions[d.Symbol] = d
}

// freshSignal 返回该持仓方向上还新鲜的裁决置信度。超过两个信号
// 周期没更新的裁决算过期，反向或观望的裁决不算数。
func (a *App) freshSignal(pos types.Position, now time.Time) (float64, bool) {
	a.lastMu.Lock()
	d, ok := a.lastDecisions[pos.Symbol]
	a.lastMu.Unlock()
	if !ok {
		return 0, false
	}
	side, directional := types.SideFromAction(d.Action)
	if !directional || side != pos.Side {
		return 0, false
	}
	if a.signalInterval > 0 && now.Sub(d.CreatedAt) > 2*a.signalInterval {
		return 0, false
	}
	return d.Confidence, true
}

// reconcileDue 每 reconcileCycles 个监控周期到期一次。
func (a *App) reconcileDue(cycle int64) bool {
	return a.reconcileCycles > 0 && cycle%int64(a.reconcileCycles) == 0
}

// monitorCycle 是监控循环的一跳：对每个持仓跑一遍风控优先级链，
// 把裁决交给 trader 串行执行。每隔 reconcileCycles 跳做一次对账，
// 交易所侧的仓位是唯一事实来源。
func (a *App) monitorCycle(ctx context.Context) {
	cycle := a.stats.monitorCycles.Add(1)
	if a.reconcileDue(cycle) {
		if err := a.trader.Reconcile(ctx); err != nil {
			logger.Warnf("monitor: periodic reconcile failed: %v", err)
		} else {
			a.stats.reconciles.Add(1)
		}
	}

	positions := a.trader.Positions()
	if len(positions) == 0 {
		return
	}
	s := a.settings.Get()
	regime := a.regime.Current()
	now := time.Now().UTC()

	for _, pos := range positions {
		if ctx.Err() != nil {
			return
		}
		if pos.State != types.StateOpen {
			// OPENING/SCALING/CLOSING 都有一笔交易在飞，别叠加动作
			continue
		}
		quote, err := a.exchange.GetPrice(ctx, pos.Symbol)
		if err != nil {
			logger.Warnf("monitor: price unavailable for %s: %v", pos.Symbol, err)
			continue
		}

		in := risk.CheckInput{
			Position:  pos,
			MarkPrice: quote.Last,
			Regime:    regime,
			Settings:  s,
			Now:       now,
		}
		if conf, ok := a.freshSignal(pos, now); ok {
			in.FreshConfidence = conf
			in.HasFreshSignal = true
		}
		if a.oracle != nil {
			if snap, oerr := a.oracle.Fetch(ctx, pos.Symbol); oerr == nil && snap != nil && snap.HasWhale {
				in.WhaleScore = snap.WhaleScore
				in.HasWhale = true
			}
		}

		verdict := a.riskMgr.Check(in)
		if verdict.Kind != risk.VerdictHold {
			logger.Infof("monitor: %s -> %s (%s)", pos.Key(), verdict.Kind, verdict.Reason)
		}
		if err := a.trader.Apply(ctx, verdict); err != nil {
			logger.Warnf("monitor: applying %s verdict on %s failed: %v", verdict.Kind, pos.Key(), err)
			continue
		}
		if verdict.Kind == risk.VerdictClose {
			a.stats.closes.Add(1)
		}
	}
}

func decisionSummary(d types.Decision) string {
	if d.Reason != "" {
		return string(d.Action) + ": " + d.Reason
	}
	return string(d.Action)
}
