package trader

import (
	"context"
	"fmt"
	"time"

	"orca/internal/gateway/exchange"
	"orca/internal/logger"
	"orca/internal/risk"
	"orca/internal/sizer"
	"orca/internal/types"
)

// 中文说明：
// 开仓路径：反向信号处理 -> 入场闸门 -> 余额/价格/步长 -> 算仓 ->
// 先以 OPENING 落盘再下单。顺序不能换：进程无论崩在下单前还是
// 下单后，状态文件都能说清楚发生到了哪一步。

func (t *Trader) openPosition(ctx context.Context, d types.Decision) error {
	side, ok := types.SideFromAction(d.Action)
	if !ok {
		return fmt.Errorf("decision %s carries no open action (%s)", d.TraceID, d.Action)
	}
	symbol := d.Symbol
	active := t.state.Positions()

	quote, err := t.exchange.GetPrice(ctx, symbol)
	if err != nil {
		return fmt.Errorf("fetching price for %s failed: %w", symbol, err)
	}

	// 反向信号：先收紧旧仓止损，再照常开对侧（对冲，不翻仓）
	if opp := risk.PlanOpposite(active, symbol, side, quote.Last); opp != nil {
		if err := t.tightenStop(ctx, opp); err != nil {
			return err
		}
	}

	if err := t.gate.Admit(symbol, side, d.Confidence, active); err != nil {
		logger.Infof("trader: entry rejected for %s %s: %v", symbol, side, err)
		return err
	}

	balance, err := t.exchange.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("fetching balance failed: %w", err)
	}
	filters, err := t.exchange.GetFilters(ctx, symbol)
	if err != nil {
		return fmt.Errorf("fetching filters for %s failed: %w", symbol, err)
	}

	tier := t.tiers.ForSymbol(symbol)
	atrPct := d.ATRPct
	if atrPct <= 0 {
		// 没带 ATR 就不做波动率折减
		atrPct = 1.0
	}

	result, err := t.sizer.Compute(sizer.Request{
		Symbol:       symbol,
		AvailableUSD: balance.AvailableUSD,
		Confidence:   d.Confidence,
		ATRPct:       atrPct,
		Price:        quote.Last,
		SizeStep:     filters.SizeStep,
		Tier:         tier,
	})
	if err != nil {
		return fmt.Errorf("sizing %s failed: %w", symbol, err)
	}
	if filters.MinSize > 0 && result.Size < filters.MinSize {
		return fmt.Errorf("size %v below venue minimum %v for %s", result.Size, filters.MinSize, symbol)
	}

	s := t.settings.Get()
	stopLoss, takeProfit := protectivePrices(side, quote.Last,
		tier.StopLossPct*s.SLMultiplier, tier.TakeProfitPct*s.TPMultiplier)

	now := time.Now().UTC()
	pos := types.Position{
		Symbol:          symbol,
		Side:            side,
		State:           types.StateOpening,
		Tier:            tier.Name,
		EntryPrice:      quote.Last,
		Size:            result.Size,
		Margin:          result.MarginUSD,
		Leverage:        result.Leverage,
		StopLoss:        stopLoss,
		TakeProfit:      takeProfit,
		TrailingPct:     tier.TrailingPct,
		EntryConfidence: d.Confidence,
		OpenedAt:        now,
		UpdatedAt:       now,
	}
	t.state.Active[pos.Key()] = pos
	if err := t.persist(); err != nil {
		delete(t.state.Active, pos.Key())
		return err
	}

	open, err := t.exchange.OpenPosition(ctx, exchange.OpenRequest{
		Symbol:     symbol,
		Side:       side,
		Size:       result.Size,
		MarginUSD:  result.MarginUSD,
		Leverage:   result.Leverage,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		Tag:        d.TraceID,
	})
	if err != nil {
		// 下单失败：OPENING 直接出账本。写路径不重试，由下一轮信号
		// 重新走完整流程。
		delete(t.state.Active, pos.Key())
		if perr := t.persist(); perr != nil {
			logger.Errorf("trader: rollback persist failed: %v", perr)
		}
		return fmt.Errorf("opening %s %s failed: %w", symbol, side, err)
	}

	if open.FillPrice > 0 {
		pos.EntryPrice = open.FillPrice
	}
	if open.FilledSize > 0 {
		pos.Size = open.FilledSize
	}
	if err := pos.Transition(types.StateOpen); err != nil {
		return err
	}
	pos.UpdatedAt = time.Now().UTC()
	t.state.Active[pos.Key()] = pos
	if err := t.persist(); err != nil {
		return err
	}

	logger.Infof("trader: opened %s %s size=%v margin=%.2f lev=%d conf=%.2f trace=%s",
		symbol, side, pos.Size, pos.Margin, pos.Leverage, d.Confidence, d.TraceID)
	t.notify(openMessage(pos, d))
	return nil
}

func (t *Trader) tightenStop(ctx context.Context, opp *risk.OppositeAction) error {
	pos := opp.Existing
	if opp.TightenedSL == pos.StopLoss {
		return nil
	}
	if err := t.exchange.UpdateStop(ctx, exchange.StopRequest{
		Symbol:   pos.Symbol,
		Side:     pos.Side,
		StopLoss: opp.TightenedSL,
	}); err != nil {
		return fmt.Errorf("tightening stop on %s failed: %w", pos.Key(), err)
	}
	pos.StopLoss = opp.TightenedSL
	pos.UpdatedAt = time.Now().UTC()
	t.state.Active[pos.Key()] = pos
	logger.Infof("trader: opposite signal, tightened %s stop to %.6g", pos.Key(), opp.TightenedSL)
	return t.persist()
}

// applyVerdict 执行一条风控裁决。约定：Verdict.Position 是 Check
// 之后带新峰值水位的副本，这里无条件回写账本。
func (t *Trader) applyVerdict(ctx context.Context, v risk.Verdict) error {
	key := v.Position.Key()
	current, exists := t.state.Active[key]
	if !exists {
		return fmt.Errorf("verdict for unknown position %s", key)
	}
	// 峰值水位只增不减，裁决输入可能是旧快照
	if v.Position.PeakPnLPct < current.PeakPnLPct {
		v.Position.PeakPnLPct = current.PeakPnLPct
	}

	switch v.Kind {
	case risk.VerdictHold:
		t.state.Active[key] = v.Position
		return t.persist()
	case risk.VerdictMoveStop:
		return t.moveStop(ctx, v)
	case risk.VerdictAdd:
		return t.addToPosition(ctx, v)
	case risk.VerdictClose:
		return t.closePosition(ctx, v)
	default:
		return fmt.Errorf("unknown verdict kind %q for %s", v.Kind, key)
	}
}

func (t *Trader) moveStop(ctx context.Context, v risk.Verdict) error {
	pos := v.Position
	if err := t.exchange.UpdateStop(ctx, exchange.StopRequest{
		Symbol:   pos.Symbol,
		Side:     pos.Side,
		StopLoss: v.StopLoss,
	}); err != nil {
		return fmt.Errorf("moving stop on %s failed: %w", pos.Key(), err)
	}
	pos.StopLoss = v.StopLoss
	pos.BreakevenMoved = true
	pos.UpdatedAt = time.Now().UTC()
	t.state.Active[pos.Key()] = pos
	logger.Infof("trader: moved stop on %s to %.6g (%s)", pos.Key(), v.StopLoss, v.Reason)
	return t.persist()
}

// addToPosition 加仓：OPEN -> SCALING 先落盘，下了单再回 OPEN。
// SCALING 在盘中就是"有一笔加仓在飞"，风控看到它不会再发第二笔。
// 加仓量固定为当前仓位的一半。
func (t *Trader) addToPosition(ctx context.Context, v risk.Verdict) error {
	pos := v.Position
	if err := pos.Transition(types.StateScaling); err != nil {
		return err
	}
	t.state.Active[pos.Key()] = pos
	if err := t.persist(); err != nil {
		return err
	}

	addSize := pos.Size / 2
	_, err := t.exchange.OpenPosition(ctx, exchange.OpenRequest{
		Symbol:   pos.Symbol,
		Side:     pos.Side,
		Size:     addSize,
		Leverage: pos.Leverage,
		StopLoss: pos.StopLoss,
		Tag:      fmt.Sprintf("add-%s", pos.Key()),
	})
	if err != nil {
		// 回滚状态机，原仓位本身没动
		pos.State = types.StateOpen
		t.state.Active[pos.Key()] = pos
		if perr := t.persist(); perr != nil {
			logger.Errorf("trader: rollback persist failed: %v", perr)
		}
		return fmt.Errorf("pyramid add on %s failed: %w", pos.Key(), err)
	}

	pos.Size += addSize
	pos.Margin *= 1.5
	pos.Adds++
	if err := pos.Transition(types.StateOpen); err != nil {
		return err
	}
	pos.UpdatedAt = time.Now().UTC()
	t.state.Active[pos.Key()] = pos
	logger.Infof("trader: pyramided %s, size now %v (%s)", pos.Key(), pos.Size, v.Reason)
	return t.persist()
}

func (t *Trader) closePosition(ctx context.Context, v risk.Verdict) error {
	pos := v.Position
	if err := pos.Transition(types.StateClosing); err != nil {
		return err
	}
	t.state.Active[pos.Key()] = pos
	if err := t.persist(); err != nil {
		return err
	}

	if err := t.exchange.ClosePosition(ctx, exchange.CloseRequest{
		Symbol: pos.Symbol,
		Side:   pos.Side,
		Reason: v.Reason,
	}); err != nil {
		// 平仓失败停在 CLOSING，下一轮监控对同一持仓还会再出 CLOSE 裁决
		return fmt.Errorf("closing %s failed: %w", pos.Key(), err)
	}

	now := time.Now().UTC()
	if quote, qerr := t.exchange.GetPrice(ctx, pos.Symbol); qerr == nil {
		pos.ClosePrice = quote.Last
		pos.RealizedPnL = pos.Margin * pos.PnLPct(quote.Last) / 100
	}
	if err := pos.Transition(types.StateClosed); err != nil {
		return err
	}
	pos.ClosedAt = now
	pos.CloseReason = v.Reason
	pos.UpdatedAt = now

	delete(t.state.Active, pos.Key())
	t.state.Closed = append(t.state.Closed, pos)
	t.gate.RecordClose(pos.Symbol, pos.Side, now)
	if err := t.persist(); err != nil {
		return err
	}

	if t.archiver != nil {
		if err := t.archiver.Archive(ctx, pos); err != nil {
			logger.Warnf("trader: archiving %s failed: %v", pos.Key(), err)
		}
	}
	logger.Infof("trader: closed %s reason=%q pnl=%.2f", pos.Key(), v.Reason, pos.RealizedPnL)
	t.notify(closeMessage(pos))
	return nil
}

// reconcile 开机和定期对账：状态文件里有、交易所没有的仓标记为已平；
// 交易所多出来的仓只告警不收养，来路不明的仓位不进自动化管理。
func (t *Trader) reconcile(ctx context.Context) error {
	remote, err := t.exchange.ListOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("listing exchange positions failed: %w", err)
	}
	remoteKeys := make(map[string]exchange.Position, len(remote))
	for _, rp := range remote {
		remoteKeys[types.PositionKey(rp.Symbol, rp.Side)] = rp
	}

	changed := false
	for key, pos := range t.state.Active {
		if _, ok := remoteKeys[key]; ok {
			continue
		}
		if pos.State == types.StateOpening {
			// 挂在 OPENING 说明下单结果未知；交易所查无此仓即没成交
			logger.Warnf("trader: reconcile drops unfilled OPENING %s", key)
			delete(t.state.Active, key)
			changed = true
			continue
		}
		logger.Warnf("trader: %s missing on exchange, marking closed", key)
		pos.State = types.StateClosed
		pos.ClosedAt = time.Now().UTC()
		pos.CloseReason = "reconciled: missing on exchange"
		delete(t.state.Active, key)
		t.state.Closed = append(t.state.Closed, pos)
		t.gate.RecordClose(pos.Symbol, pos.Side, pos.ClosedAt)
		changed = true
	}
	for key := range remoteKeys {
		if _, ok := t.state.Active[key]; !ok {
			logger.Warnf("trader: exchange holds unmanaged position %s, leaving it alone", key)
		}
	}
	if changed {
		return t.persist()
	}
	return nil
}

func protectivePrices(side types.Side, entry, slPct, tpPct float64) (stopLoss, takeProfit float64) {
	if side == types.SideLong {
		return entry * (1 - slPct), entry * (1 + tpPct)
	}
	return entry * (1 + slPct), entry * (1 - tpPct)
}
