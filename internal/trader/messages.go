package trader

import (
	"fmt"
	"time"

	"orca/internal/gateway/notifier"
	"orca/internal/types"
)

// 推送文案。分段模型在 notifier 包里定死，这里只填内容。

func openMessage(pos types.Position, d types.Decision) string {
	msg := notifier.Message{
		Icon:     sideIcon(pos.Side),
		Headline: fmt.Sprintf("开仓 %s %s", pos.Symbol, sideLabel(pos.Side)),
		Position: []string{
			fmt.Sprintf("入场价 %.6g", pos.EntryPrice),
			fmt.Sprintf("数量 %v / 保证金 %.2f USDT", pos.Size, pos.Margin),
			fmt.Sprintf("杠杆 %dx (%s)", pos.Leverage, pos.Tier),
		},
		Guards: []string{
			fmt.Sprintf("止损 %.6g", pos.StopLoss),
			fmt.Sprintf("止盈 %.6g", pos.TakeProfit),
		},
		Verdict: []string{
			fmt.Sprintf("置信度 %.2f / 环境 %s", d.Confidence, d.Regime),
			fmt.Sprintf("trace %s", d.TraceID),
		},
		Timestamp: time.Now(),
	}
	return msg.RenderMarkdown()
}

func closeMessage(pos types.Position) string {
	pnlIcon := "🟢"
	if pos.RealizedPnL < 0 {
		pnlIcon = "🔴"
	}
	msg := notifier.Message{
		Icon:     pnlIcon,
		Headline: fmt.Sprintf("平仓 %s %s", pos.Symbol, sideLabel(pos.Side)),
		Outcome: []string{
			fmt.Sprintf("原因 %s", pos.CloseReason),
			fmt.Sprintf("入场 %.6g -> 出场 %.6g", pos.EntryPrice, pos.ClosePrice),
			fmt.Sprintf("盈亏 %.2f USDT / 峰值 %.2f%%", pos.RealizedPnL, pos.PeakPnLPct),
			fmt.Sprintf("持仓 %s", pos.ClosedAt.Sub(pos.OpenedAt).Truncate(time.Minute)),
		},
		Timestamp: time.Now(),
	}
	return msg.RenderMarkdown()
}

func sideIcon(side types.Side) string {
	if side == types.SideLong {
		return "📈"
	}
	return "📉"
}

func sideLabel(side types.Side) string {
	if side == types.SideLong {
		return "做多"
	}
	return "做空"
}
