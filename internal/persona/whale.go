package persona

import (
	"context"
	"fmt"

	"orca/internal/pkg/symbol"
	"orca/internal/types"
)

// 中文说明：
// WHALE 角色：看大户资金动向。只认 BTC/ETH——其它币的链上数据
// 噪音太大，一律弃权。score 0-100，60 以上且 signal 为
// accumulating 视为吸筹做多，40 以下或 distributing 视为派发做空。
// 中间地带给 NEUTRAL，score 越极端置信度越高。

// 链上大户数据只对这两个币有意义
var whaleCoverage = map[string]bool{
	"BTC": true,
	"ETH": true,
}

type Whale struct{}

func (w *Whale) Name() string { return NameWhale }

func (w *Whale) Evaluate(_ context.Context, in Input) types.Vote {
	if base := symbol.Parse(in.Symbol).Base; !whaleCoverage[base] {
		return skipVote(NameWhale, fmt.Sprintf("no whale coverage for %s", symbol.Normalize(in.Symbol)))
	}
	if in.Oracle == nil || !in.Oracle.HasWhale {
		return skipVote(NameWhale, "whale feed unavailable")
	}
	score := in.Oracle.WhaleScore
	signal := in.Oracle.WhaleSignal

	switch {
	case score >= 60 && signal != "distributing":
		return types.Vote{
			Persona:    NameWhale,
			Signal:     types.SignalLong,
			Confidence: clampConfidence(0.5 + (score-60)/80),
			Rationale:  fmt.Sprintf("whale score %.0f, %s", score, signal),
		}
	case score <= 40 || signal == "distributing":
		conf := 0.5 + (40-score)/80
		if signal == "distributing" && conf < 0.65 {
			conf = 0.65
		}
		return types.Vote{
			Persona:    NameWhale,
			Signal:     types.SignalShort,
			Confidence: clampConfidence(conf),
			Rationale:  fmt.Sprintf("whale score %.0f, %s", score, signal),
		}
	default:
		return types.Vote{
			Persona:    NameWhale,
			Signal:     types.SignalNeutral,
			Confidence: 0.5,
			Rationale:  fmt.Sprintf("whale score %.0f in dead zone", score),
		}
	}
}
