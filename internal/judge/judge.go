// Package judge turns a pile of persona votes into one decision.
// 中文说明：
// 共识裁决的门序是固定的：先查熔断开关，再定方向，紧接着查方向
// 开关，再数同向票数，最后按环境选置信度门槛。WAIT 永远带第一条
// 触发的拒绝原因。可选的外部复核席放在最后：问不通就 WAIT，
// 绝不默认放行。
package judge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"orca/internal/config"
	"orca/internal/gateway/provider"
	"orca/internal/logger"
	"orca/internal/persona"
	"orca/internal/settings"
	"orca/internal/types"

	"github.com/google/uuid"
)

// WAIT 原因是一等公民：会进决策日志和通知，措辞保持稳定。
const (
	ReasonPaused            = "trading paused by operator"
	ReasonEmergencyExit     = "emergency exit in progress"
	ReasonInsufficientVotes = "needs 2+ agreeing personas"
	ReasonNoConsensus       = "no directional consensus"
	ReasonLowConfidence     = "confidence below regime gate"
	ReasonLongsDisabled     = "longs disabled by operator"
	ReasonShortsDisabled    = "shorts disabled by operator"
	ReasonJudgeUnavailable  = "judge unavailable"
	ReasonAdvisorVeto       = "advisor veto"
)

const defaultAdvisorTimeout = 20 * time.Second

type Judge struct {
	cfg            config.JudgeConfig
	advisor        provider.Provider
	advisorTimeout time.Duration
	nowFn          func() time.Time
}

func New(cfg config.JudgeConfig) *Judge {
	return &Judge{cfg: cfg, advisorTimeout: defaultAdvisorTimeout, nowFn: time.Now}
}

// WithAdvisor 挂上外部复核席。nil 等于不挂。
func (j *Judge) WithAdvisor(p provider.Provider, timeout time.Duration) *Judge {
	j.advisor = p
	if timeout > 0 {
		j.advisorTimeout = timeout
	}
	return j
}

// Decide 执行一次完整裁决。votes 里允许混有 SKIP 票，这里统一剔除。
func (j *Judge) Decide(ctx context.Context, symbol string, votes []types.Vote, regime types.Regime, s settings.Settings) types.Decision {
	d := types.Decision{
		TraceID:   uuid.NewString(),
		Symbol:    strings.ToUpper(strings.TrimSpace(symbol)),
		Votes:     votes,
		Regime:    regime,
		CreatedAt: j.nowFn().UTC(),
	}

	// 熔断开关最先查，任何数据都不看
	if s.PauseTrading {
		return j.wait(d, ReasonPaused)
	}
	if s.EmergencyExitAll {
		return j.wait(d, ReasonEmergencyExit)
	}

	countable := make([]types.Vote, 0, len(votes))
	whaleSkipped := false
	var flowVote *types.Vote
	for i := range votes {
		v := votes[i]
		if v.Persona == persona.NameWhale && v.Signal == types.SignalSkip {
			whaleSkipped = true
		}
		if v.Persona == persona.NameFlow && v.Signal.Countable() {
			flowVote = &votes[i]
		}
		if v.Signal.Countable() {
			countable = append(countable, v)
		}
	}

	dir, conf, agreeing := consensus(countable)
	if dir == types.SignalNeutral {
		return j.wait(d, ReasonNoConsensus)
	}

	// 方向开关紧跟方向判定，排在票数和置信度门槛前面
	if dir == types.SignalLong && !s.EnableLongs {
		return j.wait(d, ReasonLongsDisabled)
	}
	if dir == types.SignalShort && !s.EnableShorts {
		return j.wait(d, ReasonShortsDisabled)
	}

	// 同向票数下限。NEUTRAL 票既不站边也不凑数。唯一的豁免：
	// WHALE 弃权且 FLOW 自己就是高置信同向票。
	if agreeing < j.cfg.MinVotes {
		override := whaleSkipped &&
			flowVote != nil &&
			flowVote.Signal == dir &&
			flowVote.Confidence >= j.cfg.OverrideFlowConfidence
		if !override {
			return j.wait(d, fmt.Sprintf("%s (%d < %d)", ReasonInsufficientVotes, agreeing, j.cfg.MinVotes))
		}
		logger.Infof("judge %s: vote floor waived, FLOW %.2f >= %.2f with WHALE abstaining",
			d.Symbol, flowVote.Confidence, j.cfg.OverrideFlowConfidence)
	}

	gate, gateName := j.regimeGate(dir, regime)
	if s.ConfidenceThreshold > gate {
		gate, gateName = s.ConfidenceThreshold, "operator threshold"
	}
	if conf < gate {
		return j.wait(d, fmt.Sprintf("%s (%.2f < %.2f, %s)", ReasonLowConfidence, conf, gate, gateName))
	}

	d.Confidence = conf
	if dir == types.SignalLong {
		d.Action = types.ActionOpenLong
	} else {
		d.Action = types.ActionOpenShort
	}

	if reason, ok := j.consult(ctx, d); !ok {
		return j.wait(d, reason)
	}
	return d
}

// consult 问一次外部复核席。席位沉默、超时或答非所问都按
// "judge unavailable" 处理。明确否决时带上它给的理由。
func (j *Judge) consult(ctx context.Context, d types.Decision) (string, bool) {
	if j.advisor == nil {
		return "", true
	}
	ctx, cancel := context.WithTimeout(ctx, j.advisorTimeout)
	defer cancel()

	raw, err := j.advisor.Ask(ctx, advisorPrompt(d))
	if err != nil {
		logger.Warnf("judge %s: advisor unreachable: %v", d.Symbol, err)
		return ReasonJudgeUnavailable, false
	}
	op, err := provider.ParseOpinion(raw)
	if err != nil {
		logger.Warnf("judge %s: advisor reply unparseable: %v", d.Symbol, err)
		return ReasonJudgeUnavailable, false
	}
	if !op.Approve {
		reason := ReasonAdvisorVeto
		if op.Reason != "" {
			reason = fmt.Sprintf("%s: %s", ReasonAdvisorVeto, op.Reason)
		}
		return reason, false
	}
	return "", true
}

func advisorPrompt(d types.Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Proposed trade: %s %s, consensus confidence %.2f.\n", d.Action, d.Symbol, d.Confidence)
	fmt.Fprintf(&b, "Market regime: %s.\n", d.Regime)
	b.WriteString("Persona votes:\n")
	b.WriteString(FormatVotes(d.Votes))
	b.WriteString(`Reply with a single JSON object: {"approve": true|false, "confidence": 0..1, "reason": "..."}`)
	return b.String()
}

// consensus 在 LONG/SHORT 之间取多数，平票视为无共识。
// 置信度取胜方票的平均值，NEUTRAL 票既不站边也不摊薄；
// 同时返回胜方票数，票数下限只数站边的票。
func consensus(votes []types.Vote) (types.Signal, float64, int) {
	var longs, shorts []types.Vote
	for _, v := range votes {
		switch v.Signal {
		case types.SignalLong:
			longs = append(longs, v)
		case types.SignalShort:
			shorts = append(shorts, v)
		}
	}
	switch {
	case len(longs) > len(shorts):
		return types.SignalLong, avgConfidence(longs), len(longs)
	case len(shorts) > len(longs):
		return types.SignalShort, avgConfidence(shorts), len(shorts)
	default:
		return types.SignalNeutral, 0, 0
	}
}

func avgConfidence(votes []types.Vote) float64 {
	if len(votes) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range votes {
		sum += v.Confidence
	}
	return sum / float64(len(votes))
}

// regimeGate 按方向与环境的关系选门槛：顺势和环境不明都走基础线，
// 只有逆势才抬高。
func (j *Judge) regimeGate(dir types.Signal, regime types.Regime) (float64, string) {
	switch regime.Trend {
	case types.TrendNeutral, "":
		return j.cfg.NeutralRegimeConfidence, "neutral regime gate"
	case types.TrendBullish:
		if dir == types.SignalLong {
			return j.cfg.TrendAlignedConfidence, "trend-aligned gate"
		}
		return j.cfg.CounterTrendConfidence, "counter-trend gate"
	case types.TrendBearish:
		if dir == types.SignalShort {
			return j.cfg.TrendAlignedConfidence, "trend-aligned gate"
		}
		return j.cfg.CounterTrendConfidence, "counter-trend gate"
	default:
		return j.cfg.NeutralRegimeConfidence, "neutral regime gate"
	}
}

func (j *Judge) wait(d types.Decision, reason string) types.Decision {
	d.Action = types.ActionWait
	d.Confidence = 0
	d.Reason = reason
	return d
}

// FormatVotes renders the vote list for the decision log.
func FormatVotes(votes []types.Vote) string {
	var b strings.Builder
	for _, v := range votes {
		b.WriteString(v.String())
		b.WriteString("\n")
	}
	return b.String()
}
