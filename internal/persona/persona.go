// Package persona implements the fixed voting bench: WHALE, SENTIMENT
// and FLOW. Each evaluator is deterministic over its slice of the data
// snapshot. Missing data never breaks the cycle: WHALE abstains (SKIP,
// its coverage is genuinely partial), SENTIMENT and FLOW stay seated
// but vote NEUTRAL with zero confidence.
package persona

import (
	"context"

	"orca/internal/gateway/oracle"
	"orca/internal/types"
)

// Persona names are part of the decision record format; do not rename.
const (
	NameWhale     = "WHALE"
	NameSentiment = "SENTIMENT"
	NameFlow      = "FLOW"
)

// Input 是一次投票的全部材料。Oracle 可能为 nil（数据源降级）。
type Input struct {
	Symbol string
	Oracle *oracle.Snapshot
	RSI    float64
	HasRSI bool
	Regime types.Regime
}

// Evaluator 产出一票。实现必须无副作用、可重复调用。
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, in Input) types.Vote
}

// Bench returns the full fixed bench in its canonical order.
func Bench() []Evaluator {
	return []Evaluator{
		&Whale{},
		&Sentiment{},
		&Flow{},
	}
}

func skipVote(name, reason string) types.Vote {
	return types.Vote{
		Persona:    name,
		Signal:     types.SignalSkip,
		Confidence: 0,
		Rationale:  reason,
	}
}

// degradedVote 是"人还在席上但没有材料"的票：NEUTRAL、零置信度，
// 既不站边也不摊薄共识。
func degradedVote(name, reason string) types.Vote {
	return types.Vote{
		Persona:    name,
		Signal:     types.SignalNeutral,
		Confidence: 0,
		Rationale:  reason,
	}
}

func clampConfidence(c float64) float64 {
	if c < 0.50 {
		return 0.50
	}
	if c > 0.95 {
		return 0.95
	}
	return c
}
