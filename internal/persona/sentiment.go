package persona

import (
	"context"
	"fmt"

	"orca/internal/types"
)

// SENTIMENT 角色：社媒情绪分 [-1, 1]。±0.3 以内算噪音给 NEUTRAL，
// 讨论量放大时加一点置信度。
type Sentiment struct{}

func (s *Sentiment) Name() string { return NameSentiment }

func (s *Sentiment) Evaluate(_ context.Context, in Input) types.Vote {
	if in.Oracle == nil || !in.Oracle.HasSentiment {
		return degradedVote(NameSentiment, "sentiment feed unavailable, degraded to neutral")
	}
	score := in.Oracle.Sentiment
	volumeBoost := 0.0
	if in.Oracle.SocialVolume > 2.0 {
		volumeBoost = 0.05
	}

	switch {
	case score > 0.3:
		return types.Vote{
			Persona:    NameSentiment,
			Signal:     types.SignalLong,
			Confidence: clampConfidence(0.5 + (score-0.3)*0.5 + volumeBoost),
			Rationale:  fmt.Sprintf("sentiment %.2f bullish", score),
		}
	case score < -0.3:
		return types.Vote{
			Persona:    NameSentiment,
			Signal:     types.SignalShort,
			Confidence: clampConfidence(0.5 + (-score-0.3)*0.5 + volumeBoost),
			Rationale:  fmt.Sprintf("sentiment %.2f bearish", score),
		}
	default:
		return types.Vote{
			Persona:    NameSentiment,
			Signal:     types.SignalNeutral,
			Confidence: 0.5,
			Rationale:  fmt.Sprintf("sentiment %.2f inside noise band", score),
		}
	}
}
