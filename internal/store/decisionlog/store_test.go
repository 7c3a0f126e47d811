package decisionlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"orca/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "decisions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testDecision(symbol string, action types.Action, trend types.Trend) types.Decision {
	return types.Decision{
		TraceID:    "trace-" + symbol,
		Symbol:     symbol,
		Action:     action,
		Confidence: 0.72,
		Votes: []types.Vote{
			{Persona: "FLOW", Signal: types.SignalLong, Confidence: 0.72, Rationale: "taker 1.30, oi +4.0%"},
		},
		Regime:    types.Regime{Trend: trend, Change24h: 2.1},
		Reason:    "",
		CreatedAt: time.Now().UTC(),
	}
}

func TestStore_AppendAndListRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, testDecision("BTCUSDT", types.ActionOpenLong, types.TrendBullish)))
	require.NoError(t, s.Append(ctx, testDecision("ETHUSDT", types.ActionWait, types.TrendNeutral)))

	all, err := s.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	btc, err := s.List(ctx, Query{Symbol: "BTCUSDT"})
	require.NoError(t, err)
	require.Len(t, btc, 1)
	rec := btc[0]
	assert.Equal(t, "trace-BTCUSDT", rec.TraceID)
	assert.Equal(t, string(types.ActionOpenLong), rec.Action)
	// regime 落库的是趋势结论，不是整个结构体
	assert.Equal(t, string(types.TrendBullish), rec.Regime)
	assert.InDelta(t, 0.72, rec.Confidence, 1e-9)
	require.Len(t, rec.Votes, 1)
	assert.Equal(t, "FLOW", rec.Votes[0].Persona)
}

func TestStore_ListFiltersByAction(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, testDecision("BTCUSDT", types.ActionOpenLong, types.TrendBullish)))
	require.NoError(t, s.Append(ctx, testDecision("BTCUSDT", types.ActionWait, types.TrendNeutral)))

	waits, err := s.List(ctx, Query{Action: string(types.ActionWait)})
	require.NoError(t, err)
	require.Len(t, waits, 1)
	assert.Equal(t, string(types.TrendNeutral), waits[0].Regime)
}
