package app

import (
	"testing"
	"time"

	"orca/internal/types"

	"github.com/stretchr/testify/assert"
)

func longDecision(symbol string, conf float64, createdAt time.Time) types.Decision {
	return types.Decision{
		Symbol:     symbol,
		Action:     types.ActionOpenLong,
		Confidence: conf,
		CreatedAt:  createdAt,
	}
}

func TestFreshSignal_SameSideWithinWindow(t *testing.T) {
	a := &App{signalInterval: 4 * time.Hour}
	now := time.Now().UTC()
	a.recordDecision(longDecision("BTCUSDT", 0.82, now.Add(-time.Hour)))

	pos := types.Position{Symbol: "BTCUSDT", Side: types.SideLong}
	conf, ok := a.freshSignal(pos, now)
	assert.True(t, ok)
	assert.InDelta(t, 0.82, conf, 1e-9)
}

func TestFreshSignal_OppositeSideDoesNotCount(t *testing.T) {
	a := &App{signalInterval: 4 * time.Hour}
	now := time.Now().UTC()
	a.recordDecision(longDecision("BTCUSDT", 0.82, now))

	pos := types.Position{Symbol: "BTCUSDT", Side: types.SideShort}
	_, ok := a.freshSignal(pos, now)
	assert.False(t, ok)
}

func TestFreshSignal_WaitDecisionDoesNotCount(t *testing.T) {
	a := &App{signalInterval: 4 * time.Hour}
	now := time.Now().UTC()
	a.recordDecision(types.Decision{
		Symbol: "BTCUSDT", Action: types.ActionWait, CreatedAt: now,
	})

	pos := types.Position{Symbol: "BTCUSDT", Side: types.SideLong}
	_, ok := a.freshSignal(pos, now)
	assert.False(t, ok)
}

func TestFreshSignal_StaleDecisionExpires(t *testing.T) {
	a := &App{signalInterval: 4 * time.Hour}
	now := time.Now().UTC()
	// 超过两个信号周期的裁决过期
	a.recordDecision(longDecision("BTCUSDT", 0.82, now.Add(-9*time.Hour)))

	pos := types.Position{Symbol: "BTCUSDT", Side: types.SideLong}
	_, ok := a.freshSignal(pos, now)
	assert.False(t, ok)
}

func TestFreshSignal_UnknownSymbol(t *testing.T) {
	a := &App{signalInterval: 4 * time.Hour}
	pos := types.Position{Symbol: "SOLUSDT", Side: types.SideLong}
	_, ok := a.freshSignal(pos, time.Now().UTC())
	assert.False(t, ok)
}

func TestReconcileDue_Cadence(t *testing.T) {
	a := &App{reconcileCycles: 60}
	assert.False(t, a.reconcileDue(1))
	assert.False(t, a.reconcileDue(59))
	assert.True(t, a.reconcileDue(60))
	assert.False(t, a.reconcileDue(61))
	assert.True(t, a.reconcileDue(120))
}
