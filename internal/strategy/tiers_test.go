package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleTiers = []byte(`
version: 2
default: T2
tiers:
  - name: T1
    leverage: 10
    stop_loss_pct: 0.025
    take_profit_pct: 0.12
    trailing_pct: 0.015
    max_hold_minutes: 5760
    symbols: [BTCUSDT, ethusdt]
  - name: T2
    leverage: 6
    stop_loss_pct: 0.04
    take_profit_pct: 0.18
    trailing_pct: 0.025
    max_hold_minutes: 2880
    symbols: []
`)

func TestParseTiers(t *testing.T) {
	tiers, err := ParseTiers(sampleTiers)
	require.NoError(t, err)

	assert.Equal(t, 2, tiers.Version)
	assert.Equal(t, []string{"T1", "T2"}, tiers.Names())

	t1 := tiers.ForSymbol("BTCUSDT")
	assert.Equal(t, "T1", t1.Name)
	assert.Equal(t, 10, t1.Leverage)
	assert.Equal(t, 96*time.Hour, t1.MaxHold())

	// 符号归一：小写输入也能命中
	assert.Equal(t, "T1", tiers.ForSymbol(" ethusdt ").Name)
}

func TestTiers_UnlistedSymbolFallsBack(t *testing.T) {
	tiers, err := ParseTiers(sampleTiers)
	require.NoError(t, err)
	assert.Equal(t, "T2", tiers.ForSymbol("DOGEUSDT").Name)
}

func TestTiers_ByName(t *testing.T) {
	tiers, err := ParseTiers(sampleTiers)
	require.NoError(t, err)

	tier, ok := tiers.ByName("T1")
	require.True(t, ok)
	assert.Equal(t, 0.025, tier.StopLossPct)

	_, ok = tiers.ByName("T9")
	assert.False(t, ok)
}

func TestParseTiers_Rejections(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"empty table", `{version: 1, default: T1, tiers: []}`},
		{"missing default", `
tiers:
  - {name: T1, leverage: 5, stop_loss_pct: 0.03, take_profit_pct: 0.1, trailing_pct: 0.02, max_hold_minutes: 60}
`},
		{"unknown default", `
default: T9
tiers:
  - {name: T1, leverage: 5, stop_loss_pct: 0.03, take_profit_pct: 0.1, trailing_pct: 0.02, max_hold_minutes: 60}
`},
		{"duplicate tier", `
default: T1
tiers:
  - {name: T1, leverage: 5, stop_loss_pct: 0.03, take_profit_pct: 0.1, trailing_pct: 0.02, max_hold_minutes: 60}
  - {name: T1, leverage: 6, stop_loss_pct: 0.03, take_profit_pct: 0.1, trailing_pct: 0.02, max_hold_minutes: 60}
`},
		{"symbol in two tiers", `
default: T1
tiers:
  - {name: T1, leverage: 5, stop_loss_pct: 0.03, take_profit_pct: 0.1, trailing_pct: 0.02, max_hold_minutes: 60, symbols: [BTCUSDT]}
  - {name: T2, leverage: 6, stop_loss_pct: 0.03, take_profit_pct: 0.1, trailing_pct: 0.02, max_hold_minutes: 60, symbols: [btcusdt]}
`},
		{"zero leverage", `
default: T1
tiers:
  - {name: T1, leverage: 0, stop_loss_pct: 0.03, take_profit_pct: 0.1, trailing_pct: 0.02, max_hold_minutes: 60}
`},
		{"stop loss out of range", `
default: T1
tiers:
  - {name: T1, leverage: 5, stop_loss_pct: 1.5, take_profit_pct: 0.1, trailing_pct: 0.02, max_hold_minutes: 60}
`},
		{"zero hold", `
default: T1
tiers:
  - {name: T1, leverage: 5, stop_loss_pct: 0.03, take_profit_pct: 0.1, trailing_pct: 0.02, max_hold_minutes: 0}
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseTiers([]byte(tc.yaml))
			assert.Error(t, err)
		})
	}
}
