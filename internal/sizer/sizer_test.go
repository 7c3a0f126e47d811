package sizer

import (
	"testing"

	"orca/internal/config"
	"orca/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSizer() *Sizer {
	return New(config.SizingConfig{
		BaseFraction:    0.15,
		MinFraction:     0.10,
		MaxFraction:     0.20,
		BalanceFloorUSD: 950,
	})
}

func baseRequest() Request {
	return Request{
		Symbol:       "BTCUSDT",
		AvailableUSD: 2000,
		Confidence:   0.65,
		ATRPct:       1.0,
		Price:        100,
		SizeStep:     0.001,
		Tier:         strategy.TierConfig{Name: "T1", Leverage: 10},
	}
}

func TestSizer_BalanceFloor(t *testing.T) {
	req := baseRequest()
	req.AvailableUSD = 949.99
	_, err := testSizer().Compute(req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBalanceFloor)
}

func TestSizer_BaseCase(t *testing.T) {
	res, err := testSizer().Compute(baseRequest())
	require.NoError(t, err)
	// 0.15 × 1.0（conf 0.65 档）× 1.0（ATR 1.0 档）= 0.15
	assert.InDelta(t, 0.15, res.Fraction, 1e-9)
	assert.InDelta(t, 300, res.MarginUSD, 1e-9)
	assert.InDelta(t, 30, res.Size, 1e-9) // 300×10/100
	assert.Equal(t, 10, res.Leverage)
}

func TestSizer_ConfidenceStepsAndClamp(t *testing.T) {
	req := baseRequest()
	req.Confidence = 0.85
	res, err := testSizer().Compute(req)
	require.NoError(t, err)
	// 0.15×1.3 = 0.195，未触上限
	assert.InDelta(t, 0.195, res.Fraction, 1e-9)

	// 高置信 + 极低波动：0.15×1.3×1.2=0.234，夹到 0.20
	req.ATRPct = 0.5
	res, err = testSizer().Compute(req)
	require.NoError(t, err)
	assert.InDelta(t, 0.20, res.Fraction, 1e-9)
}

func TestSizer_HighVolatilityClampsToMin(t *testing.T) {
	req := baseRequest()
	req.ATRPct = 2.5 // ×0.3 = 0.045，夹到 0.10
	res, err := testSizer().Compute(req)
	require.NoError(t, err)
	assert.InDelta(t, 0.10, res.Fraction, 1e-9)
}

func TestSizer_LowConfidenceDiscount(t *testing.T) {
	req := baseRequest()
	req.Confidence = 0.55
	res, err := testSizer().Compute(req)
	require.NoError(t, err)
	assert.InDelta(t, 0.15*0.85, res.Fraction, 1e-9)
}

func TestSizer_RoundsDownToStep(t *testing.T) {
	req := baseRequest()
	req.Price = 31234.567
	req.SizeStep = 0.01
	res, err := testSizer().Compute(req)
	require.NoError(t, err)
	// margin=300, notional=3000, raw=0.09604... → 0.09
	assert.InDelta(t, 0.09, res.Size, 1e-12)
}

func TestSizer_ZeroSizeRejected(t *testing.T) {
	req := baseRequest()
	req.AvailableUSD = 1000
	req.Price = 10_000_000
	req.SizeStep = 1
	_, err := testSizer().Compute(req)
	assert.Error(t, err)
}

func TestSizer_InvalidInputs(t *testing.T) {
	req := baseRequest()
	req.Price = 0
	_, err := testSizer().Compute(req)
	assert.Error(t, err)

	req = baseRequest()
	req.Tier.Leverage = 0
	_, err = testSizer().Compute(req)
	assert.Error(t, err)
}
