package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"orca/internal/market"
)

func TestParseIntervalDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"5m", 5 * time.Minute, true},
		{"1h", time.Hour, true},
		{"4H", 4 * time.Hour, true},
		{" 1d ", 24 * time.Hour, true},
		{"1w", 7 * 24 * time.Hour, true},
		{"", 0, false},
		{"h", 0, false},
		{"0m", 0, false},
		{"-1h", 0, false},
		{"5x", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseIntervalDuration(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func candlesAt(openTimesMs ...int64) []market.Candle {
	out := make([]market.Candle, 0, len(openTimesMs))
	for _, ts := range openTimesMs {
		out = append(out, market.Candle{OpenTime: ts, Close: 100})
	}
	return out
}

func TestDropUnclosedKline(t *testing.T) {
	interval := time.Hour
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	klines := candlesAt(
		base.Add(-2*time.Hour).UnixMilli(),
		base.Add(-time.Hour).UnixMilli(),
		base.UnixMilli(), // 当前这根还没走完
	)

	// 收线后 5 秒仍在宽限期内，最后一根要丢
	now := base.Add(time.Hour).Add(5 * time.Second)
	got := dropUnclosedKlineAt(klines, interval, now, 10*time.Second)
	assert.Len(t, got, 2)
	assert.Equal(t, base.Add(-time.Hour).UnixMilli(), got[len(got)-1].OpenTime)

	// 过了宽限期就全部保留
	now = base.Add(time.Hour).Add(11 * time.Second)
	got = dropUnclosedKlineAt(klines, interval, now, 10*time.Second)
	assert.Len(t, got, 3)
}

func TestDropUnclosedKline_Degenerate(t *testing.T) {
	now := time.Now().UTC()

	assert.Empty(t, dropUnclosedKlineAt(nil, time.Hour, now, 0))

	// interval 非法时原样返回
	klines := candlesAt(now.UnixMilli())
	assert.Len(t, dropUnclosedKlineAt(klines, 0, now, 0), 1)

	// OpenTime 缺失时不猜，原样返回
	klines = []market.Candle{{Close: 1}}
	assert.Len(t, dropUnclosedKlineAt(klines, time.Hour, now, 0), 1)
}
