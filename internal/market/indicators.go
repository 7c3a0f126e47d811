package market

import (
	"fmt"

	talib "github.com/markcheno/go-talib"
)

// 中文说明：
// 指标计算：ATR 用于仓位波动率折减，RSI 给 FLOW 角色当背离参考。
// 序列不足时直接报错，宁可弃权也不要拿残缺数据硬算。

const (
	defaultATRPeriod = 14
	defaultRSIPeriod = 14
)

func splitOHLC(candles []Candle) (highs, lows, closes []float64) {
	highs = make([]float64, len(candles))
	lows = make([]float64, len(candles))
	closes = make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}
	return highs, lows, closes
}

// ATRPct returns the latest 14-period ATR as a percentage of the last close.
func ATRPct(candles []Candle) (float64, error) {
	if len(candles) <= defaultATRPeriod {
		return 0, fmt.Errorf("atr requires more than %d candles, got %d", defaultATRPeriod, len(candles))
	}
	highs, lows, closes := splitOHLC(candles)
	atr := talib.Atr(highs, lows, closes, defaultATRPeriod)
	last := closes[len(closes)-1]
	if last <= 0 {
		return 0, fmt.Errorf("last close is not positive")
	}
	return atr[len(atr)-1] / last * 100, nil
}

// RSI returns the latest 14-period RSI.
func RSI(candles []Candle) (float64, error) {
	if len(candles) <= defaultRSIPeriod {
		return 0, fmt.Errorf("rsi requires more than %d candles, got %d", defaultRSIPeriod, len(candles))
	}
	_, _, closes := splitOHLC(candles)
	rsi := talib.Rsi(closes, defaultRSIPeriod)
	return rsi[len(rsi)-1], nil
}

// VolatilityMultiplier 把 ATR% 折算成仓位折减系数：波动越大仓位越小，
// 极低波动时小幅加仓。
func VolatilityMultiplier(atrPct float64) float64 {
	switch {
	case atrPct > 2.0:
		return 0.3
	case atrPct > 1.5:
		return 0.5
	case atrPct > 1.2:
		return 0.7
	case atrPct < 0.7:
		return 1.2
	default:
		return 1.0
	}
}
