package market

import (
	"sync"
	"time"

	"orca/internal/logger"
	"orca/internal/types"
)

// 中文说明：
// 环境判定：看 BTC 的 24h/4h 涨跌幅定大方向，1h 急变（|1h|>1.5%）
// 允许跳过等待期立即切换。普通切换必须在新方向上持续满等待期，
// 防止一根毛刺把全部持仓的方向判断打翻。

const (
	bearish24h = -1.0
	bearish4h  = -1.0
	bullish24h = 1.5
	bullish4h  = 1.0
	spike1h    = 1.5
)

// RawTrend 只做阈值判定，不含等待期。空头条件优先：跌势确认比
// 涨势确认更值钱。
func RawTrend(stats ChangeStats) types.Trend {
	if stats.Change24h < bearish24h || stats.Change4h < bearish4h {
		return types.TrendBearish
	}
	if stats.Change24h > bullish24h || stats.Change4h > bullish4h {
		return types.TrendBullish
	}
	return types.TrendNeutral
}

// IsSpike reports whether the 1h move is violent enough to bypass the
// grace period.
func IsSpike(stats ChangeStats) bool {
	return stats.Change1h > spike1h || stats.Change1h < -spike1h
}

// RegimeDetector 持有当前已确认的环境和候选切换状态。
type RegimeDetector struct {
	mu    sync.Mutex
	grace time.Duration
	nowFn func() time.Time

	current        types.Regime
	candidate      types.Trend
	candidateSince time.Time
}

func NewRegimeDetector(grace time.Duration) *RegimeDetector {
	return &RegimeDetector{
		grace: grace,
		nowFn: time.Now,
	}
}

// Evaluate feeds one observation into the detector and returns the
// effective regime after grace-period handling.
func (d *RegimeDetector) Evaluate(stats ChangeStats) types.Regime {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.nowFn().UTC()
	raw := RawTrend(stats)
	spike := IsSpike(stats)

	switch {
	case d.current.Trend == "":
		// 首次观测直接采纳
		d.commit(raw, stats, now, false)
	case raw == d.current.Trend:
		d.candidate = ""
		d.refresh(stats, now)
	case spike:
		logger.Warnf("RegimeDetector: 1h spike %.2f%% forces %s -> %s", stats.Change1h, d.current.Trend, raw)
		d.commit(raw, stats, now, true)
	default:
		if d.candidate != raw {
			d.candidate = raw
			d.candidateSince = now
		}
		if now.Sub(d.candidateSince) >= d.grace {
			logger.Infof("RegimeDetector: %s -> %s confirmed after %s", d.current.Trend, raw, d.grace)
			d.commit(raw, stats, now, false)
		} else {
			d.refresh(stats, now)
		}
	}
	return d.current
}

// Current returns the last confirmed regime without feeding new data.
func (d *RegimeDetector) Current() types.Regime {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

func (d *RegimeDetector) commit(trend types.Trend, stats ChangeStats, now time.Time, spike bool) {
	d.candidate = ""
	d.current = types.Regime{
		Trend:     trend,
		Change24h: stats.Change24h,
		Change4h:  stats.Change4h,
		Change1h:  stats.Change1h,
		Spike:     spike,
		Since:     now,
		UpdatedAt: now,
	}
}

func (d *RegimeDetector) refresh(stats ChangeStats, now time.Time) {
	d.current.Change24h = stats.Change24h
	d.current.Change4h = stats.Change4h
	d.current.Change1h = stats.Change1h
	d.current.Spike = false
	d.current.UpdatedAt = now
}
