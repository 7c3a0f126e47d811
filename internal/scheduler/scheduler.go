// Package scheduler drives the two loops: the signal loop aligned to
// candle closes, and the monitor loop on a plain fixed interval.
package scheduler

import (
	"context"
	"time"

	"orca/internal/logger"
)

// AlignedScheduler 对齐 K 线收盘执行：在每个 interval 的整点收盘后
// 加 offset 再跑，保证指标算的是已收盘的蜡烛。
type AlignedScheduler struct {
	Name           string
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	ctx   context.Context
	nowFn func() time.Time
}

func NewAlignedScheduler(ctx context.Context, name string, interval, offset time.Duration) *AlignedScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &AlignedScheduler{
		Name:     name,
		Interval: interval,
		Offset:   offset,
		ctx:      ctx,
		nowFn:    time.Now,
	}
}

func (s *AlignedScheduler) Start(task func()) {
	if s == nil || task == nil {
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("AlignedScheduler[%s]: invalid interval=%s, exit", s.Name, s.Interval)
		return
	}
	if s.Offset < 0 {
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn().UTC()
	logger.Infof("AlignedScheduler[%s]: started interval=%s offset=%s run_immediately=%v",
		s.Name, s.Interval, s.Offset, s.RunImmediately)

	if s.RunImmediately {
		task()
	}

	for {
		now := s.nowFn().UTC()
		nextClose := now.Truncate(s.Interval).Add(s.Interval)
		wakeAt := nextClose.Add(s.Offset)
		wait := wakeAt.Sub(now)

		logger.Infof("AlignedScheduler[%s]: 距离K线收盘=%s (收盘=%s) 下一次执行=%s | uptime=%s",
			s.Name,
			nextClose.Sub(now).Truncate(time.Second),
			nextClose.Format(time.RFC3339),
			wakeAt.Format(time.RFC3339),
			now.Sub(startAt).Truncate(time.Second),
		)

		if wait <= 0 {
			task()
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			logger.Infof("AlignedScheduler[%s]: ctx done, exit", s.Name)
			return
		case <-timer.C:
		}
		task()
	}
}

// FixedScheduler 固定间隔执行，不对齐任何整点。
type FixedScheduler struct {
	Name     string
	Interval time.Duration

	ctx context.Context
}

func NewFixedScheduler(ctx context.Context, name string, interval time.Duration) *FixedScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &FixedScheduler{Name: name, Interval: interval, ctx: ctx}
}

func (s *FixedScheduler) Start(task func()) {
	if s == nil || task == nil {
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("FixedScheduler[%s]: invalid interval=%s, exit", s.Name, s.Interval)
		return
	}
	logger.Infof("FixedScheduler[%s]: started interval=%s", s.Name, s.Interval)
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			logger.Infof("FixedScheduler[%s]: ctx done, exit", s.Name)
			return
		case <-ticker.C:
			task()
		}
	}
}
