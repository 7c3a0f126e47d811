// Package app 负责应用级编排：加载配置→初始化依赖→启动信号循环
// 与监控循环。
package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"orca/internal/gateway/exchange"
	"orca/internal/gateway/notifier"
	"orca/internal/gateway/oracle"
	"orca/internal/judge"
	"orca/internal/logger"
	"orca/internal/market"
	"orca/internal/risk"
	"orca/internal/scheduler"
	"orca/internal/settings"
	"orca/internal/store/decisionlog"
	"orca/internal/store/history"
	"orca/internal/strategy"
	"orca/internal/trader"
	"orca/internal/types"

	"golang.org/x/sync/errgroup"

	"orca/internal/config"
)

// OracleFetcher 是链上/情绪数据源的最小接口。为 nil 表示降级运行，
// 众议团拿不到数据的席位自己决定弃权还是给中性票。
type OracleFetcher interface {
	Fetch(ctx context.Context, symbol string) (*oracle.Snapshot, error)
}

// counters 是心跳日志里报的累计量。只增不减，进程生命周期内有效。
type counters struct {
	signalCycles  atomic.Int64
	monitorCycles atomic.Int64
	decisions     atomic.Int64
	opens         atomic.Int64
	closes        atomic.Int64
	reconciles    atomic.Int64
}

type App struct {
	cfg       *config.Config
	tiers     *strategy.Tiers
	settings  *settings.Manager
	source    market.Source
	oracle    OracleFetcher
	exchange  exchange.Exchange
	judge     *judge.Judge
	riskMgr   *risk.Manager
	regime    *market.RegimeDetector
	trader    *trader.Trader
	history   *history.Store
	decisions *decisionlog.Store
	notifier  notifier.TextNotifier

	// 最近一轮信号循环里每个标的的裁决，加仓检查要看它还新不新鲜
	lastMu        sync.Mutex
	lastDecisions map[string]types.Decision

	stats     counters
	startedAt time.Time

	signalInterval    time.Duration
	monitorInterval   time.Duration
	heartbeatInterval time.Duration
	reconcileCycles   int
}

// New 根据配置构建应用对象（不启动）。
func New(cfg *config.Config, opts ...BuilderOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return NewBuilder(cfg, opts...).Build(context.Background())
}

// Run 跑起两条循环直到 ctx 取消。启动顺序：先对账，再放行循环。
// 对账之后按 reconcileCycles 的节奏周期性重跑，交易所是仓位的
// 唯一事实来源，不能只在开机对一次。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}

	a.startedAt = time.Now().UTC()
	a.trader.Start()
	defer a.trader.Stop()
	defer a.close()

	if err := a.trader.Reconcile(ctx); err != nil {
		return fmt.Errorf("startup reconcile failed: %w", err)
	}
	a.stats.reconciles.Add(1)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		signal := scheduler.NewAlignedScheduler(ctx, "signal",
			a.signalInterval, time.Duration(a.cfg.Loops.SignalOffsetSec)*time.Second)
		signal.RunImmediately = a.cfg.Loops.RunImmediately
		signal.Start(func() { a.signalCycle(ctx) })
		return nil
	})

	group.Go(func() error {
		monitor := scheduler.NewFixedScheduler(ctx, "monitor", a.monitorInterval)
		monitor.Start(func() { a.monitorCycle(ctx) })
		return nil
	})

	if a.heartbeatInterval > 0 {
		group.Go(func() error {
			heartbeat := scheduler.NewFixedScheduler(ctx, "heartbeat", a.heartbeatInterval)
			heartbeat.Start(func() { a.logHeartbeat() })
			return nil
		})
	}

	return group.Wait()
}

// logHeartbeat 打一行活着的证明，带上累计计数和当前持仓数。
func (a *App) logHeartbeat() {
	open := 0
	for _, pos := range a.trader.Positions() {
		if pos.State != types.StateClosed {
			open++
		}
	}
	logger.Infof("heartbeat: up=%s signal_cycles=%d monitor_cycles=%d decisions=%d opens=%d closes=%d reconciles=%d open_positions=%d",
		time.Since(a.startedAt).Truncate(time.Second),
		a.stats.signalCycles.Load(), a.stats.monitorCycles.Load(),
		a.stats.decisions.Load(), a.stats.opens.Load(), a.stats.closes.Load(),
		a.stats.reconciles.Load(), open)
}

// Trader exposes the underlying trader (for testing/replay harnesses).
func (a *App) Trader() *trader.Trader {
	if a == nil {
		return nil
	}
	return a.trader
}

func (a *App) close() {
	if a.settings != nil {
		_ = a.settings.Close()
	}
	if a.history != nil {
		_ = a.history.Close()
	}
	if a.decisions != nil {
		_ = a.decisions.Close()
	}
	if a.source != nil {
		_ = a.source.Close()
	}
}
