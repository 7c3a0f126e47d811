// Package trader is the single writer over the position book.
// The signal loop and the monitor loop both talk to it through a
// message channel; nothing else ever mutates positions or the state
// file. Sequential processing makes the lifecycle transitions and the
// "never double-retry a write" rule trivial to uphold.
package trader

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"orca/internal/gateway/exchange"
	"orca/internal/logger"
	"orca/internal/risk"
	"orca/internal/settings"
	"orca/internal/sizer"
	"orca/internal/store/tradestate"
	"orca/internal/strategy"
	"orca/internal/types"
)

// SettingsProvider 暴露当前运行期开关快照。
type SettingsProvider interface {
	Get() settings.Settings
}

// HistoryArchiver 把平掉的仓写进历史库。失败只记日志，不回滚平仓。
type HistoryArchiver interface {
	Archive(ctx context.Context, pos types.Position) error
}

// Notifier 是通知出口，可以为 nil。
type Notifier interface {
	SendText(text string) error
}

type envelope struct {
	kind     msgKind
	decision types.Decision
	verdict  risk.Verdict
	replyCh  chan error
}

type msgKind int

const (
	msgOpen msgKind = iota
	msgVerdict
	msgReconcile
)

type Trader struct {
	exchange exchange.Exchange
	store    *tradestate.Store
	gate     *risk.EntryGate
	sizer    *sizer.Sizer
	tiers    *strategy.Tiers
	archiver HistoryArchiver
	notifier Notifier
	settings SettingsProvider

	msgCh  chan envelope
	stopCh chan struct{}
	wg     sync.WaitGroup

	state    *tradestate.File
	snapshot atomic.Value
}

func New(exch exchange.Exchange, store *tradestate.Store, gate *risk.EntryGate, sz *sizer.Sizer, tiers *strategy.Tiers, sp SettingsProvider, archiver HistoryArchiver, notifier Notifier) (*Trader, error) {
	// 状态文件读不出来就拒绝启动：带着错误的持仓视图交易比停摆危险
	state, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("refusing to trade: %w", err)
	}
	t := &Trader{
		exchange: exch,
		store:    store,
		gate:     gate,
		sizer:    sz,
		tiers:    tiers,
		archiver: archiver,
		notifier: notifier,
		settings: sp,
		msgCh:    make(chan envelope, 100),
		stopCh:   make(chan struct{}),
		state:    state,
	}
	t.refreshSnapshot()
	return t, nil
}

func (t *Trader) Start() {
	t.wg.Add(1)
	go t.runLoop()
}

func (t *Trader) Stop() {
	close(t.stopCh)
	t.wg.Wait()
}

// Open 同步请求开仓：排队、由单写协程执行、拿回结果。
func (t *Trader) Open(ctx context.Context, d types.Decision) error {
	return t.sendSync(ctx, envelope{kind: msgOpen, decision: d})
}

// Apply 同步应用一条风控裁决（平仓/挪止损/加仓/更新峰值）。
func (t *Trader) Apply(ctx context.Context, v risk.Verdict) error {
	return t.sendSync(ctx, envelope{kind: msgVerdict, verdict: v})
}

// Reconcile 把内存账本和交易所持仓对一遍账。
func (t *Trader) Reconcile(ctx context.Context) error {
	return t.sendSync(ctx, envelope{kind: msgReconcile})
}

// Positions returns a copy of the active book. Safe from any goroutine.
func (t *Trader) Positions() []types.Position {
	val := t.snapshot.Load()
	if val == nil {
		return nil
	}
	return val.([]types.Position)
}

func (t *Trader) sendSync(ctx context.Context, env envelope) error {
	env.replyCh = make(chan error, 1)
	select {
	case t.msgCh <- env:
	case <-t.stopCh:
		return fmt.Errorf("trader is stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-env.replyCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-t.stopCh:
		return fmt.Errorf("trader stopped during sync call")
	}
}

func (t *Trader) runLoop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.stopCh:
			return
		case env := <-t.msgCh:
			t.handle(env)
		}
	}
}

func (t *Trader) handle(env envelope) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("trader: panic in handler: %v\n%s", r, debug.Stack())
			if env.replyCh != nil {
				env.replyCh <- fmt.Errorf("trader handler panicked: %v", r)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	switch env.kind {
	case msgOpen:
		err = t.openPosition(ctx, env.decision)
	case msgVerdict:
		err = t.applyVerdict(ctx, env.verdict)
	case msgReconcile:
		err = t.reconcile(ctx)
	default:
		err = fmt.Errorf("unknown trader message kind %d", env.kind)
	}
	if env.replyCh != nil {
		env.replyCh <- err
	}
}

func (t *Trader) refreshSnapshot() {
	t.snapshot.Store(t.state.Positions())
}

func (t *Trader) persist() error {
	if err := t.store.Save(t.state); err != nil {
		return fmt.Errorf("persisting trade state failed: %w", err)
	}
	t.refreshSnapshot()
	return nil
}

func (t *Trader) notify(text string) {
	if t.notifier == nil {
		return
	}
	if err := t.notifier.SendText(text); err != nil {
		logger.Warnf("trader: notification failed: %v", err)
	}
}
