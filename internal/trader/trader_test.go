package trader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orca/internal/config"
	"orca/internal/gateway/exchange"
	"orca/internal/risk"
	"orca/internal/settings"
	"orca/internal/sizer"
	"orca/internal/store/tradestate"
	"orca/internal/strategy"
	"orca/internal/types"
)

// fakeExchange 是测试用的纸面交易所：返回值可配置，记录收到的请求。
type fakeExchange struct {
	price    float64
	balance  exchange.Balance
	filters  exchange.Filters
	remote   []exchange.Position
	fill     exchange.OpenResult
	openErr  error
	closeErr error
	stopErr  error

	openReqs  []exchange.OpenRequest
	closeReqs []exchange.CloseRequest
	stopReqs  []exchange.StopRequest
	onOpen    func(exchange.OpenRequest)
}

func (f *fakeExchange) Name() string { return "paper" }

func (f *fakeExchange) OpenPosition(_ context.Context, req exchange.OpenRequest) (*exchange.OpenResult, error) {
	f.openReqs = append(f.openReqs, req)
	if f.onOpen != nil {
		f.onOpen(req)
	}
	if f.openErr != nil {
		return nil, f.openErr
	}
	res := f.fill
	return &res, nil
}

func (f *fakeExchange) ClosePosition(_ context.Context, req exchange.CloseRequest) error {
	f.closeReqs = append(f.closeReqs, req)
	return f.closeErr
}

func (f *fakeExchange) UpdateStop(_ context.Context, req exchange.StopRequest) error {
	f.stopReqs = append(f.stopReqs, req)
	return f.stopErr
}

func (f *fakeExchange) ListOpenPositions(context.Context) ([]exchange.Position, error) {
	return f.remote, nil
}

func (f *fakeExchange) GetBalance(context.Context) (exchange.Balance, error) {
	return f.balance, nil
}

func (f *fakeExchange) GetPrice(_ context.Context, symbol string) (exchange.PriceQuote, error) {
	return exchange.PriceQuote{Symbol: symbol, Last: f.price}, nil
}

func (f *fakeExchange) GetFilters(context.Context, string) (exchange.Filters, error) {
	return f.filters, nil
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		price:   100,
		balance: exchange.Balance{TotalUSD: 3000, AvailableUSD: 3000},
		filters: exchange.Filters{SizeStep: 0.01, MinSize: 0.01},
		fill:    exchange.OpenResult{OrderID: "1", FillPrice: 100, FilledSize: 0},
	}
}

type fixedSettings struct{ s settings.Settings }

func (f fixedSettings) Get() settings.Settings { return f.s }

type recordingArchiver struct{ archived []types.Position }

func (r *recordingArchiver) Archive(_ context.Context, pos types.Position) error {
	r.archived = append(r.archived, pos)
	return nil
}

const traderTierYAML = `
default: T1
tiers:
  - name: T1
    leverage: 10
    stop_loss_pct: 0.025
    take_profit_pct: 0.12
    trailing_pct: 0.015
    max_hold_minutes: 5760
`

func newTestTrader(t *testing.T, exch exchange.Exchange) (*Trader, *tradestate.Store, *recordingArchiver) {
	t.Helper()
	store, err := tradestate.NewStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	tiers, err := strategy.ParseTiers([]byte(traderTierYAML))
	require.NoError(t, err)

	gate := risk.NewEntryGate(2, 1, 30*time.Minute)
	sz := sizer.New(config.SizingConfig{
		BaseFraction:    0.15,
		MinFraction:     0.10,
		MaxFraction:     0.20,
		BalanceFloorUSD: 950,
	})
	s := settings.Defaults()
	s.EnableShorts = true
	arch := &recordingArchiver{}

	tr, err := New(exch, store, gate, sz, tiers, fixedSettings{s}, arch, nil)
	require.NoError(t, err)
	tr.Start()
	t.Cleanup(tr.Stop)
	return tr, store, arch
}

func openDecision(symbol string) types.Decision {
	return types.Decision{
		TraceID:    "trace-1",
		Symbol:     symbol,
		Action:     types.ActionOpenLong,
		Confidence: 0.75,
		ATRPct:     1.0,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestTrader_OpenPersistsBeforeOrder(t *testing.T) {
	exch := newFakeExchange()
	tr, store, _ := newTestTrader(t, exch)

	// 下单回调里读状态文件：此刻必须已经有一条 OPENING 记录
	exch.onOpen = func(req exchange.OpenRequest) {
		state, err := store.Load()
		require.NoError(t, err)
		pos, ok := state.Active[types.PositionKey(req.Symbol, req.Side)]
		require.True(t, ok)
		assert.Equal(t, types.StateOpening, pos.State)
	}

	require.NoError(t, tr.Open(context.Background(), openDecision("BTCUSDT")))

	positions := tr.Positions()
	require.Len(t, positions, 1)
	pos := positions[0]
	assert.Equal(t, types.StateOpen, pos.State)
	assert.Equal(t, types.SideLong, pos.Side)
	assert.Equal(t, "T1", pos.Tier)
	assert.Equal(t, 10, pos.Leverage)
	assert.Less(t, pos.StopLoss, pos.EntryPrice)
	assert.Greater(t, pos.TakeProfit, pos.EntryPrice)

	require.Len(t, exch.openReqs, 1)
	assert.Equal(t, "trace-1", exch.openReqs[0].Tag)
}

func TestTrader_OpenRollsBackOnOrderFailure(t *testing.T) {
	exch := newFakeExchange()
	exch.openErr = fmt.Errorf("venue rejected order")
	tr, store, _ := newTestTrader(t, exch)

	err := tr.Open(context.Background(), openDecision("BTCUSDT"))
	require.Error(t, err)
	assert.Empty(t, tr.Positions())

	state, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, state.Active)
}

func TestTrader_CloseVerdictArchivesAndStartsCooldown(t *testing.T) {
	exch := newFakeExchange()
	tr, store, arch := newTestTrader(t, exch)
	require.NoError(t, tr.Open(context.Background(), openDecision("BTCUSDT")))
	pos := tr.Positions()[0]

	exch.price = 102
	err := tr.Apply(context.Background(), risk.Verdict{
		Kind:     risk.VerdictClose,
		Reason:   "止盈triggered",
		Position: pos,
	})
	require.NoError(t, err)

	assert.Empty(t, tr.Positions())
	require.Len(t, arch.archived, 1)
	closed := arch.archived[0]
	assert.Equal(t, types.StateClosed, closed.State)
	assert.Equal(t, 102.0, closed.ClosePrice)
	assert.Greater(t, closed.RealizedPnL, 0.0)

	state, err := store.Load()
	require.NoError(t, err)
	require.Len(t, state.Closed, 1)

	// 刚平仓的方向处于冷却期，立即再开同向要被闸门拒绝
	err = tr.Open(context.Background(), openDecision("BTCUSDT"))
	assert.Error(t, err)
}

func TestTrader_CloseFailureStaysClosing(t *testing.T) {
	exch := newFakeExchange()
	tr, _, arch := newTestTrader(t, exch)
	require.NoError(t, tr.Open(context.Background(), openDecision("BTCUSDT")))
	pos := tr.Positions()[0]

	exch.closeErr = fmt.Errorf("venue timeout")
	err := tr.Apply(context.Background(), risk.Verdict{
		Kind: risk.VerdictClose, Reason: "stop loss", Position: pos,
	})
	require.Error(t, err)

	// 平仓失败不出账本：停在 CLOSING 等下一轮监控重试
	positions := tr.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, types.StateClosing, positions[0].State)
	assert.Empty(t, arch.archived)
}

func TestTrader_MoveStopVerdict(t *testing.T) {
	exch := newFakeExchange()
	tr, _, _ := newTestTrader(t, exch)
	require.NoError(t, tr.Open(context.Background(), openDecision("BTCUSDT")))
	pos := tr.Positions()[0]

	err := tr.Apply(context.Background(), risk.Verdict{
		Kind:     risk.VerdictMoveStop,
		Reason:   "breakeven before add",
		StopLoss: 100.1,
		Position: pos,
	})
	require.NoError(t, err)

	got := tr.Positions()[0]
	assert.Equal(t, 100.1, got.StopLoss)
	assert.True(t, got.BreakevenMoved)
	require.Len(t, exch.stopReqs, 1)
	assert.Equal(t, 100.1, exch.stopReqs[0].StopLoss)
}

func TestTrader_AddVerdict(t *testing.T) {
	exch := newFakeExchange()
	tr, _, _ := newTestTrader(t, exch)
	require.NoError(t, tr.Open(context.Background(), openDecision("BTCUSDT")))
	pos := tr.Positions()[0]
	baseSize := pos.Size
	baseMargin := pos.Margin

	err := tr.Apply(context.Background(), risk.Verdict{
		Kind: risk.VerdictAdd, Reason: "pyramid", Position: pos,
	})
	require.NoError(t, err)

	got := tr.Positions()[0]
	assert.Equal(t, types.StateOpen, got.State)
	assert.InDelta(t, baseSize*1.5, got.Size, 1e-9)
	assert.InDelta(t, baseMargin*1.5, got.Margin, 1e-9)
	assert.Equal(t, 1, got.Adds)

	// 第二笔请求是加仓单，量为原仓一半
	require.Len(t, exch.openReqs, 2)
	assert.InDelta(t, baseSize/2, exch.openReqs[1].Size, 1e-9)
}

func TestTrader_AddFailureRollsBackState(t *testing.T) {
	exch := newFakeExchange()
	tr, _, _ := newTestTrader(t, exch)
	require.NoError(t, tr.Open(context.Background(), openDecision("BTCUSDT")))
	pos := tr.Positions()[0]

	exch.openErr = fmt.Errorf("margin insufficient")
	err := tr.Apply(context.Background(), risk.Verdict{
		Kind: risk.VerdictAdd, Reason: "pyramid", Position: pos,
	})
	require.Error(t, err)

	got := tr.Positions()[0]
	assert.Equal(t, types.StateOpen, got.State)
	assert.Equal(t, pos.Size, got.Size)
	assert.Zero(t, got.Adds)
}

func TestTrader_PeakNeverRegresses(t *testing.T) {
	exch := newFakeExchange()
	tr, _, _ := newTestTrader(t, exch)
	require.NoError(t, tr.Open(context.Background(), openDecision("BTCUSDT")))
	pos := tr.Positions()[0]

	pos.PeakPnLPct = 25
	require.NoError(t, tr.Apply(context.Background(), risk.Verdict{Kind: risk.VerdictHold, Position: pos}))

	// 旧快照带着低水位回来，账本不回退
	stale := pos
	stale.PeakPnLPct = 10
	require.NoError(t, tr.Apply(context.Background(), risk.Verdict{Kind: risk.VerdictHold, Position: stale}))

	assert.Equal(t, 25.0, tr.Positions()[0].PeakPnLPct)
}

func TestTrader_ReconcileCleansBook(t *testing.T) {
	store, err := tradestate.NewStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	state, err := store.Load()
	require.NoError(t, err)

	now := time.Now().UTC()
	opening := types.Position{
		Symbol: "BTCUSDT", Side: types.SideLong, State: types.StateOpening,
		Tier: "T1", EntryPrice: 100, Size: 1, Margin: 100, Leverage: 10,
		OpenedAt: now, UpdatedAt: now,
	}
	missing := types.Position{
		Symbol: "ETHUSDT", Side: types.SideShort, State: types.StateOpen,
		Tier: "T1", EntryPrice: 2000, Size: 1, Margin: 200, Leverage: 10,
		OpenedAt: now, UpdatedAt: now,
	}
	tracked := types.Position{
		Symbol: "SOLUSDT", Side: types.SideLong, State: types.StateOpen,
		Tier: "T1", EntryPrice: 150, Size: 2, Margin: 50, Leverage: 10,
		OpenedAt: now, UpdatedAt: now,
	}
	state.Active[opening.Key()] = opening
	state.Active[missing.Key()] = missing
	state.Active[tracked.Key()] = tracked
	require.NoError(t, store.Save(state))

	exch := newFakeExchange()
	exch.remote = []exchange.Position{
		{Symbol: "SOLUSDT", Side: types.SideLong, Size: 2, EntryPrice: 150},
	}

	tiers, err := strategy.ParseTiers([]byte(traderTierYAML))
	require.NoError(t, err)
	tr, err := New(exch, store, risk.NewEntryGate(2, 1, 30*time.Minute),
		sizer.New(config.SizingConfig{BaseFraction: 0.15, MinFraction: 0.10, MaxFraction: 0.20, BalanceFloorUSD: 950}),
		tiers, fixedSettings{settings.Defaults()}, nil, nil)
	require.NoError(t, err)
	tr.Start()
	t.Cleanup(tr.Stop)

	require.NoError(t, tr.Reconcile(context.Background()))

	positions := tr.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, "SOLUSDT", positions[0].Symbol)

	reread, err := store.Load()
	require.NoError(t, err)
	require.Len(t, reread.Closed, 1)
	assert.Equal(t, "ETHUSDT", reread.Closed[0].Symbol)
	assert.Equal(t, "reconciled: missing on exchange", reread.Closed[0].CloseReason)
}

func TestTrader_RefusesCorruptStateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	store, err := tradestate.NewStore(path)
	require.NoError(t, err)

	tiers, err := strategy.ParseTiers([]byte(traderTierYAML))
	require.NoError(t, err)
	_, err = New(newFakeExchange(), store, risk.NewEntryGate(2, 1, time.Minute),
		sizer.New(config.SizingConfig{BaseFraction: 0.15, MinFraction: 0.10, MaxFraction: 0.20, BalanceFloorUSD: 950}),
		tiers, fixedSettings{settings.Defaults()}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refusing to trade")
}
