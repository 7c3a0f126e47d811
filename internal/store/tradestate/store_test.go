package tradestate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"orca/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "trade_state.json"))
	require.NoError(t, err)
	return s
}

func samplePosition() types.Position {
	return types.Position{
		Symbol:     "BTCUSDT",
		Side:       types.SideLong,
		State:      types.StateOpen,
		Tier:       "T1",
		EntryPrice: 50000,
		Size:       0.5,
		Margin:     250,
		Leverage:   10,
		StopLoss:   48750,
		TakeProfit: 56000,
		OpenedAt:   time.Now().UTC().Truncate(time.Second),
	}
}

func TestStore_MissingFileIsEmptyBook(t *testing.T) {
	f, err := testStore(t).Load()
	require.NoError(t, err)
	assert.Empty(t, f.Active)
	assert.Empty(t, f.Closed)
}

func TestStore_RoundTrip(t *testing.T) {
	s := testStore(t)
	f := NewFile()
	pos := samplePosition()
	f.Active[pos.Key()] = pos
	f.Closed = append(f.Closed, types.Position{
		Symbol: "ETHUSDT", Side: types.SideShort, State: types.StateClosed,
		EntryPrice: 3000, Size: 1, Margin: 100, Leverage: 5,
		CloseReason: "stop loss",
	})
	require.NoError(t, s.Save(f))

	got, err := s.Load()
	require.NoError(t, err)
	require.Len(t, got.Active, 1)
	assert.Equal(t, pos.EntryPrice, got.Active["BTCUSDT:long"].EntryPrice)
	require.Len(t, got.Closed, 1)
	assert.Equal(t, "stop loss", got.Closed[0].CloseReason)
}

func TestStore_EmptyFileIsCorrupt(t *testing.T) {
	s := testStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("  \n"), 0o644))
	_, err := s.Load()
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestStore_MalformedJSONIsCorrupt(t *testing.T) {
	s := testStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte(`{"active": {`), 0o644))
	_, err := s.Load()
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestStore_SchemaViolationIsCorrupt(t *testing.T) {
	s := testStore(t)
	// size 为 0 违反 schema
	raw := `{"active":{"BTCUSDT:long":{"symbol":"BTCUSDT","side":"long","state":"OPEN","entry_price":100,"size":0,"margin":10,"leverage":5}},"closed":null}`
	require.NoError(t, os.WriteFile(s.Path(), []byte(raw), 0o644))
	_, err := s.Load()
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestStore_ClosedStateNotAllowedInActive(t *testing.T) {
	s := testStore(t)
	raw := `{"active":{"BTCUSDT:long":{"symbol":"BTCUSDT","side":"long","state":"CLOSED","entry_price":100,"size":1,"margin":10,"leverage":5}},"closed":null}`
	require.NoError(t, os.WriteFile(s.Path(), []byte(raw), 0o644))
	_, err := s.Load()
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestStore_KeyMismatchIsCorrupt(t *testing.T) {
	s := testStore(t)
	raw := `{"active":{"ETHUSDT:long":{"symbol":"BTCUSDT","side":"long","state":"OPEN","entry_price":100,"size":1,"margin":10,"leverage":5}},"closed":null}`
	require.NoError(t, os.WriteFile(s.Path(), []byte(raw), 0o644))
	_, err := s.Load()
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestFile_PositionsDeterministicOrder(t *testing.T) {
	f := NewFile()
	for _, sym := range []string{"ZRXUSDT", "AAVEUSDT", "MIDUSDT"} {
		f.Active[sym+":long"] = types.Position{Symbol: sym, Side: types.SideLong}
	}
	got := f.Positions()
	require.Len(t, got, 3)
	assert.Equal(t, "AAVEUSDT", got[0].Symbol)
	assert.Equal(t, "MIDUSDT", got[1].Symbol)
	assert.Equal(t, "ZRXUSDT", got[2].Symbol)
}
