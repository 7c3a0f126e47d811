package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSettings(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestManager_MissingFileUsesDefaults(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "none.json"), time.Minute, false)
	require.NoError(t, err)
	defer m.Close()

	s := m.Get()
	assert.Equal(t, Defaults(), s)
	assert.True(t, s.EnableLongs)
	assert.False(t, s.EnableShorts)
}

func TestManager_PartialFileKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	writeSettings(t, path, `{"pause_trading": true}`)

	m, err := NewManager(path, time.Minute, false)
	require.NoError(t, err)
	defer m.Close()

	s := m.Get()
	assert.True(t, s.PauseTrading)
	assert.InDelta(t, 0.60, s.ConfidenceThreshold, 1e-9)
	assert.InDelta(t, 1.0, s.TPMultiplier, 1e-9)
}

func TestManager_TTLControlsReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	writeSettings(t, path, `{"confidence_threshold": 0.70}`)

	m, err := NewManager(path, time.Minute, false)
	require.NoError(t, err)
	defer m.Close()

	now := time.Now()
	m.nowFn = func() time.Time { return now }
	m.Invalidate()
	assert.InDelta(t, 0.70, m.Get().ConfidenceThreshold, 1e-9)

	// TTL 内改文件不生效
	writeSettings(t, path, `{"confidence_threshold": 0.90}`)
	assert.InDelta(t, 0.70, m.Get().ConfidenceThreshold, 1e-9)

	// TTL 过期后生效
	now = now.Add(2 * time.Minute)
	assert.InDelta(t, 0.90, m.Get().ConfidenceThreshold, 1e-9)
}

func TestManager_BrokenFileFallsBackToLastGood(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	writeSettings(t, path, `{"confidence_threshold": 0.75, "enable_shorts": true}`)

	m, err := NewManager(path, time.Minute, false)
	require.NoError(t, err)
	defer m.Close()

	writeSettings(t, path, `{"confidence_threshold": 0.75,`)
	m.Invalidate()

	s := m.Get()
	assert.InDelta(t, 0.75, s.ConfidenceThreshold, 1e-9)
	assert.True(t, s.EnableShorts)
}

func TestManager_InvalidValuesRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	writeSettings(t, path, `{"confidence_threshold": 1.5}`)

	m, err := NewManager(path, time.Minute, false)
	require.NoError(t, err)
	defer m.Close()
	// 从未成功加载过：回落默认
	assert.Equal(t, Defaults(), m.Get())

	writeSettings(t, path, `{"sl_multiplier": 0}`)
	m.Invalidate()
	assert.Equal(t, Defaults(), m.Get())
}

func TestManager_InvalidateForcesNextRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	writeSettings(t, path, `{"pause_trading": false}`)

	m, err := NewManager(path, time.Hour, false)
	require.NoError(t, err)
	defer m.Close()
	assert.False(t, m.Get().PauseTrading)

	writeSettings(t, path, `{"pause_trading": true}`)
	m.Invalidate()
	assert.True(t, m.Get().PauseTrading)
}
