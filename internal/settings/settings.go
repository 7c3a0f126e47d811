// Package settings manages the operator-editable runtime switches.
// The file is re-read at most once per TTL, a filesystem watcher
// forces an immediate reload on write, and a broken file falls back
// to the last good snapshot so a half-saved edit can't flip switches.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"orca/internal/logger"

	"github.com/fsnotify/fsnotify"
)

// Settings 是运行期开关的一次快照。值语义，拿到就不会再变。
type Settings struct {
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	PauseTrading        bool    `json:"pause_trading"`
	EmergencyExitAll    bool    `json:"emergency_exit_all"`
	EnableLongs         bool    `json:"enable_longs"`
	EnableShorts        bool    `json:"enable_shorts"`
	TPMultiplier        float64 `json:"tp_multiplier"`
	SLMultiplier        float64 `json:"sl_multiplier"`
}

// Defaults 是文件缺失/字段缺失时的兜底值。只开多不开空是刻意的
// 保守缺省，空头要运营手动打开。
func Defaults() Settings {
	return Settings{
		ConfidenceThreshold: 0.60,
		PauseTrading:        false,
		EmergencyExitAll:    false,
		EnableLongs:         true,
		EnableShorts:        false,
		TPMultiplier:        1.0,
		SLMultiplier:        1.0,
	}
}

type Manager struct {
	path string
	ttl  time.Duration

	mu        sync.Mutex
	current   Settings
	loadedAt  time.Time
	lastGood  Settings
	hasGood   bool
	watcher   *fsnotify.Watcher
	closeOnce sync.Once
	nowFn     func() time.Time
}

func NewManager(path string, ttl time.Duration, watch bool) (*Manager, error) {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	m := &Manager{
		path:    path,
		ttl:     ttl,
		current: Defaults(),
		nowFn:   time.Now,
	}
	m.reload()

	if watch {
		if err := m.startWatcher(); err != nil {
			logger.Warnf("settings: watcher unavailable, falling back to TTL only: %v", err)
		}
	}
	return m, nil
}

// Get returns the active snapshot, reloading if the TTL has expired.
func (m *Manager) Get() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nowFn().Sub(m.loadedAt) >= m.ttl {
		m.reloadLocked()
	}
	return m.current
}

// Invalidate forces the next Get to hit the file.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.loadedAt = time.Time{}
	m.mu.Unlock()
}

func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		if m.watcher != nil {
			err = m.watcher.Close()
		}
	})
	return err
}

func (m *Manager) reload() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadLocked()
}

// reloadLocked 读文件并解析。解析失败回退 last-known-good，
// 从未成功过就用默认值。
func (m *Manager) reloadLocked() {
	m.loadedAt = m.nowFn()
	loaded, err := load(m.path)
	if err != nil {
		if m.hasGood {
			logger.Warnf("settings: reload failed, keeping last good snapshot: %v", err)
			m.current = m.lastGood
		} else {
			logger.Warnf("settings: reload failed, using defaults: %v", err)
			m.current = Defaults()
		}
		return
	}
	m.current = loaded
	m.lastGood = loaded
	m.hasGood = true
}

func load(path string) (Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}
	// 先落默认值，文件里只覆盖出现过的键
	s := Defaults()
	if err := json.Unmarshal(raw, &s); err != nil {
		return Settings{}, fmt.Errorf("parsing settings failed: %w", err)
	}
	if err := validate(s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func validate(s Settings) error {
	if s.ConfidenceThreshold < 0 || s.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold %.2f out of [0, 1]", s.ConfidenceThreshold)
	}
	if s.TPMultiplier <= 0 || s.SLMultiplier <= 0 {
		return fmt.Errorf("tp/sl multipliers must be positive")
	}
	return nil
}

func (m *Manager) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// watch 目录而不是文件：编辑器原子保存会换 inode
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		return err
	}
	m.watcher = watcher
	go m.watchLoop()
	return nil
}

func (m *Manager) watchLoop() {
	base := filepath.Base(m.path)
	for {
		select {
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			logger.Infof("settings: %s changed on disk, reloading", base)
			m.reload()
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("settings: watcher error: %v", err)
		}
	}
}
