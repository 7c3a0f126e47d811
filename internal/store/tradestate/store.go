// Package tradestate persists the position book as a single JSON file.
// 中文说明：
// 状态文件是唯一的真相来源。读不出来就拒绝交易——带着错误的持仓
// 视图下单比停摆危险得多。写入走临时文件 + rename，崩溃最多丢一次
// 更新，不会留半个文件。
package tradestate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"orca/internal/types"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrCorrupt 表示状态文件存在但不可信。上层必须停止开平仓。
var ErrCorrupt = fmt.Errorf("trade state file is corrupt")

// File 是状态文件的根结构。active 按 "SYMBOL:side" 键入。
type File struct {
	Active map[string]types.Position `json:"active"`
	Closed []types.Position          `json:"closed"`
}

func NewFile() *File {
	return &File{
		Active: make(map[string]types.Position),
		Closed: nil,
	}
}

// Positions returns active positions in deterministic key order.
func (f *File) Positions() []types.Position {
	keys := make([]string, 0, len(f.Active))
	for k := range f.Active {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]types.Position, 0, len(keys))
	for _, k := range keys {
		out = append(out, f.Active[k])
	}
	return out
}

const stateSchema = `{
  "type": "object",
  "required": ["active", "closed"],
  "properties": {
    "active": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["symbol", "side", "state", "entry_price", "size", "margin", "leverage"],
        "properties": {
          "symbol":      {"type": "string", "minLength": 1},
          "side":        {"enum": ["long", "short"]},
          "state":       {"enum": ["OPENING", "OPEN", "SCALING", "CLOSING"]},
          "entry_price": {"type": "number", "exclusiveMinimum": 0},
          "size":        {"type": "number", "exclusiveMinimum": 0},
          "margin":      {"type": "number", "exclusiveMinimum": 0},
          "leverage":    {"type": "integer", "minimum": 1},
          "peak_pnl_pct": {"type": "number"}
        }
      }
    },
    "closed": {
      "type": ["array", "null"],
      "items": {"type": "object"}
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("trade_state.json", stateSchema)

type Store struct {
	mu   sync.Mutex
	path string
}

func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("state path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &Store{path: path}, nil
}

// Load 读出完整状态。文件不存在视为空账本；存在但损坏返回 ErrCorrupt。
func (s *Store) Load() (*File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return NewFile(), nil
	}
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrCorrupt)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var f File
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if f.Active == nil {
		f.Active = make(map[string]types.Position)
	}
	for key, pos := range f.Active {
		if key != pos.Key() {
			return nil, fmt.Errorf("%w: key %q does not match position %s", ErrCorrupt, key, pos.Key())
		}
	}
	return &f, nil
}

// Save 原子落盘：写临时文件、fsync、rename。
func (s *Store) Save(f *File) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".trade_state-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}

// Path returns the backing file path, for logs.
func (s *Store) Path() string {
	return s.path
}
