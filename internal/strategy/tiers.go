// Package strategy loads the versioned tier table that maps market-cap
// tiers to leverage and exit parameters. The table is data, not code:
// tuning it means editing the YAML file, with version history preserved
// in the file itself.
package strategy

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TierConfig 是单个市值档位的完整风控参数。
type TierConfig struct {
	Name           string   `yaml:"name"`
	Leverage       int      `yaml:"leverage"`
	StopLossPct    float64  `yaml:"stop_loss_pct"`
	TakeProfitPct  float64  `yaml:"take_profit_pct"`
	TrailingPct    float64  `yaml:"trailing_pct"`
	MaxHoldMinutes int      `yaml:"max_hold_minutes"`
	Symbols        []string `yaml:"symbols"`
}

// MaxHold returns the tier's hold limit as a duration.
func (t TierConfig) MaxHold() time.Duration {
	return time.Duration(t.MaxHoldMinutes) * time.Minute
}

type tierFile struct {
	Version int          `yaml:"version"`
	Default string       `yaml:"default"`
	Tiers   []TierConfig `yaml:"tiers"`
}

// Tiers 是解析后的档位表，按 symbol 查询，查不到落到默认档。
type Tiers struct {
	Version  int
	fallback string
	byName   map[string]TierConfig
	bySymbol map[string]string
}

// LoadTiers reads and validates the tier table from a YAML file.
func LoadTiers(path string) (*Tiers, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tier table failed: %w", err)
	}
	return ParseTiers(raw)
}

// ParseTiers 解析档位表。每个档位的参数都必须显式给出，
// 避免"半配置"档位悄悄用零值上线。
func ParseTiers(raw []byte) (*Tiers, error) {
	var f tierFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing tier table failed: %w", err)
	}
	if len(f.Tiers) == 0 {
		return nil, fmt.Errorf("tier table contains no tiers")
	}
	t := &Tiers{
		Version:  f.Version,
		fallback: strings.TrimSpace(f.Default),
		byName:   make(map[string]TierConfig, len(f.Tiers)),
		bySymbol: make(map[string]string),
	}
	for _, tier := range f.Tiers {
		name := strings.TrimSpace(tier.Name)
		if name == "" {
			return nil, fmt.Errorf("tier without name")
		}
		if _, dup := t.byName[name]; dup {
			return nil, fmt.Errorf("duplicate tier %q", name)
		}
		if err := validateTier(tier); err != nil {
			return nil, fmt.Errorf("tier %q: %w", name, err)
		}
		tier.Name = name
		t.byName[name] = tier
		for _, sym := range tier.Symbols {
			sym = strings.ToUpper(strings.TrimSpace(sym))
			if sym == "" {
				continue
			}
			if prev, dup := t.bySymbol[sym]; dup {
				return nil, fmt.Errorf("symbol %s assigned to both %q and %q", sym, prev, name)
			}
			t.bySymbol[sym] = name
		}
	}
	if t.fallback == "" {
		return nil, fmt.Errorf("tier table missing default tier")
	}
	if _, ok := t.byName[t.fallback]; !ok {
		return nil, fmt.Errorf("default tier %q not defined", t.fallback)
	}
	return t, nil
}

func validateTier(t TierConfig) error {
	if t.Leverage < 1 {
		return fmt.Errorf("leverage must be >= 1")
	}
	if t.StopLossPct <= 0 || t.StopLossPct >= 1 {
		return fmt.Errorf("stop_loss_pct must be in (0, 1)")
	}
	if t.TakeProfitPct <= 0 {
		return fmt.Errorf("take_profit_pct must be positive")
	}
	if t.TrailingPct <= 0 || t.TrailingPct >= t.StopLossPct+t.TakeProfitPct {
		return fmt.Errorf("trailing_pct out of range")
	}
	if t.MaxHoldMinutes <= 0 {
		return fmt.Errorf("max_hold_minutes must be positive")
	}
	return nil
}

// ForSymbol returns the tier governing the symbol, falling back to the
// default tier for anything unlisted.
func (t *Tiers) ForSymbol(symbol string) TierConfig {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if name, ok := t.bySymbol[symbol]; ok {
		return t.byName[name]
	}
	return t.byName[t.fallback]
}

// ByName looks up a tier directly, for positions that already recorded
// their tier at entry.
func (t *Tiers) ByName(name string) (TierConfig, bool) {
	tier, ok := t.byName[strings.TrimSpace(name)]
	return tier, ok
}

// Names returns the defined tier names in sorted order.
func (t *Tiers) Names() []string {
	names := make([]string, 0, len(t.byName))
	for name := range t.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
