package risk

import (
	"fmt"
	"sync"
	"time"

	"orca/internal/types"
)

// 中文说明：
// 入场侧的闸门：槽位、冷却、反向信号。槽位的奖励位不是白给的——
// 候选信号的置信度必须高于当前最弱持仓的入场置信度，换句话说
// 奖励位只留给比存量更好的机会。

// 入场拒绝原因
const (
	ReasonSlotsFull      = "all position slots occupied"
	ReasonBonusNotEarned = "bonus slot requires beating weakest position"
	ReasonCooldown       = "cooldown after recent close"
	ReasonDuplicate      = "position already open for symbol and side"
)

// EntryGate 持有入场闸门的可变状态（冷却表）。
type EntryGate struct {
	baseSlots  int
	bonusSlots int
	cooldown   time.Duration

	mu        sync.Mutex
	lastClose map[string]time.Time // key: "SYMBOL:side"
	nowFn     func() time.Time
}

func NewEntryGate(baseSlots, bonusSlots int, cooldown time.Duration) *EntryGate {
	return &EntryGate{
		baseSlots:  baseSlots,
		bonusSlots: bonusSlots,
		cooldown:   cooldown,
		lastClose:  make(map[string]time.Time),
		nowFn:      time.Now,
	}
}

// Admit 判定一个开仓候选能否入场。active 是当前全部持仓。
func (g *EntryGate) Admit(symbol string, side types.Side, confidence float64, active []types.Position) error {
	key := types.PositionKey(symbol, side)

	for _, pos := range active {
		if pos.Key() == key {
			return fmt.Errorf("%s: %s", ReasonDuplicate, key)
		}
	}

	g.mu.Lock()
	closedAt, hasCooldown := g.lastClose[key]
	now := g.nowFn()
	g.mu.Unlock()
	if hasCooldown && g.cooldown > 0 {
		if since := now.Sub(closedAt); since < g.cooldown {
			return fmt.Errorf("%s: %s for another %s", ReasonCooldown, key, (g.cooldown - since).Truncate(time.Second))
		}
	}

	used := len(active)
	if used < g.baseSlots {
		return nil
	}
	if used >= g.baseSlots+g.bonusSlots {
		return fmt.Errorf("%s (%d/%d)", ReasonSlotsFull, used, g.baseSlots+g.bonusSlots)
	}
	weakest := weakestEntryConfidence(active)
	if confidence <= weakest {
		return fmt.Errorf("%s (%.2f <= %.2f)", ReasonBonusNotEarned, confidence, weakest)
	}
	return nil
}

// RecordClose 记录平仓时刻，启动冷却。
func (g *EntryGate) RecordClose(symbol string, side types.Side, closedAt time.Time) {
	g.mu.Lock()
	g.lastClose[types.PositionKey(symbol, side)] = closedAt
	g.mu.Unlock()
}

func weakestEntryConfidence(active []types.Position) float64 {
	weakest := 1.0
	for _, pos := range active {
		if pos.EntryConfidence < weakest {
			weakest = pos.EntryConfidence
		}
	}
	return weakest
}

// OppositeAction 描述反向信号的处理：先收紧旧仓止损，再放行对侧开仓。
type OppositeAction struct {
	Existing     types.Position
	TightenedSL  float64
	ProceedEntry bool
}

// PlanOpposite 检查新信号是否与已有持仓对向。对向时把旧仓止损收紧到
// 现价与原止损的中点，开仓照常进行（对冲而不是翻仓）。
func PlanOpposite(active []types.Position, symbol string, side types.Side, markPrice float64) *OppositeAction {
	oppKey := types.PositionKey(symbol, side.Opposite())
	for _, pos := range active {
		if pos.Key() != oppKey {
			continue
		}
		return &OppositeAction{
			Existing:     pos,
			TightenedSL:  tightenStop(pos, markPrice),
			ProceedEntry: true,
		}
	}
	return nil
}

// tightenStop 把止损向现价方向挪一半。没设止损的用保本线。
func tightenStop(pos types.Position, mark float64) float64 {
	sl := pos.StopLoss
	if sl <= 0 {
		return BreakevenStop(pos)
	}
	mid := (sl + mark) / 2
	if pos.Side == types.SideLong {
		if mid > sl && mid < mark {
			return mid
		}
		return sl
	}
	if mid < sl && mid > mark {
		return mid
	}
	return sl
}
