// Package sizer computes margin and contract size for a new entry.
// 中文说明：
// 仓位 = 可用余额 × 基础比例 × 置信度阶梯 × 波动率折减，夹在
// [min, max] 区间内。对比下限用的是可用余额：已占用的保证金不该
// 让账户"看起来"还有钱。
package sizer

import (
	"fmt"

	"orca/internal/config"
	"orca/internal/market"
	"orca/internal/strategy"

	"github.com/shopspring/decimal"
)

// ErrBalanceFloor 表示可用余额低于保护线，放弃开仓。
var ErrBalanceFloor = fmt.Errorf("available balance below floor")

// Request 是一次算仓请求。AvailableUSD 必须是可用余额，不是总权益。
type Request struct {
	Symbol       string
	AvailableUSD float64
	Confidence   float64
	ATRPct       float64
	Price        float64
	SizeStep     float64
	Tier         strategy.TierConfig
}

// Result 是算仓结果，Size 已经按合约步长向下取整。
type Result struct {
	MarginUSD float64
	Size      float64
	Fraction  float64
	Leverage  int
}

type Sizer struct {
	cfg config.SizingConfig
}

func New(cfg config.SizingConfig) *Sizer {
	return &Sizer{cfg: cfg}
}

func (s *Sizer) Compute(req Request) (Result, error) {
	if req.AvailableUSD < s.cfg.BalanceFloorUSD {
		return Result{}, fmt.Errorf("%w: %.2f < %.2f", ErrBalanceFloor, req.AvailableUSD, s.cfg.BalanceFloorUSD)
	}
	if req.Price <= 0 {
		return Result{}, fmt.Errorf("price must be positive, got %f", req.Price)
	}
	if req.Tier.Leverage < 1 {
		return Result{}, fmt.Errorf("tier %q has no leverage", req.Tier.Name)
	}

	fraction := s.cfg.BaseFraction * confidenceStep(req.Confidence) * market.VolatilityMultiplier(req.ATRPct)
	if fraction < s.cfg.MinFraction {
		fraction = s.cfg.MinFraction
	}
	if fraction > s.cfg.MaxFraction {
		fraction = s.cfg.MaxFraction
	}

	margin := req.AvailableUSD * fraction
	size := roundToStep(margin*float64(req.Tier.Leverage)/req.Price, req.SizeStep)
	if size <= 0 {
		return Result{}, fmt.Errorf("size rounds to zero (margin=%.2f price=%.4f step=%v)", margin, req.Price, req.SizeStep)
	}
	return Result{
		MarginUSD: margin,
		Size:      size,
		Fraction:  fraction,
		Leverage:  req.Tier.Leverage,
	}, nil
}

// confidenceStep 是阶梯而不是线性：裁决置信度本身就是粗粒度的。
func confidenceStep(conf float64) float64 {
	switch {
	case conf > 0.80:
		return 1.3
	case conf > 0.70:
		return 1.15
	case conf > 0.60:
		return 1.0
	default:
		return 0.85
	}
}

// roundToStep 向下取整到合约步长。用 decimal 避免 0.1+0.2 这类
// 二进制浮点误差把边界单推过线。
func roundToStep(size, step float64) float64 {
	if step <= 0 {
		return size
	}
	d := decimal.NewFromFloat(size)
	st := decimal.NewFromFloat(step)
	steps := d.Div(st).Floor()
	out, _ := steps.Mul(st).Float64()
	return out
}
