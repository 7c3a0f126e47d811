// Package history archives closed trades into sqlite. The state file
// only keeps the live book; everything that ever closed lands here so
// the record survives state-file rotation.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"orca/internal/types"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ClosedTradeModel maps to the 'closed_trades' table.
type ClosedTradeModel struct {
	ID          uint           `gorm:"primaryKey;autoIncrement"`
	Symbol      string         `gorm:"column:symbol;index:idx_symbol_side,priority:1"`
	Side        string         `gorm:"column:side;index:idx_symbol_side,priority:2"`
	Tier        string         `gorm:"column:tier"`
	EntryPrice  float64        `gorm:"column:entry_price"`
	ClosePrice  float64        `gorm:"column:close_price"`
	Size        float64        `gorm:"column:size"`
	MarginUSD   float64        `gorm:"column:margin_usd"`
	Leverage    int            `gorm:"column:leverage"`
	RealizedPnL float64        `gorm:"column:realized_pnl"`
	PeakPnLPct  float64        `gorm:"column:peak_pnl_pct"`
	Adds        int            `gorm:"column:adds"`
	CloseReason string         `gorm:"column:close_reason"`
	Detail      datatypes.JSON `gorm:"column:detail;type:TEXT"`
	OpenedAt    int64          `gorm:"column:opened_at"`
	ClosedAt    int64          `gorm:"column:closed_at;index"`
}

func (ClosedTradeModel) TableName() string { return "closed_trades" }

type Store struct {
	db *gorm.DB
}

func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("history database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	return newStore(db)
}

// NewFromDB 供测试用内存库注入。
func NewFromDB(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db 不能为空")
	}
	return newStore(db)
}

func newStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&ClosedTradeModel{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &Store{db: db}, nil
}

// Archive 写入一条已平仓记录。完整仓位快照进 Detail 列，
// 查询常用的字段拉平成列。
func (s *Store) Archive(ctx context.Context, pos types.Position) error {
	detail, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("marshaling position detail: %w", err)
	}
	rec := ClosedTradeModel{
		Symbol:      pos.Symbol,
		Side:        string(pos.Side),
		Tier:        pos.Tier,
		EntryPrice:  pos.EntryPrice,
		ClosePrice:  pos.ClosePrice,
		Size:        pos.Size,
		MarginUSD:   pos.Margin,
		Leverage:    pos.Leverage,
		RealizedPnL: pos.RealizedPnL,
		PeakPnLPct:  pos.PeakPnLPct,
		Adds:        pos.Adds,
		CloseReason: pos.CloseReason,
		Detail:      datatypes.JSON(detail),
		OpenedAt:    pos.OpenedAt.Unix(),
		ClosedAt:    pos.ClosedAt.Unix(),
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// Recent 按平仓时间倒序取最近 n 条。
func (s *Store) Recent(ctx context.Context, n int) ([]ClosedTradeModel, error) {
	var out []ClosedTradeModel
	err := s.db.WithContext(ctx).Order("closed_at DESC").Limit(n).Find(&out).Error
	return out, err
}

// Summary 汇总一段时间内的战绩。
type Summary struct {
	Trades   int
	Wins     int
	TotalPnL float64
}

func (s *Store) Summarize(ctx context.Context, since time.Time) (Summary, error) {
	var rows []ClosedTradeModel
	if err := s.db.WithContext(ctx).Where("closed_at >= ?", since.Unix()).Find(&rows).Error; err != nil {
		return Summary{}, err
	}
	var sum Summary
	for _, r := range rows {
		sum.Trades++
		if r.RealizedPnL > 0 {
			sum.Wins++
		}
		sum.TotalPnL += r.RealizedPnL
	}
	return sum, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
