package store

import (
	"sort"
	"sync"
	"time"

	gateway "github.com/newplayman/futures-screener/internal/exchange"
	"github.com/newplayman/futures-screener/internal/leverage"
	"github.com/rs/zerolog/log"
)

// LeverageSet 一次成功杠杆刷新的发布结果
type LeverageSet struct {
	RunID     string            `json:"run_id"`
	UpdatedAt time.Time         `json:"updated_at"`
	Params    leverage.Params   `json:"params"`
	Results   []leverage.Result `json:"items"`
	Skipped   []string          `json:"skipped"`
}

// OrderbookBatch 一次成功订单簿刷新的全部快照
type OrderbookBatch struct {
	RunID     string          `json:"run_id"`
	UpdatedAt time.Time       `json:"updated_at"`
	Snapshots []gateway.Depth `json:"-"`
}

// Symbols 批次内的交易对（排序）
func (b *OrderbookBatch) Symbols() []string {
	if b == nil {
		return nil
	}
	out := make([]string, 0, len(b.Snapshots))
	for _, s := range b.Snapshots {
		out = append(out, s.Symbol)
	}
	sort.Strings(out)
	return out
}

// Store 已发布结果的持有者。结果只做整体替换，读取方拿到的是不可变快照。
type Store struct {
	mu sync.RWMutex

	leverages  *LeverageSet
	orderbooks *OrderbookBatch

	progress map[Kind]Progress
}

// NewStore 创建新的存储实例
func NewStore() *Store {
	return &Store{progress: make(map[Kind]Progress)}
}

// PublishLeverages 整体替换杠杆结果
func (s *Store) PublishLeverages(set LeverageSet) {
	if set.Results == nil {
		set.Results = []leverage.Result{}
	}
	if set.Skipped == nil {
		set.Skipped = []string{}
	}
	s.mu.Lock()
	s.leverages = &set
	s.mu.Unlock()

	log.Info().
		Str("run_id", set.RunID).
		Int("symbols", len(set.Results)).
		Int("skipped", len(set.Skipped)).
		Msg("杠杆结果已发布")
}

// Leverages 返回最近一次发布的杠杆结果，尚未发布时为 nil
func (s *Store) Leverages() *LeverageSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leverages
}

// PublishOrderbooks 整体替换订单簿批次
func (s *Store) PublishOrderbooks(batch OrderbookBatch) {
	s.mu.Lock()
	s.orderbooks = &batch
	s.mu.Unlock()

	log.Info().
		Str("run_id", batch.RunID).
		Int("symbols", len(batch.Snapshots)).
		Msg("订单簿批次已发布")
}

// Orderbooks 返回最近一次发布的订单簿批次，尚未发布时为 nil
func (s *Store) Orderbooks() *OrderbookBatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orderbooks
}
