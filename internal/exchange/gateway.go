package gateway

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Gateway 期货 API 的唯一访问入口：每次调用先经过 RateGate 准入，
// 然后委托给底层 FuturesAPI。错误原样返回，不做重试。
type Gateway struct {
	api   FuturesAPI
	gate  *RateGate
	clock *TimeSync
	info  atomic.Pointer[ExchangeInfo]
}

// Option 网关可选项
type Option func(*Gateway)

// WithTimeSync 签名请求前按需同步服务器时间
func WithTimeSync(ts *TimeSync) Option {
	return func(g *Gateway) { g.clock = ts }
}

// NewGateway 创建网关；gate 为空时使用 margin=0 的默认闸门
func NewGateway(api FuturesAPI, gate *RateGate, opts ...Option) *Gateway {
	if gate == nil {
		gate = NewRateGate(0)
	}
	g := &Gateway{api: api, gate: gate}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Bootstrap 启动时同步服务器时间并拉取交易所元数据
func (g *Gateway) Bootstrap(ctx context.Context) error {
	if g.clock != nil {
		if _, err := g.ServerTime(ctx); err != nil {
			return fmt.Errorf("sync server time: %w", err)
		}
	}
	info, err := g.ExchangeInfo(ctx)
	if err != nil {
		return fmt.Errorf("load exchange info: %w", err)
	}
	log.Info().
		Int("symbols", len(info.Symbols)).
		Int("weight_limit", info.WeightLimit()).
		Msg("交易所元数据加载完成")
	return nil
}

func (g *Gateway) admit(ctx context.Context) error {
	if g.api == nil {
		return ErrNilClient
	}
	return g.gate.Admit(ctx)
}

// ExchangeInfo 拉取元数据并整体替换缓存，同时刷新权重上限
func (g *Gateway) ExchangeInfo(ctx context.Context) (*ExchangeInfo, error) {
	if err := g.admit(ctx); err != nil {
		return nil, err
	}
	info, err := g.api.ExchangeInfo(ctx)
	if err != nil {
		return nil, err
	}
	g.info.Store(info)
	if limit := info.WeightLimit(); limit > 0 {
		g.gate.SetLimit(limit)
	}
	return info, nil
}

// LeverageBrackets 拉取杠杆分层（签名接口）
func (g *Gateway) LeverageBrackets(ctx context.Context, symbol string) ([]LeverageBracket, error) {
	if g.clock != nil && g.clock.NeedsSync() {
		if _, err := g.ServerTime(ctx); err != nil {
			log.Warn().Err(err).Msg("服务器时间同步失败，使用本地时间签名")
		}
	}
	if err := g.admit(ctx); err != nil {
		return nil, err
	}
	return g.api.LeverageBrackets(ctx, symbol)
}

// Depth 拉取订单簿快照
func (g *Gateway) Depth(ctx context.Context, symbol string, limit int) (*Depth, error) {
	if err := g.admit(ctx); err != nil {
		return nil, err
	}
	return g.api.Depth(ctx, symbol, limit)
}

// Ticker24h 24h 行情透传
func (g *Gateway) Ticker24h(ctx context.Context, symbol string) ([]Ticker24h, error) {
	if err := g.admit(ctx); err != nil {
		return nil, err
	}
	return g.api.Ticker24h(ctx, symbol)
}

// ServerTime 服务器时间透传
func (g *Gateway) ServerTime(ctx context.Context) (time.Time, error) {
	if err := g.admit(ctx); err != nil {
		return time.Time{}, err
	}
	return g.api.ServerTime(ctx)
}

// Ping 经过准入的连通性检查
func (g *Gateway) Ping(ctx context.Context) (time.Duration, error) {
	if err := g.admit(ctx); err != nil {
		return 0, err
	}
	return g.api.Ping(ctx)
}

// Info 返回缓存的交易所元数据，尚未拉取时为 nil
func (g *Gateway) Info() *ExchangeInfo {
	return g.info.Load()
}

// Load 返回 (已用权重, 上限)；从不失败，未收到响应时已用权重为 0
func (g *Gateway) Load() (int, int) {
	st := g.gate.State()
	used := 0
	if st.Observed {
		used = st.UsedWeight
	}
	limit := st.Limit
	if info := g.info.Load(); info != nil && info.WeightLimit() > 0 {
		limit = info.WeightLimit()
	}
	return used, limit
}

// SetMargin 调整自限流余量
func (g *Gateway) SetMargin(margin int) {
	g.gate.SetMargin(margin)
}

// Margin 当前自限流余量
func (g *Gateway) Margin() int {
	return g.gate.Margin()
}

// RateState 限流状态快照
func (g *Gateway) RateState() RateState {
	return g.gate.State()
}
