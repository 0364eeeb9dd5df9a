package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/newplayman/futures-screener/internal/metrics"
	"github.com/rs/zerolog/log"
)

// RateState 权重限流状态快照
type RateState struct {
	UsedWeight       int
	Limit            int
	Margin           int
	LastResponseTime time.Time
	Observed         bool // 是否收到过任何响应
	Throttles        int64
}

// RateGate 按服务端报告的已用权重自限流。
//
// 已用权重超过 limit-margin 时，调用方被挂起到 lastResponseTime 之后的下一个整分钟，
// 之后无条件放行（每次超限只等待一次，不重新检查）。
// mu 只保护计数字段，不跨越网络调用或等待。
type RateGate struct {
	mu           sync.Mutex
	usedWeight   int
	limit        int
	margin       int
	lastResponse time.Time
	observed     bool
	throttles    int64

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

var _ ResponseObserver = (*RateGate)(nil)

// NewRateGate 创建限流闸门，margin<0 视为 0
func NewRateGate(margin int) *RateGate {
	if margin < 0 {
		margin = 0
	}
	return &RateGate{
		margin: margin,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Admit 在发起远程调用前调用；必要时阻塞到下一个整分钟。
// 仅在 ctx 取消时返回错误。
func (g *RateGate) Admit(ctx context.Context) error {
	g.mu.Lock()
	now := g.now()
	wait := g.waitLocked(now)
	if wait > 0 {
		g.throttles++
	}
	used, limit, margin := g.usedWeight, g.limit, g.margin
	g.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	metrics.RecordThrottle(wait)
	log.Warn().
		Int("used_weight", used).
		Int("limit", limit).
		Int("margin", margin).
		Dur("wait", wait).
		Msg("API权重接近上限，挂起至下一分钟")
	return g.sleep(ctx, wait)
}

// waitLocked 计算需要等待的时长；limit 未知时从不阻塞
func (g *RateGate) waitLocked(now time.Time) time.Duration {
	if g.limit <= 0 || g.usedWeight <= g.limit-g.margin {
		return 0
	}
	next := g.lastResponse.Truncate(time.Minute).Add(time.Minute)
	return next.Sub(now)
}

// ObserveResponse 记录响应报告的已用权重与完成时间
func (g *RateGate) ObserveResponse(meta ResponseMeta) {
	received := meta.ReceivedAt
	if received.IsZero() {
		received = g.now()
	}
	g.mu.Lock()
	if meta.HasWeight {
		g.usedWeight = meta.UsedWeight
	}
	g.lastResponse = received
	g.observed = true
	used, limit, margin := g.usedWeight, g.limit, g.margin
	g.mu.Unlock()

	metrics.UpdateWeightMetrics(used, limit, margin)
}

// SetMargin 调整安全余量，下一次 Admit 立即生效
func (g *RateGate) SetMargin(margin int) {
	if margin < 0 {
		margin = 0
	}
	g.mu.Lock()
	g.margin = margin
	used, limit := g.usedWeight, g.limit
	g.mu.Unlock()

	metrics.UpdateWeightMetrics(used, limit, margin)
	log.Info().Int("margin", margin).Msg("API权重余量已更新")
}

// SetLimit 更新权重上限（来自 exchangeInfo）
func (g *RateGate) SetLimit(limit int) {
	g.mu.Lock()
	g.limit = limit
	used, margin := g.usedWeight, g.margin
	g.mu.Unlock()

	metrics.UpdateWeightMetrics(used, limit, margin)
}

// Margin 返回当前安全余量
func (g *RateGate) Margin() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.margin
}

// State 返回状态快照
func (g *RateGate) State() RateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return RateState{
		UsedWeight:       g.usedWeight,
		Limit:            g.limit,
		Margin:           g.margin,
		LastResponseTime: g.lastResponse,
		Observed:         g.observed,
		Throttles:        g.throttles,
	}
}
