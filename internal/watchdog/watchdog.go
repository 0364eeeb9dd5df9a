package watchdog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/newplayman/futures-screener/internal/metrics"
	"github.com/rs/zerolog/log"
)

// UnknownPing 尚无成功心跳时 PingMillis 返回的哨兵值
const UnknownPing int64 = 9999999

// Pinger 定义REST心跳能力，返回往返耗时
type Pinger interface {
	Ping(ctx context.Context) (time.Duration, error)
}

// Config 心跳配置
type Config struct {
	Interval          time.Duration
	FailureThreshold  int
	RecoveryThreshold int
}

func (c *Config) normalize() {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.RecoveryThreshold <= 0 {
		c.RecoveryThreshold = 2
	}
}

// Probe 后台心跳：每个周期调用一次 Ping 并记录最近一次往返耗时。
// 失败只记录日志，不会终止循环，也不会传播给调用方。
type Probe struct {
	cfg  Config
	rest Pinger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.RWMutex
	latency    time.Duration
	known      bool
	lastOK     time.Time
	failures   int
	recoveries int
	unhealthy  bool
	total      int64
	failed     int64
}

// NewProbe 创建心跳探针
func NewProbe(cfg Config, rest Pinger) *Probe {
	cfg.normalize()
	return &Probe{cfg: cfg, rest: rest}
}

// Start 启动心跳循环；ctx 取消或 Stop 时退出
func (p *Probe) Start(ctx context.Context) {
	if p.rest == nil {
		log.Warn().Msg("心跳未启用：缺少 REST 客户端")
		return
	}

	childCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(childCtx)
	}()
}

// Stop 停止心跳
func (p *Probe) Stop() {
	if p.cancel != nil {
		p.cancel()
		p.wg.Wait()
	}
}

func (p *Probe) run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.probeOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeOnce(ctx)
		}
	}
}

func (p *Probe) probeOnce(ctx context.Context) {
	elapsed, err := p.safePing(ctx)
	if ctx.Err() != nil {
		return
	}
	metrics.RecordPing(elapsed, err)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.total++

	if err != nil {
		p.failed++
		p.failures++
		p.recoveries = 0
		log.Error().Err(err).Int("consecutive", p.failures).Msg("REST心跳失败")
		if p.failures >= p.cfg.FailureThreshold && !p.unhealthy {
			p.unhealthy = true
			log.Error().Msg("REST连续心跳失败，标记为不健康")
		}
		return
	}

	p.latency = elapsed
	p.known = true
	p.lastOK = time.Now()
	p.failures = 0
	if p.unhealthy {
		p.recoveries++
		if p.recoveries >= p.cfg.RecoveryThreshold {
			p.unhealthy = false
			p.recoveries = 0
			log.Info().Dur("latency", elapsed).Msg("REST心跳恢复")
		}
	}
}

// safePing 将 Ping 中的 panic 转为错误，保证循环不退出
func (p *Probe) safePing(ctx context.Context) (elapsed time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return p.rest.Ping(ctx)
}

type panicError struct{ value any }

func (e *panicError) Error() string { return fmt.Sprintf("ping panicked: %v", e.value) }

// Latency 返回最近一次成功心跳的往返耗时；ok=false 表示从未成功
func (p *Probe) Latency() (time.Duration, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latency, p.known
}

// PingMillis 最近一次往返耗时(ms)，未知时返回 UnknownPing
func (p *Probe) PingMillis() int64 {
	lat, ok := p.Latency()
	if !ok {
		return UnknownPing
	}
	return lat.Milliseconds()
}

// Healthy 连续失败未超过阈值
func (p *Probe) Healthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.unhealthy
}

// Stats 心跳统计
type Stats struct {
	Total     int64
	Failed    int64
	LastOK    time.Time
	Healthy   bool
	LatencyMs int64
}

// Stats 返回心跳统计快照
func (p *Probe) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st := Stats{Total: p.total, Failed: p.failed, LastOK: p.lastOK, Healthy: !p.unhealthy, LatencyMs: UnknownPing}
	if p.known {
		st.LatencyMs = p.latency.Milliseconds()
	}
	return st
}
