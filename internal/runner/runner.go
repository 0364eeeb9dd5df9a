package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	gateway "github.com/newplayman/futures-screener/internal/exchange"
	"github.com/newplayman/futures-screener/internal/leverage"
	"github.com/newplayman/futures-screener/internal/metrics"
	"github.com/newplayman/futures-screener/internal/orderbook"
	"github.com/newplayman/futures-screener/internal/store"
	"github.com/rs/zerolog/log"
)

// Exchange runner 依赖的网关能力
type Exchange interface {
	ExchangeInfo(ctx context.Context) (*gateway.ExchangeInfo, error)
	LeverageBrackets(ctx context.Context, symbol string) ([]gateway.LeverageBracket, error)
	Depth(ctx context.Context, symbol string, limit int) (*gateway.Depth, error)
}

// Options runner 配置
type Options struct {
	DepthLimit int
	// Symbols 非空时只刷新这些交易对（与元数据推导的集合取交集）
	Symbols []string
}

// Runner 驱动刷新任务并发布结果。每类刷新同时最多一个在跑，重复请求直接拒绝。
type Runner struct {
	exchange Exchange
	store    *store.Store
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	leverageBusy  atomic.Bool
	orderbookBusy atomic.Bool

	stopped bool
	mu      sync.Mutex
}

// NewRunner 创建Runner实例
func NewRunner(exch Exchange, st *store.Store, opts Options) *Runner {
	if opts.DepthLimit <= 0 {
		opts.DepthLimit = DEPTH_SNAPSHOT_LIMIT
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		exchange: exch,
		store:    st,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Stop 取消所有刷新任务并等待退出
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()

	log.Info().Msg("Runner已停止")
}

// Wait 等待当前所有刷新任务结束
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Busy 返回 (杠杆刷新中, 订单簿刷新中)
func (r *Runner) Busy() (bool, bool) {
	return r.leverageBusy.Load(), r.orderbookBusy.Load()
}

func (r *Runner) spawn(busy *atomic.Bool, fn func(ctx context.Context)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrStopped
	}
	if !busy.CompareAndSwap(false, true) {
		return ErrRefreshInProgress
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer busy.Store(false)
		fn(r.ctx)
	}()
	return nil
}

// RefreshLeverages 异步刷新杠杆；返回本次任务的 run id
func (r *Runner) RefreshLeverages(params leverage.Params) (string, error) {
	runID := uuid.NewString()
	err := r.spawn(&r.leverageBusy, func(ctx context.Context) {
		if err := r.refreshLeverages(ctx, runID, params); err != nil {
			log.Error().Err(err).Str("run_id", runID).Msg("杠杆刷新失败")
		}
	})
	if err != nil {
		return "", err
	}
	return runID, nil
}

func (r *Runner) refreshLeverages(ctx context.Context, runID string, params leverage.Params) (err error) {
	start := time.Now()
	r.store.SetProgress(store.KindLeverage, 0, 2, true)
	defer func() {
		metrics.RecordRefresh(string(store.KindLeverage), err == nil, time.Since(start))
		if err != nil {
			r.store.ResetProgress(store.KindLeverage)
			recordFailure(err, "")
		}
	}()

	info, err := r.exchange.ExchangeInfo(ctx)
	if err != nil {
		return fmt.Errorf("fetch exchange info: %w", err)
	}
	r.store.SetProgress(store.KindLeverage, 1, 2, true)

	brackets, err := r.exchange.LeverageBrackets(ctx, "")
	if err != nil {
		return fmt.Errorf("fetch leverage brackets: %w", err)
	}

	report := leverage.Aggregate(info, brackets, params)
	r.store.PublishLeverages(store.LeverageSet{
		RunID:     runID,
		UpdatedAt: time.Now(),
		Params:    params,
		Results:   report.Results,
		Skipped:   report.Skipped,
	})
	r.store.SetProgress(store.KindLeverage, 2, 2, false)
	return nil
}

// Classify 基于当前已发布的订单簿批次分类
func (r *Runner) Classify(params orderbook.Params) (orderbook.Result, error) {
	batch := r.store.Orderbooks()
	if batch == nil {
		return orderbook.Result{}, ErrNoSnapshots
	}
	res := orderbook.Classify(batch.Snapshots, params)

	list := "blacklist"
	if params.Whitelist {
		list = "whitelist"
	}
	metrics.UpdateClassification(list, res.Count)
	log.Debug().
		Str("list", list).
		Int("count", res.Count).
		Int("skipped", len(res.Skipped)).
		Msg("订单簿分类完成")
	return res, nil
}

func recordFailure(err error, symbol string) {
	if errors.Is(err, context.Canceled) {
		return
	}
	label := "transport"
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) {
		label = apiErr.Type.String()
	}
	metrics.RecordError(label, symbol)
}
