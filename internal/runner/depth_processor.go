package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	gateway "github.com/newplayman/futures-screener/internal/exchange"
	"github.com/newplayman/futures-screener/internal/metrics"
	"github.com/newplayman/futures-screener/internal/orderbook"
	"github.com/newplayman/futures-screener/internal/store"
	"github.com/rs/zerolog/log"
)

// RefreshOrderbooks 异步拉取整批订单簿快照；返回本次任务的 run id
func (r *Runner) RefreshOrderbooks() (string, error) {
	runID := uuid.NewString()
	err := r.spawn(&r.orderbookBusy, func(ctx context.Context) {
		if err := r.refreshOrderbooks(ctx, runID); err != nil {
			log.Error().Err(err).Str("run_id", runID).Msg("订单簿刷新失败，本批次已丢弃")
		}
	})
	if err != nil {
		return "", err
	}
	return runID, nil
}

// refreshOrderbooks 顺序拉取每个交易对的深度。任一失败则整批丢弃、进度归零，
// 之前发布的批次保持不变。
func (r *Runner) refreshOrderbooks(ctx context.Context, runID string) (err error) {
	start := time.Now()
	kind := string(store.KindOrderbook)
	var failedSymbol string
	defer func() {
		metrics.RecordRefresh(kind, err == nil, time.Since(start))
		if err != nil {
			r.store.ResetProgress(store.KindOrderbook)
			metrics.UpdateRefreshProgress(kind, 0)
			recordFailure(err, failedSymbol)
		}
	}()

	info, err := r.exchange.ExchangeInfo(ctx)
	if err != nil {
		return fmt.Errorf("fetch exchange info: %w", err)
	}
	symbols := r.universe(info)
	total := len(symbols)
	r.store.SetProgress(store.KindOrderbook, 0, total, true)
	metrics.UpdateRefreshProgress(kind, 0)

	log.Info().Str("run_id", runID).Int("symbols", total).Msg("开始刷新订单簿")

	snapshots := make([]gateway.Depth, 0, total)
	for i, symbol := range symbols {
		fetchStart := time.Now()
		depth, err := r.exchange.Depth(ctx, symbol, r.opts.DepthLimit)
		if err != nil {
			failedSymbol = symbol
			return fmt.Errorf("fetch depth %s: %w", symbol, err)
		}
		if ms := time.Since(fetchStart).Milliseconds(); ms > DEPTH_FETCH_SLOW_MS {
			log.Warn().Str("symbol", symbol).Int64("elapsed_ms", ms).Msg("深度拉取较慢")
		}
		snap := *depth
		if snap.Symbol == "" {
			snap.Symbol = symbol
		}
		snapshots = append(snapshots, snap)

		completed := i + 1
		r.store.SetProgress(store.KindOrderbook, completed, total, true)
		metrics.UpdateRefreshProgress(kind, completed)
		if completed%PROGRESS_LOG_INTERVAL == 0 {
			log.Debug().Int("completed", completed).Int("total", total).Msg("订单簿刷新进度")
		}
	}

	r.store.PublishOrderbooks(store.OrderbookBatch{
		RunID:     runID,
		UpdatedAt: time.Now(),
		Snapshots: snapshots,
	})
	r.store.SetProgress(store.KindOrderbook, total, total, false)
	return nil
}

func (r *Runner) universe(info *gateway.ExchangeInfo) []string {
	all := orderbook.SymbolUniverse(info)
	if len(r.opts.Symbols) == 0 {
		return all
	}
	want := make(map[string]bool, len(r.opts.Symbols))
	for _, s := range r.opts.Symbols {
		want[s] = true
	}
	out := all[:0:0]
	for _, s := range all {
		if want[s] {
			out = append(out, s)
		}
	}
	return out
}
