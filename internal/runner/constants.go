package runner

import "errors"

const (
	// 订单簿快照深度档位
	DEPTH_SNAPSHOT_LIMIT = 1000

	// 单个交易对深度拉取较慢的告警阈值(毫秒)
	DEPTH_FETCH_SLOW_MS = 2000

	// 进度日志间隔(交易对数)
	PROGRESS_LOG_INTERVAL = 50
)

var (
	// ErrRefreshInProgress 同类刷新任务正在运行
	ErrRefreshInProgress = errors.New("refresh already in progress")
	// ErrNoSnapshots 尚无已发布的订单簿批次
	ErrNoSnapshots = errors.New("no orderbook snapshots published")
	// ErrStopped runner 已停止
	ErrStopped = errors.New("runner stopped")
)
