package gateway

import (
	"sync"
	"time"
)

// TimeSync 记录本地与币安服务器的时间偏移，用于签名请求的 timestamp
type TimeSync struct {
	mu           sync.RWMutex
	offset       time.Duration // 服务器时间 - 本地时间
	lastSync     time.Time
	syncInterval time.Duration
}

// NewTimeSync 创建时间同步器，interval<=0 时默认 30 分钟
func NewTimeSync(interval time.Duration) *TimeSync {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &TimeSync{syncInterval: interval}
}

// Observe 用一次 /fapi/v1/time 的结果更新偏移
func (ts *TimeSync) Observe(serverTime, localTime time.Time) {
	ts.mu.Lock()
	ts.offset = serverTime.Sub(localTime)
	ts.lastSync = localTime
	ts.mu.Unlock()
}

// NeedsSync 从未同步或超过同步间隔
func (ts *TimeSync) NeedsSync() bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.lastSync.IsZero() || time.Since(ts.lastSync) > ts.syncInterval
}

// ServerMillis 返回同步后的服务器时间（毫秒）
func (ts *TimeSync) ServerMillis() int64 {
	ts.mu.RLock()
	offset := ts.offset
	ts.mu.RUnlock()
	return time.Now().Add(offset).UnixMilli()
}

// Offset 返回当前时间偏移量
func (ts *TimeSync) Offset() time.Duration {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}
