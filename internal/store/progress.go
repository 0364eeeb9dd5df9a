package store

// Kind 刷新任务类型
type Kind string

const (
	KindLeverage  Kind = "leverage"
	KindOrderbook Kind = "orderbook"
)

// Progress 刷新进度 (已完成, 总数)
type Progress struct {
	Completed int  `json:"completed"`
	Total     int  `json:"total"`
	Running   bool `json:"running"`
}

// SetProgress 更新指定任务的进度
func (s *Store) SetProgress(kind Kind, completed, total int, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[kind] = Progress{Completed: completed, Total: total, Running: running}
}

// ResetProgress 任务失败时进度归零
func (s *Store) ResetProgress(kind Kind) {
	s.SetProgress(kind, 0, 0, false)
}

// GetProgress 获取进度，未记录时为零值
func (s *Store) GetProgress(kind Kind) Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress[kind]
}
