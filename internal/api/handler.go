package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	gateway "github.com/newplayman/futures-screener/internal/exchange"
	"github.com/newplayman/futures-screener/internal/leverage"
	"github.com/newplayman/futures-screener/internal/orderbook"
	"github.com/newplayman/futures-screener/internal/runner"
	"github.com/newplayman/futures-screener/internal/store"
	"github.com/rs/zerolog/log"
)

// LoadReporter 网关负载与余量
type LoadReporter interface {
	Load() (int, int)
	SetMargin(margin int)
	Margin() int
	RateState() gateway.RateState
}

// PingReporter 心跳延迟
type PingReporter interface {
	PingMillis() int64
	Latency() (time.Duration, bool)
	Healthy() bool
}

// Refresher 刷新任务入口
type Refresher interface {
	RefreshLeverages(params leverage.Params) (string, error)
	RefreshOrderbooks() (string, error)
	Classify(params orderbook.Params) (orderbook.Result, error)
	Busy() (bool, bool)
}

// Handler 控制接口
type Handler struct {
	gw       LoadReporter
	probe    PingReporter
	runner   Refresher
	store    *store.Store
	defaults leverage.Params
}

// NewHandler 创建控制接口；defaults 为杠杆刷新未传参数时使用的默认值
func NewHandler(gw LoadReporter, probe PingReporter, r Refresher, st *store.Store, defaults leverage.Params) *Handler {
	return &Handler{gw: gw, probe: probe, runner: r, store: st, defaults: defaults}
}

// GetLoad 返回 (已用权重, 上限)
func (h *Handler) GetLoad(c *gin.Context) {
	used, limit := h.gw.Load()
	st := h.gw.RateState()
	c.JSON(http.StatusOK, gin.H{
		"used":      used,
		"limit":     limit,
		"margin":    h.gw.Margin(),
		"throttles": st.Throttles,
	})
}

// GetPing 最近一次心跳耗时，未知时 ping_ms 为 9999999
func (h *Handler) GetPing(c *gin.Context) {
	_, known := h.probe.Latency()
	c.JSON(http.StatusOK, gin.H{
		"ping_ms": h.probe.PingMillis(),
		"known":   known,
		"healthy": h.probe.Healthy(),
	})
}

type marginRequest struct {
	Margin *int `json:"margin" binding:"required"`
}

// SetMargin 调整自限流余量
func (h *Handler) SetMargin(c *gin.Context) {
	var req marginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "margin is required"})
		return
	}
	h.gw.SetMargin(*req.Margin)
	c.JSON(http.StatusOK, gin.H{"margin": h.gw.Margin()})
}

type leverageRequest struct {
	MinNotional *float64 `json:"min_notional"`
	MaxLeverage *int     `json:"max_leverage"`
	Policy      string   `json:"policy"`
}

// RefreshLeverages 异步刷新杠杆
func (h *Handler) RefreshLeverages(c *gin.Context) {
	var req leverageRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	params := h.defaults
	if req.MinNotional != nil {
		params.MinNotional = *req.MinNotional
	}
	if req.MaxLeverage != nil {
		params.MaxLeverageCap = *req.MaxLeverage
	}
	if req.Policy != "" {
		p, err := leverage.ParsePolicy(req.Policy)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		params.Policy = p
	}
	if params.MinNotional < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "min_notional must be >= 0"})
		return
	}

	runID, err := h.runner.RefreshLeverages(params)
	if err != nil {
		h.refreshError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": runID})
}

// GetLeverages 轮询最近一次杠杆结果
func (h *Handler) GetLeverages(c *gin.Context) {
	running, _ := h.runner.Busy()
	resp := gin.H{
		"running":    running,
		"updated_at": nil,
		"run_id":     "",
		"items":      []leverage.Result{},
		"skipped":    []string{},
	}
	if set := h.store.Leverages(); set != nil {
		resp["updated_at"] = set.UpdatedAt
		resp["run_id"] = set.RunID
		resp["items"] = set.Results
		resp["skipped"] = set.Skipped
	}
	c.JSON(http.StatusOK, resp)
}

// RefreshOrderbooks 异步刷新订单簿
func (h *Handler) RefreshOrderbooks(c *gin.Context) {
	runID, err := h.runner.RefreshOrderbooks()
	if err != nil {
		h.refreshError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": runID})
}

// GetOrderbookStatus 订单簿刷新进度 (completed, total)
func (h *Handler) GetOrderbookStatus(c *gin.Context) {
	_, running := h.runner.Busy()
	p := h.store.GetProgress(store.KindOrderbook)
	resp := gin.H{
		"running":    running,
		"completed":  p.Completed,
		"total":      p.Total,
		"updated_at": nil,
		"symbols":    0,
	}
	if batch := h.store.Orderbooks(); batch != nil {
		resp["updated_at"] = batch.UpdatedAt
		resp["symbols"] = len(batch.Snapshots)
	}
	c.JSON(http.StatusOK, resp)
}

// Classify 按参数对当前批次分类
func (h *Handler) Classify(c *gin.Context) {
	var params orderbook.Params
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if params.UpperPercent < 0 || params.BottomPercent < 0 || params.BottomPercent >= 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "percent out of range"})
		return
	}

	res, err := h.runner.Classify(params)
	if errors.Is(err, runner.ErrNoSnapshots) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbols":    res.Symbols,
		"count":      res.Count,
		"list":       res.Joined,
		"complement": res.Complement,
		"skipped":    res.Skipped,
	})
}

// Healthz 存活检查
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "probe_healthy": h.probe.Healthy()})
}

func (h *Handler) refreshError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, runner.ErrRefreshInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, runner.ErrStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Msg("刷新请求失败")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
