package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// NewRouter 构建 gin 引擎并注册路由
func NewRouter(h *Handler, allowOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	_ = r.SetTrustedProxies(nil)

	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(allowOrigins) == 0 || (len(allowOrigins) == 1 && allowOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = allowOrigins
	}
	r.Use(cors.New(corsCfg))

	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes 注册控制接口
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		api.GET("/load", h.GetLoad)
		api.GET("/ping", h.GetPing)
		api.PUT("/margin", h.SetMargin)

		api.POST("/leverages/refresh", h.RefreshLeverages)
		api.GET("/leverages", h.GetLeverages)

		api.POST("/orderbooks/refresh", h.RefreshOrderbooks)
		api.GET("/orderbooks/status", h.GetOrderbookStatus)
		api.POST("/orderbooks/classify", h.Classify)
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("http")
	}
}
