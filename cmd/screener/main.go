package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newplayman/futures-screener/internal/api"
	"github.com/newplayman/futures-screener/internal/config"
	gateway "github.com/newplayman/futures-screener/internal/exchange"
	"github.com/newplayman/futures-screener/internal/leverage"
	"github.com/newplayman/futures-screener/internal/logging"
	"github.com/newplayman/futures-screener/internal/metrics"
	"github.com/newplayman/futures-screener/internal/runner"
	"github.com/newplayman/futures-screener/internal/store"
	"github.com/newplayman/futures-screener/internal/watchdog"
	"github.com/rs/zerolog/log"
)

var (
	configFile = flag.String("config", "config.yaml", "配置文件路径")
	envFile    = flag.String("env", ".env", ".env 文件路径")
	logLevel   = flag.String("log", "", "日志级别，覆盖配置 (debug, info, warn, error)")
	lockPath   = flag.String("lock", "/tmp/futures_screener.lock", "单实例锁文件")
)

func main() {
	flag.Parse()

	// 单实例锁实现，防止多进程启动
	lock, err := os.OpenFile(*lockPath, os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		log.Fatal().Err(err).Msg("创建锁文件失败")
	}
	if err := syscall.Flock(int(lock.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		log.Fatal().Msg("已有一个 screener 进程在运行")
	}
	defer func() {
		syscall.Flock(int(lock.Fd()), syscall.LOCK_UN)
		lock.Close()
		os.Remove(*lockPath)
	}()

	if err := config.LoadDotEnv(*envFile); err != nil {
		log.Fatal().Err(err).Msg("加载 .env 失败")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loader := config.NewLoader(*configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("加载配置失败")
	}

	level := cfg.Log.Level
	if *logLevel != "" {
		level = *logLevel
	}
	logCloser, err := logging.Setup(logging.Options{
		Level:      level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("初始化日志失败")
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	log.Info().
		Bool("testnet", cfg.Binance.TestNet).
		Int("margin", cfg.Gate.Margin).
		Bool("credentials", cfg.HasCredentials()).
		Msg("futures screener 启动中...")
	if !cfg.HasCredentials() {
		log.Warn().Msg("未配置 API Key/Secret，杠杆分层接口将返回鉴权错误")
	}

	// 限流闸门作为 Observer 接收每次响应的权重
	gw, rest := gateway.BuildGateway(clientOptions(cfg), cfg.Gate.Margin)

	if err := gw.Bootstrap(ctx); err != nil {
		// 启动时拉取失败不退出，后续刷新会重新获取
		log.Error().Err(err).Msg("初始化交易所元数据失败")
	}

	// 心跳直接访问客户端，不经过闸门
	probe := watchdog.NewProbe(watchdog.Config{
		Interval:          cfg.Probe.Interval,
		FailureThreshold:  cfg.Probe.FailureThreshold,
		RecoveryThreshold: cfg.Probe.RecoveryThreshold,
	}, rest)
	probe.Start(ctx)

	if cfg.Metrics.Enabled {
		if port, err := metrics.StartMetricsServer(cfg.Metrics.Port); err != nil {
			log.Error().Err(err).Msg("启动监控服务器失败")
		} else {
			log.Info().Int("port", port).Msg("Prometheus 监控已启动")
		}
	}

	st := store.NewStore()
	r := runner.NewRunner(gw, st, runner.Options{
		DepthLimit: cfg.Orderbook.DepthLimit,
		Symbols:    cfg.Orderbook.Symbols,
	})

	policy, _ := leverage.ParsePolicy(cfg.Leverage.EmptyPolicy)
	defaults := leverage.Params{
		MinNotional:    cfg.Leverage.MinNotional,
		MaxLeverageCap: cfg.Leverage.MaxLeverage,
		Policy:         policy,
	}

	// 热重载：余量实时生效
	loader.OnChange(func(newCfg *config.Config) {
		if newCfg.Gate.Margin != gw.Margin() {
			gw.SetMargin(newCfg.Gate.Margin)
		}
	})
	loader.Watch()

	gin.SetMode(gin.ReleaseMode)
	handler := api.NewHandler(gw, probe, r, st, defaults)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewRouter(handler, cfg.Server.AllowOrigins),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("控制接口已启动")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("控制接口异常退出")
			cancel()
		}
	}()

	// 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("收到退出信号，正在关闭...")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("关闭控制接口失败")
	}

	// 优雅关闭
	cancel()
	probe.Stop()
	r.Stop()

	log.Info().Msg("futures screener 已关闭")
}

func clientOptions(cfg *config.Config) gateway.ClientOptions {
	return gateway.ClientOptions{
		BaseURL:      cfg.Binance.BaseURL,
		TestNet:      cfg.Binance.TestNet,
		APIKey:       cfg.Binance.APIKey,
		APISecret:    cfg.Binance.APISecret,
		Timeout:      cfg.Binance.Timeout,
		RecvWindowMs: cfg.Binance.RecvWindowMs,
		SyncInterval: cfg.Binance.TimeSync,
	}
}
