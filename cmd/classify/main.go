package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/newplayman/futures-screener/internal/config"
	gateway "github.com/newplayman/futures-screener/internal/exchange"
	"github.com/newplayman/futures-screener/internal/leverage"
	"github.com/newplayman/futures-screener/internal/orderbook"
	"github.com/newplayman/futures-screener/internal/runner"
	"github.com/newplayman/futures-screener/internal/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// 一次性运行：拉取杠杆与订单簿，打印结果后退出
func main() {
	cfgPath := flag.String("config", "config.yaml", "配置文件路径")
	skipLeverage := flag.Bool("skip-leverage", false, "不拉取杠杆分层")
	upper := flag.Float64("upper", 1, "卖盘带宽(%)")
	bottom := flag.Float64("bottom", 1, "买盘带宽(%)")
	upperMin := flag.Float64("upper-min", -1, "卖盘最小名义价值(千)，<0 表示不检查")
	bottomMin := flag.Float64("bottom-min", -1, "买盘最小名义价值(千)，<0 表示不检查")
	blacklist := flag.Bool("blacklist", false, "输出未通过的交易对")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := config.LoadDotEnv(); err != nil {
		log.Fatal().Err(err).Msg("加载 .env 失败")
	}
	cfg, err := config.LoadConfig(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("加载配置失败")
	}

	gw, _ := gateway.BuildGateway(gateway.ClientOptions{
		BaseURL:      cfg.Binance.BaseURL,
		TestNet:      cfg.Binance.TestNet,
		APIKey:       cfg.Binance.APIKey,
		APISecret:    cfg.Binance.APISecret,
		Timeout:      cfg.Binance.Timeout,
		RecvWindowMs: cfg.Binance.RecvWindowMs,
		SyncInterval: cfg.Binance.TimeSync,
	}, cfg.Gate.Margin)
	if err := gw.Bootstrap(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("初始化交易所元数据失败")
	}

	st := store.NewStore()
	r := runner.NewRunner(gw, st, runner.Options{DepthLimit: cfg.Orderbook.DepthLimit, Symbols: cfg.Orderbook.Symbols})
	defer r.Stop()

	if !*skipLeverage {
		policy, _ := leverage.ParsePolicy(cfg.Leverage.EmptyPolicy)
		if _, err := r.RefreshLeverages(leverage.Params{
			MinNotional:    cfg.Leverage.MinNotional,
			MaxLeverageCap: cfg.Leverage.MaxLeverage,
			Policy:         policy,
		}); err != nil {
			log.Fatal().Err(err).Msg("启动杠杆刷新失败")
		}
	}
	if _, err := r.RefreshOrderbooks(); err != nil {
		log.Fatal().Err(err).Msg("启动订单簿刷新失败")
	}
	r.Wait()

	if set := st.Leverages(); set != nil {
		for _, res := range set.Results {
			fmt.Printf("%s\t%d\n", res.Symbol, res.Leverage)
		}
	}

	res, err := r.Classify(orderbook.Params{
		UpperPercent:    *upper,
		BottomPercent:   *bottom,
		UpperEnabled:    *upperMin >= 0,
		UpperThreshold:  *upperMin,
		BottomEnabled:   *bottomMin >= 0,
		BottomThreshold: *bottomMin,
		Whitelist:       !*blacklist,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("订单簿分类失败")
	}

	used, limit := gw.Load()
	log.Info().Int("count", res.Count).Int("used_weight", used).Int("limit", limit).Msg("分类完成")
	fmt.Println(res.Joined)
}
