// Package orderbook 计算盘口带内流动性并把交易对划分为白名单/黑名单。
package orderbook

import (
	"errors"
	"sort"
	"strings"

	gateway "github.com/newplayman/futures-screener/internal/exchange"
	"github.com/rs/zerolog/log"
)

// ErrEmptySide 买盘或卖盘为空
var ErrEmptySide = errors.New("orderbook side is empty")

// Params 分类参数，百分比以 1 表示 1%
type Params struct {
	UpperPercent    float64 `json:"upper_percent"`
	BottomPercent   float64 `json:"bottom_percent"`
	UpperEnabled    bool    `json:"upper_enabled"`
	UpperThreshold  float64 `json:"upper_threshold"`
	BottomEnabled   bool    `json:"bottom_enabled"`
	BottomThreshold float64 `json:"bottom_threshold"`
	Whitelist       bool    `json:"whitelist"`
}

// SymbolLiquidity 单个交易对的带内流动性
type SymbolLiquidity struct {
	Symbol       string  `json:"symbol"`
	AskMin       float64 `json:"ask_min"`
	BidMax       float64 `json:"bid_max"`
	AskLiquidity float64 `json:"ask_liquidity"`
	BidLiquidity float64 `json:"bid_liquidity"`
	AskNotionalK float64 `json:"ask_notional_k"`
	BidNotionalK float64 `json:"bid_notional_k"`
	Passed       bool    `json:"passed"`
}

// Result 分类结果
type Result struct {
	Symbols    []string          `json:"symbols"`
	Count      int               `json:"count"`
	Joined     string            `json:"list"`
	Complement []string          `json:"complement"`
	Liquidity  []SymbolLiquidity `json:"liquidity"`
	Skipped    []string          `json:"skipped"`
}

// Liquidity 计算单个快照在价格带内的流动性。
// 卖盘取 price <= askMin*(1+upper/100)，买盘取 price >= bidMax*(1-bottom/100)。
func Liquidity(depth gateway.Depth, upperPercent, bottomPercent float64) (SymbolLiquidity, error) {
	out := SymbolLiquidity{Symbol: depth.Symbol}
	if len(depth.Asks) == 0 || len(depth.Bids) == 0 {
		return out, ErrEmptySide
	}

	out.AskMin = depth.Asks[0].Price
	for _, lvl := range depth.Asks[1:] {
		if lvl.Price < out.AskMin {
			out.AskMin = lvl.Price
		}
	}
	out.BidMax = depth.Bids[0].Price
	for _, lvl := range depth.Bids[1:] {
		if lvl.Price > out.BidMax {
			out.BidMax = lvl.Price
		}
	}

	askBound := out.AskMin * (1 + upperPercent/100)
	for _, lvl := range depth.Asks {
		if lvl.Price <= askBound {
			out.AskLiquidity += lvl.Quantity
		}
	}
	bidBound := out.BidMax * (1 - bottomPercent/100)
	for _, lvl := range depth.Bids {
		if lvl.Price >= bidBound {
			out.BidLiquidity += lvl.Quantity
		}
	}

	out.AskNotionalK = out.AskLiquidity * out.AskMin / 1000
	out.BidNotionalK = out.BidLiquidity * out.BidMax / 1000
	return out, nil
}

func (p Params) passes(l SymbolLiquidity) bool {
	if p.UpperEnabled && l.AskNotionalK < p.UpperThreshold {
		return false
	}
	if p.BottomEnabled && l.BidNotionalK < p.BottomThreshold {
		return false
	}
	return true
}

// Classify 对整批快照分类。
// 黑名单是整批全集减去通过集合，在全部交易对评估完成后一次性计算；
// 盘口为空被跳过的交易对仍属于全集，因此落入黑名单。
func Classify(snapshots []gateway.Depth, p Params) Result {
	res := Result{
		Symbols:    []string{},
		Complement: []string{},
		Liquidity:  make([]SymbolLiquidity, 0, len(snapshots)),
		Skipped:    []string{},
	}

	universe := make(map[string]bool, len(snapshots))
	passed := make(map[string]bool, len(snapshots))

	for _, snap := range snapshots {
		display := gateway.DisplaySymbol(snap.Symbol)
		universe[display] = true

		liq, err := Liquidity(snap, p.UpperPercent, p.BottomPercent)
		if err != nil {
			res.Skipped = append(res.Skipped, snap.Symbol)
			log.Warn().Str("symbol", snap.Symbol).Err(err).Msg("盘口数据不完整，跳过")
			continue
		}
		liq.Passed = p.passes(liq)
		if liq.Passed {
			passed[display] = true
		}
		res.Liquidity = append(res.Liquidity, liq)
	}

	var pass, fail []string
	for sym := range universe {
		if passed[sym] {
			pass = append(pass, sym)
		} else {
			fail = append(fail, sym)
		}
	}
	sort.Strings(pass)
	sort.Strings(fail)

	if p.Whitelist {
		res.Symbols, res.Complement = nonNil(pass), nonNil(fail)
	} else {
		res.Symbols, res.Complement = nonNil(fail), nonNil(pass)
	}
	res.Count = len(res.Symbols)
	res.Joined = strings.Join(res.Symbols, ",")
	sort.Strings(res.Skipped)
	return res
}

// SymbolUniverse 从交易所元数据推导订单簿刷新的交易对集合：
// USDT 计价、USDT 保证金、TRADING，按 baseAsset+USDT 构造，去重排序。
func SymbolUniverse(info *gateway.ExchangeInfo) []string {
	if info == nil {
		return nil
	}
	set := make(map[string]struct{})
	for _, s := range info.Symbols {
		if s.QuoteAsset != gateway.QuoteAssetUSDT || s.MarginAsset != gateway.QuoteAssetUSDT {
			continue
		}
		if s.Status != gateway.SymbolStatusTrading || s.BaseAsset == "" {
			continue
		}
		set[s.BaseAsset+gateway.QuoteAssetUSDT] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for sym := range set {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
