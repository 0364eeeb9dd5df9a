// Package leverage 根据交易所元数据与杠杆分层计算每个 USDT 合约的有效杠杆。
package leverage

import (
	"fmt"
	"sort"
	"strings"

	gateway "github.com/newplayman/futures-screener/internal/exchange"
	"github.com/rs/zerolog/log"
)

// Policy 过滤后分层为空时的处理方式
type Policy string

const (
	// PolicySkip 跳过该交易对并记录
	PolicySkip Policy = "skip"
	// PolicyHighest 回退到名义上限最大的分层
	PolicyHighest Policy = "highest"
)

// ParsePolicy 解析策略名，空串视为 skip
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicySkip:
		return PolicySkip, nil
	case PolicyHighest:
		return PolicyHighest, nil
	default:
		return "", fmt.Errorf("unknown empty-bracket policy %q", s)
	}
}

// Params 计算参数
type Params struct {
	MinNotional    float64
	MaxLeverageCap int // <=0 表示不限制
	Policy         Policy
}

// Result 单个交易对结果
type Result struct {
	Symbol   string `json:"symbol"`
	Pair     string `json:"pair"`
	Leverage int    `json:"leverage"`
	Fallback bool   `json:"fallback,omitempty"`
}

// Report 一次计算的完整输出
type Report struct {
	Results []Result `json:"results"`
	Skipped []string `json:"skipped"`
}

// Aggregate 计算有效杠杆。
// 仅保留 USDT 结尾、元数据状态为 TRADING 且两边都出现的交易对；
// 在 notionalCap > MinNotional 的分层中取最大 initialLeverage，再与上限取小。
func Aggregate(info *gateway.ExchangeInfo, brackets []gateway.LeverageBracket, p Params) Report {
	report := Report{Results: []Result{}, Skipped: []string{}}
	if info == nil {
		return report
	}
	if p.Policy == "" {
		p.Policy = PolicySkip
	}

	trading := info.TradingSymbols()
	seen := make(map[string]bool, len(brackets))

	for _, b := range brackets {
		symbol := b.Symbol
		if !strings.HasSuffix(symbol, gateway.QuoteAssetUSDT) || !trading[symbol] || seen[symbol] {
			continue
		}
		seen[symbol] = true

		lev, fallback, ok := selectLeverage(b.Brackets, p)
		if !ok {
			report.Skipped = append(report.Skipped, symbol)
			log.Warn().
				Str("symbol", symbol).
				Float64("min_notional", p.MinNotional).
				Msg("没有满足最小名义价值的杠杆分层，跳过")
			continue
		}
		if p.MaxLeverageCap > 0 && lev > p.MaxLeverageCap {
			lev = p.MaxLeverageCap
		}
		report.Results = append(report.Results, Result{
			Symbol:   gateway.DisplaySymbol(symbol),
			Pair:     symbol,
			Leverage: lev,
			Fallback: fallback,
		})
	}

	sort.Slice(report.Results, func(i, j int) bool {
		return report.Results[i].Symbol < report.Results[j].Symbol
	})
	sort.Strings(report.Skipped)
	return report
}

func selectLeverage(entries []gateway.LeverageBracketEntry, p Params) (lev int, fallback bool, ok bool) {
	for _, e := range entries {
		if e.NotionalCap > p.MinNotional && (!ok || e.InitialLeverage > lev) {
			lev = e.InitialLeverage
			ok = true
		}
	}
	if ok || p.Policy != PolicyHighest || len(entries) == 0 {
		return lev, false, ok
	}

	best := entries[0]
	for _, e := range entries[1:] {
		if e.NotionalCap > best.NotionalCap {
			best = e
		}
	}
	return best.InitialLeverage, true, true
}
