package gateway

import (
	"strings"
	"time"
)

// Binance symbol status / asset constants used by the screener.
const (
	SymbolStatusTrading = "TRADING"
	QuoteAssetUSDT      = "USDT"

	RateLimitRequestWeight = "REQUEST_WEIGHT"
	RateLimitIntervalMin   = "MINUTE"
)

// RateLimit 对应 exchangeInfo.rateLimits 中的一项
type RateLimit struct {
	RateLimitType string `json:"rateLimitType"`
	Interval      string `json:"interval"`
	IntervalNum   int    `json:"intervalNum"`
	Limit         int    `json:"limit"`
}

// ExchangeSymbolInfo describes symbol level constraints from /fapi/v1/exchangeInfo.
type ExchangeSymbolInfo struct {
	Symbol            string
	Pair              string
	ContractType      string
	Status            string
	BaseAsset         string
	QuoteAsset        string
	MarginAsset       string
	PricePrecision    int
	QuantityPrecision int
	TickSize          float64
	StepSize          float64
	MinNotional       float64
	MinQty            float64
	MaxQty            float64
}

// ExchangeInfo 交易所元数据快照，获取后不可变，刷新时整体替换
type ExchangeInfo struct {
	ServerTime time.Time
	RateLimits []RateLimit
	Symbols    []ExchangeSymbolInfo
	FetchedAt  time.Time
}

// WeightLimit 返回每分钟请求权重上限；优先 REQUEST_WEIGHT/MINUTE，否则取第一项。
func (e *ExchangeInfo) WeightLimit() int {
	if e == nil || len(e.RateLimits) == 0 {
		return 0
	}
	for _, rl := range e.RateLimits {
		if rl.RateLimitType == RateLimitRequestWeight && rl.Interval == RateLimitIntervalMin {
			return rl.Limit
		}
	}
	return e.RateLimits[0].Limit
}

// Symbol 按名称查找交易对
func (e *ExchangeInfo) Symbol(symbol string) (ExchangeSymbolInfo, bool) {
	if e == nil {
		return ExchangeSymbolInfo{}, false
	}
	for _, s := range e.Symbols {
		if s.Symbol == symbol {
			return s, true
		}
	}
	return ExchangeSymbolInfo{}, false
}

// TradingSymbols 返回状态为 TRADING 的交易对集合
func (e *ExchangeInfo) TradingSymbols() map[string]bool {
	out := make(map[string]bool)
	if e == nil {
		return out
	}
	for _, s := range e.Symbols {
		if s.Status == SymbolStatusTrading {
			out[s.Symbol] = true
		}
	}
	return out
}

// LeverageBracketEntry describes a single leverage bracket.
type LeverageBracketEntry struct {
	Bracket          int     `json:"bracket"`
	InitialLeverage  int     `json:"initialLeverage"`
	NotionalCap      float64 `json:"notionalCap"`
	NotionalFloor    float64 `json:"notionalFloor"`
	MaintMarginRatio float64 `json:"maintMarginRatio"`
}

// LeverageBracket contains all brackets for a symbol.
type LeverageBracket struct {
	Symbol   string                 `json:"symbol"`
	Brackets []LeverageBracketEntry `json:"brackets"`
}

// PriceLevel represents a price level in the order book
type PriceLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// Depth 单个交易对的订单簿快照
type Depth struct {
	Symbol       string       `json:"symbol"`
	LastUpdateID int64        `json:"lastUpdateId"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
	Timestamp    time.Time    `json:"timestamp"`
}

// Ticker24h 24小时行情统计
type Ticker24h struct {
	Symbol             string
	LastPrice          float64
	PriceChangePercent float64
	Volume             float64
	QuoteVolume        float64
	CloseTime          time.Time
}

// ResponseMeta 每次收到响应后提取的元信息（已用权重、耗时）
type ResponseMeta struct {
	Endpoint   string
	Status     int
	UsedWeight int
	HasWeight  bool
	Elapsed    time.Duration
	ReceivedAt time.Time
}

// DisplaySymbol strips the USDT quote suffix (BTCUSDT -> BTC).
func DisplaySymbol(symbol string) string {
	return strings.TrimSuffix(symbol, QuoteAssetUSDT)
}
