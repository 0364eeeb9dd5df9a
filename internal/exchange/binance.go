package gateway

import (
	"context"
	"time"
)

// Binance USDT-M futures endpoints
const (
	BinanceFuturesRestEndpoint        = "https://fapi.binance.com"
	BinanceFuturesTestnetRestEndpoint = "https://testnet.binancefuture.com"

	DefaultDepthLimit = 1000
)

// FuturesAPI 枚举网关可调用的全部期货能力，每个远程调用对应一个方法。
type FuturesAPI interface {
	ExchangeInfo(ctx context.Context) (*ExchangeInfo, error)
	LeverageBrackets(ctx context.Context, symbol string) ([]LeverageBracket, error)
	Depth(ctx context.Context, symbol string, limit int) (*Depth, error)
	Ticker24h(ctx context.Context, symbol string) ([]Ticker24h, error)
	ServerTime(ctx context.Context) (time.Time, error)
	Ping(ctx context.Context) (time.Duration, error)
}

// ResponseObserver 接收每一个实际收到的响应（包括心跳）
type ResponseObserver interface {
	ObserveResponse(meta ResponseMeta)
}
