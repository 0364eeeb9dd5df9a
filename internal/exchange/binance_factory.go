package gateway

import (
	"net/http"
	"time"
)

// ClientOptions 构建 REST 客户端所需的连接参数
type ClientOptions struct {
	BaseURL      string
	TestNet      bool
	APIKey       string
	APISecret    string
	Timeout      time.Duration
	RecvWindowMs int64
	SyncInterval time.Duration
}

// BuildBinanceClient 构建 REST 客户端与配套的时间同步器（不发起连接）。
// observer 通常是 RateGate，接收每次响应的权重。
func BuildBinanceClient(opts ClientOptions, observer ResponseObserver) (*BinanceRESTClient, *TimeSync) {
	httpCli := NewDefaultHTTPClient()
	if opts.Timeout > 0 {
		httpCli = &http.Client{Timeout: opts.Timeout}
	}
	timeSync := NewTimeSync(opts.SyncInterval)

	rest := &BinanceRESTClient{
		BaseURL:      RestEndpoint(opts.BaseURL, opts.TestNet),
		APIKey:       opts.APIKey,
		Secret:       opts.APISecret,
		HTTPClient:   httpCli,
		RecvWindowMs: opts.RecvWindowMs,
		TimeSync:     timeSync,
		Observer:     observer,
	}
	return rest, timeSync
}

// BuildGateway 一步构建 闸门 + 客户端 + 网关
func BuildGateway(opts ClientOptions, margin int) (*Gateway, *BinanceRESTClient) {
	gate := NewRateGate(margin)
	rest, clock := BuildBinanceClient(opts, gate)
	return NewGateway(rest, gate, WithTimeSync(clock)), rest
}
