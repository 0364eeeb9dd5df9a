package gateway

import (
	"context"
	"errors"
	"testing"
	"time"
)

// stubAPI 模拟外部客户端：每次调用都通过 observer 上报权重
type stubAPI struct {
	observer   ResponseObserver
	weight     int
	info       *ExchangeInfo
	err        error
	calls      []string
	onCall     func(name string)
	depthCalls int
}

func (s *stubAPI) record(name string) {
	s.calls = append(s.calls, name)
	if s.onCall != nil {
		s.onCall(name)
	}
	if s.observer != nil {
		s.weight++
		s.observer.ObserveResponse(ResponseMeta{Endpoint: name, Status: 200, UsedWeight: s.weight, HasWeight: true, ReceivedAt: time.Now()})
	}
}

func (s *stubAPI) ExchangeInfo(ctx context.Context) (*ExchangeInfo, error) {
	s.record("exchangeInfo")
	return s.info, s.err
}

func (s *stubAPI) LeverageBrackets(ctx context.Context, symbol string) ([]LeverageBracket, error) {
	s.record("leverageBracket")
	return []LeverageBracket{{Symbol: "BTCUSDT"}}, s.err
}

func (s *stubAPI) Depth(ctx context.Context, symbol string, limit int) (*Depth, error) {
	s.record("depth")
	s.depthCalls++
	return &Depth{Symbol: symbol}, s.err
}

func (s *stubAPI) Ticker24h(ctx context.Context, symbol string) ([]Ticker24h, error) {
	s.record("ticker")
	return nil, s.err
}

func (s *stubAPI) ServerTime(ctx context.Context) (time.Time, error) {
	s.record("time")
	return time.Now(), s.err
}

func (s *stubAPI) Ping(ctx context.Context) (time.Duration, error) {
	s.record("ping")
	return time.Millisecond, s.err
}

func testInfo(limit int) *ExchangeInfo {
	return &ExchangeInfo{
		RateLimits: []RateLimit{
			{RateLimitType: "ORDERS", Interval: "MINUTE", IntervalNum: 1, Limit: 1200},
			{RateLimitType: RateLimitRequestWeight, Interval: RateLimitIntervalMin, IntervalNum: 1, Limit: limit},
		},
		Symbols: []ExchangeSymbolInfo{{Symbol: "BTCUSDT", Status: SymbolStatusTrading, QuoteAsset: "USDT", MarginAsset: "USDT", BaseAsset: "BTC"}},
	}
}

func TestGatewayLoadBeforeAnyResponse(t *testing.T) {
	gw := NewGateway(&stubAPI{}, NewRateGate(400))
	used, limit := gw.Load()
	if used != 0 || limit != 0 {
		t.Fatalf("expected (0, 0), got (%d, %d)", used, limit)
	}
	if gw.Info() != nil {
		t.Fatal("expected no cached info")
	}
}

func TestGatewayExchangeInfoReplacesCacheAndLimit(t *testing.T) {
	gate := NewRateGate(400)
	api := &stubAPI{observer: gate, info: testInfo(2400)}
	gw := NewGateway(api, gate)

	if err := gw.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap err: %v", err)
	}
	used, limit := gw.Load()
	if used != 1 || limit != 2400 {
		t.Fatalf("expected (1, 2400), got (%d, %d)", used, limit)
	}
	if gw.RateState().Limit != 2400 {
		t.Fatalf("gate limit not updated")
	}

	first := gw.Info()
	api.info = testInfo(6000)
	if _, err := gw.ExchangeInfo(context.Background()); err != nil {
		t.Fatalf("refresh err: %v", err)
	}
	if gw.Info() == first {
		t.Fatal("expected cached info to be replaced")
	}
	if _, limit := gw.Load(); limit != 6000 {
		t.Fatalf("expected limit 6000 after refresh, got %d", limit)
	}
}

func TestGatewayAdmitsBeforeEveryCall(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 40, 0, time.UTC)
	gate, fs := newTestGate(400, 2400, now)
	gate.ObserveResponse(ResponseMeta{UsedWeight: 2399, HasWeight: true, ReceivedAt: now})

	api := &stubAPI{}
	api.onCall = func(name string) {
		if len(fs.calls()) != len(api.calls) {
			t.Errorf("%s dispatched before admission: waits=%d calls=%d", name, len(fs.calls()), len(api.calls))
		}
	}
	gw := NewGateway(api, gate)
	ctx := context.Background()

	_, _ = gw.Depth(ctx, "BTCUSDT", 1000)
	_, _ = gw.LeverageBrackets(ctx, "")
	_, _ = gw.Ticker24h(ctx, "")
	_, _ = gw.Ping(ctx)
	_, _ = gw.ServerTime(ctx)

	if len(api.calls) != 5 || len(fs.calls()) != 5 {
		t.Fatalf("expected 5 calls each admitted once, calls=%d waits=%d", len(api.calls), len(fs.calls()))
	}
}

func TestGatewayPropagatesErrorsUnchanged(t *testing.T) {
	sentinel := &APIError{Endpoint: "/fapi/v1/depth", Status: 429, Type: ErrorTypeRateLimit, Msg: "Too many requests"}
	api := &stubAPI{err: sentinel}
	gw := NewGateway(api, NewRateGate(0))

	_, err := gw.Depth(context.Background(), "ETHUSDT", 100)
	if err != sentinel {
		t.Fatalf("expected the same error value, got %v", err)
	}
	if !IsRateLimited(err) {
		t.Fatal("expected rate limit classification")
	}
	if api.depthCalls != 1 {
		t.Fatalf("gateway must not retry, got %d calls", api.depthCalls)
	}
}

func TestGatewayExchangeInfoErrorKeepsCache(t *testing.T) {
	gate := NewRateGate(0)
	api := &stubAPI{observer: gate, info: testInfo(2400)}
	gw := NewGateway(api, gate)
	if _, err := gw.ExchangeInfo(context.Background()); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	cached := gw.Info()

	api.err = errors.New("network down")
	api.info = nil
	if _, err := gw.ExchangeInfo(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if gw.Info() != cached {
		t.Fatal("failed fetch must not replace cached info")
	}
}

func TestGatewayNilClient(t *testing.T) {
	gw := NewGateway(nil, nil)
	if _, err := gw.Depth(context.Background(), "BTCUSDT", 5); !errors.Is(err, ErrNilClient) {
		t.Fatalf("expected ErrNilClient, got %v", err)
	}
}

func TestGatewaySyncsClockBeforeSignedCall(t *testing.T) {
	api := &stubAPI{}
	ts := NewTimeSync(time.Minute)
	gw := NewGateway(api, NewRateGate(0), WithTimeSync(ts))

	if _, err := gw.LeverageBrackets(context.Background(), ""); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(api.calls) != 2 || api.calls[0] != "time" || api.calls[1] != "leverageBracket" {
		t.Fatalf("expected time sync before leverage bracket, got %v", api.calls)
	}
}

func TestGatewayMargin(t *testing.T) {
	gw := NewGateway(&stubAPI{}, NewRateGate(100))
	gw.SetMargin(250)
	if gw.Margin() != 250 || gw.RateState().Margin != 250 {
		t.Fatalf("expected margin 250, got %d", gw.Margin())
	}
}

func TestBuildGatewayWiresObserverAndEndpoint(t *testing.T) {
	gw, rest := BuildGateway(ClientOptions{TestNet: true, APIKey: "k", APISecret: "s", Timeout: 3 * time.Second}, 150)

	if rest.BaseURL != BinanceFuturesTestnetRestEndpoint {
		t.Fatalf("expected testnet endpoint, got %s", rest.BaseURL)
	}
	if rest.Observer == nil || rest.TimeSync == nil {
		t.Fatal("expected observer and time sync to be wired")
	}
	if rest.HTTPClient.Timeout != 3*time.Second {
		t.Fatalf("unexpected timeout %v", rest.HTTPClient.Timeout)
	}
	if gw.Margin() != 150 {
		t.Fatalf("expected margin 150, got %d", gw.Margin())
	}

	rest.Observer.ObserveResponse(ResponseMeta{UsedWeight: 77, HasWeight: true, ReceivedAt: time.Now()})
	if used, _ := gw.Load(); used != 77 {
		t.Fatalf("observer should feed the gateway's gate, got used=%d", used)
	}
}
