package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/newplayman/futures-screener/internal/metrics"
)

// UsedWeightHeader 响应头中的1分钟已用权重
const UsedWeightHeader = "X-MBX-USED-WEIGHT-1M"

// BinanceRESTClient 期货 REST 客户端；HTTPClient 可注入 httptest。
// 不做重试：任何错误原样返回给调用方。
type BinanceRESTClient struct {
	BaseURL      string
	APIKey       string
	Secret       string
	HTTPClient   *http.Client
	RecvWindowMs int64
	TimeSync     *TimeSync
	Observer     ResponseObserver
}

var _ FuturesAPI = (*BinanceRESTClient)(nil)

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

type exchangeInfoResp struct {
	ServerTime int64       `json:"serverTime"`
	RateLimits []RateLimit `json:"rateLimits"`
	Symbols    []struct {
		Symbol            string `json:"symbol"`
		Pair              string `json:"pair"`
		ContractType      string `json:"contractType"`
		Status            string `json:"status"`
		BaseAsset         string `json:"baseAsset"`
		QuoteAsset        string `json:"quoteAsset"`
		MarginAsset       string `json:"marginAsset"`
		PricePrecision    int    `json:"pricePrecision"`
		QuantityPrecision int    `json:"quantityPrecision"`
		Filters           []struct {
			FilterType string `json:"filterType"`
			TickSize   string `json:"tickSize"`
			StepSize   string `json:"stepSize"`
			MinQty     string `json:"minQty"`
			MaxQty     string `json:"maxQty"`
			Notional   string `json:"notional"`
		} `json:"filters"`
	} `json:"symbols"`
}

type depthResp struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

type tickerResp struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
	Volume             string `json:"volume"`
	QuoteVolume        string `json:"quoteVolume"`
	CloseTime          int64  `json:"closeTime"`
}

// ExchangeInfo fetches /fapi/v1/exchangeInfo and extracts rate limits and symbol constraints.
func (c *BinanceRESTClient) ExchangeInfo(ctx context.Context) (*ExchangeInfo, error) {
	var raw exchangeInfoResp
	if _, err := c.get(ctx, "/fapi/v1/exchangeInfo", nil, false, &raw); err != nil {
		return nil, err
	}
	info := &ExchangeInfo{
		ServerTime: time.UnixMilli(raw.ServerTime),
		RateLimits: raw.RateLimits,
		Symbols:    make([]ExchangeSymbolInfo, 0, len(raw.Symbols)),
		FetchedAt:  time.Now(),
	}
	for _, s := range raw.Symbols {
		sym := ExchangeSymbolInfo{
			Symbol:            s.Symbol,
			Pair:              s.Pair,
			ContractType:      s.ContractType,
			Status:            s.Status,
			BaseAsset:         s.BaseAsset,
			QuoteAsset:        s.QuoteAsset,
			MarginAsset:       s.MarginAsset,
			PricePrecision:    s.PricePrecision,
			QuantityPrecision: s.QuantityPrecision,
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				sym.TickSize, _ = strconv.ParseFloat(f.TickSize, 64)
			case "LOT_SIZE":
				sym.StepSize, _ = strconv.ParseFloat(f.StepSize, 64)
				sym.MinQty, _ = strconv.ParseFloat(f.MinQty, 64)
				sym.MaxQty, _ = strconv.ParseFloat(f.MaxQty, 64)
			case "MIN_NOTIONAL":
				sym.MinNotional, _ = strconv.ParseFloat(f.Notional, 64)
			}
		}
		info.Symbols = append(info.Symbols, sym)
	}
	return info, nil
}

// LeverageBrackets calls /fapi/v1/leverageBracket (signed). 空 symbol 返回全部交易对。
func (c *BinanceRESTClient) LeverageBrackets(ctx context.Context, symbol string) ([]LeverageBracket, error) {
	params := map[string]string{}
	if symbol != "" {
		params["symbol"] = strings.ToUpper(symbol)
	}
	var raw json.RawMessage
	if _, err := c.get(ctx, "/fapi/v1/leverageBracket", params, true, &raw); err != nil {
		return nil, err
	}
	// 指定 symbol 时接口可能返回单个对象
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var one LeverageBracket
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, fmt.Errorf("decode leverage bracket: %w", err)
		}
		return []LeverageBracket{one}, nil
	}
	var out []LeverageBracket
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode leverage brackets: %w", err)
	}
	return out, nil
}

// Depth 调用 /fapi/v1/depth 获取订单簿快照
func (c *BinanceRESTClient) Depth(ctx context.Context, symbol string, limit int) (*Depth, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol required")
	}
	if limit <= 0 {
		limit = DefaultDepthLimit
	}
	params := map[string]string{
		"symbol": strings.ToUpper(symbol),
		"limit":  strconv.Itoa(limit),
	}
	var dr depthResp
	meta, err := c.get(ctx, "/fapi/v1/depth", params, false, &dr)
	if err != nil {
		return nil, err
	}
	bids, err := parseLevels(dr.Bids)
	if err != nil {
		return nil, fmt.Errorf("parse %s bids: %w", symbol, err)
	}
	asks, err := parseLevels(dr.Asks)
	if err != nil {
		return nil, fmt.Errorf("parse %s asks: %w", symbol, err)
	}
	return &Depth{
		Symbol:       params["symbol"],
		LastUpdateID: dr.LastUpdateID,
		Bids:         bids,
		Asks:         asks,
		Timestamp:    meta.ReceivedAt,
	}, nil
}

func parseLevels(levels [][]string) ([]PriceLevel, error) {
	out := make([]PriceLevel, 0, len(levels))
	for i, lv := range levels {
		if len(lv) < 2 {
			return nil, fmt.Errorf("level %d: expected [price, qty], got %d fields", i, len(lv))
		}
		price, err := strconv.ParseFloat(lv[0], 64)
		if err != nil {
			return nil, fmt.Errorf("level %d price: %w", i, err)
		}
		qty, err := strconv.ParseFloat(lv[1], 64)
		if err != nil {
			return nil, fmt.Errorf("level %d qty: %w", i, err)
		}
		out = append(out, PriceLevel{Price: price, Quantity: qty})
	}
	return out, nil
}

// Ticker24h 调用 /fapi/v1/ticker/24hr；空 symbol 返回全部。
func (c *BinanceRESTClient) Ticker24h(ctx context.Context, symbol string) ([]Ticker24h, error) {
	params := map[string]string{}
	if symbol != "" {
		params["symbol"] = strings.ToUpper(symbol)
	}
	var raw json.RawMessage
	if _, err := c.get(ctx, "/fapi/v1/ticker/24hr", params, false, &raw); err != nil {
		return nil, err
	}
	var rows []tickerResp
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var one tickerResp
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, fmt.Errorf("decode ticker: %w", err)
		}
		rows = append(rows, one)
	} else if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode tickers: %w", err)
	}
	out := make([]Ticker24h, 0, len(rows))
	for _, r := range rows {
		t := Ticker24h{Symbol: r.Symbol, CloseTime: time.UnixMilli(r.CloseTime)}
		t.LastPrice, _ = strconv.ParseFloat(r.LastPrice, 64)
		t.PriceChangePercent, _ = strconv.ParseFloat(r.PriceChangePercent, 64)
		t.Volume, _ = strconv.ParseFloat(r.Volume, 64)
		t.QuoteVolume, _ = strconv.ParseFloat(r.QuoteVolume, 64)
		out = append(out, t)
	}
	return out, nil
}

// ServerTime 调用 /fapi/v1/time，并同步 TimeSync 偏移
func (c *BinanceRESTClient) ServerTime(ctx context.Context) (time.Time, error) {
	var result struct {
		ServerTime int64 `json:"serverTime"`
	}
	meta, err := c.get(ctx, "/fapi/v1/time", nil, false, &result)
	if err != nil {
		return time.Time{}, err
	}
	server := time.UnixMilli(result.ServerTime)
	if c.TimeSync != nil {
		// 以请求中点近似服务器打点时刻
		c.TimeSync.Observe(server, meta.ReceivedAt.Add(-meta.Elapsed/2))
	}
	return server, nil
}

// Ping 调用 /fapi/v1/ping，返回往返耗时
func (c *BinanceRESTClient) Ping(ctx context.Context) (time.Duration, error) {
	meta, err := c.get(ctx, "/fapi/v1/ping", nil, false, nil)
	if err != nil {
		return 0, err
	}
	return meta.Elapsed, nil
}

func (c *BinanceRESTClient) applyRecvWindow(params map[string]string) {
	if c != nil && c.RecvWindowMs > 0 {
		params["recvWindow"] = strconv.FormatInt(c.RecvWindowMs, 10)
	}
}

// get 发送 GET 请求；收到任何响应（含非 2xx）都会通知 Observer。
func (c *BinanceRESTClient) get(ctx context.Context, path string, params map[string]string, signed bool, out any) (ResponseMeta, error) {
	meta := ResponseMeta{Endpoint: path}
	if c == nil || c.HTTPClient == nil {
		return meta, ErrNilClient
	}

	var headers map[string]string
	endpoint := c.BaseURL + path
	if signed {
		if params == nil {
			params = map[string]string{}
		}
		c.applyRecvWindow(params)
		query, sig := SignParams(params, c.Secret, c.TimeSync)
		endpoint += "?" + query + "&signature=" + url.QueryEscape(sig)
		headers = map[string]string{"X-MBX-APIKEY": c.APIKey}
	} else if len(params) > 0 {
		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}
		endpoint += "?" + values.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return meta, fmt.Errorf("create request %s: %w", path, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		metrics.RecordAPICall(path, 0, time.Since(start))
		return meta, fmt.Errorf("request %s: %w", path, err)
	}
	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()

	meta.Status = resp.StatusCode
	meta.ReceivedAt = time.Now()
	meta.Elapsed = meta.ReceivedAt.Sub(start)
	if w := resp.Header.Get(UsedWeightHeader); w != "" {
		if n, convErr := strconv.Atoi(strings.TrimSpace(w)); convErr == nil {
			meta.UsedWeight = n
			meta.HasWeight = true
		}
	}
	metrics.RecordAPICall(path, resp.StatusCode, meta.Elapsed)
	if c.Observer != nil {
		c.Observer.ObserveResponse(meta)
	}

	if readErr != nil {
		return meta, fmt.Errorf("read %s body: %w", path, readErr)
	}
	if resp.StatusCode >= 300 {
		return meta, newAPIError(path, resp.StatusCode, body)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return meta, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return meta, nil
}
