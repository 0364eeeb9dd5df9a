package gateway

import "strings"

// RestEndpoint 根据 testnet 开关与自定义地址选择 REST 地址
func RestEndpoint(custom string, testnet bool) string {
	if testnet {
		return pick(custom, BinanceFuturesTestnetRestEndpoint)
	}
	return pick(custom, BinanceFuturesRestEndpoint)
}

func pick(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimRight(v, "/")
}
