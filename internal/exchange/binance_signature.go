package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// 可覆盖的时间函数，便于测试。
var timeNowMillis = func() int64 { return time.Now().UnixMilli() }

// SignParams 按 key 排序拼接 query 并计算 HMAC-SHA256 签名。
// 未提供 timestamp 时优先使用 clock 的服务器时间。
func SignParams(params map[string]string, secret string, clock *TimeSync) (string, string) {
	if _, ok := params["timestamp"]; !ok {
		ts := timeNowMillis()
		if clock != nil {
			ts = clock.ServerMillis()
		}
		params["timestamp"] = strconv.FormatInt(ts, 10)
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	query := b.String()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	return query, hex.EncodeToString(mac.Sum(nil))
}
