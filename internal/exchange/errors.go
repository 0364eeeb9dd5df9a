package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNilClient 未注入 REST 客户端
var ErrNilClient = errors.New("futures api client not set")

// ErrorType 错误类型
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeAuth
	ErrorTypeRateLimit
	ErrorTypeServer
	ErrorTypeClient
)

// String 返回错误类型字符串
func (e ErrorType) String() string {
	switch e {
	case ErrorTypeAuth:
		return "auth_error"
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeServer:
		return "server_error"
	case ErrorTypeClient:
		return "client_error"
	default:
		return "unknown"
	}
}

// APIError 交易所返回的非 2xx 响应
type APIError struct {
	Endpoint string
	Status   int
	Code     int
	Msg      string
	Type     ErrorType
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s status %d: code %d: %s", e.Endpoint, e.Status, e.Code, e.Msg)
	}
	return fmt.Sprintf("%s status %d: %s", e.Endpoint, e.Status, e.Msg)
}

// IsRateLimited 服务端拒绝（429/418）
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Type == ErrorTypeRateLimit
}

// newAPIError 解析 {"code":-1121,"msg":"Invalid symbol."} 形式的错误体
func newAPIError(endpoint string, status int, body []byte) *APIError {
	apiErr := &APIError{
		Endpoint: endpoint,
		Status:   status,
		Msg:      strings.TrimSpace(string(body)),
	}
	var payload struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Msg != "" {
		apiErr.Code = payload.Code
		apiErr.Msg = payload.Msg
	}
	if apiErr.Msg == "" {
		apiErr.Msg = http.StatusText(status)
	}
	apiErr.Type = ClassifyError(status, string(body))
	return apiErr
}

// ClassifyError 分类 REST 错误
func ClassifyError(statusCode int, body string) ErrorType {
	switch {
	case statusCode == 401 || statusCode == 403:
		return ErrorTypeAuth
	case statusCode == 429 || statusCode == 418:
		return ErrorTypeRateLimit
	case statusCode >= 500:
		return ErrorTypeServer
	case statusCode >= 400 && statusCode < 500:
		if strings.Contains(body, "-1021") || strings.Contains(body, "-1022") || strings.Contains(body, "-2015") {
			return ErrorTypeAuth
		}
		return ErrorTypeClient
	default:
		return ErrorTypeUnknown
	}
}
