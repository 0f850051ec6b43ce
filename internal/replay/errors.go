package replay

import (
	"errors"
	"fmt"
)

// ErrNetwork 网络层失败（DNS、连接、TLS、超时）
var ErrNetwork = errors.New("network failure")

// NetworkFailure 重放请求未能得到响应
type NetworkFailure struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkFailure) Error() string {
	return fmt.Sprintf("network failure: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkFailure) Unwrap() []error { return []error{ErrNetwork, e.Err} }
