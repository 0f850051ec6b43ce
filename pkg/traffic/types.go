package traffic

import (
	"net/http"
	"slices"
	"strings"
)

// Field 单个头部字段
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Header 有序的头部集合，名称比较大小写不敏感
type Header []Field

// Get 获取指定 Header 的值（大小写不敏感）
func (h Header) Get(key string) string {
	for _, f := range h {
		if strings.EqualFold(f.Name, key) {
			return f.Value
		}
	}
	return ""
}

// Has 判断是否包含指定 Header
func (h Header) Has(key string) bool {
	for _, f := range h {
		if strings.EqualFold(f.Name, key) {
			return true
		}
	}
	return false
}

// Set 设置指定 Header 的值，已存在时原位替换以保持顺序
func (h *Header) Set(key, value string) {
	for i := range *h {
		if strings.EqualFold((*h)[i].Name, key) {
			(*h)[i].Value = value
			return
		}
	}
	*h = append(*h, Field{Name: key, Value: value})
}

// Add 追加一个 Header，不检查重复
func (h *Header) Add(key, value string) {
	*h = append(*h, Field{Name: key, Value: value})
}

// Del 删除指定 Header 的所有出现
func (h *Header) Del(key string) {
	out := (*h)[:0]
	for _, f := range *h {
		if !strings.EqualFold(f.Name, key) {
			out = append(out, f)
		}
	}
	*h = out
}

// Clone 深拷贝
func (h Header) Clone() Header {
	if h == nil {
		return nil
	}
	out := make(Header, len(h))
	copy(out, h)
	return out
}

// Without 返回去除指定名称（大小写不敏感）后的副本
func (h Header) Without(names ...string) Header {
	out := make(Header, 0, len(h))
	for _, f := range h {
		skip := false
		for _, n := range names {
			if strings.EqualFold(f.Name, n) {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, f)
		}
	}
	return out
}

// Map 转换为普通 map，后出现的同名字段覆盖先出现的
func (h Header) Map() map[string]string {
	m := make(map[string]string, len(h))
	for _, f := range h {
		m[f.Name] = f.Value
	}
	return m
}

// FromHTTP 从 net/http 头部转换，按名称排序以保证输出稳定
func FromHTTP(src http.Header) Header {
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make(Header, 0, len(keys))
	for _, k := range keys {
		for _, v := range src[k] {
			out = append(out, Field{Name: k, Value: v})
		}
	}
	return out
}

// Request 中立的请求模型
type Request struct {
	Method  string `json:"method"`
	URL     string `json:"url"`
	Headers Header `json:"headers"`
	Body    []byte `json:"body,omitempty"`
}

// Response 中立的响应模型
type Response struct {
	StatusCode int    `json:"statusCode"`
	StatusText string `json:"statusText"`
	Headers    Header `json:"headers"`
	Body       []byte `json:"body,omitempty"`
}

// NewRequest 创建初始化请求对象
func NewRequest() *Request {
	return &Request{Method: http.MethodGet}
}

// NewResponse 创建初始化响应对象
func NewResponse() *Response {
	return &Response{
		StatusCode: http.StatusOK,
		StatusText: http.StatusText(http.StatusOK),
	}
}
