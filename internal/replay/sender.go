// Package replay 将（可能已编辑的）请求重新发送到目标服务器。
package replay

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"repplus/internal/logger"
	"repplus/internal/rawhttp"
	"repplus/pkg/traffic"
)

// ForbiddenHeaders 由客户端自行管理、重放时不转发的头部。
// Accept-Encoding 交给 Transport 协商，响应体才会被自动解压
var ForbiddenHeaders = []string{
	"Host",
	"Accept-Encoding",
	"Connection",
	"Content-Length",
	"Expect",
	"Origin",
	"Referer",
	"User-Agent",
}

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "repplus/1.0"
	maxRedirects     = 10
)

// Options 发送器配置
type Options struct {
	Timeout         time.Duration
	Proxy           string
	Insecure        bool
	FollowRedirects bool
	// Cookies 为 true 时在同一发送器内保留服务端下发的 Cookie
	Cookies   bool
	UserAgent string
	Logger    logger.Logger
}

// DefaultOptions 默认跟随重定向并保留 Cookie
func DefaultOptions() Options {
	return Options{
		Timeout:         defaultTimeout,
		FollowRedirects: true,
		Cookies:         true,
		UserAgent:       defaultUserAgent,
	}
}

// Response 重放结果
type Response struct {
	Status     int            `json:"status"`
	StatusText string         `json:"statusText"`
	Headers    traffic.Header `json:"headers"`
	Body       []byte         `json:"body"`
	Size       int            `json:"size"`
	Elapsed    time.Duration  `json:"elapsed"`
	FinalURL   string         `json:"url"`
	Redirected bool           `json:"redirected"`
}

// ElapsedMS 耗时（毫秒）
func (r *Response) ElapsedMS() int64 { return r.Elapsed.Milliseconds() }

// Sender 基于 net/http 的请求发送器
type Sender struct {
	client    *http.Client
	userAgent string
	log       logger.Logger
}

// NewSender 创建发送器
func NewSender(opts Options) (*Sender, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: opts.Insecure},
		DialContext: (&net.Dialer{
			Timeout: opts.Timeout,
		}).DialContext,
		MaxIdleConns:        32,
		MaxIdleConnsPerHost: 16,
	}
	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", opts.Proxy, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
	}
	if opts.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		}
	} else {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	if opts.Cookies {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		client.Jar = jar
	}

	return &Sender{client: client, userAgent: opts.UserAgent, log: opts.Logger}, nil
}

// Send 发送请求，GET/HEAD 不携带请求体
func (s *Sender) Send(ctx context.Context, r *traffic.Request) (*Response, error) {
	method := strings.ToUpper(strings.TrimSpace(r.Method))
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(r.Body) > 0 && method != http.MethodGet && method != http.MethodHead {
		body = strings.NewReader(string(r.Body))
	}

	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return nil, &NetworkFailure{Method: method, URL: r.URL, Err: err}
	}
	for _, f := range r.Headers.Without(ForbiddenHeaders...) {
		req.Header.Add(f.Name, f.Value)
	}
	req.Header.Set("User-Agent", s.userAgent)

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Debug("重放请求失败", "method", method, "url", r.URL, "error", err.Error())
		return nil, &NetworkFailure{Method: method, URL: r.URL, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkFailure{Method: method, URL: r.URL, Err: fmt.Errorf("reading response body: %w", err)}
	}
	elapsed := time.Since(start)

	finalURL := resp.Request.URL.String()
	out := &Response{
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		Headers:    traffic.FromHTTP(resp.Header),
		Body:       data,
		Size:       len(data),
		Elapsed:    elapsed,
		FinalURL:   finalURL,
		Redirected: finalURL != req.URL.String(),
	}
	s.log.Debug("重放请求完成", "method", method, "url", r.URL, "status", out.Status, "elapsed_ms", elapsed.Milliseconds())
	return out, nil
}

// ReplayRaw 解析原始请求文本后发送
func (s *Sender) ReplayRaw(ctx context.Context, raw string) (*Response, error) {
	req, err := rawhttp.Decode(raw)
	if err != nil {
		return nil, err
	}
	return s.Send(ctx, req.Traffic())
}

// statusText 去掉 "200 OK" 中的状态码
func statusText(resp *http.Response) string {
	if _, text, ok := strings.Cut(resp.Status, " "); ok {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
