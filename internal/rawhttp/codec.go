// Package rawhttp 在结构化的请求/响应与原始 HTTP 文本之间相互转换。
package rawhttp

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"repplus/pkg/traffic"
)

// LineEnding 输出时使用的换行符
type LineEnding string

const (
	LF   LineEnding = "\n"
	CRLF LineEnding = "\r\n"
)

const defaultProto = "HTTP/1.1"

var (
	ErrEmpty                = errors.New("empty message")
	ErrMalformedRequestLine = errors.New("malformed request line")
	ErrMalformedStatusLine  = errors.New("malformed status line")
	ErrMissingHost          = errors.New("missing Host header")
	ErrInvalidURL           = errors.New("invalid url")
)

// ParseError 原始文本无法解析
type ParseError struct {
	Line string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line != "" {
		return fmt.Sprintf("invalid request format: %v: %q", e.Err, e.Line)
	}
	return "invalid request format: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// Request 解析得到的请求
type Request struct {
	Method  string
	URL     string
	Path    string
	Proto   string
	Headers traffic.Header
	Body    []byte
}

// Traffic 转换为中立请求模型
func (r *Request) Traffic() *traffic.Request {
	return &traffic.Request{
		Method:  r.Method,
		URL:     r.URL,
		Headers: r.Headers.Clone(),
		Body:    r.Body,
	}
}

// Response 解析得到的响应
type Response struct {
	Proto      string
	StatusCode int
	StatusText string
	Headers    traffic.Header
	Body       []byte
}

type options struct {
	lineEnding LineEnding
}

// Option 编码选项
type Option func(*options)

// WithLineEnding 指定输出换行符
func WithLineEnding(le LineEnding) Option {
	return func(o *options) { o.lineEnding = le }
}

func buildOptions(opts []Option) options {
	o := options{lineEnding: LF}
	for _, fn := range opts {
		fn(&o)
	}
	if o.lineEnding != CRLF {
		o.lineEnding = LF
	}
	return o
}

// Encode 将请求编码为原始文本：请求行、由 URL 推导的 Host、其余头部、空行、请求体
func Encode(method, rawURL string, headers traffic.Header, body []byte, opts ...Option) (string, error) {
	o := buildOptions(opts)
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", &ParseError{Line: rawURL, Err: ErrInvalidURL}
	}
	nl := string(o.lineEnding)

	var b strings.Builder
	b.WriteString(method)
	b.WriteByte(' ')
	b.WriteString(u.RequestURI())
	b.WriteByte(' ')
	b.WriteString(defaultProto)
	b.WriteString(nl)
	b.WriteString("Host: ")
	b.WriteString(u.Host)
	b.WriteString(nl)
	for _, f := range headers {
		if strings.EqualFold(f.Name, "host") {
			continue
		}
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Value)
		b.WriteString(nl)
	}
	b.WriteString(nl)
	b.Write(body)
	return b.String(), nil
}

// Decode 解析原始请求文本并还原绝对 URL
func Decode(raw string) (*Request, error) {
	first, headers, body, err := split(raw)
	if err != nil {
		return nil, err
	}

	parts := strings.Fields(first)
	if len(parts) < 2 {
		return nil, &ParseError{Line: first, Err: ErrMalformedRequestLine}
	}
	req := &Request{
		Method:  parts[0],
		Path:    parts[1],
		Proto:   defaultProto,
		Headers: headers,
		Body:    body,
	}
	if len(parts) >= 3 {
		req.Proto = parts[2]
	}

	// 部分代理导出的请求行直接携带绝对 URL
	if strings.HasPrefix(req.Path, "http://") || strings.HasPrefix(req.Path, "https://") {
		if _, err := url.Parse(req.Path); err != nil {
			return nil, &ParseError{Line: first, Err: ErrInvalidURL}
		}
		req.URL = req.Path
		return req, nil
	}

	host := strings.TrimSpace(headers.Get("Host"))
	if host == "" {
		return nil, &ParseError{Err: ErrMissingHost}
	}
	scheme := "https"
	if p := strings.ToLower(strings.TrimSpace(headers.Get("X-Forwarded-Proto"))); p != "" {
		scheme = p
	}
	path := req.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	full := scheme + "://" + host + path
	if _, err := url.Parse(full); err != nil {
		return nil, &ParseError{Line: first, Err: ErrInvalidURL}
	}
	req.URL = full
	return req, nil
}

// EncodeResponse 将响应编码为原始文本
func EncodeResponse(status int, statusText string, headers traffic.Header, body []byte, opts ...Option) string {
	o := buildOptions(opts)
	nl := string(o.lineEnding)

	var b strings.Builder
	b.WriteString(defaultProto)
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(status))
	if statusText != "" {
		b.WriteByte(' ')
		b.WriteString(statusText)
	}
	b.WriteString(nl)
	for _, f := range headers {
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Value)
		b.WriteString(nl)
	}
	b.WriteString(nl)
	b.Write(body)
	return b.String()
}

// DecodeResponse 解析原始响应文本
func DecodeResponse(raw string) (*Response, error) {
	first, headers, body, err := split(raw)
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(first, " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(strings.ToUpper(parts[0]), "HTTP/") {
		return nil, &ParseError{Line: first, Err: ErrMalformedStatusLine}
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil || code < 100 || code > 999 {
		return nil, &ParseError{Line: first, Err: ErrMalformedStatusLine}
	}
	resp := &Response{
		Proto:      parts[0],
		StatusCode: code,
		Headers:    headers,
		Body:       body,
	}
	if len(parts) == 3 {
		resp.StatusText = strings.TrimSpace(parts[2])
	}
	return resp, nil
}

// split 拆分首行、头部与正文，正文按原样保留
func split(raw string) (string, traffic.Header, []byte, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil, nil, &ParseError{Err: ErrEmpty}
	}

	pos := 0
	next := func() (string, bool) {
		if pos >= len(raw) {
			return "", false
		}
		i := strings.IndexByte(raw[pos:], '\n')
		var line string
		if i < 0 {
			line = raw[pos:]
			pos = len(raw)
		} else {
			line = raw[pos : pos+i]
			pos += i + 1
		}
		return strings.TrimSuffix(line, "\r"), true
	}

	// 跳过开头的空行
	var first string
	for {
		line, ok := next()
		if !ok {
			return "", nil, nil, &ParseError{Err: ErrEmpty}
		}
		if strings.TrimSpace(line) != "" {
			first = strings.TrimSpace(line)
			break
		}
	}

	headers := traffic.Header{}
	for {
		line, ok := next()
		if !ok {
			return first, headers, nil, nil
		}
		if strings.TrimSpace(line) == "" {
			break
		}
		idx := strings.Index(line, ":")
		if idx <= 0 {
			continue
		}
		headers.Add(strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]))
	}

	var body []byte
	if pos < len(raw) {
		body = []byte(raw[pos:])
	}
	return first, headers, body, nil
}
