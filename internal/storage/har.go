package storage

import (
	"encoding/base64"
	"encoding/json"
	"maps"
	"net/url"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/chromedp/cdproto/har"

	"repplus/pkg/traffic"
)

const (
	harVersion  = "1.2"
	httpVersion = "HTTP/1.1"
)

// HAR 将历史记录转换为 HAR 1.2 文档
func HAR(entries []Exchange, creatorVersion string) *har.HAR {
	log := &har.Log{
		Version: harVersion,
		Creator: &har.Creator{Name: "repplus", Version: creatorVersion},
		Entries: make([]*har.Entry, 0, len(entries)),
	}
	for i := range entries {
		log.Entries = append(log.Entries, harEntry(&entries[i]))
	}
	return &har.HAR{Log: log}
}

// MarshalHAR 序列化为带缩进的 HAR JSON
func MarshalHAR(entries []Exchange, creatorVersion string) ([]byte, error) {
	return json.MarshalIndent(HAR(entries, creatorVersion), "", "  ")
}

func harEntry(e *Exchange) *har.Entry {
	req := &har.Request{
		Method:      e.Method,
		URL:         e.URL,
		HTTPVersion: httpVersion,
		Cookies:     []*har.Cookie{},
		Headers:     nameValues(e.RequestHeaders),
		QueryString: queryString(e.URL),
		HeadersSize: -1,
		BodySize:    int64(len(e.RequestBody)),
	}
	if len(e.RequestBody) > 0 {
		req.PostData = &har.PostData{
			MimeType: e.RequestHeaders.Get("Content-Type"),
			Text:     string(e.RequestBody),
		}
	}

	content := &har.Content{
		Size:     int64(len(e.ResponseBody)),
		MimeType: e.ResponseHeaders.Get("Content-Type"),
	}
	if utf8.Valid(e.ResponseBody) {
		content.Text = string(e.ResponseBody)
	} else {
		content.Text = base64.StdEncoding.EncodeToString(e.ResponseBody)
		content.Encoding = "base64"
	}
	resp := &har.Response{
		Status:      int64(e.Status),
		StatusText:  e.StatusText,
		HTTPVersion: httpVersion,
		Cookies:     []*har.Cookie{},
		Headers:     nameValues(e.ResponseHeaders),
		Content:     content,
		RedirectURL: e.ResponseHeaders.Get("Location"),
		HeadersSize: -1,
		BodySize:    int64(len(e.ResponseBody)),
	}

	return &har.Entry{
		StartedDateTime: e.CreatedAt.UTC().Format(time.RFC3339Nano),
		Time:            float64(e.ElapsedMS),
		Request:         req,
		Response:        resp,
		Cache:           &har.Cache{},
		Timings:         &har.Timings{Send: 0, Wait: float64(e.ElapsedMS), Receive: 0},
		Comment:         e.Source + ":" + e.Action,
	}
}

func nameValues(h traffic.Header) []*har.NameValuePair {
	out := make([]*har.NameValuePair, 0, len(h))
	for _, f := range h {
		out = append(out, &har.NameValuePair{Name: f.Name, Value: f.Value})
	}
	return out
}

func queryString(raw string) []*har.NameValuePair {
	out := []*har.NameValuePair{}
	u, err := url.Parse(raw)
	if err != nil {
		return out
	}
	q := u.Query()
	for _, k := range slices.Sorted(maps.Keys(q)) {
		for _, v := range q[k] {
			out = append(out, &har.NameValuePair{Name: k, Value: v})
		}
	}
	return out
}
