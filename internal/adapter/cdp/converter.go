// Package cdp 在 devtools 协议类型与中立模型之间转换。
package cdp

import (
	"encoding/json"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/tidwall/gjson"

	"repplus/pkg/traffic"
)

// RequestHeaders 按文档顺序解析 CDP 请求头对象
func RequestHeaders(raw []byte) traffic.Header {
	h := traffic.Header{}
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return h
	}
	gjson.ParseBytes(raw).ForEach(func(k, v gjson.Result) bool {
		h.Add(k.String(), v.String())
		return true
	})
	return h
}

// ResponseHeaders 将响应头条目转换为有序头部
func ResponseHeaders(entries []fetch.HeaderEntry) traffic.Header {
	h := make(traffic.Header, 0, len(entries))
	for _, e := range entries {
		h.Add(e.Name, e.Value)
	}
	return h
}

// ToHeaderEntries 将中立 Header 转换为 CDP Header 条目，保持顺序
func ToHeaderEntries(h traffic.Header) []fetch.HeaderEntry {
	entries := make([]fetch.HeaderEntry, 0, len(h))
	for _, f := range h {
		entries = append(entries, fetch.HeaderEntry{Name: f.Name, Value: f.Value})
	}
	return entries
}

// PostData 请求体，无请求体时为 nil
func PostData(ev *fetch.RequestPausedReply) []byte {
	if ev.Request.PostData == nil || *ev.Request.PostData == "" {
		return nil
	}
	return []byte(*ev.Request.PostData)
}

// ResponseMeta 读取响应阶段的状态文本与错误原因
func ResponseMeta(ev *fetch.RequestPausedReply) (statusText, errorReason string) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", ""
	}
	r := gjson.GetManyBytes(data, "responseStatusText", "responseErrorReason")
	return r[0].String(), r[1].String()
}
