// Package broker 将会话通知分发给所有订阅者。
package broker

import (
	"sync"
	"sync/atomic"

	"repplus/pkg/domain"
)

const subscriberBufSize = 256

// Broker 通知扇出，慢订阅者的事件会被丢弃
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan domain.Event
	nextID      atomic.Int64
	dropped     atomic.Int64
	closed      bool
}

// New 创建事件分发器
func New() *Broker {
	return &Broker{subscribers: make(map[int64]chan domain.Event)}
}

// Subscribe 注册订阅者，返回订阅 ID 与带缓冲的事件通道；分发器关闭后返回已关闭的通道
func (b *Broker) Subscribe() (int64, <-chan domain.Event) {
	id := b.nextID.Add(1)
	ch := make(chan domain.Event, subscriberBufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe 移除订阅者并关闭其通道
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
	}
}

// Publish 非阻塞地向所有订阅者发送事件
func (b *Broker) Publish(evt domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Close 关闭所有订阅通道，之后的发布为空操作
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}

// ClientCount 当前订阅者数量
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped 因订阅者过慢而丢弃的事件数
func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}
