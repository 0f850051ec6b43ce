package fuzz

import (
	"sync"
	"time"
)

// Pauser 分块之间的暂停闸门；Stop 会唤醒所有等待者
type Pauser struct {
	mu          sync.Mutex
	cond        *sync.Cond
	paused      bool
	stopped     bool
	stopCh      chan struct{}
	pausedSince time.Time
	totalPaused time.Duration
}

// NewPauser 创建处于运行状态的闸门
func NewPauser() *Pauser {
	p := &Pauser{stopCh: make(chan struct{})}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Wait 暂停时阻塞；返回 false 表示已停止
func (p *Pauser) Wait() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.paused && !p.stopped {
		p.cond.Wait()
	}
	return !p.stopped
}

// Pause 进入暂停，已暂停或已停止时返回 false
func (p *Pauser) Pause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused || p.stopped {
		return false
	}
	p.paused = true
	p.pausedSince = time.Now()
	return true
}

// Resume 恢复运行，未暂停时返回 false
func (p *Pauser) Resume() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		return false
	}
	p.totalPaused += time.Since(p.pausedSince)
	p.paused = false
	p.cond.Broadcast()
	return true
}

// Stop 停止并唤醒等待者
func (p *Pauser) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		p.totalPaused += time.Since(p.pausedSince)
		p.paused = false
	}
	if !p.stopped {
		p.stopped = true
		close(p.stopCh)
	}
	p.cond.Broadcast()
}

// Stopped 停止时关闭，用于中断分块间的等待
func (p *Pauser) Stopped() <-chan struct{} { return p.stopCh }

// IsPaused 是否处于暂停
func (p *Pauser) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// IsStopped 是否已停止
func (p *Pauser) IsStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// PausedDuration 累计暂停时长，包含当前这次
func (p *Pauser) PausedDuration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := p.totalPaused
	if p.paused {
		d += time.Since(p.pausedSince)
	}
	return d
}
