// Package fuzz 基于带标记的原始请求模板生成并执行批量请求，并对结果做分类与差异比对。
package fuzz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"repplus/internal/logger"
	"repplus/internal/rawhttp"
	"repplus/internal/replay"
	"repplus/pkg/traffic"
)

const (
	// DefaultThreads 每个分块内的并发请求数
	DefaultThreads = 4
	// MaxCombinations 单次攻击允许的最大组合数
	MaxCombinations = 1_000_000
)

// Sender 请求发送者，replay.Sender 即为实现
type Sender interface {
	Send(ctx context.Context, r *traffic.Request) (*replay.Response, error)
}

// Config 攻击配置
type Config struct {
	Template    string        `json:"template"`
	Mode        Mode          `json:"mode"`
	PayloadSets []PayloadSet  `json:"payloadSets"`
	Threads     int           `json:"threads"`
	Delay       time.Duration `json:"delay"`
	Grep        GrepRules     `json:"grep"`
}

// Result 单个组合的执行结果
type Result struct {
	Ordinal        int               `json:"ordinal"`
	PayloadDisplay string            `json:"payloadDisplay"`
	Payloads       []string          `json:"payloads"`
	RequestText    string            `json:"request"`
	Status         int               `json:"status"`
	StatusText     string            `json:"statusText,omitempty"`
	Length         int               `json:"length"`
	ElapsedMS      int64             `json:"elapsedMs"`
	DiffScore      int               `json:"diff"`
	GrepMatches    map[string]bool   `json:"grepMatches,omitempty"`
	GrepExtracts   map[string]string `json:"grepExtracts,omitempty"`
	Body           []byte            `json:"-"`
	Error          string            `json:"error,omitempty"`
}

// Failed 请求未得到响应
func (r Result) Failed() bool { return r.Error != "" }

// State 攻击状态
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
	StateDone    State = "done"
)

// Progress 攻击进度
type Progress struct {
	State     State `json:"state"`
	Completed int   `json:"completed"`
	Total     int   `json:"total"`
}

// Baseline 基线响应
type Baseline struct {
	Status int    `json:"status"`
	Body   []byte `json:"-"`
	Length int    `json:"length"`
	Error  string `json:"error,omitempty"`
}

// Option 攻击选项
type Option func(*Attack)

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(a *Attack) { a.log = l }
}

// WithID 设置攻击标识
func WithID(id string) Option {
	return func(a *Attack) { a.id = id }
}

// WithResultHandler 每产生一条结果回调一次，回调在请求协程中执行
func WithResultHandler(fn func(Result)) Option {
	return func(a *Attack) { a.onResult = fn }
}

// Attack 一次攻击运行
type Attack struct {
	id        string
	cfg       Config
	positions []Position
	combos    []Combination
	sender    Sender
	log       logger.Logger
	onResult  func(Result)
	pauser    *Pauser

	started   atomic.Bool
	completed atomic.Int64
	done      chan struct{}

	mu       sync.Mutex
	state    State
	results  []Result
	baseline *Baseline
	runErr   error
}

// New 校验配置并预先生成全部组合
func New(cfg Config, sender Sender, opts ...Option) (*Attack, error) {
	if cfg.Threads <= 0 {
		cfg.Threads = DefaultThreads
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	mode, err := ParseMode(string(cfg.Mode))
	if err != nil {
		return nil, err
	}
	cfg.Mode = mode

	positions := ParsePositions(cfg.Template)
	if len(positions) == 0 {
		return nil, &ConfigError{Reason: "mark positions with " + Marker, Err: ErrNoPositions}
	}
	hasPayloads := false
	for _, s := range cfg.PayloadSets {
		if len(s) > 0 {
			hasPayloads = true
			break
		}
	}
	if !hasPayloads {
		return nil, &ConfigError{Err: ErrNoPayloads}
	}
	if n := Count(mode, len(positions), cfg.PayloadSets); n > MaxCombinations {
		return nil, &ConfigError{Reason: fmt.Sprintf("%d combinations, limit is %d", n, MaxCombinations), Err: ErrTooManyRequests}
	}
	combos := Combinations(mode, len(positions), cfg.PayloadSets)
	if len(combos) == 0 {
		return nil, &ConfigError{Reason: "check payload sets for each position", Err: ErrNoCombinations}
	}

	a := &Attack{
		cfg:       cfg,
		positions: positions,
		combos:    combos,
		sender:    sender,
		log:       logger.NewNop(),
		pauser:    NewPauser(),
		done:      make(chan struct{}),
		state:     StateIdle,
	}
	for _, o := range opts {
		o(a)
	}
	a.log = a.log.With("attack", a.id)
	return a, nil
}

// ID 攻击标识
func (a *Attack) ID() string { return a.id }

// Config 攻击配置
func (a *Attack) Config() Config { return a.cfg }

// Positions 模板中的位置
func (a *Attack) Positions() []Position { return a.positions }

// Combinations 预生成的组合
func (a *Attack) Combinations() []Combination { return a.combos }

// Start 在后台执行攻击
func (a *Attack) Start(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	a.setState(StateRunning)
	go a.run(ctx)
	return nil
}

// Run 同步执行攻击直到完成、停止或 ctx 取消
func (a *Attack) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	<-a.done
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runErr
}

// Done 攻击结束时关闭
func (a *Attack) Done() <-chan struct{} { return a.done }

// Pause 在下一个分块前暂停，仅运行中的攻击可以暂停
func (a *Attack) Pause() bool {
	a.mu.Lock()
	running := a.state == StateRunning
	a.mu.Unlock()
	if !running || !a.pauser.Pause() {
		return false
	}
	a.setStateIf(StateRunning, StatePaused)
	a.log.Info("攻击已暂停")
	return true
}

// Resume 恢复执行
func (a *Attack) Resume() bool {
	if !a.pauser.Resume() {
		return false
	}
	a.setStateIf(StatePaused, StateRunning)
	a.log.Info("攻击已恢复")
	return true
}

// Stop 在当前分块结束后停止，进行中的请求不会被中断
func (a *Attack) Stop() {
	a.pauser.Stop()
	a.log.Info("攻击停止请求已发出")
}

// Results 按完成顺序返回结果副本
func (a *Attack) Results() []Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Result, len(a.results))
	copy(out, a.results)
	return out
}

// Result 按序号查找结果
func (a *Attack) Result(ordinal int) (Result, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.results {
		if r.Ordinal == ordinal {
			return r, true
		}
	}
	return Result{}, false
}

// ClearResults 清空结果列表
func (a *Attack) ClearResults() {
	a.mu.Lock()
	a.results = nil
	a.mu.Unlock()
}

// Baseline 基线响应，尚未发送时为 nil
func (a *Attack) Baseline() *Baseline {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.baseline
}

// Progress 当前进度
func (a *Attack) Progress() Progress {
	a.mu.Lock()
	st := a.state
	a.mu.Unlock()
	return Progress{State: st, Completed: int(a.completed.Load()), Total: len(a.combos)}
}

func (a *Attack) run(ctx context.Context) {
	defer close(a.done)
	start := time.Now()
	a.log.Info("攻击开始", "mode", a.cfg.Mode, "positions", len(a.positions), "requests", len(a.combos), "threads", a.cfg.Threads)

	a.sendBaseline(ctx)

	threads := a.cfg.Threads
	for i := 0; i < len(a.combos); i += threads {
		if !a.pauser.Wait() {
			break
		}
		if err := ctx.Err(); err != nil {
			a.setRunErr(err)
			break
		}

		chunk := a.combos[i:min(i+threads, len(a.combos))]
		var wg sync.WaitGroup
		for _, c := range chunk {
			wg.Add(1)
			go func(c Combination) {
				defer wg.Done()
				a.record(a.execute(ctx, c))
			}(c)
		}
		wg.Wait()

		if a.cfg.Delay > 0 && i+threads < len(a.combos) {
			t := time.NewTimer(a.cfg.Delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
			case <-a.pauser.Stopped():
				t.Stop()
			}
		}
	}

	final := StateDone
	if a.pauser.IsStopped() || ctx.Err() != nil {
		final = StateStopped
	}
	a.setState(final)
	a.log.Info("攻击结束", "state", final, "completed", a.completed.Load(), "total", len(a.combos), "elapsed", time.Since(start).String())
}

func (a *Attack) sendBaseline(ctx context.Context) {
	text := BuildRequest(a.cfg.Template, a.positions, nil)
	b := &Baseline{}
	resp, err := a.send(ctx, text)
	if err != nil {
		b.Error = err.Error()
		a.log.Warn("基线请求失败，本次攻击不计算差异度", "error", err.Error())
	} else {
		b.Status, b.Body, b.Length = resp.Status, resp.Body, len(resp.Body)
	}
	a.mu.Lock()
	a.baseline = b
	a.mu.Unlock()
}

func (a *Attack) execute(ctx context.Context, c Combination) Result {
	text := BuildRequest(a.cfg.Template, a.positions, c.Payloads)
	res := Result{
		Ordinal:        c.Ordinal,
		PayloadDisplay: c.Display,
		Payloads:       c.Payloads,
		RequestText:    text,
	}

	start := time.Now()
	resp, err := a.send(ctx, text)
	res.ElapsedMS = time.Since(start).Milliseconds()
	if err != nil {
		res.Error = err.Error()
		var pe *rawhttp.ParseError
		if errors.As(err, &pe) {
			a.log.Warn("载荷导致请求无法解析", "ordinal", c.Ordinal, "error", err.Error())
		} else {
			a.log.Debug("攻击请求失败", "ordinal", c.Ordinal, "error", err.Error())
		}
		return res
	}

	body := string(resp.Body)
	res.Status = resp.Status
	res.StatusText = resp.StatusText
	res.Length = len(resp.Body)
	res.ElapsedMS = resp.ElapsedMS()
	res.Body = resp.Body
	res.GrepMatches = a.cfg.Grep.ApplyMatch(body)
	res.GrepExtracts = a.cfg.Grep.ApplyExtract(body)
	if base := a.Baseline(); base != nil && base.Error == "" {
		res.DiffScore = DiffScore(base.Body, resp.Body)
	}
	return res
}

func (a *Attack) send(ctx context.Context, text string) (*replay.Response, error) {
	req, err := rawhttp.Decode(text)
	if err != nil {
		return nil, err
	}
	return a.sender.Send(ctx, req.Traffic())
}

func (a *Attack) record(r Result) {
	a.mu.Lock()
	a.results = append(a.results, r)
	a.mu.Unlock()
	a.completed.Add(1)
	if a.onResult != nil {
		a.onResult(r)
	}
}

func (a *Attack) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

func (a *Attack) setStateIf(from, to State) {
	a.mu.Lock()
	if a.state == from {
		a.state = to
	}
	a.mu.Unlock()
}

func (a *Attack) setRunErr(err error) {
	a.mu.Lock()
	a.runErr = err
	a.mu.Unlock()
}

// Count 不生成组合直接计算组合数，超过上限时返回 MaxCombinations+1
func Count(mode Mode, positions int, sets []PayloadSet) int {
	size := func(i int) int {
		if i < len(sets) {
			return len(sets[i])
		}
		return 0
	}
	switch mode {
	case ModeSniper:
		return positions * size(0)
	case ModeBatteringRam:
		return size(0)
	case ModePitchfork:
		n := 0
		for i := 0; i < positions; i++ {
			n = max(n, size(i))
		}
		return n
	case ModeClusterBomb:
		n := 1
		for i := 0; i < positions; i++ {
			n *= size(i)
			if n == 0 {
				return 0
			}
			if n > MaxCombinations {
				return MaxCombinations + 1
			}
		}
		return n
	}
	return 0
}
