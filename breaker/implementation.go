package breaker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ceyewan/fuse/clog"
	"github.com/ceyewan/fuse/metrics"
)

// circuitBreaker 熔断器实现（非导出）
//
// 并发模型：单把互斥锁同时保护状态、窗口与半开计数器——
// 窗口内容与状态不是相互独立一致的，必须作为原子单元读写。
// 事件在持锁期间按提交顺序发布；由于投递是非阻塞的，
// 临界区内的发布开销有界。
type circuitBreaker struct {
	name     string
	cfg      *Config
	logger   clog.Logger
	ins      *instruments
	fallback FallbackFunc
	bus      *EventBus
	clock    nowFunc

	mu              sync.Mutex
	state           State
	closedWindow    outcomeWindow
	halfOpenWindow  *countWindow
	openedAt        time.Time
	halfOpenPermits int
	frozen          Snapshot // 离开 Closed 时冻结的快照
	failureRateHigh bool     // 失败率越界事件已发布
	slowRateHigh    bool     // 慢调用率越界事件已发布
	generation      uint64   // 状态代际，防止过期定时器触发陈旧转换
	timer           *time.Timer
}

// newBreaker 创建熔断器实例（内部函数）
func newBreaker(
	name string,
	cfg *Config,
	logger clog.Logger,
	meter metrics.Meter,
	fallback FallbackFunc,
) (Breaker, error) {
	normalized, err := cfg.normalize()
	if err != nil {
		return nil, err
	}

	cb := &circuitBreaker{
		name:     name,
		cfg:      normalized,
		logger:   logger,
		fallback: fallback,
		bus:      NewEventBus(),
		clock:    time.Now,
		state:    StateClosed,
		frozen:   makeSnapshot(0, 0, 0),
	}
	cb.closedWindow = cb.newClosedWindow()
	cb.halfOpenWindow = newCountWindow(normalized.PermittedCallsInHalfOpen)

	if meter != nil {
		if cb.ins, err = newInstruments(meter); err != nil {
			return nil, err
		}
	}

	if logger != nil {
		logger.Info("circuit breaker created",
			clog.Float64("failure_rate_threshold", normalized.FailureRateThreshold),
			clog.Float64("slow_call_rate_threshold", normalized.SlowCallRateThreshold),
			clog.String("sliding_window_type", string(normalized.SlidingWindowType)),
			clog.Int("sliding_window_size", normalized.SlidingWindowSize),
			clog.Int("minimum_number_of_calls", normalized.MinimumNumberOfCalls),
			clog.Duration("wait_duration_in_open", normalized.WaitDurationInOpen))
	}

	return cb, nil
}

// newClosedWindow 按配置创建闭合状态的统计窗口
func (cb *circuitBreaker) newClosedWindow() outcomeWindow {
	if cb.cfg.SlidingWindowType == WindowTimeBased {
		return newTimeWindow(cb.cfg.SlidingWindowSize, func() time.Time { return cb.clock() })
	}
	return newCountWindow(cb.cfg.SlidingWindowSize)
}

// Name 返回熔断器名称
func (cb *circuitBreaker) Name() string {
	return cb.name
}

// State 返回当前状态
func (cb *circuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot 返回当前状态对应窗口的统计快照
func (cb *circuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateMetricsOnly:
		return cb.closedWindow.snapshot()
	case StateHalfOpen:
		return cb.halfOpenWindow.snapshot()
	default:
		return cb.frozen
	}
}

// PermitsCalls 只读探测：当前 Acquire 是否会放行（无副作用）
func (cb *circuitBreaker) PermitsCalls() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateDisabled, StateMetricsOnly:
		return true
	case StateForcedOpen:
		return false
	case StateOpen:
		// 惰性转换会把调用放进新的半开窗口，必然有探测名额
		return !cb.cfg.AutoTransitionFromOpenToHalfOpen &&
			cb.clock().Sub(cb.openedAt) >= cb.cfg.WaitDurationInOpen
	case StateHalfOpen:
		return cb.halfOpenPermits < cb.cfg.PermittedCallsInHalfOpen
	default:
		return false
	}
}

// ========================================
// 调用准入 (Acquire)
// ========================================

// Acquire 请求一个调用通行凭证
func (cb *circuitBreaker) Acquire() (*Permit, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.acquireLocked()
}

func (cb *circuitBreaker) acquireLocked() (*Permit, error) {
	switch cb.state {
	case StateClosed, StateDisabled, StateMetricsOnly:
		return &Permit{cb: cb}, nil

	case StateForcedOpen:
		return nil, cb.rejectLocked(ErrOpenState)

	case StateOpen:
		// 等待时间已过则惰性转入半开并按半开规则重新评估
		if !cb.cfg.AutoTransitionFromOpenToHalfOpen &&
			cb.clock().Sub(cb.openedAt) >= cb.cfg.WaitDurationInOpen {
			cb.transitionLocked(StateHalfOpen)
			return cb.acquireHalfOpenLocked()
		}
		return nil, cb.rejectLocked(ErrOpenState)

	case StateHalfOpen:
		return cb.acquireHalfOpenLocked()

	default:
		return nil, ErrUnknownState
	}
}

// acquireHalfOpenLocked 半开状态准入：名额消耗与放行决策必须原子
func (cb *circuitBreaker) acquireHalfOpenLocked() (*Permit, error) {
	if cb.halfOpenPermits < cb.cfg.PermittedCallsInHalfOpen {
		cb.halfOpenPermits++
		return &Permit{cb: cb}, nil
	}
	return nil, cb.rejectLocked(ErrTooManyCalls)
}

// rejectLocked 发布拒绝事件并返回拒绝错误
func (cb *circuitBreaker) rejectLocked(err error) error {
	cb.publishLocked(Event{Kind: EventNotPermitted, Err: err})
	cb.ins.recordReject(cb.name)

	if cb.logger != nil {
		cb.logger.Debug("call not permitted",
			clog.String("state", cb.state.String()),
			clog.Error(err))
	}
	return err
}

// ========================================
// 结果回报 (Permit / record)
// ========================================

// Permit 调用通行凭证
// 由 Acquire 签发，必须且只能通过 Record 回报一次调用结果。
// 没有凭证就无法回报结果，从结构上杜绝了漏配对的协议违规。
type Permit struct {
	cb   *circuitBreaker
	used atomic.Bool
}

// Record 回报调用结果
// elapsed 为调用耗时，err 为调用错误（nil 表示成功）。
// 重复回报返回 ErrPermitUsed。
func (p *Permit) Record(elapsed time.Duration, err error) error {
	if p == nil || p.cb == nil {
		return ErrPermitUsed
	}
	if !p.used.CompareAndSwap(false, true) {
		return ErrPermitUsed
	}
	p.cb.record(elapsed, err)
	return nil
}

// record 将一次调用结果并入统计并评估状态转换
func (cb *circuitBreaker) record(elapsed time.Duration, err error) {
	verdict := VerdictNotMatched
	if err != nil {
		verdict = cb.cfg.Classifier.Classify(err)
	}

	failure := verdict == VerdictFailure
	slow := elapsed >= cb.cfg.SlowCallDurationThreshold

	kind := EventSuccess
	switch verdict {
	case VerdictFailure:
		kind = EventError
	case VerdictIgnored:
		kind = EventIgnoredError
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.publishLocked(Event{Kind: kind, Err: err, Elapsed: elapsed})
	cb.ins.recordCall(cb.name, kind, elapsed.Seconds())

	// 被忽略的错误不进入窗口，也不参与任何阈值评估
	// 半开状态下归还探测名额：被忽略的结果不推进窗口评估，
	// 不归还会导致名额耗尽后再无探测机会，熔断器永远停在半开
	if verdict == VerdictIgnored {
		if cb.state == StateHalfOpen && cb.halfOpenPermits > 0 {
			cb.halfOpenPermits--
		}
		return
	}

	switch cb.state {
	case StateClosed:
		cb.closedWindow.record(failure, slow)
		snap := cb.closedWindow.snapshot()
		cb.checkRatesLocked(snap)
		if snap.TotalCalls >= cb.cfg.MinimumNumberOfCalls && cb.exceedsThresholds(snap) {
			cb.transitionLocked(StateOpen)
		}

	case StateMetricsOnly:
		// 统计并发布越界事件，但永不触发熔断
		cb.closedWindow.record(failure, slow)
		cb.checkRatesLocked(cb.closedWindow.snapshot())

	case StateHalfOpen:
		cb.halfOpenWindow.record(failure, slow)
		snap := cb.halfOpenWindow.snapshot()
		cb.checkRatesLocked(snap)
		if snap.TotalCalls >= cb.cfg.PermittedCallsInHalfOpen {
			if cb.exceedsThresholds(snap) {
				cb.transitionLocked(StateOpen)
			} else {
				cb.transitionLocked(StateClosed)
			}
		}

	default:
		// Open/ForcedOpen/Disabled：迟到的结果不进入窗口
	}
}

// exceedsThresholds 判断快照是否越过任一熔断阈值
func (cb *circuitBreaker) exceedsThresholds(snap Snapshot) bool {
	return snap.FailureRate >= cb.cfg.FailureRateThreshold ||
		snap.SlowCallRate >= cb.cfg.SlowCallRateThreshold
}

// checkRatesLocked 在快照首次越过阈值的瞬间发布越界事件
// 比率回落后允许再次发布
func (cb *circuitBreaker) checkRatesLocked(snap Snapshot) {
	if snap.FailureRate >= cb.cfg.FailureRateThreshold {
		if !cb.failureRateHigh {
			cb.failureRateHigh = true
			cb.publishLocked(Event{Kind: EventFailureRateExceeded, Rate: snap.FailureRate})
		}
	} else {
		cb.failureRateHigh = false
	}

	if snap.SlowCallRate >= cb.cfg.SlowCallRateThreshold {
		if !cb.slowRateHigh {
			cb.slowRateHigh = true
			cb.publishLocked(Event{Kind: EventSlowCallRateExceeded, Rate: snap.SlowCallRate})
		}
	} else {
		cb.slowRateHigh = false
	}
}

// ========================================
// 状态转换 (Transitions)
// ========================================

// TransitionTo 手动切换到目标状态
func (cb *circuitBreaker) TransitionTo(target State) error {
	switch target {
	case StateClosed, StateOpen, StateHalfOpen, StateForcedOpen, StateDisabled, StateMetricsOnly:
	default:
		return ErrUnknownState
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked(target)
	return nil
}

// transitionLocked 执行状态转换：重置相关窗口与计数器，发布事件
func (cb *circuitBreaker) transitionLocked(to State) {
	from := cb.state

	// 离开 Closed 时冻结快照，供 Open/ForcedOpen/Disabled 状态读取
	if from == StateClosed && to != StateClosed {
		cb.frozen = cb.closedWindow.snapshot()
	}

	cb.state = to
	cb.generation++
	cb.stopTimerLocked()
	cb.failureRateHigh = false
	cb.slowRateHigh = false

	switch to {
	case StateClosed, StateMetricsOnly:
		cb.closedWindow.reset()
	case StateOpen:
		cb.openedAt = cb.clock()
		cb.halfOpenWindow.reset()
		cb.halfOpenPermits = 0
		if cb.cfg.AutoTransitionFromOpenToHalfOpen {
			cb.scheduleAutoTransitionLocked()
		}
	case StateHalfOpen:
		cb.halfOpenWindow.reset()
		cb.halfOpenPermits = 0
	}

	cb.publishLocked(Event{Kind: EventStateTransition, From: from, To: to})
	cb.ins.recordTransition(cb.name, from, to)

	if cb.logger != nil {
		cb.logger.Info("circuit breaker state changed",
			clog.String("from", from.String()),
			clog.String("to", to.String()))
	}
}

// Reset 强制回到 Closed 状态并清空全部统计
func (cb *circuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	from := cb.state
	cb.state = StateClosed
	cb.generation++
	cb.stopTimerLocked()
	cb.closedWindow.reset()
	cb.halfOpenWindow.reset()
	cb.halfOpenPermits = 0
	cb.failureRateHigh = false
	cb.slowRateHigh = false
	cb.frozen = makeSnapshot(0, 0, 0)

	cb.publishLocked(Event{Kind: EventReset, From: from, To: StateClosed})

	if cb.logger != nil {
		cb.logger.Info("circuit breaker reset", clog.String("from", from.String()))
	}
}

// scheduleAutoTransitionLocked 调度 Open -> HalfOpen 的后台定时转换
// 代际校验保证熔断器提前离开 Open 后，过期定时器不会触发陈旧转换
func (cb *circuitBreaker) scheduleAutoTransitionLocked() {
	gen := cb.generation
	cb.timer = time.AfterFunc(cb.cfg.WaitDurationInOpen, func() {
		cb.mu.Lock()
		defer cb.mu.Unlock()
		if cb.state == StateOpen && cb.generation == gen {
			cb.transitionLocked(StateHalfOpen)
		}
	})
}

func (cb *circuitBreaker) stopTimerLocked() {
	if cb.timer != nil {
		cb.timer.Stop()
		cb.timer = nil
	}
}

// ========================================
// 事件 (Events)
// ========================================

// Subscribe 订阅该熔断器的事件
func (cb *circuitBreaker) Subscribe(opts ...SubscribeOption) *Subscription {
	return cb.bus.Subscribe(opts...)
}

// publishLocked 补全事件元信息并发布
func (cb *circuitBreaker) publishLocked(e Event) {
	e.Breaker = cb.name
	e.Timestamp = cb.clock()
	cb.bus.Publish(e)
}

// ========================================
// 受保护执行 (Execute)
// ========================================

// Execute 执行受熔断保护的函数
func (cb *circuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	permit, err := cb.Acquire()
	if err != nil {
		if cb.fallback != nil {
			return cb.fallback(ctx, cb.name, err)
		}
		return nil, err
	}

	start := cb.clock()
	result, err := fn(ctx)
	_ = permit.Record(cb.clock().Sub(start), err)

	return result, err
}
