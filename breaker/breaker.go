// Package breaker 提供了熔断器组件，基于滑动窗口统计实现故障隔离与自动恢复。
//
// breaker 是 fuse 治理层的核心组件，它提供了：
// - 基于滑动窗口（按次数或按时间）的失败率与慢调用率统计
// - 六状态状态机（Closed/Open/HalfOpen/ForcedOpen/Disabled/MetricsOnly）
// - 半开状态探测请求数控制与自动恢复
// - 事件总线：状态变更、调用结果、阈值越界均可订阅
// - gRPC Interceptor 与 Gin Middleware 无侵入集成
//
// ## 基本使用
//
//	// 创建熔断器
//	brk, _ := breaker.New("payment", &breaker.Config{
//		FailureRateThreshold: 50,
//		SlidingWindowSize:    100,
//		MinimumNumberOfCalls: 10,
//		WaitDurationInOpen:   30 * time.Second,
//	}, breaker.WithLogger(logger))
//
//	// 包装受保护的调用
//	result, err := brk.Execute(ctx, func(ctx context.Context) (any, error) {
//		return client.Charge(ctx, order)
//	})
//
// ## 手动获取通行凭证
//
//	permit, err := brk.Acquire()
//	if err != nil {
//		return err // 熔断中，调用被拒绝
//	}
//	start := time.Now()
//	err = doCall()
//	_ = permit.Record(time.Since(start), err)
//
// ## 订阅事件
//
//	sub := brk.Subscribe(breaker.WithOnly(breaker.EventStateTransition))
//	defer sub.Cancel()
//	for event := range sub.C {
//		fmt.Printf("%s: %s -> %s\n", event.Breaker, event.From, event.To)
//	}
package breaker

import (
	"context"
	"time"

	"github.com/ceyewan/fuse/clog"
)

// ========================================
// 接口定义 (Interface Definitions)
// ========================================

// Breaker 熔断器核心接口
type Breaker interface {
	// Name 返回熔断器名称
	Name() string

	// State 返回当前状态
	State() State

	// Snapshot 返回当前窗口的统计快照
	// Closed/MetricsOnly 反映闭合窗口，HalfOpen 反映半开窗口；
	// Open/ForcedOpen/Disabled 返回离开 Closed 时冻结的快照
	Snapshot() Snapshot

	// PermitsCalls 只读探测：当前 Acquire 是否会放行
	// 不产生任何副作用（不消耗半开探测名额，不触发状态转换）
	PermitsCalls() bool

	// Acquire 请求一个调用通行凭证
	// 放行时返回 Permit，凭证必须通过 Permit.Record 回报调用结果；
	// 拒绝时返回 ErrOpenState 或 ErrTooManyCalls
	Acquire() (*Permit, error)

	// Execute 执行受熔断保护的函数
	// 内部完成 Acquire、计时与 Record；拒绝时不执行 fn
	Execute(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error)

	// TransitionTo 手动切换到目标状态
	// 无条件生效，重置相关窗口与计数器，并发布状态转换事件
	TransitionTo(target State) error

	// Reset 强制回到 Closed 状态并清空全部统计，发布 reset 事件
	Reset()

	// Subscribe 订阅该熔断器的事件
	Subscribe(opts ...SubscribeOption) *Subscription
}

// ========================================
// 状态定义 (State)
// ========================================

// State 熔断器状态
type State int

const (
	// StateClosed 闭合状态（正常放行并统计）
	StateClosed State = iota
	// StateOpen 打开状态（熔断中，等待 WaitDurationInOpen 后允许探测）
	StateOpen
	// StateHalfOpen 半开状态（放行有限个探测请求）
	StateHalfOpen
	// StateForcedOpen 强制打开（永久拒绝，直到手动切换）
	StateForcedOpen
	// StateDisabled 禁用（永久放行，不统计）
	StateDisabled
	// StateMetricsOnly 仅统计（永久放行，统计但不触发熔断）
	StateMetricsOnly
)

// String 返回状态的字符串表示
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	case StateForcedOpen:
		return "forced_open"
	case StateDisabled:
		return "disabled"
	case StateMetricsOnly:
		return "metrics_only"
	default:
		return "unknown"
	}
}

// ========================================
// 工厂函数 (Factory Functions)
// ========================================

// New 创建熔断器实例
// 这是标准的工厂函数，支持在不依赖其他容器的情况下独立实例化
//
// 参数:
//   - name: 熔断器名称（不可变，用于日志、指标与事件）
//   - cfg: 熔断器配置，nil 时使用默认配置
//   - opts: 可选参数 (Logger, Meter, Fallback)
//
// 使用示例:
//
//	brk, _ := breaker.New("payment", &breaker.Config{
//		FailureRateThreshold:     50,
//		SlowCallRateThreshold:    80,
//		SlowCallDurationThreshold: 2 * time.Second,
//		SlidingWindowSize:        100,
//		MinimumNumberOfCalls:     10,
//		WaitDurationInOpen:       30 * time.Second,
//	}, breaker.WithLogger(logger))
func New(name string, cfg *Config, opts ...Option) (Breaker, error) {
	if name == "" {
		return nil, ErrNameEmpty
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}

	opt := options{}
	for _, o := range opts {
		o(&opt)
	}

	logger := opt.logger
	if logger != nil {
		logger = logger.With(clog.String("breaker", name))
	}

	return newBreaker(name, cfg, logger, opt.meter, opt.fallback)
}

// nowFunc 时钟抽象，测试中可替换
type nowFunc func() time.Time
