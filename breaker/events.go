package breaker

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventKind 事件类型
type EventKind int

const (
	// EventSuccess 一次被放行的调用成功结束
	EventSuccess EventKind = iota
	// EventError 一次被放行的调用以失败结束
	EventError
	// EventIgnoredError 调用出错但命中忽略规则，不进入统计
	EventIgnoredError
	// EventNotPermitted 调用被熔断器拒绝
	EventNotPermitted
	// EventStateTransition 状态发生转换
	EventStateTransition
	// EventReset 熔断器被重置
	EventReset
	// EventFailureRateExceeded 失败率首次越过阈值
	EventFailureRateExceeded
	// EventSlowCallRateExceeded 慢调用率首次越过阈值
	EventSlowCallRateExceeded

	// EventAdded 注册表新增条目
	EventAdded
	// EventRemoved 注册表移除条目
	EventRemoved
	// EventReplaced 注册表替换条目
	EventReplaced
)

// String 返回事件类型的字符串表示
func (k EventKind) String() string {
	switch k {
	case EventSuccess:
		return "success"
	case EventError:
		return "error"
	case EventIgnoredError:
		return "ignored_error"
	case EventNotPermitted:
		return "not_permitted"
	case EventStateTransition:
		return "state_transition"
	case EventReset:
		return "reset"
	case EventFailureRateExceeded:
		return "failure_rate_exceeded"
	case EventSlowCallRateExceeded:
		return "slow_call_rate_exceeded"
	case EventAdded:
		return "added"
	case EventRemoved:
		return "removed"
	case EventReplaced:
		return "replaced"
	default:
		return "unknown"
	}
}

// Event 熔断器或注册表发布的事件
type Event struct {
	// Kind 事件类型
	Kind EventKind
	// Breaker 事件来源的熔断器名称
	Breaker string
	// From, To 状态转换事件的前后状态
	From State
	To   State
	// Err 调用错误（error / ignored_error / not_permitted 事件携带）
	Err error
	// Elapsed 调用耗时（调用结果事件携带）
	Elapsed time.Duration
	// Rate 越界时的比率（rate_exceeded 事件携带）
	Rate float64
	// Timestamp 事件发生时间
	Timestamp time.Time
}

// ========================================
// 事件总线 (EventBus)
// ========================================

// DefaultSubscriptionBuffer 订阅通道的默认容量
const DefaultSubscriptionBuffer = 64

// EventBus 同步扇出的事件分发器
// 每个熔断器与每个注册表各拥有一个。投递始终是非阻塞的：
// 订阅者通道已满时，该订阅者的这条事件被丢弃而不是阻塞发布方。
// 订阅方因此应以超时轮询方式消费，不能假设必达。
type EventBus struct {
	mu   sync.RWMutex
	subs map[string]*subscriber
}

type subscriber struct {
	ch      chan Event
	include map[EventKind]struct{}
	exclude map[EventKind]struct{}
}

// matches 判断事件是否投递给该订阅者
// 包含集与排除集同时给出时，包含集完全优先（排除集被忽略）
func (s *subscriber) matches(kind EventKind) bool {
	if len(s.include) > 0 {
		_, ok := s.include[kind]
		return ok
	}
	if len(s.exclude) > 0 {
		_, ok := s.exclude[kind]
		return !ok
	}
	return true
}

// NewEventBus 创建事件总线
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[string]*subscriber)}
}

// Subscribe 注册一个订阅者，返回订阅句柄
func (b *EventBus) Subscribe(opts ...SubscribeOption) *Subscription {
	cfg := subscribeConfig{buffer: DefaultSubscriptionBuffer}
	for _, o := range opts {
		o(&cfg)
	}

	sub := &subscriber{
		ch:      make(chan Event, cfg.buffer),
		include: cfg.include,
		exclude: cfg.exclude,
	}

	id := uuid.NewString()

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	return &Subscription{
		C:   sub.ch,
		id:  id,
		bus: b,
	}
}

// Publish 将事件投递给所有匹配的订阅者（非阻塞，满则丢弃）
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !sub.matches(event.Kind) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
}

// remove 注销订阅者并关闭其通道
func (b *EventBus) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Subscription 订阅句柄
// 订阅者只通过句柄与总线交互，不共享总线内部状态。
type Subscription struct {
	// C 事件接收通道，Cancel 后关闭
	C <-chan Event

	id   string
	bus  *EventBus
	once sync.Once
}

// Cancel 取消订阅并关闭接收通道，幂等
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.bus.remove(s.id)
	})
}

// ========================================
// 订阅选项 (Subscribe Options)
// ========================================

// SubscribeOption 订阅选项函数类型
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	buffer  int
	include map[EventKind]struct{}
	exclude map[EventKind]struct{}
}

// WithOnly 只接收给定类型的事件（包含过滤）
// 与 WithExcept 同时使用时，WithOnly 完全优先
func WithOnly(kinds ...EventKind) SubscribeOption {
	return func(cfg *subscribeConfig) {
		if cfg.include == nil {
			cfg.include = make(map[EventKind]struct{}, len(kinds))
		}
		for _, k := range kinds {
			cfg.include[k] = struct{}{}
		}
	}
}

// WithExcept 排除给定类型的事件（排除过滤）
func WithExcept(kinds ...EventKind) SubscribeOption {
	return func(cfg *subscribeConfig) {
		if cfg.exclude == nil {
			cfg.exclude = make(map[EventKind]struct{}, len(kinds))
		}
		for _, k := range kinds {
			cfg.exclude[k] = struct{}{}
		}
	}
}

// WithBuffer 设置订阅通道容量
func WithBuffer(n int) SubscribeOption {
	return func(cfg *subscribeConfig) {
		if n > 0 {
			cfg.buffer = n
		}
	}
}
