package breaker

import (
	"time"

	"github.com/ceyewan/fuse/xerrors"
)

// WindowType 滑动窗口类型
type WindowType string

const (
	// WindowCountBased 按次数统计：窗口覆盖最近 SlidingWindowSize 次调用
	WindowCountBased WindowType = "count"
	// WindowTimeBased 按时间统计：窗口覆盖最近 SlidingWindowSize 秒
	WindowTimeBased WindowType = "time"
)

// 默认配置值
const (
	DefaultFailureRateThreshold      = 50.0
	DefaultSlowCallRateThreshold     = 100.0
	DefaultSlowCallDurationThreshold = 60 * time.Second
	DefaultPermittedCallsInHalfOpen  = 10
	DefaultSlidingWindowSize         = 100
	DefaultMinimumNumberOfCalls      = 10
	DefaultWaitDurationInOpen        = 60 * time.Second
)

// Config 熔断器配置
// 所有数值字段的零值表示"使用默认值"；显式的非法值（负数、超出区间）
// 在创建时被拒绝，不会产生半初始化的熔断器。
// 由于零值被解释为默认值，0 本身无法作为有效配置
// （如阈值恰好为 0 或打开状态等待时间为 0），需要该语义时
// 请使用接近零的正值。
type Config struct {
	// FailureRateThreshold 失败率阈值，百分比 (0, 100]（默认：50）
	// 窗口内失败率达到或超过此值时触发熔断
	FailureRateThreshold float64 `json:"failure_rate_threshold" yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`

	// SlowCallRateThreshold 慢调用率阈值，百分比 (0, 100]（默认：100）
	// 窗口内慢调用率达到或超过此值时触发熔断
	SlowCallRateThreshold float64 `json:"slow_call_rate_threshold" yaml:"slow_call_rate_threshold" mapstructure:"slow_call_rate_threshold"`

	// SlowCallDurationThreshold 慢调用判定阈值（默认：60s）
	// 调用耗时达到或超过此值即视为慢调用，与成功/失败无关
	SlowCallDurationThreshold time.Duration `json:"slow_call_duration_threshold" yaml:"slow_call_duration_threshold" mapstructure:"slow_call_duration_threshold"`

	// PermittedCallsInHalfOpen 半开状态下允许的探测请求数（默认：10）
	PermittedCallsInHalfOpen int `json:"permitted_calls_in_half_open" yaml:"permitted_calls_in_half_open" mapstructure:"permitted_calls_in_half_open"`

	// SlidingWindowType 滑动窗口类型，count 或 time（默认：count）
	SlidingWindowType WindowType `json:"sliding_window_type" yaml:"sliding_window_type" mapstructure:"sliding_window_type"`

	// SlidingWindowSize 滑动窗口大小（默认：100）
	// count 窗口表示调用次数，time 窗口表示秒数
	SlidingWindowSize int `json:"sliding_window_size" yaml:"sliding_window_size" mapstructure:"sliding_window_size"`

	// MinimumNumberOfCalls 触发熔断判断的最小调用数（默认：10）
	// 窗口内调用数未达到此值前不评估失败率
	MinimumNumberOfCalls int `json:"minimum_number_of_calls" yaml:"minimum_number_of_calls" mapstructure:"minimum_number_of_calls"`

	// WaitDurationInOpen 打开状态持续时间（默认：60s）
	// 超时后转入半开状态进行探测
	WaitDurationInOpen time.Duration `json:"wait_duration_in_open" yaml:"wait_duration_in_open" mapstructure:"wait_duration_in_open"`

	// AutoTransitionFromOpenToHalfOpen 是否由后台定时器自动从 Open 转入 HalfOpen
	// false（默认）时转换在下一次 Acquire 时惰性发生
	AutoTransitionFromOpenToHalfOpen bool `json:"auto_transition_from_open_to_half_open" yaml:"auto_transition_from_open_to_half_open" mapstructure:"auto_transition_from_open_to_half_open"`

	// Classifier 错误分类器（默认：所有错误计为失败）
	// Ignored 判定优先于 Failure 判定
	Classifier Classifier `json:"-" yaml:"-" mapstructure:"-"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		FailureRateThreshold:      DefaultFailureRateThreshold,
		SlowCallRateThreshold:     DefaultSlowCallRateThreshold,
		SlowCallDurationThreshold: DefaultSlowCallDurationThreshold,
		PermittedCallsInHalfOpen:  DefaultPermittedCallsInHalfOpen,
		SlidingWindowType:         WindowCountBased,
		SlidingWindowSize:         DefaultSlidingWindowSize,
		MinimumNumberOfCalls:      DefaultMinimumNumberOfCalls,
		WaitDurationInOpen:        DefaultWaitDurationInOpen,
		Classifier:                DefaultClassifier(),
	}
}

// Validate 校验配置合法性（按填充默认值后的最终取值判断）
func (c *Config) Validate() error {
	_, err := c.normalize()
	return err
}

// normalize 返回填充了默认值的配置副本，并做合法性校验
func (c *Config) normalize() (*Config, error) {
	cfg := *c

	if cfg.FailureRateThreshold == 0 {
		cfg.FailureRateThreshold = DefaultFailureRateThreshold
	}
	if cfg.SlowCallRateThreshold == 0 {
		cfg.SlowCallRateThreshold = DefaultSlowCallRateThreshold
	}
	if cfg.SlowCallDurationThreshold == 0 {
		cfg.SlowCallDurationThreshold = DefaultSlowCallDurationThreshold
	}
	if cfg.PermittedCallsInHalfOpen == 0 {
		cfg.PermittedCallsInHalfOpen = DefaultPermittedCallsInHalfOpen
	}
	if cfg.SlidingWindowType == "" {
		cfg.SlidingWindowType = WindowCountBased
	}
	if cfg.SlidingWindowSize == 0 {
		cfg.SlidingWindowSize = DefaultSlidingWindowSize
	}
	if cfg.MinimumNumberOfCalls == 0 {
		cfg.MinimumNumberOfCalls = DefaultMinimumNumberOfCalls
	}
	if cfg.WaitDurationInOpen == 0 {
		cfg.WaitDurationInOpen = DefaultWaitDurationInOpen
	}
	if cfg.Classifier == nil {
		cfg.Classifier = DefaultClassifier()
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate 校验配置合法性
func (c *Config) validate() error {
	if c.FailureRateThreshold < 0 || c.FailureRateThreshold > 100 {
		return xerrors.Wrapf(ErrInvalidConfig, "failure_rate_threshold %v out of range [0, 100]", c.FailureRateThreshold)
	}
	if c.SlowCallRateThreshold < 0 || c.SlowCallRateThreshold > 100 {
		return xerrors.Wrapf(ErrInvalidConfig, "slow_call_rate_threshold %v out of range [0, 100]", c.SlowCallRateThreshold)
	}
	if c.SlowCallDurationThreshold < 0 {
		return xerrors.Wrapf(ErrInvalidConfig, "slow_call_duration_threshold %v must not be negative", c.SlowCallDurationThreshold)
	}
	if c.PermittedCallsInHalfOpen < 1 {
		return xerrors.Wrapf(ErrInvalidConfig, "permitted_calls_in_half_open %d must be at least 1", c.PermittedCallsInHalfOpen)
	}
	if c.SlidingWindowType != WindowCountBased && c.SlidingWindowType != WindowTimeBased {
		return xerrors.Wrapf(ErrInvalidConfig, "sliding_window_type %q must be %q or %q", c.SlidingWindowType, WindowCountBased, WindowTimeBased)
	}
	if c.SlidingWindowSize < 1 {
		return xerrors.Wrapf(ErrInvalidConfig, "sliding_window_size %d must be at least 1", c.SlidingWindowSize)
	}
	if c.MinimumNumberOfCalls < 1 {
		return xerrors.Wrapf(ErrInvalidConfig, "minimum_number_of_calls %d must be at least 1", c.MinimumNumberOfCalls)
	}
	if c.WaitDurationInOpen < 0 {
		return xerrors.Wrapf(ErrInvalidConfig, "wait_duration_in_open %v must not be negative", c.WaitDurationInOpen)
	}
	return nil
}
