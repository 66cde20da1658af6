package registry

import (
	"github.com/ceyewan/fuse/breaker"
	"github.com/ceyewan/fuse/clog"
)

// Option 注册表初始化选项函数
type Option func(*options)

// options 注册表选项配置（内部使用，小写）
type options struct {
	logger      clog.Logger
	breakerOpts []breaker.Option
}

// WithLogger 设置 Logger，传入 nil 时使用 clog.Discard()
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger == nil {
			o.logger = clog.Discard()
		} else {
			o.logger = logger
		}
	}
}

// WithBreakerOptions 设置创建熔断器实例时透传的选项
// 注册表创建的每个实例都会带上这些选项（如 Logger、Meter、Fallback）
func WithBreakerOptions(opts ...breaker.Option) Option {
	return func(o *options) {
		o.breakerOpts = append(o.breakerOpts, opts...)
	}
}
