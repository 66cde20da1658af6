package breaker

import (
	"context"

	"github.com/ceyewan/fuse/clog"
	"github.com/ceyewan/fuse/metrics"
)

// Option 组件初始化选项函数
type Option func(*options)

// FallbackFunc 降级函数类型
// 当调用被熔断器拒绝时，可以执行自定义的降级逻辑
// 参数:
//   - ctx: 上下文
//   - name: 熔断器名称（或熔断键）
//   - err: 拒绝错误（ErrOpenState 或 ErrTooManyCalls）
//
// 返回:
//   - any: 降级结果
//   - error: 降级逻辑的错误，nil 表示降级成功
type FallbackFunc func(ctx context.Context, name string, err error) (any, error)

// options 组件初始化选项配置（内部使用，小写）
type options struct {
	logger   clog.Logger
	meter    metrics.Meter
	fallback FallbackFunc
}

// WithLogger 设置 Logger，传入 nil 时使用 clog.Discard()
// 内部会自动添加 namespace: "breaker"
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger == nil {
			o.logger = clog.Discard()
		} else {
			o.logger = logger.WithNamespace("breaker")
		}
	}
}

// WithMeter 设置指标收集器
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) {
		o.meter = meter
	}
}

// WithFallback 设置降级函数
// 当调用被熔断器拒绝时，会调用此函数进行降级处理
//
// 使用示例:
//
//	brk, _ := breaker.New("payment", cfg,
//		breaker.WithFallback(func(ctx context.Context, name string, err error) (any, error) {
//			// 返回缓存数据或默认值
//			return cached, nil
//		}),
//	)
func WithFallback(fallback FallbackFunc) Option {
	return func(o *options) {
		o.fallback = fallback
	}
}
