package breaker

import (
	"context"
	"sync"
)

// Group 按 key 管理一组共享配置的熔断器
//
// 典型用途是客户端侧按下游服务或方法隔离熔断：每个 key 对应
// 一个独立的熔断器实例，首次使用时惰性创建。
type Group struct {
	cfg      *Config
	opts     []Option
	breakers sync.Map // map[string]Breaker
	mu       sync.Mutex
}

// NewGroup 创建熔断器组，cfg 为组内所有熔断器的共享配置
func NewGroup(cfg *Config, opts ...Option) (*Group, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	// 提前校验，避免首次 Get 时才暴露配置错误
	if _, err := cfg.normalize(); err != nil {
		return nil, err
	}

	return &Group{cfg: cfg, opts: opts}, nil
}

// Get 获取或创建指定 key 的熔断器
func (g *Group) Get(key string) (Breaker, error) {
	if key == "" {
		return nil, ErrKeyEmpty
	}

	if v, ok := g.breakers.Load(key); ok {
		return v.(Breaker), nil
	}

	// 双重检查，避免并发创建多个实例后只有一个被使用
	g.mu.Lock()
	defer g.mu.Unlock()

	if v, ok := g.breakers.Load(key); ok {
		return v.(Breaker), nil
	}

	cb, err := New(key, g.cfg, g.opts...)
	if err != nil {
		return nil, err
	}
	g.breakers.Store(key, cb)
	return cb, nil
}

// Execute 对指定 key 的熔断器执行受保护调用
func (g *Group) Execute(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	cb, err := g.Get(key)
	if err != nil {
		return nil, err
	}
	return cb.Execute(ctx, fn)
}

// Names 返回组内已创建的熔断器名称
func (g *Group) Names() []string {
	var names []string
	g.breakers.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})
	return names
}

// Remove 移除指定 key 的熔断器
func (g *Group) Remove(key string) {
	g.breakers.Delete(key)
}
