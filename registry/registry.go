// Package registry 提供熔断器的命名注册表
//
// 一个注册表管理一组按名称索引的熔断器实例与命名配置。
// 没有隐藏的全局注册表：嵌入方显式创建实例并自行决定共享范围，
// 多个互不相关的子系统可以各持有自己的注册表。
//
// 使用示例:
//
//	reg, err := registry.New(breaker.DefaultConfig(),
//		registry.WithLogger(logger))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer reg.Close()
//
//	cb, err := reg.GetOrCreate("payment")
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/ceyewan/fuse/breaker"
	"github.com/ceyewan/fuse/clog"
	"github.com/ceyewan/fuse/config"
)

// Registry 熔断器注册表
// 所有操作并发安全。实例创建是惰性的：GetOrCreate 在名称
// 未注册时按命名配置（或默认配置）创建新实例。
type Registry struct {
	defaultCfg  *breaker.Config
	breakerOpts []breaker.Option
	logger      clog.Logger
	bus         *breaker.EventBus

	mu       sync.RWMutex
	breakers map[string]breaker.Breaker
	configs  map[string]*breaker.Config
	closed   bool
}

// New 创建注册表
// defaultCfg 为未命名配置的实例使用的默认配置，nil 表示内置默认值
func New(defaultCfg *breaker.Config, opts ...Option) (*Registry, error) {
	if defaultCfg == nil {
		defaultCfg = breaker.DefaultConfig()
	}

	opt := options{logger: clog.Discard()}
	for _, o := range opts {
		o(&opt)
	}

	// 提前校验默认配置，避免 GetOrCreate 时才暴露错误
	if err := defaultCfg.Validate(); err != nil {
		return nil, err
	}

	r := &Registry{
		defaultCfg:  defaultCfg,
		breakerOpts: opt.breakerOpts,
		logger:      opt.logger.WithNamespace("registry"),
		bus:         breaker.NewEventBus(),
		breakers:    make(map[string]breaker.Breaker),
		configs:     make(map[string]*breaker.Config),
	}

	r.logger.Info("breaker registry created")
	return r, nil
}

// registryFile 配置文件结构
//
//	default:
//	  failure_rate_threshold: 50
//	instances:
//	  payment:
//	    sliding_window_size: 20
type registryFile struct {
	Default   *breaker.Config            `mapstructure:"default"`
	Instances map[string]*breaker.Config `mapstructure:"instances"`
}

// NewFromLoader 从配置加载器构建注册表
// 读取 default 作为默认配置，instances 作为命名配置预注册
func NewFromLoader(loader config.Loader, opts ...Option) (*Registry, error) {
	var file registryFile
	if err := loader.Unmarshal(&file); err != nil {
		return nil, err
	}

	r, err := New(file.Default, opts...)
	if err != nil {
		return nil, err
	}

	for name, cfg := range file.Instances {
		if err := r.AddConfig(name, cfg); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// GetOrCreate 获取或创建指定名称的熔断器
// 名称已注册时返回现有实例；否则用命名配置（未命名时用默认配置）
// 创建新实例并发布 added 事件
func (r *Registry) GetOrCreate(name string) (breaker.Breaker, error) {
	if name == "" {
		return nil, breaker.ErrNameEmpty
	}

	r.mu.RLock()
	cb, ok := r.breakers[name]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if ok {
		return cb, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if cb, ok := r.breakers[name]; ok {
		return cb, nil
	}
	return r.createLocked(name)
}

// createLocked 按命名配置创建实例并登记
func (r *Registry) createLocked(name string) (breaker.Breaker, error) {
	cfg := r.defaultCfg
	if named, ok := r.configs[name]; ok {
		cfg = named
	}

	cb, err := breaker.New(name, cfg, r.breakerOpts...)
	if err != nil {
		return nil, err
	}

	r.breakers[name] = cb
	r.publish(breaker.Event{Kind: breaker.EventAdded, Breaker: name})
	r.logger.Info("breaker registered", clog.String("name", name))
	return cb, nil
}

// Add 用给定配置创建并注册熔断器
// 名称已注册时返回 ErrAlreadyRegistered
func (r *Registry) Add(name string, cfg *breaker.Config) (breaker.Breaker, error) {
	if name == "" {
		return nil, breaker.ErrNameEmpty
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if _, ok := r.breakers[name]; ok {
		return nil, ErrAlreadyRegistered
	}

	cb, err := breaker.New(name, cfg, r.breakerOpts...)
	if err != nil {
		return nil, err
	}

	r.breakers[name] = cb
	r.publish(breaker.Event{Kind: breaker.EventAdded, Breaker: name})
	r.logger.Info("breaker registered", clog.String("name", name))
	return cb, nil
}

// Find 查找已注册的熔断器，不会创建新实例
func (r *Registry) Find(name string) (breaker.Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.breakers[name]
	return cb, ok
}

// Remove 注销指定名称的熔断器，返回是否存在
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.breakers[name]; !ok {
		return false
	}
	delete(r.breakers, name)
	r.publish(breaker.Event{Kind: breaker.EventRemoved, Breaker: name})
	r.logger.Info("breaker removed", clog.String("name", name))
	return true
}

// Replace 用新配置重建指定名称的熔断器
// 旧实例被丢弃（其统计不保留），名称未注册时返回 ErrNotFound
func (r *Registry) Replace(name string, cfg *breaker.Config) (breaker.Breaker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if _, ok := r.breakers[name]; !ok {
		return nil, ErrNotFound
	}

	cb, err := breaker.New(name, cfg, r.breakerOpts...)
	if err != nil {
		return nil, err
	}

	r.breakers[name] = cb
	r.publish(breaker.Event{Kind: breaker.EventReplaced, Breaker: name})
	r.logger.Info("breaker replaced", clog.String("name", name))
	return cb, nil
}

// AddConfig 登记命名配置，供后续 GetOrCreate 使用
// 已创建的同名实例不受影响，需要 Replace 才会应用新配置
func (r *Registry) AddConfig(name string, cfg *breaker.Config) error {
	if name == "" {
		return breaker.ErrNameEmpty
	}
	if cfg == nil {
		return breaker.ErrInvalidConfig
	}

	// 提前校验，注册非法配置没有意义
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[name] = cfg
	return nil
}

// FindConfig 查找命名配置
func (r *Registry) FindConfig(name string) (*breaker.Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[name]
	return cfg, ok
}

// Names 返回所有已注册的熔断器名称（排序后）
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All 返回所有已注册的熔断器实例
func (r *Registry) All() []breaker.Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]breaker.Breaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		all = append(all, cb)
	}
	return all
}

// Subscribe 订阅注册表事件（added / removed / replaced）
// 事件过滤与投递语义同熔断器自身的订阅
func (r *Registry) Subscribe(opts ...breaker.SubscribeOption) *breaker.Subscription {
	return r.bus.Subscribe(opts...)
}

// Close 关闭注册表
// 之后的创建类操作返回 ErrClosed；已发出的实例不受影响
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.breakers = make(map[string]breaker.Breaker)
	r.logger.Info("breaker registry closed")
	return nil
}

// publish 发布注册表事件（调用方持锁）
func (r *Registry) publish(e breaker.Event) {
	e.Timestamp = time.Now()
	r.bus.Publish(e)
}
