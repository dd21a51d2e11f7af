package trigger

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/levelflow/levelflow/types"
)

// Registry 触发器注册中心。
// 持有活跃适配器集合，按种类路由注册 / 注销请求，
// 是工作流订阅与退订触发器的唯一入口。
type Registry struct {
	mu       sync.RWMutex
	adapters map[types.TriggerKind]Adapter
	logger   *zap.Logger
}

// NewRegistry 创建注册中心并装配全部标准适配器。
func NewRegistry(logger *zap.Logger) (*Registry, error) {
	watch, err := NewWatchAdapter(logger)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		adapters: make(map[types.TriggerKind]Adapter, 4),
		logger:   logger.With(zap.String("component", "trigger_registry")),
	}
	r.adapters[types.TriggerManual] = NewManualAdapter(logger)
	r.adapters[types.TriggerCron] = NewCronAdapter(logger)
	r.adapters[types.TriggerWatch] = watch
	r.adapters[types.TriggerWebhook] = NewWebhookAdapter(logger)
	return r, nil
}

// NewRegistryWith 用指定适配器集合创建注册中心，测试用。
func NewRegistryWith(logger *zap.Logger, adapters ...Adapter) *Registry {
	r := &Registry{
		adapters: make(map[types.TriggerKind]Adapter, len(adapters)),
		logger:   logger.With(zap.String("component", "trigger_registry")),
	}
	for _, a := range adapters {
		r.adapters[a.Kind()] = a
	}
	return r
}

// adapter 按种类取适配器。
func (r *Registry) adapter(kind types.TriggerKind) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[kind]
	if !ok {
		return nil, types.NewError(types.ErrInvalidTrigger,
			"no adapter for trigger kind "+string(kind))
	}
	return a, nil
}

// Register 把触发器绑定路由给对应适配器。
func (r *Registry) Register(t *types.EventTrigger, cb Callback) error {
	if t == nil {
		return types.NewError(types.ErrInvalidTrigger, "trigger is nil")
	}
	a, err := r.adapter(t.Kind)
	if err != nil {
		return err
	}
	return a.Register(t, cb)
}

// Unregister 路由注销请求。未注册的触发器不是错误。
func (r *Registry) Unregister(t *types.EventTrigger) error {
	if t == nil {
		return nil
	}
	a, err := r.adapter(t.Kind)
	if err != nil {
		return err
	}
	return a.Unregister(t)
}

// Manual 返回手动触发适配器，API 层的显式触发入口。
func (r *Registry) Manual() *ManualAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if a, ok := r.adapters[types.TriggerManual].(*ManualAdapter); ok {
		return a
	}
	return nil
}

// Webhook 返回 Webhook 适配器，HTTP 路由层的派发入口。
func (r *Registry) Webhook() *WebhookAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if a, ok := r.adapters[types.TriggerWebhook].(*WebhookAdapter); ok {
		return a
	}
	return nil
}

// StartAll 启动全部适配器。任一启动失败即返回，已启动的适配器保持运行，
// 由调用方决定是否回滚（编排器初始化失败时会调用 StopAll）。
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for kind, a := range r.adapters {
		if err := a.Start(ctx); err != nil {
			return types.WrapError(types.ErrInitFailed,
				"start trigger adapter "+string(kind), err)
		}
	}
	r.logger.Info("all trigger adapters started", zap.Int("adapters", len(r.adapters)))
	return nil
}

// StopAll 停止全部适配器并撤销所有现存注册。逐个停止，
// 单个失败不阻断其余适配器，错误合并后返回。幂等。
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var firstErr error
	for kind, a := range r.adapters {
		if err := a.Stop(ctx); err != nil {
			r.logger.Error("stop trigger adapter failed",
				zap.String("kind", string(kind)), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	r.logger.Info("all trigger adapters stopped")
	return firstErr
}

// ActiveCount 返回全部适配器的活跃注册总数。
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, a := range r.adapters {
		total += a.Active()
	}
	return total
}
