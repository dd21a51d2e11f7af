package trigger

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/levelflow/levelflow/types"
)

// ManualAdapter 手动触发适配器。
// 维护工作流到回调的内存绑定；Fire 同步执行回调并把结果返回给调用方，
// 这是唯一一个回调错误不被吞掉的适配器。
type ManualAdapter struct {
	mu       sync.RWMutex
	bindings map[string]*manualRegistration // workflow id -> registration
	logger   *zap.Logger
	stopped  bool
}

type manualRegistration struct {
	id       string
	trigger  *types.EventTrigger
	callback Callback
}

// NewManualAdapter 创建手动触发适配器。
func NewManualAdapter(logger *zap.Logger) *ManualAdapter {
	return &ManualAdapter{
		bindings: make(map[string]*manualRegistration),
		logger:   logger.With(zap.String("component", "trigger_manual")),
	}
}

func (a *ManualAdapter) Kind() types.TriggerKind { return types.TriggerManual }

// Register 登记一个手动触发绑定。
func (a *ManualAdapter) Register(t *types.EventTrigger, cb Callback) error {
	if err := checkKind(a, t); err != nil {
		return err
	}
	if cb == nil {
		return types.NewError(types.ErrInvalidTrigger, "manual trigger requires a callback")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return types.NewError(types.ErrAdapterStopped, "manual adapter is stopped")
	}

	reg := &manualRegistration{
		id:       uuid.New().String(),
		trigger:  t,
		callback: cb,
	}
	a.bindings[t.WorkflowID] = reg

	a.logger.Info("manual trigger registered",
		zap.String("registration_id", reg.id),
		zap.String("workflow_id", t.WorkflowID),
	)
	return nil
}

// Unregister 删除绑定。不存在时记录警告并返回 nil。
func (a *ManualAdapter) Unregister(t *types.EventTrigger) error {
	if t == nil {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	reg, ok := a.bindings[t.WorkflowID]
	if !ok {
		a.logger.Warn("unregister: no manual binding found",
			zap.String("workflow_id", t.WorkflowID))
		return nil
	}
	delete(a.bindings, t.WorkflowID)

	a.logger.Info("manual trigger unregistered",
		zap.String("registration_id", reg.id),
		zap.String("workflow_id", t.WorkflowID),
	)
	return nil
}

// Fire 显式触发一个工作流。事件载荷由调用方提供，
// 回调的结果与错误同步传播给调用方。
func (a *ManualAdapter) Fire(ctx context.Context, workflowID string, data map[string]any) (*types.WorkflowExecution, error) {
	a.mu.RLock()
	reg, ok := a.bindings[workflowID]
	a.mu.RUnlock()

	if !ok {
		return nil, types.NewError(types.ErrNotFound,
			"no manual trigger registered for workflow "+workflowID)
	}

	event := types.NewEvent(types.TriggerManual, "manual", data).
		WithMetadata(types.MetaWorkflowID, workflowID).
		WithMetadata(types.MetaRegistrationID, reg.id)

	return reg.callback(ctx, event)
}

// Start 手动适配器无后台机制。
func (a *ManualAdapter) Start(ctx context.Context) error { return nil }

// Stop 撤销全部绑定，幂等。
func (a *ManualAdapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopped = true
	n := len(a.bindings)
	a.bindings = make(map[string]*manualRegistration)
	if n > 0 {
		a.logger.Info("manual adapter stopped", zap.Int("dropped_bindings", n))
	}
	return nil
}

// Active 返回当前绑定数。
func (a *ManualAdapter) Active() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.bindings)
}
