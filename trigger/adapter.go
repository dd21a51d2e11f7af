package trigger

import (
	"context"

	"github.com/levelflow/levelflow/types"
)

// Callback 触发回调。适配器在其原生条件满足时构造事件并调用它。
// 返回的执行记录只对手动触发的调用方有意义，自动触发仅记录日志。
type Callback func(ctx context.Context, event *types.Event) (*types.WorkflowExecution, error)

// Adapter 是所有触发器适配器的统一能力契约。
type Adapter interface {
	// Kind 返回适配器负责的触发器种类
	Kind() types.TriggerKind

	// Register 校验并登记一个触发器绑定。配置不合法时同步失败，
	// 不产生任何副作用。
	Register(trigger *types.EventTrigger, cb Callback) error

	// Unregister 撤销匹配的注册（同一工作流 + 同一种类配置键）。
	// 找不到匹配项时记录警告并返回 nil。
	Unregister(trigger *types.EventTrigger) error

	// Start 启动适配器的后台机制（定时器、文件监听循环等）
	Start(ctx context.Context) error

	// Stop 停止适配器并撤销全部现存注册，幂等
	Stop(ctx context.Context) error

	// Active 返回当前活跃注册数
	Active() int
}

// checkKind 校验触发器绑定与适配器种类匹配，并做完整配置校验。
// 所有适配器在任何副作用之前调用。
func checkKind(adapter Adapter, t *types.EventTrigger) error {
	if t == nil {
		return types.NewError(types.ErrInvalidTrigger, "trigger is nil")
	}
	if t.Kind != adapter.Kind() {
		return types.NewError(types.ErrTriggerKindMismatch,
			"adapter "+string(adapter.Kind())+" cannot handle trigger kind "+string(t.Kind))
	}
	return t.Validate()
}
