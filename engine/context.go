package engine

import (
	"github.com/levelflow/levelflow/types"
)

// ExecutionContext 单次运行的内存上下文，从不持久化。
// State 与 Responses 按 Agent ID 跨层级累积输出；
// 只在层级边界由引擎单写者合并，层内并行 Agent 仅读快照。
type ExecutionContext struct {
	Execution *types.WorkflowExecution
	Workflow  *types.WorkflowConfig
	EventData map[string]any
	State     map[string]any
	Responses map[string]*types.AgentResponse
}

func newExecutionContext(exec *types.WorkflowExecution, wf *types.WorkflowConfig, event *types.Event) *ExecutionContext {
	var data map[string]any
	if event != nil {
		data = event.Data
	}
	return &ExecutionContext{
		Execution: exec,
		Workflow:  wf,
		EventData: data,
		State:     make(map[string]any),
		Responses: make(map[string]*types.AgentResponse),
	}
}

// buildInput 构造交给 Agent 的输入载荷：事件数据 + 当前累积状态。
func (c *ExecutionContext) buildInput() map[string]any {
	return map[string]any{
		"event": c.EventData,
		"state": c.State,
	}
}

// merge 把一个层级的响应合并进上下文。只在层级结束后调用。
func (c *ExecutionContext) merge(responses []*types.AgentResponse) {
	for _, resp := range responses {
		if resp == nil {
			continue
		}
		c.Responses[resp.AgentID] = resp
		if resp.Success && resp.Data != nil {
			c.State[resp.AgentID] = resp.Data
		}
	}
}

// conditionVars 构造条件求值的变量视图。
// 暴露 agent.<id>.{success,error,data.*}、state.<key> 与 event.<key>。
func (c *ExecutionContext) conditionVars() map[string]any {
	agents := make(map[string]any, len(c.Responses))
	for id, resp := range c.Responses {
		agents[id] = map[string]any{
			"success": resp.Success,
			"error":   resp.Error,
			"data":    resp.Data,
		}
	}
	return map[string]any{
		"agent": agents,
		"state": c.State,
		"event": c.EventData,
	}
}
