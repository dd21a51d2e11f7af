package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/levelflow/levelflow/types"
)

// scriptProvider 可编程的 provider 测试替身。
// 按 Agent ID 查脚本；未编排的 Agent 返回成功响应。
type scriptProvider struct {
	mu      sync.Mutex
	scripts map[string]func(ctx context.Context, input map[string]any) (*types.AgentResponse, error)
	calls   []string
}

func newScriptProvider() *scriptProvider {
	return &scriptProvider{
		scripts: make(map[string]func(ctx context.Context, input map[string]any) (*types.AgentResponse, error)),
	}
}

func (p *scriptProvider) on(agentID string, fn func(ctx context.Context, input map[string]any) (*types.AgentResponse, error)) {
	p.scripts[agentID] = fn
}

func (p *scriptProvider) Execute(ctx context.Context, agent types.AgentConfig, input map[string]any) (*types.AgentResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, agent.ID)
	fn := p.scripts[agent.ID]
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, input)
	}
	return &types.AgentResponse{
		AgentID: agent.ID,
		Success: true,
		Data:    map[string]any{"echo": agent.ID},
	}, nil
}

func (p *scriptProvider) called(agentID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range p.calls {
		if id == agentID {
			return true
		}
	}
	return false
}

// memRecorder 记录 RecordRun 调用的存储替身。
type memRecorder struct {
	mu   sync.Mutex
	runs []*types.WorkflowExecution
	err  error
}

func (r *memRecorder) RecordRun(ctx context.Context, exec *types.WorkflowExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.runs = append(r.runs, exec)
	return nil
}

func agent(id string) types.AgentConfig {
	return types.AgentConfig{ID: id, Model: "test-model"}
}

func TestEngine_RootOnlyWorkflow(t *testing.T) {
	t.Parallel()

	provider := newScriptProvider()
	recorder := &memRecorder{}
	eng := New(provider, recorder, zap.NewNop(), Options{})

	wf := &types.WorkflowConfig{
		ID:        "wf-root",
		Name:      "root only",
		RootAgent: agent("root"),
	}
	event := types.NewEvent(types.TriggerManual, "manual", map[string]any{"x": 1})

	exec, err := eng.Execute(context.Background(), wf, event)
	require.NoError(t, err)

	assert.Equal(t, types.StatusCompleted, exec.Status)
	require.Len(t, exec.Log, 1, "root-only run produces exactly one log entry")
	assert.Equal(t, 0, exec.Log[0].Level)
	assert.Equal(t, "root", exec.Log[0].Agent)

	// 结果等于根 Agent 的响应
	require.NotNil(t, exec.Result)
	assert.Equal(t, "root", exec.Result["agent_id"])
	assert.Equal(t, true, exec.Result["success"])
	assert.Equal(t, map[string]any{"echo": "root"}, exec.Result["data"])

	require.Len(t, recorder.runs, 1)
	assert.Same(t, exec, recorder.runs[0])
}

func TestEngine_ParallelPartialFailure(t *testing.T) {
	t.Parallel()

	provider := newScriptProvider()
	provider.on("b", func(ctx context.Context, input map[string]any) (*types.AgentResponse, error) {
		return nil, errors.New("model unreachable")
	})
	eng := New(provider, &memRecorder{}, zap.NewNop(), Options{})

	wf := &types.WorkflowConfig{
		ID:        "wf-par",
		Name:      "parallel",
		RootAgent: agent("root"),
		Levels: []types.AgentLevel{
			{Level: 1, Mode: types.ModeParallel, Agents: []types.AgentConfig{agent("a"), agent("b"), agent("c")}},
		},
	}

	exec, err := eng.Execute(context.Background(), wf, nil)
	require.NoError(t, err, "one failing slot must not fail the execution")
	assert.Equal(t, types.StatusCompleted, exec.Status)

	// 兄弟 Agent 都完成了
	assert.True(t, provider.called("a"))
	assert.True(t, provider.called("c"))

	// 聚合结果：b 失败，a/c 成功
	b := exec.Result["b"].(map[string]any)
	assert.Equal(t, false, b["success"])
	assert.Contains(t, b["error"], "model unreachable")
	assert.Equal(t, true, exec.Result["a"].(map[string]any)["success"])
	assert.Equal(t, true, exec.Result["c"].(map[string]any)["success"])

	// 层级日志标记部分失败
	entry := exec.Log[len(exec.Log)-1]
	assert.Equal(t, types.LogPartial, entry.Status)
	assert.Equal(t, "1 of 3 agents failed", entry.Message)
}

func TestEngine_ParallelSingleAgentFailureContinues(t *testing.T) {
	t.Parallel()

	provider := newScriptProvider()
	provider.on("solo", func(ctx context.Context, input map[string]any) (*types.AgentResponse, error) {
		return nil, errors.New("provider down")
	})
	eng := New(provider, &memRecorder{}, zap.NewNop(), Options{})

	// 并行层只有一个 Agent 时失败语义不变：槽位标记失败，后续层级照常执行
	wf := &types.WorkflowConfig{
		ID:        "wf-par-solo",
		Name:      "single agent parallel",
		RootAgent: agent("root"),
		Levels: []types.AgentLevel{
			{Level: 1, Mode: types.ModeParallel, Agents: []types.AgentConfig{agent("solo")}},
			{Level: 2, Mode: types.ModeParallel, Agents: []types.AgentConfig{agent("after-a"), agent("after-b")}},
		},
	}

	exec, err := eng.Execute(context.Background(), wf, nil)
	require.NoError(t, err, "a failing parallel slot must not abort the run")
	assert.Equal(t, types.StatusCompleted, exec.Status)

	assert.True(t, provider.called("after-a"))
	assert.True(t, provider.called("after-b"))

	// 第 1 层日志：唯一槽位失败
	var soloEntry *types.WorkflowLogEntry
	for i := range exec.Log {
		if exec.Log[i].Level == 1 {
			soloEntry = &exec.Log[i]
		}
	}
	require.NotNil(t, soloEntry)
	assert.Equal(t, types.LogFailed, soloEntry.Status)
	assert.Equal(t, "all 1 agents failed", soloEntry.Message)

	// 结果来自最后执行的层级
	assert.Equal(t, true, exec.Result["after-a"].(map[string]any)["success"])
	assert.Equal(t, true, exec.Result["after-b"].(map[string]any)["success"])
}

func TestEngine_ConditionalSkip(t *testing.T) {
	t.Parallel()

	provider := newScriptProvider()
	provider.on("root", func(ctx context.Context, input map[string]any) (*types.AgentResponse, error) {
		return &types.AgentResponse{Success: true, Data: map[string]any{"priority": 1}}, nil
	})
	eng := New(provider, &memRecorder{}, zap.NewNop(), Options{})

	wf := &types.WorkflowConfig{
		ID:        "wf-cond",
		Name:      "conditional",
		RootAgent: agent("root"),
		Levels: []types.AgentLevel{
			{Level: 1, Mode: types.ModeConditional, Condition: "agent.root.data.priority > 5",
				Agents: []types.AgentConfig{agent("escalate")}},
			{Level: 2, Mode: types.ModeParallel, Agents: []types.AgentConfig{agent("archive")}},
		},
	}

	exec, err := eng.Execute(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, exec.Status)

	// 被跳过的层级没有任何 Agent 执行
	assert.False(t, provider.called("escalate"))
	assert.True(t, provider.called("archive"))

	// 日志包含 skip 条目，CurrentLevel 越过了它
	var skipped *types.WorkflowLogEntry
	for i := range exec.Log {
		if exec.Log[i].Status == types.LogSkipped {
			skipped = &exec.Log[i]
		}
	}
	require.NotNil(t, skipped, "expected a skip entry")
	assert.Equal(t, 1, skipped.Level)
	assert.Equal(t, 2, exec.CurrentLevel)
}

func TestEngine_ConditionalRuns(t *testing.T) {
	t.Parallel()

	provider := newScriptProvider()
	provider.on("root", func(ctx context.Context, input map[string]any) (*types.AgentResponse, error) {
		return &types.AgentResponse{Success: true, Data: map[string]any{"priority": 9}}, nil
	})
	eng := New(provider, &memRecorder{}, zap.NewNop(), Options{})

	wf := &types.WorkflowConfig{
		ID:        "wf-cond-run",
		Name:      "conditional runs",
		RootAgent: agent("root"),
		Levels: []types.AgentLevel{
			{Level: 1, Mode: types.ModeConditional, Condition: "agent.root.data.priority > 5",
				Agents: []types.AgentConfig{agent("escalate")}},
		},
	}

	exec, err := eng.Execute(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, exec.Status)
	assert.True(t, provider.called("escalate"))
}

func TestEngine_SequentialFailureHalts(t *testing.T) {
	t.Parallel()

	provider := newScriptProvider()
	provider.on("first", func(ctx context.Context, input map[string]any) (*types.AgentResponse, error) {
		return nil, errors.New("provider exploded")
	})
	eng := New(provider, &memRecorder{}, zap.NewNop(), Options{})

	wf := &types.WorkflowConfig{
		ID:        "wf-halt",
		Name:      "halts",
		RootAgent: agent("root"),
		Levels: []types.AgentLevel{
			{Level: 1, Mode: types.ModeConditional, Condition: "true",
				Agents: []types.AgentConfig{agent("first"), agent("second")}},
			{Level: 2, Mode: types.ModeParallel, Agents: []types.AgentConfig{agent("never")}},
		},
	}

	exec, err := eng.Execute(context.Background(), wf, nil)
	require.Error(t, err)
	assert.Equal(t, types.StatusFailed, exec.Status)
	assert.Contains(t, exec.Error, "provider exploded")

	// 同层后继与后续层级都不再运行
	assert.False(t, provider.called("second"))
	assert.False(t, provider.called("never"))

	// 已有日志保留：根层 completed + 失败条目
	require.GreaterOrEqual(t, len(exec.Log), 2)
	assert.Equal(t, types.LogCompleted, exec.Log[0].Status)
	assert.Equal(t, types.LogFailed, exec.Log[len(exec.Log)-1].Status)
	require.NotNil(t, exec.EndTime)
}

func TestEngine_CancelBetweenLevels(t *testing.T) {
	t.Parallel()

	provider := newScriptProvider()
	eng := New(provider, &memRecorder{}, zap.NewNop(), Options{})

	// 根 Agent 执行期间请求取消，下一层级边界处落实
	provider.on("root", func(ctx context.Context, input map[string]any) (*types.AgentResponse, error) {
		runID, _ := types.RunID(ctx)
		require.True(t, eng.Cancel(runID))
		return &types.AgentResponse{Success: true}, nil
	})

	wf := &types.WorkflowConfig{
		ID:        "wf-cancel",
		Name:      "cancel",
		RootAgent: agent("root"),
		Levels: []types.AgentLevel{
			{Level: 1, Mode: types.ModeParallel, Agents: []types.AgentConfig{agent("never")}},
		},
	}

	exec, err := eng.Execute(context.Background(), wf, nil)
	require.NoError(t, err, "cancellation is not an error")
	assert.Equal(t, types.StatusCancelled, exec.Status)
	assert.False(t, provider.called("never"), "cancelled execution must not start the next level")
	assert.Equal(t, types.LogCancelled, exec.Log[len(exec.Log)-1].Status)
}

func TestEngine_CancelUnknownExecution(t *testing.T) {
	t.Parallel()

	eng := New(newScriptProvider(), nil, zap.NewNop(), Options{})
	assert.False(t, eng.Cancel("no-such-run"))
}

func TestEngine_RecorderErrorReflected(t *testing.T) {
	t.Parallel()

	provider := newScriptProvider()
	recorder := &memRecorder{err: errors.New("disk full")}
	eng := New(provider, recorder, zap.NewNop(), Options{})

	wf := &types.WorkflowConfig{ID: "wf-rec", Name: "rec", RootAgent: agent("root")}

	exec, err := eng.Execute(context.Background(), wf, nil)
	require.NoError(t, err, "storage failure is reflected, not surfaced as execution failure")
	assert.Equal(t, types.StatusCompleted, exec.Status)
	assert.Contains(t, exec.Error, "disk full")
}

func TestEngine_LevelTimeout(t *testing.T) {
	t.Parallel()

	provider := newScriptProvider()
	provider.on("slow", func(ctx context.Context, input map[string]any) (*types.AgentResponse, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return &types.AgentResponse{Success: true}, nil
		}
	})
	eng := New(provider, &memRecorder{}, zap.NewNop(), Options{LevelTimeout: 50 * time.Millisecond})

	wf := &types.WorkflowConfig{ID: "wf-slow", Name: "slow", RootAgent: agent("slow")}

	exec, err := eng.Execute(context.Background(), wf, nil)
	require.Error(t, err)
	assert.Equal(t, types.StatusFailed, exec.Status)
}

func TestEngine_SequentialSeesPriorOutput(t *testing.T) {
	t.Parallel()

	provider := newScriptProvider()
	provider.on("first", func(ctx context.Context, input map[string]any) (*types.AgentResponse, error) {
		return &types.AgentResponse{Success: true, Data: map[string]any{"token": "abc"}}, nil
	})
	var seen any
	provider.on("second", func(ctx context.Context, input map[string]any) (*types.AgentResponse, error) {
		state := input["state"].(map[string]any)
		if first, ok := state["first"].(map[string]any); ok {
			seen = first["token"]
		}
		return &types.AgentResponse{Success: true}, nil
	})
	eng := New(provider, &memRecorder{}, zap.NewNop(), Options{})

	wf := &types.WorkflowConfig{
		ID:        "wf-seq",
		Name:      "seq",
		RootAgent: agent("root"),
		Levels: []types.AgentLevel{
			{Level: 1, Mode: types.ModeConditional, Condition: "true",
				Agents: []types.AgentConfig{agent("first"), agent("second")}},
		},
	}

	_, err := eng.Execute(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", seen, "sequential agents must see prior agent output in state")
}
