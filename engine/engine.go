package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/levelflow/levelflow/types"
)

// tracerName 引擎产生的 span 归属的 instrumentation scope。
const tracerName = "github.com/levelflow/levelflow/engine"

// defaultLevelTimeout 单个层级的默认超时。
// 原始设计未给出执行上限，这里选择可配置的层级超时作为策略。
const defaultLevelTimeout = 5 * time.Minute

// Provider 模型提供方协作者。Execute 可能失败；引擎不做自动重试。
type Provider interface {
	Execute(ctx context.Context, agent types.AgentConfig, input map[string]any) (*types.AgentResponse, error)
}

// RunRecorder 存储协作者的最小边界：终态执行记录的持久化。
type RunRecorder interface {
	RecordRun(ctx context.Context, exec *types.WorkflowExecution) error
}

// MetricsRecorder 指标采集的最小边界，internal/metrics.Collector 实现它。
type MetricsRecorder interface {
	ObserveExecution(status string, duration time.Duration)
	ObserveLevel(mode string, duration time.Duration)
}

// ExecutionObserver 观察在途执行的进度。回调在执行 goroutine 上
// 同步发生，实现必须快速返回且不得阻塞。
type ExecutionObserver interface {
	// OnLogEntry 每追加一条执行日志后收到该条目的值拷贝
	OnLogEntry(executionID string, entry types.WorkflowLogEntry)
	// OnFinished 执行进入终态且持久化完成后调用一次
	OnFinished(exec *types.WorkflowExecution)
}

// Options 引擎可选配置。
type Options struct {
	// LevelTimeout 单个层级的超时，零值使用默认 5 分钟
	LevelTimeout time.Duration
	// Metrics 可选的指标采集器
	Metrics MetricsRecorder
	// Observer 可选的执行进度观察者（api/stream 用它做日志推送）
	Observer ExecutionObserver
}

// Engine 工作流执行引擎。
type Engine struct {
	provider     Provider
	recorder     RunRecorder
	logger       *zap.Logger
	tracer       trace.Tracer
	metrics      MetricsRecorder
	observer     ExecutionObserver
	levelTimeout time.Duration

	// active 在途执行，支持外部按执行 ID 请求取消
	activeMu sync.RWMutex
	active   map[string]*types.WorkflowExecution
}

// New 创建执行引擎。recorder 为 nil 时跳过持久化（测试场景）。
func New(provider Provider, recorder RunRecorder, logger *zap.Logger, opts Options) *Engine {
	timeout := opts.LevelTimeout
	if timeout <= 0 {
		timeout = defaultLevelTimeout
	}
	return &Engine{
		provider:     provider,
		recorder:     recorder,
		logger:       logger.With(zap.String("component", "engine")),
		tracer:       otel.Tracer(tracerName),
		metrics:      opts.Metrics,
		observer:     opts.Observer,
		levelTimeout: timeout,
		active:       make(map[string]*types.WorkflowExecution),
	}
}

// Cancel 请求取消一个在途执行。引擎在下一个层级边界落实取消；
// 执行不存在或已结束时返回 false。
func (e *Engine) Cancel(executionID string) bool {
	e.activeMu.RLock()
	exec, ok := e.active[executionID]
	e.activeMu.RUnlock()
	if !ok {
		return false
	}
	exec.RequestCancel()
	return true
}

func (e *Engine) track(exec *types.WorkflowExecution) {
	e.activeMu.Lock()
	e.active[exec.ID] = exec
	e.activeMu.Unlock()
}

func (e *Engine) untrack(exec *types.WorkflowExecution) {
	e.activeMu.Lock()
	delete(e.active, exec.ID)
	e.activeMu.Unlock()
}

// Execute 执行一次工作流运行。
// 返回的执行记录永不为 nil 且日志完整；运行失败时同时返回错误
// （手动触发的调用方依赖错误同步传播）。取消不是错误。
func (e *Engine) Execute(ctx context.Context, wf *types.WorkflowConfig, event *types.Event) (*types.WorkflowExecution, error) {
	exec := types.NewWorkflowExecution(wf.ID, event)
	ectx := newExecutionContext(exec, wf, event)

	ctx = types.WithWorkflowID(types.WithRunID(ctx, exec.ID), wf.ID)
	ctx, span := e.tracer.Start(ctx, "workflow.execute",
		trace.WithAttributes(
			attribute.String("workflow.id", wf.ID),
			attribute.String("execution.id", exec.ID),
			attribute.String("event.id", eventID(event)),
		))
	defer span.End()

	e.track(exec)
	defer e.untrack(exec)

	start := time.Now()
	e.logger.Info("execution started",
		zap.String("execution_id", exec.ID),
		zap.String("workflow_id", wf.ID),
		zap.String("event_id", eventID(event)),
		zap.Int("levels", len(wf.Levels)),
	)

	err := e.run(ctx, ectx)
	e.finish(ctx, exec, start, err)

	if err != nil {
		return exec, err
	}
	return exec, nil
}

func eventID(event *types.Event) string {
	if event == nil {
		return ""
	}
	return event.ID
}

// appendLog 追加一条执行日志并通知观察者。只在执行 goroutine 上调用。
func (e *Engine) appendLog(exec *types.WorkflowExecution, entry types.WorkflowLogEntry) {
	exec.AppendLog(entry)
	if e.observer != nil {
		e.observer.OnLogEntry(exec.ID, exec.Log[len(exec.Log)-1])
	}
}

// run 驱动状态机：根 Agent，然后层级严格升序。
func (e *Engine) run(ctx context.Context, ectx *ExecutionContext) error {
	exec, wf := ectx.Execution, ectx.Workflow

	// 开跑前的取消检查
	if exec.CancelRequested() || ctx.Err() != nil {
		return e.cancel(exec, 0)
	}

	// 第 0 层：根 Agent，无条件最先执行
	if err := exec.Transition(types.StatusRunning); err != nil {
		return err
	}
	exec.CurrentLevel = 0
	exec.CurrentAgent = wf.RootAgent.ID

	rootResp, err := e.executeLevel(ctx, ectx, 0, types.ModeConditional, []types.AgentConfig{wf.RootAgent})
	if err != nil {
		return e.fail(exec, 0, err)
	}
	ectx.merge(rootResp)
	lastAggregate := aggregate(rootResp)

	for i := range wf.Levels {
		level := &wf.Levels[i]

		// 层级边界的取消检查：取消后该层不再运行
		if exec.CancelRequested() || ctx.Err() != nil {
			return e.cancel(exec, level.Level)
		}

		exec.CurrentLevel = level.Level
		exec.CurrentAgent = ""

		if level.Mode == types.ModeConditional {
			pass, evalErr := EvalCondition(level.Condition, ectx.conditionVars())
			if evalErr != nil {
				return e.fail(exec, level.Level, evalErr)
			}
			if !pass {
				e.appendLog(exec, types.WorkflowLogEntry{
					Level:   level.Level,
					Status:  types.LogSkipped,
					Message: "condition evaluated false: " + level.Condition,
				})
				e.logger.Debug("level skipped",
					zap.String("execution_id", exec.ID),
					zap.Int("level", level.Level),
					zap.String("condition", level.Condition),
				)
				continue
			}
		}

		responses, err := e.executeLevel(ctx, ectx, level.Level, level.Mode, level.Agents)
		if err != nil {
			return e.fail(exec, level.Level, err)
		}
		ectx.merge(responses)
		lastAggregate = aggregate(responses)
	}

	exec.Result = lastAggregate
	if err := exec.Transition(types.StatusCompleted); err != nil {
		return err
	}
	return nil
}

// executeLevel 按模式派发一个层级的 Agent，层级完全结束后才返回。
func (e *Engine) executeLevel(ctx context.Context, ectx *ExecutionContext, levelNum int, mode types.ExecutionMode, agents []types.AgentConfig) ([]*types.AgentResponse, error) {
	levelCtx, cancel := context.WithTimeout(ctx, e.levelTimeout)
	defer cancel()

	levelCtx, span := e.tracer.Start(levelCtx, "workflow.level",
		trace.WithAttributes(
			attribute.Int("level", levelNum),
			attribute.String("mode", string(mode)),
			attribute.Int("agents", len(agents)),
		))
	defer span.End()

	start := time.Now()
	var responses []*types.AgentResponse
	var err error

	if mode == types.ModeParallel {
		responses = e.runParallel(levelCtx, ectx, agents)
	} else {
		responses, err = e.runSequential(levelCtx, ectx, agents)
	}

	duration := time.Since(start)
	if e.metrics != nil {
		e.metrics.ObserveLevel(string(mode), duration)
	}

	if err != nil {
		return nil, err
	}

	e.appendLog(ectx.Execution, levelLogEntry(levelNum, responses, duration))
	return responses, nil
}

// runParallel 并发派发层内全部 Agent。单个 Agent 的 provider 错误
// 只标记该槽位失败，兄弟 Agent 继续完成。
func (e *Engine) runParallel(ctx context.Context, ectx *ExecutionContext, agents []types.AgentConfig) []*types.AgentResponse {
	resultCh := make(chan *types.AgentResponse, len(agents))
	var wg sync.WaitGroup

	for _, agent := range agents {
		wg.Add(1)
		go func(agent types.AgentConfig) {
			defer wg.Done()

			resp, err := e.runAgent(ctx, ectx, agent)
			if err != nil {
				e.logger.Warn("parallel agent failed",
					zap.String("execution_id", ectx.Execution.ID),
					zap.String("agent_id", agent.ID),
					zap.Error(err),
				)
				resp = &types.AgentResponse{
					AgentID: agent.ID,
					Success: false,
					Error:   err.Error(),
				}
			}
			resultCh <- resp
		}(agent)
	}

	wg.Wait()
	close(resultCh)

	responses := make([]*types.AgentResponse, 0, len(agents))
	for resp := range resultCh {
		responses = append(responses, resp)
	}
	return responses
}

// runSequential 顺序执行层内 Agent。provider 错误视为不可恢复。
func (e *Engine) runSequential(ctx context.Context, ectx *ExecutionContext, agents []types.AgentConfig) ([]*types.AgentResponse, error) {
	responses := make([]*types.AgentResponse, 0, len(agents))
	for _, agent := range agents {
		ectx.Execution.CurrentAgent = agent.ID

		resp, err := e.runAgent(ctx, ectx, agent)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", agent.ID, err)
		}
		responses = append(responses, resp)
		// 顺序层内的后继 Agent 能看到前序输出
		ectx.merge([]*types.AgentResponse{resp})
	}
	return responses, nil
}

// runAgent 调用 provider 执行单个 Agent。
func (e *Engine) runAgent(ctx context.Context, ectx *ExecutionContext, agent types.AgentConfig) (*types.AgentResponse, error) {
	if agent.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, agent.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := e.provider.Execute(ctx, agent, ectx.buildInput())
	if err != nil {
		return nil, types.WrapError(types.ErrProviderFailed, "provider execute "+agent.ID, err)
	}
	if resp == nil {
		resp = &types.AgentResponse{Success: false, Error: "provider returned no response"}
	}
	resp.AgentID = agent.ID
	if resp.Duration == 0 {
		resp.Duration = time.Since(start)
	}
	return resp, nil
}

// fail 记录不可恢复错误并转入 failed。已有日志完整保留。
func (e *Engine) fail(exec *types.WorkflowExecution, level int, err error) error {
	exec.Error = err.Error()
	e.appendLog(exec, types.WorkflowLogEntry{
		Level:   level,
		Agent:   exec.CurrentAgent,
		Status:  types.LogFailed,
		Message: err.Error(),
	})
	if terr := exec.Transition(types.StatusFailed); terr != nil {
		// pending 状态下的失败（如取消竞争）仍需要终态
		exec.Status = types.StatusFailed
		now := time.Now()
		exec.EndTime = &now
	}
	return err
}

// cancel 在层级边界落实外部取消请求。
func (e *Engine) cancel(exec *types.WorkflowExecution, level int) error {
	e.appendLog(exec, types.WorkflowLogEntry{
		Level:   level,
		Status:  types.LogCancelled,
		Message: "cancellation requested, remaining levels not run",
	})
	if err := exec.Transition(types.StatusCancelled); err != nil {
		exec.Status = types.StatusCancelled
		now := time.Now()
		exec.EndTime = &now
	}
	e.logger.Info("execution cancelled",
		zap.String("execution_id", exec.ID),
		zap.Int("at_level", level),
	)
	return nil
}

// finish 收尾：指标、持久化、完成日志。存储错误绝不静默丢弃，
// 反映到执行记录的 Error 字段并带标识记录日志。
func (e *Engine) finish(ctx context.Context, exec *types.WorkflowExecution, start time.Time, runErr error) {
	duration := time.Since(start)
	if e.metrics != nil {
		e.metrics.ObserveExecution(string(exec.Status), duration)
	}

	if e.recorder != nil {
		if err := e.recorder.RecordRun(ctx, exec); err != nil {
			if exec.Error == "" {
				exec.Error = "record run: " + err.Error()
			}
			e.logger.Error("record run failed",
				zap.String("execution_id", exec.ID),
				zap.String("workflow_id", exec.WorkflowID),
				zap.Error(err),
			)
		}
	}

	if runErr != nil {
		e.logger.Error("execution finished",
			zap.String("execution_id", exec.ID),
			zap.String("workflow_id", exec.WorkflowID),
			zap.String("status", string(exec.Status)),
			zap.Duration("duration", duration),
			zap.Error(runErr),
		)
	} else {
		e.logger.Info("execution finished",
			zap.String("execution_id", exec.ID),
			zap.String("workflow_id", exec.WorkflowID),
			zap.String("status", string(exec.Status)),
			zap.Duration("duration", duration),
			zap.Int("log_entries", len(exec.Log)),
		)
	}

	if e.observer != nil {
		e.observer.OnFinished(exec)
	}
}

// aggregate 汇总一个层级的输出：单 Agent 层直接展开该响应，
// 多 Agent 层按 Agent ID 分组。
func aggregate(responses []*types.AgentResponse) map[string]any {
	if len(responses) == 1 {
		return responseMap(responses[0])
	}
	out := make(map[string]any, len(responses))
	for _, resp := range responses {
		out[resp.AgentID] = responseMap(resp)
	}
	return out
}

func responseMap(resp *types.AgentResponse) map[string]any {
	m := map[string]any{
		"agent_id": resp.AgentID,
		"success":  resp.Success,
	}
	if resp.Data != nil {
		m["data"] = resp.Data
	}
	if resp.Error != "" {
		m["error"] = resp.Error
	}
	return m
}

// levelLogEntry 为一个完成的层级生成日志条目。
func levelLogEntry(level int, responses []*types.AgentResponse, duration time.Duration) types.WorkflowLogEntry {
	failed := 0
	var agent string
	for _, resp := range responses {
		if !resp.Success {
			failed++
		}
		if len(responses) == 1 {
			agent = resp.AgentID
		}
	}

	status := types.LogCompleted
	msg := fmt.Sprintf("%d agents completed", len(responses))
	switch {
	case failed == len(responses) && failed > 0:
		status = types.LogFailed
		msg = fmt.Sprintf("all %d agents failed", failed)
	case failed > 0:
		status = types.LogPartial
		msg = fmt.Sprintf("%d of %d agents failed", failed, len(responses))
	}

	return types.WorkflowLogEntry{
		Level:    level,
		Agent:    agent,
		Status:   status,
		Message:  msg,
		Duration: duration,
	}
}
