package types

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus 单次运行的有限状态。
type ExecutionStatus string

const (
	// StatusPending 初始状态，执行记录已创建但第 0 层尚未开始
	StatusPending ExecutionStatus = "pending"
	// StatusRunning 第 0 层开始后立即进入
	StatusRunning ExecutionStatus = "running"
	// StatusCompleted 所有层级执行完毕且无不可恢复错误
	StatusCompleted ExecutionStatus = "completed"
	// StatusFailed 某层级遇到不可恢复错误
	StatusFailed ExecutionStatus = "failed"
	// StatusCancelled 外部在层级间请求取消
	StatusCancelled ExecutionStatus = "cancelled"
)

// Terminal 报告状态是否为终态。终态之后执行记录不可变。
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition 报告从当前状态到目标状态的迁移是否合法。
// 合法迁移：pending → running，running → {completed|failed|cancelled}，
// pending → cancelled（开跑前被取消）。
func (s ExecutionStatus) CanTransition(to ExecutionStatus) bool {
	switch s {
	case StatusPending:
		return to == StatusRunning || to == StatusCancelled
	case StatusRunning:
		return to.Terminal()
	}
	return false
}

// LogStatus 日志条目的结果标记。
type LogStatus string

const (
	LogCompleted LogStatus = "completed"
	LogFailed    LogStatus = "failed"
	LogSkipped   LogStatus = "skipped"
	LogCancelled LogStatus = "cancelled"
	LogPartial   LogStatus = "partial"
)

// WorkflowLogEntry 执行日志的一条记录，每个层级至少产生一条。
// conditional 层条件为假时产生 Status=skipped 的条目。
type WorkflowLogEntry struct {
	Level     int           `json:"level"`
	Agent     string        `json:"agent,omitempty"`
	Status    LogStatus     `json:"status"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// AgentResponse Agent 执行结果。
// Success=false 表示业务层面失败（模型拒绝、内容为空等），执行仍可继续；
// provider 返回 error 才是不可恢复错误。
type AgentResponse struct {
	AgentID  string         `json:"agent_id"`
	Success  bool           `json:"success"`
	Data     map[string]any `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Duration time.Duration  `json:"duration,omitempty"`
}

// WorkflowExecution 单次运行的可变状态。
// 运行期间由执行引擎独占持有；进入终态后视为不可变并交给存储协作者。
type WorkflowExecution struct {
	ID           string             `json:"id"`
	WorkflowID   string             `json:"workflow_id"`
	Status       ExecutionStatus    `json:"status"`
	StartTime    time.Time          `json:"start_time"`
	EndTime      *time.Time         `json:"end_time,omitempty"`
	EventData    map[string]any     `json:"event_data,omitempty"`
	CurrentLevel int                `json:"current_level"`
	CurrentAgent string             `json:"current_agent,omitempty"`
	Log          []WorkflowLogEntry `json:"execution_log"`
	Result       map[string]any     `json:"result,omitempty"`
	Error        string             `json:"error,omitempty"`

	// cancel 外部取消请求标记。引擎在每个层级开始前检查，
	// 不中断正在执行中的层级。
	cancel atomic.Bool
}

// NewWorkflowExecution 创建一个 pending 状态的执行记录。
func NewWorkflowExecution(workflowID string, event *Event) *WorkflowExecution {
	var data map[string]any
	if event != nil {
		data = event.Data
	}
	return &WorkflowExecution{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Status:     StatusPending,
		StartTime:  time.Now(),
		EventData:  data,
		Log:        make([]WorkflowLogEntry, 0, 4),
	}
}

// RequestCancel 请求取消执行。可由任意 goroutine 调用；
// 引擎在下一个层级边界处观察到后将状态置为 cancelled。
func (e *WorkflowExecution) RequestCancel() {
	e.cancel.Store(true)
}

// CancelRequested 报告是否收到过取消请求。
func (e *WorkflowExecution) CancelRequested() bool {
	return e.cancel.Load()
}

// Transition 执行一次状态迁移，非法迁移返回错误。
func (e *WorkflowExecution) Transition(to ExecutionStatus) error {
	if !e.Status.CanTransition(to) {
		return NewError(ErrInvalidTransition,
			"illegal execution status transition: "+string(e.Status)+" -> "+string(to))
	}
	e.Status = to
	if to.Terminal() {
		now := time.Now()
		e.EndTime = &now
	}
	return nil
}

// AppendLog 追加一条执行日志。
func (e *WorkflowExecution) AppendLog(entry WorkflowLogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	e.Log = append(e.Log, entry)
}
