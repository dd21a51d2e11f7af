package types

import (
	"fmt"
	"time"
)

// ExecutionMode 层级内 Agent 的调度模式。
type ExecutionMode string

const (
	// ModeParallel 层内所有 Agent 并发执行，结果彼此独立
	ModeParallel ExecutionMode = "parallel"
	// ModeConditional 守卫表达式为真时层内 Agent 顺序执行，否则整层跳过
	ModeConditional ExecutionMode = "conditional"
)

// AgentConfig 单个 Agent 的配置。
// 模型调用本身由 provider 协作者完成，引擎只透传该配置。
type AgentConfig struct {
	ID           string        `json:"id" yaml:"id"`
	Name         string        `json:"name" yaml:"name"`
	Model        string        `json:"model" yaml:"model"`
	SystemPrompt string        `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	Temperature  float64       `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens    int           `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Validate 校验 Agent 配置。
func (a *AgentConfig) Validate() error {
	if a.ID == "" {
		return NewError(ErrInvalidWorkflow, "agent id is required")
	}
	if a.Model == "" {
		return NewError(ErrInvalidWorkflow, fmt.Sprintf("agent %s has no model", a.ID))
	}
	return nil
}

// AgentLevel 工作流的一个层级。
// 不变量：conditional 层必须携带非空 Condition；parallel 层忽略 Condition。
type AgentLevel struct {
	// Level 层级序号，从 1 开始递增
	Level int `json:"level" yaml:"level"`

	// Agents 层内 Agent 集合
	Agents []AgentConfig `json:"agents" yaml:"agents"`

	// Mode 调度模式
	Mode ExecutionMode `json:"execution_mode" yaml:"execution_mode"`

	// Condition conditional 模式下的守卫表达式
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Validate 校验层级不变量。
func (l *AgentLevel) Validate() error {
	if l.Level < 1 {
		return NewError(ErrInvalidWorkflow, fmt.Sprintf("level number must be >= 1, got %d", l.Level))
	}
	if len(l.Agents) == 0 {
		return NewError(ErrInvalidWorkflow, fmt.Sprintf("level %d has no agents", l.Level))
	}
	switch l.Mode {
	case ModeParallel:
		// parallel 层忽略 Condition
	case ModeConditional:
		if l.Condition == "" {
			return NewError(ErrInvalidWorkflow, fmt.Sprintf("conditional level %d requires a condition", l.Level))
		}
	default:
		return NewError(ErrInvalidWorkflow, fmt.Sprintf("level %d has unknown execution mode: %s", l.Level, l.Mode))
	}
	for i := range l.Agents {
		if err := l.Agents[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// WorkflowConfig 工作流定义。
// 不变量：Levels 按 Level 序号从 1 开始严格递增；RootAgent 视为第 0 层，
// 永远无条件最先执行。
type WorkflowConfig struct {
	ID          string        `json:"id" yaml:"id"`
	Name        string        `json:"name" yaml:"name"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	Trigger     *EventTrigger `json:"trigger,omitempty" yaml:"trigger,omitempty"`
	RootAgent   AgentConfig   `json:"root_agent" yaml:"root_agent"`
	Levels      []AgentLevel  `json:"levels" yaml:"levels"`
	Enabled     bool          `json:"enabled" yaml:"enabled"`
	CreatedAt   time.Time     `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// Validate 校验整个工作流定义，包括层级顺序不变量与触发器配置。
func (w *WorkflowConfig) Validate() error {
	if w.ID == "" {
		return NewError(ErrInvalidWorkflow, "workflow id is required")
	}
	if w.Name == "" {
		return NewError(ErrInvalidWorkflow, "workflow name is required")
	}
	if err := w.RootAgent.Validate(); err != nil {
		return err
	}
	for i := range w.Levels {
		if err := w.Levels[i].Validate(); err != nil {
			return err
		}
		if w.Levels[i].Level != i+1 {
			return NewError(ErrInvalidWorkflow,
				fmt.Sprintf("levels must be numbered 1..n in order, position %d has level %d", i, w.Levels[i].Level))
		}
	}
	if w.Trigger != nil {
		if w.Trigger.WorkflowID == "" {
			w.Trigger.WorkflowID = w.ID
		}
		if w.Trigger.WorkflowID != w.ID {
			return NewError(ErrInvalidWorkflow, "trigger belongs to a different workflow")
		}
		if err := w.Trigger.Validate(); err != nil {
			return err
		}
	}
	return nil
}
