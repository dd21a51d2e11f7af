package types

import (
	"time"

	"github.com/google/uuid"
)

// Event 是触发器产生的规范事件信封。
// 所有触发器种类（手动、定时、文件监听、Webhook）都产出同一结构，
// 由执行引擎统一消费。Event 一经创建即不可变。
type Event struct {
	// ID 全局唯一事件标识（UUID v4）
	ID string `json:"id"`

	// Type 产生该事件的触发器种类
	Type TriggerKind `json:"type"`

	// Source 人类可读的事件来源标签（如 "cron:*/5 * * * *"）
	Source string `json:"source"`

	// Timestamp 事件产生时间
	Timestamp time.Time `json:"timestamp"`

	// Data 触发器相关的载荷，交给第一层 Agent
	Data map[string]any `json:"data,omitempty"`

	// Metadata 附加元信息（注册 ID、所属工作流 ID 等）
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewEvent 创建一个新事件，自动生成全局唯一 ID 与时间戳。
func NewEvent(kind TriggerKind, source string, data map[string]any) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      kind,
		Source:    source,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// WithMetadata 返回附加了元信息的事件副本，保持原事件不可变。
func (e *Event) WithMetadata(key, value string) *Event {
	clone := *e
	clone.Metadata = make(map[string]string, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		clone.Metadata[k] = v
	}
	clone.Metadata[key] = value
	return &clone
}

// WorkflowID 从事件元信息中提取所属工作流 ID。
func (e *Event) WorkflowID() string {
	return e.Metadata[MetaWorkflowID]
}

// 事件元信息的标准键
const (
	MetaWorkflowID     = "workflow_id"
	MetaRegistrationID = "registration_id"
	MetaWatchPath      = "watch_path"
	MetaWebhookMethod  = "webhook_method"
)
