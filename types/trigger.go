package types

import (
	"fmt"
	"net/http"
	"strings"
)

// TriggerKind 标识触发器种类。封闭枚举，新增种类需要同步扩展
// EventTrigger.Validate 与 trigger.Registry 的适配器集合。
type TriggerKind string

const (
	// TriggerManual 手动触发（API 显式调用，无额外配置）
	TriggerManual TriggerKind = "manual"
	// TriggerCron 定时触发（cron 表达式 + 可选时区）
	TriggerCron TriggerKind = "cron"
	// TriggerWatch 文件系统监听触发
	TriggerWatch TriggerKind = "watch"
	// TriggerWebhook Webhook 触发（HTTP 端点绑定）
	TriggerWebhook TriggerKind = "webhook"
)

// Valid 检查触发器种类是否为已知枚举值。
func (k TriggerKind) Valid() bool {
	switch k {
	case TriggerManual, TriggerCron, TriggerWatch, TriggerWebhook:
		return true
	}
	return false
}

// WatchEvent 文件系统事件种类。
type WatchEvent string

const (
	WatchCreated  WatchEvent = "created"
	WatchModified WatchEvent = "modified"
	WatchDeleted  WatchEvent = "deleted"
)

// CronConfig 定时触发配置。
type CronConfig struct {
	// Schedule 标准 5 段 cron 表达式
	Schedule string `json:"schedule" yaml:"schedule"`
	// Timezone IANA 时区名，空值默认 UTC
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// WatchConfig 文件监听触发配置。
type WatchConfig struct {
	// Path 被监听的目录或文件路径（必填）
	Path string `json:"path" yaml:"path"`
	// Pattern 可选的文件名 glob 过滤
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	// Events 关心的事件种类集合，空集视为配置错误
	Events []WatchEvent `json:"events" yaml:"events"`
}

// WebhookConfig Webhook 触发配置。
type WebhookConfig struct {
	// Endpoint 端点路径（如 /hooks/deploy）
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	// Method 限定的 HTTP 方法，空值默认 POST
	Method string `json:"method,omitempty" yaml:"method,omitempty"`
	// Secret JWT 签名密钥，用于请求鉴权
	Secret string `json:"secret,omitempty" yaml:"secret,omitempty"`
}

// EventTrigger 是工作流与触发器种类的声明式绑定。
// 采用封闭标签变体：Kind 决定哪一个配置字段生效，其余必须为 nil。
// 一个工作流同一时刻只有一个活跃触发器。
type EventTrigger struct {
	// Kind 触发器种类标签
	Kind TriggerKind `json:"kind" yaml:"kind"`

	// WorkflowID 所属工作流
	WorkflowID string `json:"workflow_id" yaml:"workflow_id"`

	// 每种 Kind 对应的强类型配置，最多一个非 nil
	Cron    *CronConfig    `json:"cron,omitempty" yaml:"cron,omitempty"`
	Watch   *WatchConfig   `json:"watch,omitempty" yaml:"watch,omitempty"`
	Webhook *WebhookConfig `json:"webhook,omitempty" yaml:"webhook,omitempty"`
}

// Validate 对触发器绑定做穷尽校验。
// 配置缺失或与 Kind 不匹配时返回 ErrInvalidTrigger 类错误，
// 注册流程在任何副作用发生之前调用它（快速失败，不留半注册状态）。
func (t *EventTrigger) Validate() error {
	if t == nil {
		return NewError(ErrInvalidTrigger, "trigger is nil")
	}
	if t.WorkflowID == "" {
		return NewError(ErrInvalidTrigger, "trigger has no workflow id")
	}

	switch t.Kind {
	case TriggerManual:
		// 手动触发无额外配置

	case TriggerCron:
		if t.Cron == nil || t.Cron.Schedule == "" {
			return NewError(ErrInvalidTrigger, "cron trigger requires a schedule")
		}

	case TriggerWatch:
		if t.Watch == nil || t.Watch.Path == "" {
			return NewError(ErrInvalidTrigger, "watch trigger requires a path")
		}
		if len(t.Watch.Events) == 0 {
			return NewError(ErrInvalidTrigger, "watch trigger requires at least one event kind")
		}
		for _, ev := range t.Watch.Events {
			switch ev {
			case WatchCreated, WatchModified, WatchDeleted:
			default:
				return NewError(ErrInvalidTrigger, fmt.Sprintf("unknown watch event kind: %s", ev))
			}
		}

	case TriggerWebhook:
		if t.Webhook == nil || t.Webhook.Endpoint == "" {
			return NewError(ErrInvalidTrigger, "webhook trigger requires an endpoint")
		}
		if !strings.HasPrefix(t.Webhook.Endpoint, "/") {
			return NewError(ErrInvalidTrigger, "webhook endpoint must start with /")
		}
		if m := t.Webhook.Method; m != "" {
			switch strings.ToUpper(m) {
			case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
			default:
				return NewError(ErrInvalidTrigger, fmt.Sprintf("unsupported webhook method: %s", m))
			}
		}

	default:
		return NewError(ErrInvalidTrigger, fmt.Sprintf("unknown trigger kind: %s", t.Kind))
	}

	return nil
}

// Key 返回触发器的去重键：同一工作流 + 同一种类配置视为同一注册。
// Unregister 按该键定位需要撤销的注册记录。
func (t *EventTrigger) Key() string {
	switch t.Kind {
	case TriggerCron:
		if t.Cron != nil {
			return fmt.Sprintf("%s|%s|%s", t.Kind, t.WorkflowID, t.Cron.Schedule)
		}
	case TriggerWatch:
		if t.Watch != nil {
			return fmt.Sprintf("%s|%s|%s", t.Kind, t.WorkflowID, t.Watch.Path)
		}
	case TriggerWebhook:
		if t.Webhook != nil {
			return fmt.Sprintf("%s|%s|%s", t.Kind, t.WorkflowID, t.Webhook.Endpoint)
		}
	}
	return fmt.Sprintf("%s|%s", t.Kind, t.WorkflowID)
}
