package trigger

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/levelflow/levelflow/types"
)

// WebhookAdapter Webhook 触发适配器。
// 维护端点到工作流的绑定；HTTP 路由层收到请求后调用 Dispatch，
// 匹配的绑定各自异步触发，请求方立即得到受理确认。
// 请求鉴权（JWT 签名校验）在 HTTP 边缘完成，密钥通过 Secret 查询。
type WebhookAdapter struct {
	mu       sync.RWMutex
	bindings map[string]*webhookRegistration // trigger key -> registration
	logger   *zap.Logger
	stopped  bool
}

type webhookRegistration struct {
	id       string
	trigger  *types.EventTrigger
	callback Callback
}

// NewWebhookAdapter 创建 Webhook 触发适配器。
func NewWebhookAdapter(logger *zap.Logger) *WebhookAdapter {
	return &WebhookAdapter{
		bindings: make(map[string]*webhookRegistration),
		logger:   logger.With(zap.String("component", "trigger_webhook")),
	}
}

func (a *WebhookAdapter) Kind() types.TriggerKind { return types.TriggerWebhook }

// Register 登记一个端点绑定。
func (a *WebhookAdapter) Register(t *types.EventTrigger, cb Callback) error {
	if err := checkKind(a, t); err != nil {
		return err
	}
	if cb == nil {
		return types.NewError(types.ErrInvalidTrigger, "webhook trigger requires a callback")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return types.NewError(types.ErrAdapterStopped, "webhook adapter is stopped")
	}

	reg := &webhookRegistration{
		id:       uuid.New().String(),
		trigger:  t,
		callback: cb,
	}
	a.bindings[t.Key()] = reg

	a.logger.Info("webhook trigger registered",
		zap.String("registration_id", reg.id),
		zap.String("workflow_id", t.WorkflowID),
		zap.String("endpoint", t.Webhook.Endpoint),
		zap.String("method", t.Webhook.Method),
	)
	return nil
}

// Unregister 删除端点绑定。不存在时记录警告并返回 nil。
func (a *WebhookAdapter) Unregister(t *types.EventTrigger) error {
	if t == nil {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	reg, ok := a.bindings[t.Key()]
	if !ok {
		a.logger.Warn("unregister: no webhook binding found",
			zap.String("workflow_id", t.WorkflowID),
			zap.String("key", t.Key()))
		return nil
	}
	delete(a.bindings, t.Key())

	a.logger.Info("webhook trigger unregistered",
		zap.String("registration_id", reg.id),
		zap.String("workflow_id", t.WorkflowID),
	)
	return nil
}

// methodAllowed 绑定未限定方法时默认只接受 POST。
func methodAllowed(cfg *types.WebhookConfig, method string) bool {
	want := cfg.Method
	if want == "" {
		want = http.MethodPost
	}
	return strings.EqualFold(want, method)
}

// Dispatch 把一次 HTTP 请求派发给匹配的端点绑定，返回匹配数。
// 每个匹配绑定在独立 goroutine 中触发，回调错误记录后吞掉。
func (a *WebhookAdapter) Dispatch(ctx context.Context, endpoint, method string, payload map[string]any) int {
	a.mu.RLock()
	matched := make([]*webhookRegistration, 0, 1)
	for _, reg := range a.bindings {
		cfg := reg.trigger.Webhook
		if cfg.Endpoint == endpoint && methodAllowed(cfg, method) {
			matched = append(matched, reg)
		}
	}
	a.mu.RUnlock()

	for _, reg := range matched {
		go a.fire(reg, method, payload)
	}
	return len(matched)
}

// Secret 查询端点的鉴权密钥。未配置密钥的端点返回 ("", true)。
func (a *WebhookAdapter) Secret(endpoint string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, reg := range a.bindings {
		if reg.trigger.Webhook.Endpoint == endpoint {
			return reg.trigger.Webhook.Secret, true
		}
	}
	return "", false
}

func (a *WebhookAdapter) fire(reg *webhookRegistration, method string, payload map[string]any) {
	t := reg.trigger
	event := types.NewEvent(types.TriggerWebhook, "webhook:"+t.Webhook.Endpoint, payload).
		WithMetadata(types.MetaWorkflowID, t.WorkflowID).
		WithMetadata(types.MetaRegistrationID, reg.id).
		WithMetadata(types.MetaWebhookMethod, method)

	if _, err := reg.callback(context.Background(), event); err != nil {
		a.logger.Error("webhook trigger callback failed",
			zap.String("registration_id", reg.id),
			zap.String("workflow_id", t.WorkflowID),
			zap.String("event_id", event.ID),
			zap.String("endpoint", t.Webhook.Endpoint),
			zap.Error(err),
		)
		return
	}
	a.logger.Debug("webhook trigger fired",
		zap.String("registration_id", reg.id),
		zap.String("workflow_id", t.WorkflowID),
		zap.String("endpoint", t.Webhook.Endpoint),
	)
}

// Start Webhook 适配器无后台机制，派发由 HTTP 层驱动。
func (a *WebhookAdapter) Start(ctx context.Context) error { return nil }

// Stop 撤销全部绑定，幂等。
func (a *WebhookAdapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopped = true
	n := len(a.bindings)
	a.bindings = make(map[string]*webhookRegistration)
	if n > 0 {
		a.logger.Info("webhook adapter stopped", zap.Int("dropped_bindings", n))
	}
	return nil
}

// Active 返回当前绑定数。
func (a *WebhookAdapter) Active() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.bindings)
}
