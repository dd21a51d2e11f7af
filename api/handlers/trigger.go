package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/levelflow/levelflow/service"
	"github.com/levelflow/levelflow/types"
)

// =============================================================================
// ⏰ 触发器管理 Handler
// =============================================================================

// TriggerHandler 触发器注册、注销与查询
type TriggerHandler struct {
	orch   *service.Orchestrator
	logger *zap.Logger
}

// TriggerInfo 列表接口返回的触发器信息
type TriggerInfo struct {
	Key        string             `json:"key"`
	Kind       types.TriggerKind  `json:"kind"`
	WorkflowID string             `json:"workflow_id"`
	Cron       *types.CronConfig  `json:"cron,omitempty"`
	Watch      *types.WatchConfig `json:"watch,omitempty"`
	Webhook    *webhookInfo       `json:"webhook,omitempty"`
}

// webhookInfo 不回显 Secret
type webhookInfo struct {
	Endpoint string `json:"endpoint"`
	Method   string `json:"method,omitempty"`
}

// NewTriggerHandler 创建触发器 Handler
func NewTriggerHandler(orch *service.Orchestrator, logger *zap.Logger) *TriggerHandler {
	return &TriggerHandler{
		orch:   orch,
		logger: logger.With(zap.String("component", "trigger_handler")),
	}
}

func (h *TriggerHandler) service(w http.ResponseWriter, r *http.Request) (*service.Service, bool) {
	svc, err := h.orch.Get(r.Context())
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return nil, false
	}
	return svc, true
}

// =============================================================================
// HTTP Handlers
// =============================================================================

// HandleRegister 注册触发器并持久化
// @Router /v1/triggers [post]
func (h *TriggerHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}

	var t types.EventTrigger
	if err := DecodeJSONBody(w, r, &t, h.logger); err != nil {
		return
	}

	if err := svc.RegisterTrigger(r.Context(), &t); err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	h.logger.Info("trigger registered",
		zap.String("kind", string(t.Kind)),
		zap.String("workflow_id", t.WorkflowID),
	)
	WriteJSON(w, http.StatusCreated, Response{
		Success:   true,
		Data:      toTriggerInfo(&t),
		Timestamp: time.Now(),
	})
}

// HandleUnregister 注销触发器并清除持久化记录
// @Router /v1/triggers [delete]
func (h *TriggerHandler) HandleUnregister(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}

	var t types.EventTrigger
	if err := DecodeJSONBody(w, r, &t, h.logger); err != nil {
		return
	}

	if err := svc.UnregisterTrigger(r.Context(), &t); err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	WriteSuccess(w, map[string]string{"key": t.Key()})
}

// HandleList 列出全部持久化的触发器注册
// @Router /v1/triggers [get]
func (h *TriggerHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}

	triggers, err := svc.Store.ListTriggers(r.Context())
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	result := make([]TriggerInfo, 0, len(triggers))
	for _, t := range triggers {
		result = append(result, toTriggerInfo(t))
	}

	WriteSuccess(w, result)
}

// =============================================================================
// Helper Functions
// =============================================================================

func toTriggerInfo(t *types.EventTrigger) TriggerInfo {
	info := TriggerInfo{
		Key:        t.Key(),
		Kind:       t.Kind,
		WorkflowID: t.WorkflowID,
		Cron:       t.Cron,
		Watch:      t.Watch,
	}
	if t.Webhook != nil {
		info.Webhook = &webhookInfo{
			Endpoint: t.Webhook.Endpoint,
			Method:   t.Webhook.Method,
		}
	}
	return info
}
