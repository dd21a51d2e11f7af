package handlers

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/levelflow/levelflow/service"
	"github.com/levelflow/levelflow/storage"
	"github.com/levelflow/levelflow/types"
)

// =============================================================================
// 🎯 工作流管理 Handler
// =============================================================================

// WorkflowHandler 工作流 CRUD 与手动执行
type WorkflowHandler struct {
	orch   *service.Orchestrator
	logger *zap.Logger
}

// WorkflowSummary 列表接口返回的工作流摘要
type WorkflowSummary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Enabled     bool      `json:"enabled"`
	TriggerKind string    `json:"trigger_kind,omitempty"`
	Levels      int       `json:"levels"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ExecuteRequest 手动执行请求
type ExecuteRequest struct {
	Data map[string]any `json:"data,omitempty"`
}

// NewWorkflowHandler 创建工作流 Handler
func NewWorkflowHandler(orch *service.Orchestrator, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{
		orch:   orch,
		logger: logger.With(zap.String("component", "workflow_handler")),
	}
}

// service 获取惰性初始化的服务实例，失败时已写出错误响应
func (h *WorkflowHandler) service(w http.ResponseWriter, r *http.Request) (*service.Service, bool) {
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

// HandleCreate 创建或覆盖工作流定义
// @Router /v1/workflows [post]
func (h *WorkflowHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}

	var wf types.WorkflowConfig
	if err := DecodeJSONBody(w, r, &wf, h.logger); err != nil {
		return
	}

	if err := wf.Validate(); err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	if err := svc.Store.SaveWorkflow(r.Context(), &wf); err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	h.logger.Info("workflow saved",
		zap.String("workflow_id", wf.ID),
		zap.Bool("enabled", wf.Enabled),
	)
	WriteJSON(w, http.StatusCreated, Response{
		Success:   true,
		Data:      &wf,
		Timestamp: time.Now(),
	})
}

// HandleList 列出全部工作流
// @Router /v1/workflows [get]
func (h *WorkflowHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}

	workflows, err := svc.Store.ListWorkflows(r.Context())
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	result := make([]WorkflowSummary, 0, len(workflows))
	for _, wf := range workflows {
		result = append(result, toSummary(wf))
	}

	WriteSuccess(w, result)
}

// HandleGet 查询单个工作流
// @Router /v1/workflows/{id} [get]
func (h *WorkflowHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "workflow ID is required", h.logger)
		return
	}

	svc, ok := h.service(w, r)
	if !ok {
		return
	}

	wf, err := svc.Store.GetWorkflow(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			WriteErrorMessage(w, http.StatusNotFound, types.ErrWorkflowNotFound, "workflow not found", h.logger)
			return
		}
		WriteAnyError(w, err, h.logger)
		return
	}

	WriteSuccess(w, wf)
}

// HandleDelete 删除工作流及其触发器注册
// @Router /v1/workflows/{id} [delete]
func (h *WorkflowHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "workflow ID is required", h.logger)
		return
	}

	svc, ok := h.service(w, r)
	if !ok {
		return
	}

	// 先解除活跃的触发器注册，再删存储
	triggers, err := svc.Store.ListTriggers(r.Context())
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}
	for _, t := range triggers {
		if t.WorkflowID != id {
			continue
		}
		if err := svc.Registry.Unregister(t); err != nil {
			h.logger.Warn("failed to unregister trigger during workflow delete",
				zap.String("trigger_key", t.Key()),
				zap.Error(err),
			)
		}
	}

	if err := svc.Store.DeleteWorkflow(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			WriteErrorMessage(w, http.StatusNotFound, types.ErrWorkflowNotFound, "workflow not found", h.logger)
			return
		}
		WriteAnyError(w, err, h.logger)
		return
	}

	h.logger.Info("workflow deleted", zap.String("workflow_id", id))
	WriteSuccess(w, map[string]string{"id": id})
}

// HandleExecute 手动触发工作流执行，同步等待结果
// @Router /v1/workflows/{id}/execute [post]
func (h *WorkflowHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "workflow ID is required", h.logger)
		return
	}

	svc, ok := h.service(w, r)
	if !ok {
		return
	}

	var req ExecuteRequest
	if r.ContentLength > 0 {
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
	}

	exec, err := svc.ExecuteWorkflow(r.Context(), id, req.Data)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	WriteSuccess(w, exec)
}

// HandleStats 查询工作流聚合执行指标
// @Router /v1/workflows/{id}/stats [get]
func (h *WorkflowHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "workflow ID is required", h.logger)
		return
	}

	svc, ok := h.service(w, r)
	if !ok {
		return
	}

	stats, err := svc.Store.Stats(r.Context(), id)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	WriteSuccess(w, stats)
}

// =============================================================================
// Helper Functions
// =============================================================================

func toSummary(wf *types.WorkflowConfig) WorkflowSummary {
	s := WorkflowSummary{
		ID:          wf.ID,
		Name:        wf.Name,
		Description: wf.Description,
		Enabled:     wf.Enabled,
		Levels:      len(wf.Levels),
		CreatedAt:   wf.CreatedAt,
		UpdatedAt:   wf.UpdatedAt,
	}
	if wf.Trigger != nil {
		s.TriggerKind = string(wf.Trigger.Kind)
	}
	return s
}
