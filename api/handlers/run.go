package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/levelflow/levelflow/service"
	"github.com/levelflow/levelflow/storage"
	"github.com/levelflow/levelflow/types"
)

// =============================================================================
// 📊 执行历史 Handler
// =============================================================================

// RunHandler 执行历史查询与在途执行取消
type RunHandler struct {
	orch   *service.Orchestrator
	logger *zap.Logger
}

// NewRunHandler 创建执行历史 Handler
func NewRunHandler(orch *service.Orchestrator, logger *zap.Logger) *RunHandler {
	return &RunHandler{
		orch:   orch,
		logger: logger.With(zap.String("component", "run_handler")),
	}
}

func (h *RunHandler) service(w http.ResponseWriter, r *http.Request) (*service.Service, bool) {
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

// HandleList 按条件查询执行历史
// 查询参数: workflow_id, status, since (RFC3339), limit
// @Router /v1/runs [get]
func (h *RunHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}

	filter := storage.RunFilter{
		WorkflowID: r.URL.Query().Get("workflow_id"),
	}

	if s := r.URL.Query().Get("status"); s != "" {
		filter.Status = types.ExecutionStatus(s)
	}

	if s := r.URL.Query().Get("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
				"invalid 'since' parameter, expected RFC3339 timestamp", h.logger)
			return
		}
		filter.Since = since
	}

	if s := r.URL.Query().Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
				"invalid 'limit' parameter", h.logger)
			return
		}
		filter.Limit = limit
	}

	runs, err := svc.Store.ListRuns(r.Context(), filter)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	WriteSuccess(w, runs)
}

// HandleGet 查询单条执行记录
// @Router /v1/runs/{id} [get]
func (h *RunHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "run ID is required", h.logger)
		return
	}

	svc, ok := h.service(w, r)
	if !ok {
		return
	}

	run, err := svc.Store.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "run not found", h.logger)
			return
		}
		WriteAnyError(w, err, h.logger)
		return
	}

	WriteSuccess(w, run)
}

// HandleCancel 请求取消在途执行。取消在层边界生效，
// 已终态或未知的执行返回 404。
// @Router /v1/runs/{id}/cancel [post]
func (h *RunHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "run ID is required", h.logger)
		return
	}

	svc, ok := h.service(w, r)
	if !ok {
		return
	}

	if !svc.Engine.Cancel(id) {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound,
			"no active execution with this ID", h.logger)
		return
	}

	h.logger.Info("cancellation requested", zap.String("execution_id", id))
	WriteJSON(w, http.StatusAccepted, Response{
		Success:   true,
		Data:      map[string]string{"id": id, "status": "cancel_requested"},
		Timestamp: time.Now(),
	})
}
