package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/levelflow/levelflow/service"
)

// RegisterRoutes 把全部 REST 路由挂到 mux 上。
// WebSocket 流式路由由 api/stream 单独注册。
func RegisterRoutes(mux *http.ServeMux, orch *service.Orchestrator, logger *zap.Logger) {
	workflow := NewWorkflowHandler(orch, logger)
	trigger := NewTriggerHandler(orch, logger)
	run := NewRunHandler(orch, logger)
	webhook := NewWebhookHandler(orch, logger)
	health := NewHealthHandler(orch, logger)

	// 工作流
	mux.HandleFunc("POST /v1/workflows", workflow.HandleCreate)
	mux.HandleFunc("GET /v1/workflows", workflow.HandleList)
	mux.HandleFunc("GET /v1/workflows/{id}", workflow.HandleGet)
	mux.HandleFunc("DELETE /v1/workflows/{id}", workflow.HandleDelete)
	mux.HandleFunc("POST /v1/workflows/{id}/execute", workflow.HandleExecute)
	mux.HandleFunc("GET /v1/workflows/{id}/stats", workflow.HandleStats)

	// 触发器
	mux.HandleFunc("POST /v1/triggers", trigger.HandleRegister)
	mux.HandleFunc("DELETE /v1/triggers", trigger.HandleUnregister)
	mux.HandleFunc("GET /v1/triggers", trigger.HandleList)

	// 执行历史
	mux.HandleFunc("GET /v1/runs", run.HandleList)
	mux.HandleFunc("GET /v1/runs/{id}", run.HandleGet)
	mux.HandleFunc("POST /v1/runs/{id}/cancel", run.HandleCancel)

	// Webhook 投递（方法由端点绑定校验，端点可含多级路径）
	mux.HandleFunc("/v1/hooks/{endpoint...}", webhook.HandleDispatch)

	// 健康与状态
	mux.HandleFunc("GET /healthz", health.HandleHealth)
	mux.HandleFunc("GET /readyz", health.HandleReady)
	mux.HandleFunc("GET /v1/status", health.HandleStatus)
}
