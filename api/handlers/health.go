package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/levelflow/levelflow/service"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// HealthHandler 健康检查处理器
type HealthHandler struct {
	orch   *service.Orchestrator
	logger *zap.Logger
	checks []HealthCheck
	mu     sync.RWMutex
}

// HealthCheck 健康检查接口
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthStatus 健康状态响应
type HealthStatus struct {
	Status    string                 `json:"status"` // "healthy", "unhealthy"
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status  string `json:"status"` // "pass", "fail"
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(orch *service.Orchestrator, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		orch:   orch,
		logger: logger.With(zap.String("component", "health_handler")),
	}
}

// RegisterCheck 注册就绪检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealth 处理 /healthz 请求（活跃度探针，只确认进程存活）
// @Router /healthz [get]
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// HandleReady 处理 /readyz 请求（就绪探针）。
// 综合编排器健康监控状态与已注册的检查项。
// @Router /readyz [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult),
	}

	allHealthy := h.orch.Healthy()
	if !allHealthy {
		status.Checks["orchestrator"] = CheckResult{
			Status:  "fail",
			Message: "health monitor reports unhealthy",
		}
	}

	for _, check := range checks {
		start := time.Now()
		err := check.Check(ctx)
		latency := time.Since(start)

		result := CheckResult{
			Status:  "pass",
			Latency: latency.String(),
		}

		if err != nil {
			result.Status = "fail"
			result.Message = err.Error()
			allHealthy = false

			h.logger.Warn("readiness check failed",
				zap.String("check", check.Name()),
				zap.Error(err),
				zap.Duration("latency", latency),
			)
		}

		status.Checks[check.Name()] = result
	}

	if !allHealthy {
		status.Status = "unhealthy"
		WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	}

	WriteJSON(w, http.StatusOK, status)
}

// HandleStatus 处理 /v1/status 请求，返回编排器状态快照
// @Router /v1/status [get]
func (h *HealthHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.orch.Status())
}

// HandleVersion 处理 /version 请求，构建信息在编译期通过 ldflags 注入
// @Router /version [get]
func HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

// =============================================================================
// 🔧 内置就绪检查实现
// =============================================================================

// StoreHealthCheck 存储连通性检查
type StoreHealthCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewStoreHealthCheck 创建存储连通性检查
func NewStoreHealthCheck(name string, ping func(ctx context.Context) error) *StoreHealthCheck {
	return &StoreHealthCheck{name: name, ping: ping}
}

// Name 返回检查名称
func (c *StoreHealthCheck) Name() string { return c.name }

// Check 执行检查
func (c *StoreHealthCheck) Check(ctx context.Context) error { return c.ping(ctx) }
