package stream

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/levelflow/levelflow/api/handlers"
	"github.com/levelflow/levelflow/service"
	"github.com/levelflow/levelflow/storage"
	"github.com/levelflow/levelflow/types"
)

// writeTimeout 单条消息的写超时
const writeTimeout = 10 * time.Second

// =============================================================================
// 🔌 执行日志 WebSocket Handler
// =============================================================================

// Handler 把执行进度以 WebSocket 推送给客户端。在途执行的日志实时
// 到达；已完成的执行从存储回放全量日志后立即收到终态事件。
type Handler struct {
	orch   *service.Orchestrator
	hub    *Hub
	logger *zap.Logger
}

// NewHandler 创建流式 Handler。hub 必须与引擎 Options.Observer
// 是同一个实例，否则收不到任何事件。
func NewHandler(orch *service.Orchestrator, hub *Hub, logger *zap.Logger) *Handler {
	return &Handler{
		orch:   orch,
		hub:    hub,
		logger: logger.With(zap.String("component", "stream_handler")),
	}
}

// RegisterRoutes 挂载流式路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/runs/{id}/stream", h.HandleStream)
}

// HandleStream 升级到 WebSocket 并推送执行事件直到终态
// @Router /v1/runs/{id}/stream [get]
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		handlers.WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"run ID is required", h.logger)
		return
	}

	svc, err := h.orch.Get(r.Context())
	if err != nil {
		handlers.WriteAnyError(w, err, h.logger)
		return
	}

	// 先订阅再查存储：finish 先落库再发终态事件，
	// 两条路径必有一条覆盖该执行。
	events, cancel := h.hub.Subscribe(id)
	defer cancel()

	run, err := svc.Store.GetRun(r.Context(), id)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		handlers.WriteAnyError(w, err, h.logger)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	if run != nil {
		// 已终态：回放存储中的日志
		if err := h.replay(ctx, conn, run); err != nil {
			return
		}
		conn.Close(websocket.StatusNormalClosure, "run finished")
		return
	}

	h.logger.Debug("stream subscriber attached", zap.String("execution_id", id))

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "client context done")
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "stream closed")
				return
			}
			if err := h.write(ctx, conn, ev); err != nil {
				h.logger.Debug("stream write failed, dropping subscriber",
					zap.String("execution_id", id),
					zap.Error(err),
				)
				return
			}
			if ev.Type == EventFinished {
				conn.Close(websocket.StatusNormalClosure, "run finished")
				return
			}
		}
	}
}

// replay 把一条已终态执行的全部日志与终态事件写给客户端
func (h *Handler) replay(ctx context.Context, conn *websocket.Conn, run *types.WorkflowExecution) error {
	for i := range run.Log {
		ev := Event{
			Type:        EventLog,
			ExecutionID: run.ID,
			Entry:       &run.Log[i],
		}
		if err := h.write(ctx, conn, ev); err != nil {
			return err
		}
	}
	return h.write(ctx, conn, Event{
		Type:        EventFinished,
		ExecutionID: run.ID,
		Status:      run.Status,
		Error:       run.Error,
	})
}

func (h *Handler) write(ctx context.Context, conn *websocket.Conn, ev Event) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, ev)
}
