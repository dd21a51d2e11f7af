package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/levelflow/levelflow/api/handlers"
	"github.com/levelflow/levelflow/provider"
	"github.com/levelflow/levelflow/service"
	"github.com/levelflow/levelflow/storage"
	"github.com/levelflow/levelflow/types"
)

func fakeModelServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":    "chatcmpl-test",
			"model": "test-model",
			"choices": []map[string]any{
				{"index": 0, "finish_reason": "stop", "message": map[string]any{
					"role": "assistant", "content": `{"done": true}`,
				}},
			},
			"usage": map[string]any{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

// newStreamServer 搭建带 WebSocket 路由的测试服务端，Hub 同时挂为引擎观察者
func newStreamServer(t *testing.T) (*httptest.Server, *service.Orchestrator, *Hub) {
	t.Helper()

	model := fakeModelServer(t)
	hub := NewHub(zap.NewNop())

	orch := service.NewOrchestrator(service.Config{
		Storage:  storage.DefaultConfig(),
		Provider: provider.Config{BaseURL: model.URL, Model: "test-model"},
		Observer: hub,
	}, zap.NewNop())
	t.Cleanup(func() { orch.Shutdown(context.Background()) })

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, orch, zap.NewNop())
	NewHandler(orch, hub, zap.NewNop()).RegisterRoutes(mux)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, orch, hub
}

// runWorkflow 保存工作流、注册手动触发器并同步执行一次
func runWorkflow(t *testing.T, orch *service.Orchestrator, id string) *types.WorkflowExecution {
	t.Helper()
	ctx := context.Background()

	svc, err := orch.Get(ctx)
	require.NoError(t, err)

	wf := &types.WorkflowConfig{
		ID:        id,
		Name:      "workflow " + id,
		RootAgent: types.AgentConfig{ID: "root", Model: "test-model"},
		Enabled:   true,
	}
	require.NoError(t, svc.Store.SaveWorkflow(ctx, wf))
	require.NoError(t, svc.RegisterTrigger(ctx, &types.EventTrigger{
		Kind:       types.TriggerManual,
		WorkflowID: id,
	}))

	exec, err := svc.Registry.Manual().Fire(ctx, id, map[string]any{"k": "v"})
	require.NoError(t, err)
	require.Equal(t, types.StatusCompleted, exec.Status)
	return exec
}

func dialStream(t *testing.T, serverURL, runID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	conn, _, err := websocket.Dial(ctx, serverURL+"/v1/runs/"+runID+"/stream", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) (Event, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var ev Event
	err := wsjson.Read(ctx, conn, &ev)
	return ev, err
}

func TestHandleStream_ReplaysFinishedRun(t *testing.T) {
	server, orch, _ := newStreamServer(t)
	exec := runWorkflow(t, orch, "wf-replay")

	conn := dialStream(t, server.URL, exec.ID)

	var events []Event
	for {
		ev, err := readEvent(t, conn)
		if err != nil {
			break
		}
		events = append(events, ev)
		if ev.Type == EventFinished {
			break
		}
	}

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventFinished, last.Type)
	assert.Equal(t, types.StatusCompleted, last.Status)

	// 终态事件前是完整的执行日志
	logs := events[:len(events)-1]
	require.Len(t, logs, len(exec.Log))
	for _, ev := range logs {
		assert.Equal(t, EventLog, ev.Type)
		assert.Equal(t, exec.ID, ev.ExecutionID)
		require.NotNil(t, ev.Entry)
	}
}

func TestHandleStream_LiveEvents(t *testing.T) {
	server, orch, hub := newStreamServer(t)

	// 触发初始化，存储中没有该执行，走实时路径
	_, err := orch.Get(context.Background())
	require.NoError(t, err)

	conn := dialStream(t, server.URL, "live-exec")

	// 等订阅挂上再发事件
	require.Eventually(t, func() bool { return hub.Active() > 0 },
		2*time.Second, 10*time.Millisecond)

	hub.OnLogEntry("live-exec", types.WorkflowLogEntry{
		Agent:     "root",
		Status:    types.LogCompleted,
		Timestamp: time.Now(),
	})

	ev, err := readEvent(t, conn)
	require.NoError(t, err)
	assert.Equal(t, EventLog, ev.Type)
	assert.Equal(t, "root", ev.Entry.Agent)

	hub.OnFinished(&types.WorkflowExecution{ID: "live-exec", Status: types.StatusCompleted})

	ev, err = readEvent(t, conn)
	require.NoError(t, err)
	assert.Equal(t, EventFinished, ev.Type)
	assert.Equal(t, types.StatusCompleted, ev.Status)

	// 终态后服务端正常关闭连接
	_, err = readEvent(t, conn)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}
